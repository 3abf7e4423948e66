package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Exporter periodically archives every *.bin persisted Reporter snapshot in
// rundir into a single tar.gz and uploads it, on the schedule given by a
// cron expression with a leading seconds field. It carries no time-series retention (each run
// overwrites the same object key) — only last-known-state, per spec.md's
// Non-goals.
type Exporter struct {
	client  *StorageClient
	rundir  string
	prefix  string
	log     zerolog.Logger
	cronRun *cron.Cron
}

// NewExporter builds an exporter archiving rundir's snapshots under prefix.
func NewExporter(client *StorageClient, rundir, prefix string, log zerolog.Logger) *Exporter {
	return &Exporter{
		client: client,
		rundir: rundir,
		prefix: prefix,
		log:    log.With().Str("component", "backup_exporter").Logger(),
	}
}

// objectKey is the single, overwritten destination object for this node's
// snapshot archive.
func (e *Exporter) objectKey() string {
	return filepath.ToSlash(filepath.Join(e.prefix, "reporter-snapshots.tar.gz"))
}

// Start schedules ExportOnce on the given cron expression (6-field syntax
// with a leading seconds field, e.g. "0 30 3 * * *", parsed by
// robfig/cron/v3) and runs it immediately in the background so a freshly
// started agent doesn't wait a full period before its first backup.
func (e *Exporter) Start(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(schedule, func() {
		if err := e.ExportOnce(ctx); err != nil {
			e.log.Error().Err(err).Msg("backup export failed")
		}
	})
	if err != nil {
		return fmt.Errorf("reliability: parse backup schedule %q: %w", schedule, err)
	}
	e.cronRun = c
	c.Start()

	go func() {
		if err := e.ExportOnce(ctx); err != nil {
			e.log.Warn().Err(err).Msg("initial backup export failed")
		}
	}()

	return nil
}

// Stop halts the cron scheduler, waiting for any in-flight export to finish.
func (e *Exporter) Stop() {
	if e.cronRun == nil {
		return
	}
	<-e.cronRun.Stop().Done()
}

// ExportOnce archives every *.bin file in rundir into a single tar.gz and
// uploads it under objectKey.
func (e *Exporter) ExportOnce(ctx context.Context) error {
	archive, err := buildArchive(e.rundir)
	if err != nil {
		return fmt.Errorf("reliability: build archive: %w", err)
	}
	gz, err := gzip.NewReader(bytes.NewReader(archive.Bytes()))
	if err != nil {
		return fmt.Errorf("reliability: reopen archive: %w", err)
	}
	if _, err := tar.NewReader(gz).Next(); err == io.EOF {
		e.log.Debug().Msg("no reporter snapshots to back up yet")
		return nil
	}

	return e.client.Upload(ctx, e.objectKey(), bytes.NewReader(archive.Bytes()), int64(archive.Len()))
}

// RestoreLatest downloads the archived snapshot set and writes each member
// back into rundir, overwriting whatever is there — this agent keeps no
// history, so "restore" always means "replace local state with the last
// backed-up state". If the bucket holds no object under prefix yet (a node
// that has never been backed up), RestoreLatest is a no-op.
func (e *Exporter) RestoreLatest(ctx context.Context) error {
	objects, err := e.client.List(ctx, e.prefix)
	if err != nil {
		return fmt.Errorf("reliability: list backup prefix %q: %w", e.prefix, err)
	}
	if len(objects) == 0 {
		e.log.Debug().Str("prefix", e.prefix).Msg("no backup archive found under prefix; skipping restore")
		return nil
	}

	var buf bytesWriterAt
	if _, err := e.client.Download(ctx, e.objectKey(), &buf); err != nil {
		return fmt.Errorf("reliability: download snapshot archive: %w", err)
	}
	return extractArchive(bytes.NewReader(buf.data), e.rundir)
}

func buildArchive(rundir string) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	err := filepath.WalkDir(rundir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".bin" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(rundir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

func extractArchive(r io.Reader, rundir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("reliability: open archive: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reliability: read archive entry: %w", err)
		}
		dest := filepath.Join(rundir, filepath.FromSlash(hdr.Name))
		if err := os.MkdirAll(filepath.Dir(dest), 0o770); err != nil {
			return err
		}
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o660)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		f.Close()
	}
}

// bytesWriterAt is a minimal io.WriterAt over an in-memory buffer, since
// Download (via manager.Downloader) requires WriteAt rather than Write and
// the snapshot archive is small enough to hold entirely in memory.
type bytesWriterAt struct {
	data []byte
}

func (w *bytesWriterAt) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(w.data)) {
		grown := make([]byte, end)
		copy(grown, w.data)
		w.data = grown
	}
	copy(w.data[off:], p)
	return len(p), nil
}
