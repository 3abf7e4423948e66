// Package kmsg implements the Kernel Log Monitor (C7): a non-blocking
// reader over /dev/kmsg registered with the scheduler's I/O readiness
// facility, filtering by level and age.
package kmsg

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Entry is one parsed /dev/kmsg record, the "level,seq,usec_since_boot,flags;msg"
// line format the kernel writes.
type Entry struct {
	Level         int
	Sequence      uint64
	UsecSinceBoot uint64
	Message       string
}

// KernelLogSource abstracts the kernel ring-buffer device for testability;
// Reader is the real /dev/kmsg-backed implementation.
type KernelLogSource interface {
	// Fd returns the underlying file descriptor, for registration with the
	// scheduler's readiness facility.
	Fd() int
	// ReadLine reads one record. Returns io.EOF-like behavior (empty line,
	// nil error) when nothing more is currently available — callers should
	// stop draining on that signal rather than blocking.
	ReadLine() (string, error)
	Close() error
}

// Reader opens /dev/kmsg in non-blocking mode. Each read() call on this
// device returns exactly one record (or EAGAIN if none is pending) — that
// per-call-one-record behavior is what makes kmsg naturally line up with a
// simple read loop, no line-buffering needed. The fd is kept raw (not
// wrapped in os.File) since /dev/kmsg isn't epoll-friendly through the Go
// runtime's own netpoller; readinessRegistry polls it directly via
// golang.org/x/sys/unix, the same package this reader uses for the syscalls.
type Reader struct {
	fd int
}

var _ KernelLogSource = (*Reader)(nil)

// Open opens /dev/kmsg non-blocking. No seek is done, so reads start at the
// oldest record still held in the kernel's ring buffer; the monitor's age
// filter drops the stale ones.
func Open() (*Reader, error) {
	fd, err := unix.Open("/dev/kmsg", unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("kmsg: open /dev/kmsg: %w", err)
	}
	return &Reader{fd: fd}, nil
}

func (r *Reader) Fd() int { return r.fd }

// ReadLine reads one record. Per /dev/kmsg semantics each read(2) returns
// exactly one record; EAGAIN (no record currently pending) is reported back
// as an empty line with a nil error so callers can drain-until-empty without
// treating "nothing more right now" as a fatal condition.
func (r *Reader) ReadLine() (string, error) {
	buf := make([]byte, 8192)
	n, err := unix.Read(r.fd, buf)
	if err != nil {
		if err == unix.EAGAIN {
			return "", nil
		}
		return "", err
	}
	return string(buf[:n]), nil
}

func (r *Reader) Close() error { return unix.Close(r.fd) }

// ParseLine parses one raw kmsg record into an Entry. The kernel's wire
// format is "level,seq,usec,flags;msg\n", optionally followed by
// continuation lines; the portion this monitor cares about is the header up
// to the first ';' and the message after it up to the first newline
// (continuation lines, if present, are
// ignored — spec.md scopes exact multi-line SUBSYSTEM/DEVICE key=value
// handling out).
func ParseLine(raw string) (Entry, error) {
	raw = strings.TrimRight(raw, "\n")
	firstSemi := strings.IndexByte(raw, ';')
	if firstSemi < 0 {
		return Entry{}, fmt.Errorf("kmsg: malformed line (no ';'): %q", raw)
	}
	header := raw[:firstSemi]
	rest := raw[firstSemi+1:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}

	fields := strings.Split(header, ",")
	if len(fields) < 3 {
		return Entry{}, fmt.Errorf("kmsg: malformed header %q", header)
	}

	level, err := strconv.Atoi(fields[0])
	if err != nil {
		return Entry{}, fmt.Errorf("kmsg: bad level in %q: %w", header, err)
	}
	seq, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("kmsg: bad seq in %q: %w", header, err)
	}
	usec, err := strconv.ParseUint(fields[2], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("kmsg: bad usec in %q: %w", header, err)
	}

	return Entry{Level: level, Sequence: seq, UsecSinceBoot: usec, Message: rest}, nil
}

// WallTime computes an entry's wall-clock timestamp given the system's
// boot time, per spec.md §4.5 ("wall time = boot_time + usec_since_boot").
func (e Entry) WallTime(bootTime time.Time) time.Time {
	return bootTime.Add(time.Duration(e.UsecSinceBoot) * time.Microsecond)
}

// Severity buckets this monitor keeps: level 0 (emerg) through 2 (crit)
// only, per spec.md §4.5.
const maxKeptLevel = 2
