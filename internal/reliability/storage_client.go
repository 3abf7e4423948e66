// Package reliability implements the persistence backup exporter (A5): a
// periodic archive-and-upload of the rundir's persisted Reporter snapshots
// to an S3-compatible bucket, so last-known-state survives a node reimage.
// Last-known-state only — no time-series retention.
package reliability

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// StorageClient wraps the AWS S3 SDK against any S3-compatible bucket
// (AWS S3 itself, or a compatible object store reachable at a custom
// endpoint). Credentials and endpoint resolution are left to the SDK's
// default chain (environment, shared config, instance profile) rather than
// hardcoded, so the same client works against whatever bucket operators
// point it at.
type StorageClient struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	log        zerolog.Logger
}

// NewStorageClient creates a client for bucket using the AWS SDK's default
// credential/config chain.
func NewStorageClient(ctx context.Context, bucket string, log zerolog.Logger) (*StorageClient, error) {
	if bucket == "" {
		return nil, fmt.Errorf("reliability: bucket name required")
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("reliability: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * 1024 * 1024
		u.Concurrency = 5
	})
	downloader := manager.NewDownloader(client, func(d *manager.Downloader) {
		d.PartSize = 10 * 1024 * 1024
		d.Concurrency = 5
	})

	return &StorageClient{
		client:     client,
		uploader:   uploader,
		downloader: downloader,
		bucket:     bucket,
		log:        log.With().Str("component", "storage_client").Logger(),
	}, nil
}

// Upload uploads reader's contents to key.
func (c *StorageClient) Upload(ctx context.Context, key string, reader io.Reader, contentLength int64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	c.log.Info().Str("key", key).Int64("size", contentLength).Msg("uploading backup archive")

	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          reader,
		ContentLength: aws.Int64(contentLength),
	})
	if err != nil {
		return fmt.Errorf("reliability: upload %s: %w", key, err)
	}
	return nil
}

// Download downloads key into writer.
func (c *StorageClient) Download(ctx context.Context, key string, writer io.WriterAt) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	n, err := c.downloader.Download(ctx, writer, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, fmt.Errorf("reliability: download %s: %w", key, err)
	}
	return n, nil
}

// List lists objects under prefix.
func (c *StorageClient) List(ctx context.Context, prefix string) ([]types.Object, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	var objects []types.Object
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("reliability: list %s: %w", prefix, err)
		}
		objects = append(objects, page.Contents...)
	}
	return objects, nil
}
