// Package storage defines the Sink interface that receives converted
// projects and builds the configured implementation.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/sly67/projconv/internal/config"
	"github.com/sly67/projconv/internal/storage/local"
	s3sink "github.com/sly67/projconv/internal/storage/s3"
)

// Sink stores a downloaded result.
type Sink interface {
	// Put stores body under name. size is -1 when unknown. It returns a
	// human readable location of the stored object.
	Put(ctx context.Context, name string, body io.Reader, size int64) (string, error)

	// Type returns the sink type identifier ("local", "s3").
	Type() string

	// Close releases any resources held by the sink.
	Close() error
}

// NewFromConfig creates the sink selected by cfg.StorageBackend.
func NewFromConfig(ctx context.Context, cfg *config.Config) (Sink, error) {
	switch cfg.StorageBackend {
	case "", "local":
		return local.New(local.Config{Dir: cfg.DownloadDir, CreateDirs: true})
	case "s3":
		return s3sink.New(ctx, s3sink.Config{
			Endpoint:  cfg.S3.Endpoint,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.StorageBackend)
	}
}
