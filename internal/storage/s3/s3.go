// Package s3 uploads converted projects to an S3 or MinIO bucket.
package s3

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sly67/projconv/internal/logging"
	"github.com/sly67/projconv/internal/metrics"
)

// Config holds S3 sink settings.
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Region    string
}

// Sink implements storage.Sink using S3/MinIO.
type Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates an S3 sink and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	sink := &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}

	if err := sink.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		metrics.RecordSinkOperation("s3", "head_bucket", time.Since(start), true)
		return nil
	}

	_, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if createErr != nil {
		metrics.RecordSinkOperation("s3", "create_bucket", time.Since(start), false)
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", s.bucket, createErr)
	}
	metrics.RecordSinkOperation("s3", "create_bucket", time.Since(start), true)
	logging.Info("created S3 bucket", zap.String("bucket", s.bucket))
	return nil
}

// Key returns the object key for a result name.
func (s *Sink) Key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Put uploads body. Bodies of unknown size are spooled to a temp file first
// because PutObject needs a length or a seekable body.
func (s *Sink) Put(ctx context.Context, name string, body io.Reader, size int64) (loc string, err error) {
	if size < 0 {
		tmp, n, spoolErr := spool(body)
		if spoolErr != nil {
			return "", spoolErr
		}
		defer func() {
			err = multierr.Combine(err, tmp.Close(), os.Remove(tmp.Name()))
		}()
		body, size = tmp, n
	}

	key := s.Key(name)
	start := time.Now()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/zip"),
	})
	if err != nil {
		metrics.RecordSinkOperation("s3", "put_object", time.Since(start), false)
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	metrics.RecordSinkOperation("s3", "put_object", time.Since(start), true)

	logging.Debug("S3 put object", zap.String("key", key), zap.Int64("size", size))
	return "s3://" + s.bucket + "/" + key, nil
}

func spool(r io.Reader) (*os.File, int64, error) {
	tmp, err := os.CreateTemp("", "projconv-upload-*")
	if err != nil {
		return nil, 0, fmt.Errorf("create spool file: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil {
		return nil, 0, multierr.Combine(fmt.Errorf("spool body: %w", err), tmp.Close(), os.Remove(tmp.Name()))
	}
	return tmp, n, nil
}

// Type returns "s3".
func (s *Sink) Type() string { return "s3" }

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Sink) Close() error { return nil }
