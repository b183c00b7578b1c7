// Package local stores converted projects in a directory on disk.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sly67/projconv/internal/logging"
	"github.com/sly67/projconv/internal/metrics"
)

// Config holds local sink settings.
type Config struct {
	Dir        string
	CreateDirs bool
}

// Sink writes results into a directory.
type Sink struct {
	dir string
}

// New creates a local sink rooted at cfg.Dir.
func New(cfg Config) (*Sink, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("download directory is required")
	}

	info, err := os.Stat(cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.Dir, 0755); mkErr != nil {
				return nil, fmt.Errorf("create download dir %s: %w", cfg.Dir, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat download dir %s: %w", cfg.Dir, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("download dir %s is not a directory", cfg.Dir)
	}

	return &Sink{dir: cfg.Dir}, nil
}

// Put writes body to dir/name atomically.
func (s *Sink) Put(_ context.Context, name string, body io.Reader, size int64) (string, error) {
	start := time.Now()
	path, err := s.put(name, body)
	metrics.RecordSinkOperation("local", "put", time.Since(start), err == nil)
	if err != nil {
		return "", err
	}
	logging.Debug("stored result", zap.String("path", path), zap.Int64("size", size))
	return path, nil
}

func (s *Sink) put(name string, body io.Reader) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid result name %q", name)
	}
	path := filepath.Join(s.dir, name)

	// Write to temp file then rename
	tmp, err := os.CreateTemp(s.dir, ".projconv-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, body); err != nil {
		return "", multierr.Combine(
			fmt.Errorf("write %s: %w", name, err),
			tmp.Close(),
			os.Remove(tmpName),
		)
	}
	if err := tmp.Close(); err != nil {
		return "", multierr.Append(fmt.Errorf("close temp for %s: %w", name, err), os.Remove(tmpName))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", multierr.Append(fmt.Errorf("rename temp to %s: %w", name, err), os.Remove(tmpName))
	}
	return path, nil
}

// Type returns "local".
func (s *Sink) Type() string { return "local" }

// Close is a no-op.
func (s *Sink) Close() error { return nil }
