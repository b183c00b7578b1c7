// Package models contains the data types shared by the selection, client and
// session packages.
package models

import (
	"bytes"
	"io"
	"math"
	"os"
	"strings"
)

const (
	// ZipExt is the only archive extension accepted for single-file uploads.
	ZipExt = ".zip"
	// ZipMediaType is the media type browsers report for zip archives.
	ZipMediaType = "application/zip"
)

// IsZipName reports whether name carries the zip extension (case-insensitive).
func IsZipName(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ZipExt)
}

// Blob is a readable file handle. It may be opened more than once.
type Blob interface {
	Open() (io.ReadCloser, error)
}

// FileBlob reads a file from disk.
type FileBlob struct {
	Path string
}

// Open implements Blob.
func (b FileBlob) Open() (io.ReadCloser, error) {
	return os.Open(b.Path)
}

// BytesBlob serves in-memory content.
type BytesBlob []byte

// Open implements Blob.
func (b BytesBlob) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b)), nil
}

// FileEntry is one file of a selection. RelativePath always uses "/"
// separators; for flat selections it is the bare file name.
type FileEntry struct {
	RelativePath string
	SizeBytes    int64
	Handle       Blob
}

// Name returns the last path segment.
func (e FileEntry) Name() string {
	if i := strings.LastIndex(e.RelativePath, "/"); i >= 0 {
		return e.RelativePath[i+1:]
	}
	return e.RelativePath
}

// SelectionKind distinguishes an opaque archive upload from a folder upload.
type SelectionKind int

const (
	KindFolderTree SelectionKind = iota
	KindZip
)

// UploadType is the value sent in the "type" form field.
func (k SelectionKind) UploadType() string {
	if k == KindZip {
		return "zip"
	}
	return "folder"
}

func (k SelectionKind) String() string {
	if k == KindZip {
		return "Zip"
	}
	return "FolderTree"
}

// Selection is a normalized set of files. It is never mutated after
// construction; a new selection replaces the old one wholesale.
type Selection struct {
	Kind    SelectionKind
	Entries []FileEntry
}

// TotalSize sums the size of every entry.
func (s *Selection) TotalSize() int64 {
	var total int64
	for _, e := range s.Entries {
		total += e.SizeBytes
	}
	return total
}

// Len returns the number of entries.
func (s *Selection) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// JobHandle identifies one submitted conversion job. Manifest and DownloadRef
// are only known once the job completed, either from the submission response
// or from a later progress event.
type JobHandle struct {
	ProgressID  string
	Manifest    []string
	DownloadRef string
}

// HasManifest reports whether the manifest is known.
func (h *JobHandle) HasManifest() bool {
	return h != nil && h.Manifest != nil
}

// JobStatus is the decoded status of a progress event.
type JobStatus int

const (
	StatusRunning JobStatus = iota
	StatusCompleted
	StatusError
)

func (s JobStatus) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return "running"
	}
}

// ProgressUpdate is one decoded progress event.
type ProgressUpdate struct {
	Current      int
	Total        int
	CurrentFile  string
	Status       JobStatus
	ErrorMessage string

	// Manifest and DownloadRef are set when the server attaches the job
	// result to the terminal event.
	Manifest    []string
	DownloadRef string
}

// Percent is the display percentage. It never drives state transitions.
func (p ProgressUpdate) Percent() int {
	return Percent(p.Current, p.Total)
}

// Percent returns round(current/total*100), or 0 when total is not positive.
func Percent(current, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(total) * 100))
}
