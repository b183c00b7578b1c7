// Package selection turns raw file-selection payloads into validated
// selections ready for submission.
package selection

import (
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"

	"github.com/sly67/projconv/internal/models"
)

// SourceFile is one file as delivered by a selection source, before
// normalization.
type SourceFile struct {
	Name string
	// RelativePath is set by directory pickers and includes the picked
	// directory's own name ("proj/sub/b.py"). Empty for flat picks.
	RelativePath string
	Size         int64
	MediaType    string
	Blob         models.Blob
}

// RawInput is one of the supported selection payload shapes: DropPayload,
// PickerPayload, SingleFile or FileList.
type RawInput interface {
	sourceFiles() []SourceFile
	source() string
}

// DropPayload is the file set of a drag-and-drop.
type DropPayload struct {
	Files []SourceFile
}

// PickerPayload is the file set of a file or directory picker change.
type PickerPayload struct {
	Files []SourceFile
}

// SingleFile is a lone file-like object that is not a collection.
type SingleFile struct {
	File SourceFile
}

// FileList is an already materialized list of files.
type FileList []SourceFile

func (p DropPayload) sourceFiles() []SourceFile   { return p.Files }
func (p PickerPayload) sourceFiles() []SourceFile { return p.Files }
func (p SingleFile) sourceFiles() []SourceFile    { return []SourceFile{p.File} }
func (l FileList) sourceFiles() []SourceFile      { return l }

func (DropPayload) source() string   { return "drop" }
func (PickerPayload) source() string { return "picker" }
func (SingleFile) source() string    { return "file" }
func (FileList) source() string      { return "list" }

// SourceOf names the payload shape, for logs.
func SourceOf(raw RawInput) string {
	if raw == nil {
		return "none"
	}
	return raw.source()
}

// FromDrop wraps drag-and-drop files.
func FromDrop(files ...SourceFile) RawInput { return DropPayload{Files: files} }

// FromPicker wraps picker files.
func FromPicker(files ...SourceFile) RawInput { return PickerPayload{Files: files} }

// FromFile wraps a single file.
func FromFile(f SourceFile) RawInput { return SingleFile{File: f} }

// FromList wraps a materialized file list.
func FromList(files []SourceFile) RawInput { return FileList(files) }

// FromPath reads a selection from disk. A directory behaves like a browser
// directory picker: every regular file below it is listed with a relative
// path that starts with the directory's name. Any other path is a single
// flat file.
func FromPath(root string) (RawInput, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}

	if !info.IsDir() {
		return FromFile(SourceFile{
			Name:      info.Name(),
			Size:      info.Size(),
			MediaType: mime.TypeByExtension(filepath.Ext(info.Name())),
			Blob:      models.FileBlob{Path: root},
		}), nil
	}

	root = filepath.Clean(root)
	base := filepath.Dir(root)
	var files []SourceFile
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		files = append(files, SourceFile{
			Name:         d.Name(),
			RelativePath: filepath.ToSlash(rel),
			Size:         fi.Size(),
			MediaType:    mime.TypeByExtension(filepath.Ext(d.Name())),
			Blob:         models.FileBlob{Path: p},
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	return FromPicker(files...), nil
}
