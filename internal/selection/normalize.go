package selection

import (
	"errors"
	"path"
	"strings"

	"github.com/sly67/projconv/internal/models"
)

// InvalidInputError reports a payload that cannot become a selection.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

var (
	// ErrEmptySelection is returned when a payload yields no files.
	ErrEmptySelection = &InvalidInputError{Reason: "empty selection"}
	// ErrUnsupportedSingleFile is returned for a lone flat file that is not a zip archive.
	ErrUnsupportedSingleFile = &InvalidInputError{Reason: "unsupported single-file type"}
)

// IsInvalidInput reports whether err is an InvalidInputError.
func IsInvalidInput(err error) bool {
	var ie *InvalidInputError
	return errors.As(err, &ie)
}

// Normalize classifies a raw payload as a zip or folder selection.
//
// The result is a folder tree when there is more than one file, or when the
// only file came from a directory picker. A lone flat file must be a zip
// archive, recognized by extension or by media type.
func Normalize(raw RawInput) (*models.Selection, error) {
	if raw == nil {
		return nil, ErrEmptySelection
	}
	files := raw.sourceFiles()
	if len(files) == 0 {
		return nil, ErrEmptySelection
	}

	if len(files) > 1 || files[0].RelativePath != "" {
		entries := make([]models.FileEntry, 0, len(files))
		seen := make(pathSet, len(files))
		for _, f := range files {
			entry, err := folderEntry(f)
			if err != nil {
				return nil, err
			}
			if err := seen.add(entry.RelativePath); err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
		return &models.Selection{Kind: models.KindFolderTree, Entries: entries}, nil
	}

	f := files[0]
	if f.Size < 0 {
		return nil, &InvalidInputError{Reason: "negative size for " + f.Name}
	}
	name := f.Name
	switch {
	case models.IsZipName(name):
	case strings.EqualFold(f.MediaType, models.ZipMediaType):
		// Keep the zip invariant on the name the server receives.
		name += models.ZipExt
	default:
		return nil, ErrUnsupportedSingleFile
	}

	return &models.Selection{
		Kind: models.KindZip,
		Entries: []models.FileEntry{{
			RelativePath: name,
			SizeBytes:    f.Size,
			Handle:       f.Blob,
		}},
	}, nil
}

func folderEntry(f SourceFile) (models.FileEntry, error) {
	rel := f.RelativePath
	if rel == "" {
		rel = f.Name
	}
	rel = strings.ReplaceAll(rel, "\\", "/")
	rel = strings.TrimLeft(path.Clean("/"+rel), "/")

	if rel == "" || rel == "." {
		return models.FileEntry{}, &InvalidInputError{Reason: "file without a name"}
	}
	if f.Size < 0 {
		return models.FileEntry{}, &InvalidInputError{Reason: "negative size for " + rel}
	}

	return models.FileEntry{
		RelativePath: rel,
		SizeBytes:    f.Size,
		Handle:       f.Blob,
	}, nil
}

// pathSet tracks the files and directories of a folder selection so that no
// path is used twice and no file shares its path with a directory.
type pathSet map[string]bool // path -> is directory

func (s pathSet) add(rel string) error {
	if _, ok := s[rel]; ok {
		return &InvalidInputError{Reason: "duplicate path " + rel}
	}
	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if isDir, ok := s[dir]; ok {
			if !isDir {
				return &InvalidInputError{Reason: "duplicate path " + dir}
			}
			break
		}
		s[dir] = true
	}
	s[rel] = false
	return nil
}
