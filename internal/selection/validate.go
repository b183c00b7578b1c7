package selection

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/sly67/projconv/internal/models"
)

// MaxTotalSize is the hard ceiling on the summed size of a selection.
const MaxTotalSize int64 = 50 << 20

// ErrUnsupportedType is returned for a zip selection whose entry is not a
// single .zip archive.
var ErrUnsupportedType = errors.New("unsupported type: zip upload must be a single .zip archive")

// TooLargeError reports a selection above MaxTotalSize.
type TooLargeError struct {
	Total int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("selection too large: %s exceeds the %s limit",
		humanize.IBytes(uint64(e.Total)), humanize.IBytes(uint64(e.Limit)))
}

// AsTooLarge checks if err is a TooLargeError and returns it.
func AsTooLarge(err error) (*TooLargeError, bool) {
	var te *TooLargeError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// Validate enforces the selection-level limits.
func Validate(sel *models.Selection) error {
	if sel == nil || len(sel.Entries) == 0 {
		return ErrEmptySelection
	}

	if total := sel.TotalSize(); total > MaxTotalSize {
		return &TooLargeError{Total: total, Limit: MaxTotalSize}
	}

	if sel.Kind == models.KindZip {
		if len(sel.Entries) != 1 || !models.IsZipName(sel.Entries[0].RelativePath) {
			return ErrUnsupportedType
		}
	}

	return nil
}

// Select normalizes and validates a payload in one step.
func Select(raw RawInput) (*models.Selection, error) {
	sel, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	if err := Validate(sel); err != nil {
		return nil, err
	}
	return sel, nil
}

// Reason returns a short label for a selection error, used for metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrEmptySelection):
		return "empty"
	case errors.Is(err, ErrUnsupportedSingleFile), errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case IsInvalidInput(err):
		return "invalid_input"
	}
	if _, ok := AsTooLarge(err); ok {
		return "too_large"
	}
	return "other"
}
