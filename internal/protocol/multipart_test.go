package protocol

import (
	"bytes"
	"mime/multipart"
	"testing"
)

func TestPartFileName_KeepsDirectories(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if _, err := mw.CreateFormFile(FieldFiles, "proj/sub/b.py"); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	mr := multipart.NewReader(&buf, mw.Boundary())
	part, err := mr.NextPart()
	if err != nil {
		t.Fatal(err)
	}
	if got := PartFileName(part); got != "proj/sub/b.py" {
		t.Errorf("PartFileName = %q", got)
	}
	if part.FileName() != "b.py" {
		t.Errorf("stdlib FileName = %q, expected base name", part.FileName())
	}
}

func TestProgressEventTerminal(t *testing.T) {
	tests := []struct {
		ev   ProgressEvent
		want bool
	}{
		{ProgressEvent{Status: StatusRunning}, false},
		{ProgressEvent{Status: StatusConverting}, false},
		{ProgressEvent{Status: StatusCompleted}, true},
		{ProgressEvent{Status: StatusError}, true},
		{ProgressEvent{Status: StatusRunning, Error: "boom"}, true},
	}
	for _, tt := range tests {
		if got := tt.ev.Terminal(); got != tt.want {
			t.Errorf("%+v.Terminal() = %v, want %v", tt.ev, got, tt.want)
		}
	}
}
