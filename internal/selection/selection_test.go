package selection

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sly67/projconv/internal/models"
)

func file(name string, size int64) SourceFile {
	return SourceFile{Name: name, Size: size, Blob: models.BytesBlob(make([]byte, size))}
}

func dirFile(rel string, size int64) SourceFile {
	f := file(filepath.Base(rel), size)
	f.RelativePath = rel
	return f
}

func TestNormalize_Empty(t *testing.T) {
	inputs := []RawInput{nil, FromDrop(), FromPicker(), FromList(nil)}
	for _, in := range inputs {
		_, err := Normalize(in)
		if !errors.Is(err, ErrEmptySelection) {
			t.Errorf("Normalize(%s) err = %v, want ErrEmptySelection", SourceOf(in), err)
		}
	}
}

func TestNormalize_SingleZip(t *testing.T) {
	for _, in := range []RawInput{
		FromFile(file("project.zip", 10)),
		FromDrop(file("PROJECT.ZIP", 10)),
		FromList([]SourceFile{file("project.zip", 10)}),
	} {
		sel, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%s): %v", SourceOf(in), err)
		}
		if sel.Kind != models.KindZip {
			t.Errorf("%s: kind = %v, want Zip", SourceOf(in), sel.Kind)
		}
		if len(sel.Entries) != 1 || sel.Entries[0].SizeBytes != 10 {
			t.Errorf("%s: entries = %+v", SourceOf(in), sel.Entries)
		}
	}
}

func TestNormalize_ZipByMediaType(t *testing.T) {
	f := file("archive", 5)
	f.MediaType = "application/zip"

	sel, err := Normalize(FromFile(f))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if sel.Kind != models.KindZip {
		t.Fatalf("kind = %v", sel.Kind)
	}
	if sel.Entries[0].RelativePath != "archive.zip" {
		t.Errorf("RelativePath = %q, want archive.zip", sel.Entries[0].RelativePath)
	}
	if err := Validate(sel); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestNormalize_SingleFlatNonZipRejected(t *testing.T) {
	for _, name := range []string{"main.py", "zip", "notes.zip.txt", "README"} {
		_, err := Normalize(FromFile(file(name, 1)))
		if !errors.Is(err, ErrUnsupportedSingleFile) {
			t.Errorf("Normalize(%q) err = %v, want ErrUnsupportedSingleFile", name, err)
		}
		if !IsInvalidInput(err) {
			t.Errorf("Normalize(%q) should be InvalidInput", name)
		}
	}
}

func TestNormalize_SingleFileFromDirectoryIsFolder(t *testing.T) {
	sel, err := Normalize(FromPicker(dirFile("proj/main.py", 3)))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if sel.Kind != models.KindFolderTree {
		t.Errorf("kind = %v, want FolderTree", sel.Kind)
	}
	if sel.Entries[0].RelativePath != "proj/main.py" {
		t.Errorf("RelativePath = %q", sel.Entries[0].RelativePath)
	}
}

func TestNormalize_MultipleFlatFilesIsFolder(t *testing.T) {
	sel, err := Normalize(FromDrop(file("a.py", 100), file("b.zip", 200)))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if sel.Kind != models.KindFolderTree {
		t.Fatalf("kind = %v", sel.Kind)
	}
	got := []string{sel.Entries[0].RelativePath, sel.Entries[1].RelativePath}
	if got[0] != "a.py" || got[1] != "b.zip" {
		t.Errorf("paths = %v, order must follow input", got)
	}
}

func TestNormalize_CleansPaths(t *testing.T) {
	sel, err := Normalize(FromPicker(
		dirFile(`proj\win\a.c`, 1),
		dirFile("/proj//b.c", 1),
		dirFile("proj/../../c.c", 1),
	))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := []string{"proj/win/a.c", "proj/b.c", "c.c"}
	for i, w := range want {
		if sel.Entries[i].RelativePath != w {
			t.Errorf("entry %d = %q, want %q", i, sel.Entries[i].RelativePath, w)
		}
	}
}

func TestNormalize_CollidingPaths(t *testing.T) {
	cases := []struct {
		name string
		in   RawInput
		want string
	}{
		{"same dropped name", FromDrop(file("main.py", 10), file("main.py", 20)), "main.py"},
		{"same after cleaning", FromPicker(dirFile("p/a.py", 1), dirFile(`p\a.py`, 2)), "p/a.py"},
		{"file then directory", FromPicker(dirFile("p/a", 5), dirFile("p/a/b.py", 7)), "p/a"},
		{"directory then file", FromPicker(dirFile("p/a/b.py", 7), dirFile("p/a", 5)), "p/a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Select(tc.in)
			var ie *InvalidInputError
			if !errors.As(err, &ie) {
				t.Fatalf("expected InvalidInputError, got %v", err)
			}
			if ie.Reason != "duplicate path "+tc.want {
				t.Errorf("reason = %q", ie.Reason)
			}
		})
	}
}

func TestNormalize_SharedDirectoriesAllowed(t *testing.T) {
	sel, err := Normalize(FromPicker(
		dirFile("p/q/a.py", 1),
		dirFile("p/q/b.py", 1),
		dirFile("p/c.py", 1),
	))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if sel.Len() != 3 {
		t.Errorf("entries = %d, want 3", sel.Len())
	}
}

func TestNormalize_NegativeSize(t *testing.T) {
	_, err := Normalize(FromDrop(file("a.py", 1), SourceFile{Name: "b.py", Size: -1}))
	if !IsInvalidInput(err) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func TestValidate_TooLarge(t *testing.T) {
	cases := [][]int64{
		{MaxTotalSize + 1},
		{MaxTotalSize / 2, MaxTotalSize/2 + 1},
		{1, 1, 1, MaxTotalSize},
	}
	for _, sizes := range cases {
		sel := &models.Selection{Kind: models.KindFolderTree}
		for i, s := range sizes {
			sel.Entries = append(sel.Entries, models.FileEntry{RelativePath: string(rune('a'+i)) + ".py", SizeBytes: s})
		}
		err := Validate(sel)
		te, ok := AsTooLarge(err)
		if !ok {
			t.Fatalf("sizes %v: err = %v, want TooLarge", sizes, err)
		}
		if te.Limit != MaxTotalSize || te.Total != sel.TotalSize() {
			t.Errorf("TooLargeError = %+v", te)
		}
	}
}

func TestValidate_AtLimit(t *testing.T) {
	sel := &models.Selection{Kind: models.KindZip, Entries: []models.FileEntry{
		{RelativePath: "p.zip", SizeBytes: MaxTotalSize},
	}}
	if err := Validate(sel); err != nil {
		t.Errorf("selection at the limit should pass: %v", err)
	}
}

func TestValidate_ZipWithoutExtension(t *testing.T) {
	sel := &models.Selection{Kind: models.KindZip, Entries: []models.FileEntry{
		{RelativePath: "project.tar", SizeBytes: 1},
	}}
	if err := Validate(sel); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("err = %v, want ErrUnsupportedType", err)
	}

	sel = &models.Selection{Kind: models.KindZip, Entries: []models.FileEntry{
		{RelativePath: "a.zip"}, {RelativePath: "b.zip"},
	}}
	if err := Validate(sel); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("two-entry zip: err = %v, want ErrUnsupportedType", err)
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrEmptySelection, "empty"},
		{ErrUnsupportedSingleFile, "unsupported_type"},
		{ErrUnsupportedType, "unsupported_type"},
		{&InvalidInputError{Reason: "x"}, "invalid_input"},
		{&TooLargeError{Total: 2, Limit: 1}, "too_large"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := Reason(tt.err); got != tt.want {
			t.Errorf("Reason(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestFromPath_Directory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "proj")
	mustWrite(t, filepath.Join(root, "a.py"), "print(1)")
	mustWrite(t, filepath.Join(root, "sub", "b.py"), "print(22)")

	raw, err := FromPath(root)
	if err != nil {
		t.Fatalf("FromPath: %v", err)
	}
	if SourceOf(raw) != "picker" {
		t.Errorf("source = %s, want picker", SourceOf(raw))
	}

	sel, err := Select(raw)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if sel.Kind != models.KindFolderTree || len(sel.Entries) != 2 {
		t.Fatalf("selection = %+v", sel)
	}
	if sel.Entries[0].RelativePath != "proj/a.py" || sel.Entries[1].RelativePath != "proj/sub/b.py" {
		t.Errorf("paths = %q, %q", sel.Entries[0].RelativePath, sel.Entries[1].RelativePath)
	}
	if sel.TotalSize() != int64(len("print(1)")+len("print(22)")) {
		t.Errorf("TotalSize = %d", sel.TotalSize())
	}

	rc, err := sel.Entries[1].Handle.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "print(22)" {
		t.Errorf("content = %q", data)
	}
}

func TestFromPath_SingleFiles(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "proj.zip")
	pyPath := filepath.Join(dir, "main.py")
	mustWrite(t, zipPath, "PK")
	mustWrite(t, pyPath, "x")

	raw, err := FromPath(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	sel, err := Select(raw)
	if err != nil {
		t.Fatalf("Select zip: %v", err)
	}
	if sel.Kind != models.KindZip || sel.Entries[0].RelativePath != "proj.zip" {
		t.Errorf("zip selection = %+v", sel)
	}

	raw, err = FromPath(pyPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Select(raw); !errors.Is(err, ErrUnsupportedSingleFile) {
		t.Errorf("Select py: err = %v", err)
	}

	if _, err := FromPath(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestFromPath_EmptyDirectory(t *testing.T) {
	raw, err := FromPath(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Select(raw); !errors.Is(err, ErrEmptySelection) {
		t.Errorf("err = %v, want ErrEmptySelection", err)
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
