package tree

import (
	"bytes"
	"testing"

	"github.com/sly67/projconv/internal/models"
	"github.com/sly67/projconv/internal/selection"
)

func folder(entries ...models.FileEntry) *models.Selection {
	return &models.Selection{Kind: models.KindFolderTree, Entries: entries}
}

func entry(path string, size int64) models.FileEntry {
	return models.FileEntry{RelativePath: path, SizeBytes: size}
}

func TestBuild_Folder(t *testing.T) {
	root := Build(folder(entry("a.py", 100), entry("sub/b.py", 200)))

	if root.Name != "" || !root.Dir {
		t.Fatalf("root = %+v", root)
	}
	children := root.Children()
	if len(children) != 2 {
		t.Fatalf("expected 2 root children, got %d", len(children))
	}
	if children[0].Name != "a.py" || children[0].Dir || children[0].Size != 100 {
		t.Errorf("first child = %+v", children[0])
	}
	if children[1].Name != "sub" || !children[1].Dir {
		t.Errorf("second child = %+v", children[1])
	}
	b := FindByPath(root, "sub/b.py")
	if b == nil || b.Size != 200 {
		t.Errorf("sub/b.py = %+v", b)
	}
}

func TestBuild_ReusesDirectories(t *testing.T) {
	root := Build(folder(
		entry("proj/src/a.c", 1),
		entry("proj/README", 2),
		entry("proj/src/b.h", 3),
	))

	proj := FindByPath(root, "proj")
	if proj == nil || len(proj.Children()) != 2 {
		t.Fatalf("proj = %+v", proj)
	}
	src := FindByPath(root, "proj/src")
	if src == nil || len(src.Children()) != 2 {
		t.Fatalf("expected src to be reused with 2 files, got %+v", src)
	}
	if CountNodes(root) != 6 {
		t.Errorf("CountNodes = %d, want 6", CountNodes(root))
	}
}

func TestBuild_InsertionOrder(t *testing.T) {
	root := Build(folder(entry("z.py", 1), entry("m/x.py", 1), entry("a.py", 1), entry("m/b.py", 1)))

	var got []string
	Walk(root, func(path string, _ int, _ *Node) {
		got = append(got, path)
	})
	want := []string{"z.py", "m", "m/x.py", "m/b.py", "a.py"}
	if len(got) != len(want) {
		t.Fatalf("walk = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("walk[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBuild_LeafCountAndSize(t *testing.T) {
	sels := []*models.Selection{
		folder(entry("a", 1)),
		folder(entry("p/a", 5), entry("p/b", 7), entry("p/q/c", 11), entry("d", 0)),
		folder(entry("x/y/z/w/v.go", 1<<20), entry("x/y/u.go", 3)),
	}
	for _, sel := range sels {
		root := Build(sel)
		if CountLeaves(root) != len(sel.Entries) {
			t.Errorf("CountLeaves = %d, want %d", CountLeaves(root), len(sel.Entries))
		}
		if TotalSize(root) != sel.TotalSize() {
			t.Errorf("TotalSize = %d, want %d", TotalSize(root), sel.TotalSize())
		}
	}
}

func TestBuild_NormalizedSelectionKeepsEveryEntry(t *testing.T) {
	src := func(rel string, size int64) selection.SourceFile {
		return selection.SourceFile{Name: rel, RelativePath: rel, Size: size}
	}
	inputs := []selection.RawInput{
		selection.FromDrop(src("main.py", 10), src("main.py", 20)),
		selection.FromPicker(src("p/a", 5), src("p/a/b.py", 7)),
		selection.FromPicker(src("p/a/b.py", 7), src("p/a/c.py", 3), src("p/d", 1)),
	}
	built := 0
	for _, in := range inputs {
		sel, err := selection.Select(in)
		if err != nil {
			continue
		}
		built++
		root := Build(sel)
		if CountLeaves(root) != sel.Len() {
			t.Errorf("CountLeaves = %d, want %d", CountLeaves(root), sel.Len())
		}
		if TotalSize(root) != sel.TotalSize() {
			t.Errorf("TotalSize = %d, want %d", TotalSize(root), sel.TotalSize())
		}
	}
	if built != 1 {
		t.Errorf("built %d selections, want only the collision-free one", built)
	}
}

func TestBuild_Idempotent(t *testing.T) {
	sel := folder(entry("p/a", 5), entry("p/q/c", 11), entry("d", 0))
	first := Build(sel)
	second := Build(sel)
	if first == second {
		t.Fatal("Build should return a fresh tree")
	}
	if !Equal(first, second) {
		t.Error("two builds of the same selection differ")
	}
}

func TestBuild_Zip(t *testing.T) {
	root := Build(&models.Selection{Kind: models.KindZip, Entries: []models.FileEntry{
		entry("proj.zip", 42),
	}})
	children := root.Children()
	if len(children) != 1 {
		t.Fatalf("expected 1 node, got %d", len(children))
	}
	if children[0].Dir || children[0].Name != "proj.zip" || children[0].Size != 42 {
		t.Errorf("zip node = %+v", children[0])
	}
}

func TestBuild_Nil(t *testing.T) {
	root := Build(nil)
	if root == nil || len(root.Children()) != 0 {
		t.Errorf("Build(nil) = %+v", root)
	}
}

func TestEqual(t *testing.T) {
	a := Build(folder(entry("a", 1), entry("b/c", 2)))
	b := Build(folder(entry("b/c", 2), entry("a", 1)))
	if Equal(a, b) {
		t.Error("trees with different order should differ")
	}
	if !Equal(nil, nil) || Equal(a, nil) {
		t.Error("nil handling")
	}
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, Build(folder(entry("a.py", 100), entry("sub/b.py", 2048)))); err != nil {
		t.Fatal(err)
	}
	want := "a.py (100 B)\nsub/\n  b.py (2.0 KiB)\n"
	if buf.String() != want {
		t.Errorf("Render =\n%s\nwant\n%s", buf.String(), want)
	}
}
