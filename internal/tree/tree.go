// Package tree builds the display tree of a selection.
package tree

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/sly67/projconv/internal/models"
)

// Node is either a directory or a file. Directory children keep the order in
// which they were first seen.
type Node struct {
	Name string
	Dir  bool
	Size int64 // files only

	children []*Node
	index    map[string]int
}

func newDir(name string) *Node {
	return &Node{Name: name, Dir: true, index: make(map[string]int)}
}

// Children returns the children in insertion order.
func (n *Node) Children() []*Node {
	if n == nil {
		return nil
	}
	return n.children
}

// Child returns the named child, or nil.
func (n *Node) Child(name string) *Node {
	if n == nil || !n.Dir {
		return nil
	}
	if i, ok := n.index[name]; ok {
		return n.children[i]
	}
	return nil
}

// put inserts or replaces a child, keeping the first-seen position.
func (n *Node) put(child *Node) *Node {
	if i, ok := n.index[child.Name]; ok {
		n.children[i] = child
		return child
	}
	n.index[child.Name] = len(n.children)
	n.children = append(n.children, child)
	return child
}

// dir returns the named child directory, creating it when missing. A file of
// the same name is replaced.
func (n *Node) dir(name string) *Node {
	if c := n.Child(name); c != nil && c.Dir {
		return c
	}
	return n.put(newDir(name))
}

// Build returns a root directory named "". A zip selection is opaque and
// yields a single file under the root; a folder selection is expanded along
// each entry's relative path. Build has no side effects.
func Build(sel *models.Selection) *Node {
	root := newDir("")
	if sel == nil {
		return root
	}

	if sel.Kind == models.KindZip {
		for _, e := range sel.Entries {
			root.put(&Node{Name: e.RelativePath, Size: e.SizeBytes})
		}
		return root
	}

	for _, e := range sel.Entries {
		parts := strings.Split(e.RelativePath, "/")
		cur := root
		for _, p := range parts[:len(parts)-1] {
			if p == "" {
				continue
			}
			cur = cur.dir(p)
		}
		cur.put(&Node{Name: parts[len(parts)-1], Size: e.SizeBytes})
	}
	return root
}

// FindByPath resolves a slash-separated path below root ("" is root).
func FindByPath(root *Node, path string) *Node {
	if root == nil {
		return nil
	}
	node := root
	for _, p := range strings.Split(path, "/") {
		if p == "" {
			continue
		}
		node = node.Child(p)
		if node == nil {
			return nil
		}
	}
	return node
}

// CountNodes counts all nodes in a tree, root included.
func CountNodes(root *Node) int {
	if root == nil {
		return 0
	}
	count := 1
	for _, child := range root.children {
		count += CountNodes(child)
	}
	return count
}

// CountLeaves counts file nodes.
func CountLeaves(root *Node) int {
	if root == nil {
		return 0
	}
	if !root.Dir {
		return 1
	}
	count := 0
	for _, child := range root.children {
		count += CountLeaves(child)
	}
	return count
}

// TotalSize sums the sizes of all file nodes.
func TotalSize(root *Node) int64 {
	if root == nil {
		return 0
	}
	if !root.Dir {
		return root.Size
	}
	var total int64
	for _, child := range root.children {
		total += TotalSize(child)
	}
	return total
}

// Walk visits every node below root depth-first in display order. path is
// the slash-joined path from root and depth starts at 0 for root's children.
func Walk(root *Node, fn func(path string, depth int, n *Node)) {
	if root == nil {
		return
	}
	walk(root, "", 0, fn)
}

func walk(n *Node, prefix string, depth int, fn func(string, int, *Node)) {
	for _, c := range n.children {
		p := c.Name
		if prefix != "" {
			p = prefix + "/" + c.Name
		}
		fn(p, depth, c)
		if c.Dir {
			walk(c, p, depth+1, fn)
		}
	}
}

// Equal reports whether two trees have the same shape, names, sizes and
// child order.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || a.Dir != b.Dir || a.Size != b.Size || len(a.children) != len(b.children) {
		return false
	}
	for i := range a.children {
		if !Equal(a.children[i], b.children[i]) {
			return false
		}
	}
	return true
}

// Render writes an indented listing of the tree.
func Render(w io.Writer, root *Node) error {
	var err error
	Walk(root, func(_ string, depth int, n *Node) {
		if err != nil {
			return
		}
		indent := strings.Repeat("  ", depth)
		if n.Dir {
			_, err = fmt.Fprintf(w, "%s%s/\n", indent, n.Name)
			return
		}
		_, err = fmt.Fprintf(w, "%s%s (%s)\n", indent, n.Name, humanize.IBytes(uint64(n.Size)))
	})
	return err
}
