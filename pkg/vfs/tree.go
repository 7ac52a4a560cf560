package vfs

import "sort"

// NodeType distinguishes folders from files in the derived tree.
type NodeType string

const (
	NodeFolder NodeType = "folder"
	NodeFile   NodeType = "file"
)

// TreeNode is one entry of the presentation tree. The tree is derived from the
// flat file map and is never written back.
type TreeNode struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Type     NodeType    `json:"type"`
	Children []*TreeNode `json:"children,omitempty"`
}

// BuildTree derives the folder hierarchy from a list of files. Placeholder
// files are hidden but still make their folder appear. Siblings are ordered
// folders first, then by name, so the result does not depend on input order.
func BuildTree(files []File) *TreeNode {
	root := &TreeNode{Name: "", Path: Root, Type: NodeFolder}
	index := map[string]*TreeNode{Root: root}

	for _, f := range files {
		p := Normalize(f.Path)
		segs := Segments(p)
		if len(segs) == 0 {
			continue
		}
		parent := root
		cur := Root
		for i, seg := range segs {
			cur = Join(cur, seg)
			last := i == len(segs)-1
			if last && seg == PlaceholderName {
				break
			}
			node, ok := index[cur]
			if !ok {
				typ := NodeFolder
				if last {
					typ = NodeFile
				}
				node = &TreeNode{Name: seg, Path: cur, Type: typ}
				index[cur] = node
				parent.Children = append(parent.Children, node)
			}
			parent = node
		}
	}

	sortTree(root)
	return root
}

func sortTree(n *TreeNode) {
	sort.Slice(n.Children, func(i, j int) bool {
		a, b := n.Children[i], n.Children[j]
		if a.Type != b.Type {
			return a.Type == NodeFolder
		}
		return a.Name < b.Name
	})
	for _, c := range n.Children {
		sortTree(c)
	}
}

// Tree builds the presentation tree of the store's current contents.
func (s *Store) Tree() *TreeNode {
	return BuildTree(s.Files())
}

// Find resolves a normalized path in the tree.
func (n *TreeNode) Find(path string) *TreeNode {
	if n == nil {
		return nil
	}
	if n.Path == path {
		return n
	}
	for _, c := range n.Children {
		if IsWithin(c.Path, path) {
			return c.Find(path)
		}
	}
	return nil
}

// CountFiles counts the visible file leaves under n.
func (n *TreeNode) CountFiles() int {
	if n == nil {
		return 0
	}
	if n.Type == NodeFile {
		return 1
	}
	count := 0
	for _, c := range n.Children {
		count += c.CountFiles()
	}
	return count
}
