package model

import (
	"sort"
	"strings"
)

// FileStatus is the kind of change of a file.
type FileStatus string

const (
	FileStatusAdded    FileStatus = "added"
	FileStatusModified FileStatus = "modified"
	FileStatusDeleted  FileStatus = "deleted"
	FileStatusRenamed  FileStatus = "renamed"
)

// FileChange is the uniform shape of a changed file, regardless of where it was read from.
type FileChange struct {
	Filename  string     `json:"filename"`
	Status    FileStatus `json:"status"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Changes   int        `json:"changes"`
}

// FileNodeType is the type of a file tree node.
type FileNodeType string

const (
	FileNodeTypeFile FileNodeType = "file"
	FileNodeTypeDir  FileNodeType = "directory"
)

// FileNode is a node of the nested directory tree view of file changes.
type FileNode struct {
	Name     string       `json:"name"`
	Path     string       `json:"path"`
	Type     FileNodeType `json:"type"`
	Change   *FileChange  `json:"change,omitempty"`
	Children []*FileNode  `json:"children,omitempty"`
}

// BuildFileTree builds a nested directory tree from a flat list of file changes.
// Directories are sorted before files and both by name.
func BuildFileTree(changes []FileChange) []*FileNode {
	root := &FileNode{Type: FileNodeTypeDir}
	for i := range changes {
		change := changes[i]
		parts := strings.Split(strings.Trim(change.Filename, "/"), "/")
		current := root
		for depth, part := range parts {
			isFile := depth == len(parts)-1
			path := strings.Join(parts[:depth+1], "/")

			var next *FileNode
			for _, c := range current.Children {
				if c.Name == part && (c.Type == FileNodeTypeFile) == isFile {
					next = c
					break
				}
			}
			if next == nil {
				next = &FileNode{Name: part, Path: path, Type: FileNodeTypeDir}
				if isFile {
					next.Type = FileNodeTypeFile
					next.Change = &change
				}
				current.Children = append(current.Children, next)
			}
			current = next
		}
	}

	sortFileNodes(root.Children)
	return root.Children
}

func sortFileNodes(nodes []*FileNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Type != nodes[j].Type {
			return nodes[i].Type == FileNodeTypeDir
		}
		return nodes[i].Name < nodes[j].Name
	})
	for _, n := range nodes {
		sortFileNodes(n.Children)
	}
}
