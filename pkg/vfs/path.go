// Package vfs implements the in-memory project file store used by the editor.
//
// Path semantics:
//   - Paths use forward slashes only.
//   - All paths are absolute (start with '/').
//   - Segments are trimmed; empty segments are dropped.
//
// Folders are not stored. A folder exists while at least one file lives under it.
package vfs

import "strings"

// Root is the normalized path of the project root.
const Root = "/"

// Normalize converts a raw user-provided path into its canonical form.
// It never fails: empty or whitespace-only input normalizes to Root.
func Normalize(raw string) string {
	if raw == "" {
		return Root
	}
	parts := strings.Split(raw, "/")
	kept := parts[:0]
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	if len(kept) == 0 {
		return Root
	}
	return "/" + strings.Join(kept, "/")
}

// IsWithin reports whether p equals folder or lives underneath it.
// Both arguments must already be normalized. "/src" does not contain "/src2/a.js".
func IsWithin(folder, p string) bool {
	if folder == Root {
		return true
	}
	if p == folder {
		return true
	}
	return strings.HasPrefix(p, folder+"/")
}

// Segments splits a normalized path into its segments. Root has none.
func Segments(p string) []string {
	if p == Root || p == "" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(p, "/"), "/")
}

// Base returns the last segment of a normalized path.
func Base(p string) string {
	if p == Root || p == "" {
		return ""
	}
	return p[strings.LastIndexByte(p, '/')+1:]
}

// Dir returns the parent folder of a normalized path.
func Dir(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return Root
	}
	return p[:i]
}

// Join builds a child path from a normalized parent and a segment name.
func Join(dir, name string) string {
	if dir == Root {
		return Normalize("/" + name)
	}
	return Normalize(dir + "/" + name)
}

// rebase swaps the from prefix of p with to. p must be within from.
func rebase(p, from, to string) string {
	if p == from {
		return to
	}
	rest := p[len(from):]
	if from == Root {
		rest = p
	}
	if to == Root {
		return rest
	}
	return to + rest
}
