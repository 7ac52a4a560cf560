package vfs

import (
	"errors"
	"fmt"
)

var (
	ErrRootPath      = errors.New("path normalizes to the root")
	ErrDuplicatePath = errors.New("paths collide after normalization")
	ErrFolderClash   = errors.New("path is both a file and a folder")
)

// ValidateLayout normalizes raw file paths and checks that a store can hold
// all of them at once. The normalized paths are returned in input order.
func ValidateLayout(raw []string) ([]string, error) {
	seen := make(map[string]string, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		p := Normalize(r)
		if p == Root {
			return nil, fmt.Errorf("%w: %q", ErrRootPath, r)
		}
		if first, dup := seen[p]; dup {
			return nil, fmt.Errorf("%w: %q and %q", ErrDuplicatePath, first, r)
		}
		seen[p] = r
		out = append(out, p)
	}
	for _, p := range out {
		for d := Dir(p); d != Root; d = Dir(d) {
			if _, clash := seen[d]; clash {
				return nil, fmt.Errorf("%w: %q", ErrFolderClash, d)
			}
		}
	}
	return out, nil
}
