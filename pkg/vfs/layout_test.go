package vfs

import (
	"errors"
	"reflect"
	"testing"
)

func TestValidateLayout(t *testing.T) {
	tests := []struct {
		name    string
		raw     []string
		want    []string
		wantErr error
	}{
		{name: "empty", raw: nil, want: []string{}},
		{name: "normalized in order", raw: []string{"b.js", " /src/ a.js ", "/App.js"}, want: []string{"/b.js", "/src/a.js", "/App.js"}},
		{name: "sibling prefix is fine", raw: []string{"/src", "/src2/a.js"}, want: []string{"/src", "/src2/a.js"}},
		{name: "root key", raw: []string{"/a.js", " / "}, wantErr: ErrRootPath},
		{name: "collision", raw: []string{"/a.js", " /a.js/"}, wantErr: ErrDuplicatePath},
		{name: "file used as folder", raw: []string{"/src", "/src/a.js"}, wantErr: ErrFolderClash},
		{name: "deep clash", raw: []string{"/a/b/c.js", "/a"}, wantErr: ErrFolderClash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateLayout(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ValidateLayout(%q) error = %v, want %v", tt.raw, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ValidateLayout(%q) error = %v", tt.raw, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ValidateLayout(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
