// Package storage persists project file maps and the project directory list.
//
// Every backend stores the same versioned JSON envelope (see codec.go) under a
// project-scoped key and keeps a directory entry {id, name, updatedAt} next to it.
// Corrupt or unreadable records are reported as ErrNotFound so callers can fall
// back to a bootstrap file set.
package storage

import (
	"context"
	"regexp"
	"time"

	"github.com/pkg/errors"

	"github.com/cipherstudio/cipherstudio/pkg/models"
	"github.com/cipherstudio/cipherstudio/pkg/vfs"
)

var (
	ErrNotFound  = errors.New("project not found")
	ErrInvalidID = errors.New("project id is invalid")
)

var projectIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidateID rejects ids that cannot be used as file names or keys.
func ValidateID(id string) error {
	if !projectIDRegex.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}

// ProjectMeta is the directory-list part of a project.
type ProjectMeta struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Template    string    `json:"template,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ListItem converts the metadata into its directory-list form.
func (m ProjectMeta) ListItem() models.ProjectListItem {
	return models.ProjectListItem{ID: m.ID, Name: m.Name, UpdatedAt: m.UpdatedAt}
}

// Record is a fully decoded project.
type Record struct {
	Meta     ProjectMeta
	Snapshot vfs.Snapshot
	// Version is the envelope version the record was stored with; 0 for legacy payloads.
	Version int
}

// Adapter is implemented by every storage backend.
type Adapter interface {
	// Save writes the project record and upserts its directory entry.
	Save(ctx context.Context, meta ProjectMeta, snap vfs.Snapshot) error
	// Load returns ErrNotFound when no record exists or the stored bytes are corrupt.
	Load(ctx context.Context, id string) (*Record, error)
	// Delete removes the record and its directory entry.
	Delete(ctx context.Context, id string) error
	// List returns the directory ordered by most recently updated first.
	List(ctx context.Context) ([]models.ProjectListItem, error)
	Name() string
	Close() error
}
