package models

import (
	"time"

	"github.com/cipherstudio/cipherstudio/pkg/vfs"
)

// ProjectListItem is one entry of the project directory shown on the dashboard.
type ProjectListItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Project is the full view of an open project.
type Project struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Template    string            `json:"template"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	AutoSave    bool              `json:"autoSave"`
	Dirty       bool              `json:"dirty"`
	ActivePath  string            `json:"activePath"`
	Files       map[string]string `json:"files"`
	Order       []string          `json:"order"`
	Digest      string            `json:"digest"`
}

// CreateProjectRequest names a new project. An empty template means "react".
type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Template    string `json:"template"`
}

// UpdateProjectRequest replaces the details and/or the whole file map.
type UpdateProjectRequest struct {
	Name        *string            `json:"name"`
	Description *string            `json:"description"`
	Files       *map[string]string `json:"files"`
	ActivePath  *string            `json:"activePath"`
}

type AutoSaveRequest struct {
	Enabled bool `json:"enabled"`
}

type CreateFileRequest struct {
	Path     string `json:"path" binding:"required"`
	Content  string `json:"content"`
	Activate *bool  `json:"activate"`
}

type UpdateFileRequest struct {
	Path    string `json:"path" binding:"required"`
	Content string `json:"content"`
}

type RenameRequest struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

type PathRequest struct {
	Path string `json:"path" binding:"required"`
}

// FileOpResponse reports the outcome of a single store operation.
type FileOpResponse struct {
	Result     vfs.Result `json:"result"`
	Path       string     `json:"path,omitempty"`
	Count      int        `json:"count,omitempty"`
	ActivePath string     `json:"activePath"`
}

type ProjectListResponse struct {
	Projects []ProjectListItem `json:"projects"`
	Total    int               `json:"total"`
}
