package event

// ============================================================================
// Event Names (constants)
// ============================================================================

const (
	FSChanged            = "fs.changed"
	FSCreated            = "fs.created"
	FSDeleted            = "fs.deleted"
	FSRenamed            = "fs.renamed"
	ActiveFileChanged    = "fs.activeChanged"
	ProjectCreated       = "project.created"
	ProjectUpdated       = "project.updated"
	ProjectDeleted       = "project.deleted"
	ProjectSaved         = "project.saved"
	ProjectChangedOnDisk = "project.changedOnDisk"
	ConfigChanged        = "system.configChanged"
)

// ============================================================================
// Filesystem Events (virtual project files)
// ============================================================================

// FSChangedEvent is emitted when file content changes or the whole file set is replaced.
type FSChangedEvent struct {
	ProjectID string   `json:"projectId"`
	Paths     []string `json:"paths,omitempty"` // empty means "check everything"
}

func (e FSChangedEvent) EventName() string { return FSChanged }

// FSCreatedEvent is emitted when a file or folder is created.
type FSCreatedEvent struct {
	ProjectID string `json:"projectId"`
	Path      string `json:"path"`
	IsDir     bool   `json:"isDir"`
}

func (e FSCreatedEvent) EventName() string { return FSCreated }

// FSDeletedEvent is emitted when a file or folder is deleted.
type FSDeletedEvent struct {
	ProjectID string `json:"projectId"`
	Path      string `json:"path"`
	IsDir     bool   `json:"isDir"`
	Count     int    `json:"count"`
}

func (e FSDeletedEvent) EventName() string { return FSDeleted }

// FSRenamedEvent is emitted when a file or folder is renamed/moved.
type FSRenamedEvent struct {
	ProjectID string `json:"projectId"`
	OldPath   string `json:"oldPath"`
	NewPath   string `json:"newPath"`
	IsDir     bool   `json:"isDir"`
	Count     int    `json:"count"`
}

func (e FSRenamedEvent) EventName() string { return FSRenamed }

// ActiveFileChangedEvent is emitted when the editor selection moves.
type ActiveFileChangedEvent struct {
	ProjectID string `json:"projectId"`
	Path      string `json:"path"`
}

func (e ActiveFileChangedEvent) EventName() string { return ActiveFileChanged }

// ============================================================================
// Project Events
// ============================================================================

type ProjectCreatedEvent struct {
	ProjectID string `json:"projectId"`
}

func (e ProjectCreatedEvent) EventName() string { return ProjectCreated }

// ProjectUpdatedEvent is emitted when project metadata (name, autosave) changes.
type ProjectUpdatedEvent struct {
	ProjectID string `json:"projectId"`
}

func (e ProjectUpdatedEvent) EventName() string { return ProjectUpdated }

type ProjectDeletedEvent struct {
	ProjectID string `json:"projectId"`
}

func (e ProjectDeletedEvent) EventName() string { return ProjectDeleted }

// ProjectSavedEvent is emitted after a project snapshot reached storage.
type ProjectSavedEvent struct {
	ProjectID string `json:"projectId"`
	Digest    string `json:"digest"`
}

func (e ProjectSavedEvent) EventName() string { return ProjectSaved }

// ProjectChangedOnDiskEvent is emitted when another process rewrote a stored project.
type ProjectChangedOnDiskEvent struct {
	ProjectID string `json:"projectId"`
	Reloaded  bool   `json:"reloaded"`
}

func (e ProjectChangedOnDiskEvent) EventName() string { return ProjectChangedOnDisk }

// ============================================================================
// System Events
// ============================================================================

// ConfigChangedEvent is emitted when configuration changes.
type ConfigChangedEvent struct{}

func (e ConfigChangedEvent) EventName() string { return ConfigChanged }
