package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cipherstudio/cipherstudio/pkg/event"
	"github.com/cipherstudio/cipherstudio/pkg/models"
	"github.com/cipherstudio/cipherstudio/pkg/storage"
	"github.com/cipherstudio/cipherstudio/pkg/utils"
	"github.com/cipherstudio/cipherstudio/pkg/vfs"
)

// DefaultTemplate is the starter template recorded for new projects.
const DefaultTemplate = "react"

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrFileNotFound    = errors.New("file not found")
	ErrLastFile        = errors.New("cannot delete the last file of a project")
	ErrInvalidName     = errors.New("project name is required")
	ErrInvalidLayout   = errors.New("invalid file layout")
)

// session is an open project: its file store plus directory metadata.
type session struct {
	id    string
	store *vfs.Store

	// opMu serializes service-level check-then-act sequences on the store.
	opMu sync.Mutex

	mu          sync.Mutex
	name        string
	description string
	template    string
	updatedAt   time.Time
	autoSave    bool
	dirty       bool

	unsubscribe func()
}

func (s *session) metaLocked() storage.ProjectMeta {
	return storage.ProjectMeta{
		ID:          s.id,
		Name:        s.name,
		Description: s.description,
		Template:    s.template,
		UpdatedAt:   s.updatedAt,
	}
}

// ProjectService manages open projects and their persistence.
//
// Store mutations are persisted in the background through a storage.Saver when
// autosave is enabled for the project; otherwise the project is marked dirty
// until Save is called.
type ProjectService struct {
	adapter  storage.Adapter
	saver    *storage.Saver
	emitter  *event.Emitter
	logger   *slog.Logger
	autoSave bool
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewProjectService creates the service and starts its background saver.
// A nil emitter uses the global one.
func NewProjectService(adapter storage.Adapter, emitter *event.Emitter, logger *slog.Logger, autoSave bool) *ProjectService {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if emitter == nil {
		emitter = event.Global()
	}
	s := &ProjectService{
		adapter:  adapter,
		saver:    storage.NewSaver(adapter, logger),
		emitter:  emitter,
		logger:   logger,
		autoSave: autoSave,
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*session),
	}
	s.saver.OnSaved(func(meta storage.ProjectMeta, digest string) {
		s.emitter.Emit(event.ProjectSavedEvent{ProjectID: meta.ID, Digest: digest})
	})
	return s
}

// Backend returns the storage backend name.
func (s *ProjectService) Backend() string {
	return s.adapter.Name()
}

// Close writes every pending snapshot and stops the saver.
func (s *ProjectService) Close() error {
	return s.saver.Close()
}

// Create makes a new project with the default file set and stores it right away.
func (s *ProjectService) Create(ctx context.Context, req models.CreateProjectRequest) (*models.Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrInvalidName
	}
	template := strings.TrimSpace(req.Template)
	if template == "" {
		template = DefaultTemplate
	}
	meta := storage.ProjectMeta{
		ID:          uuid.New().String(),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Template:    template,
		UpdatedAt:   s.now(),
	}
	snap := vfs.Snapshot{Files: vfs.DefaultFiles()}
	snap.ActivePath = snap.Files[0].Path

	if err := s.adapter.Save(ctx, meta, snap); err != nil {
		return nil, fmt.Errorf("failed to save project: %w", err)
	}
	s.saver.MarkSaved(meta, snap)

	sess := s.newSession(meta, snap, s.autoSave)
	s.mu.Lock()
	s.sessions[meta.ID] = sess
	s.mu.Unlock()

	s.logger.Info("Project created", "id", meta.ID, "name", name, "template", template, "backend", s.adapter.Name())
	s.emitter.Emit(event.ProjectCreatedEvent{ProjectID: meta.ID})
	return s.view(sess), nil
}

// Open returns the project. When nothing usable is stored under id and
// bootstrap is set, a project with the default file set is opened instead.
func (s *ProjectService) Open(ctx context.Context, id string, bootstrap bool) (*models.Project, error) {
	sess, err := s.session(ctx, id, bootstrap)
	if err != nil {
		return nil, err
	}
	return s.view(sess), nil
}

// List returns the project directory, most recently updated first.
func (s *ProjectService) List(ctx context.Context) ([]models.ProjectListItem, error) {
	items, err := s.adapter.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return items, nil
}

// Delete removes the project from storage and drops its open session.
func (s *ProjectService) Delete(ctx context.Context, id string) error {
	if err := storage.ValidateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	sess, open := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if open {
		sess.unsubscribe()
	}

	s.saver.Forget(id)
	// A write already in progress must land before the delete.
	if err := s.saver.Flush(ctx); err != nil {
		return err
	}
	err := s.adapter.Delete(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		if !open {
			return ErrProjectNotFound
		}
	} else if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	s.logger.Info("Project deleted", "id", id)
	s.emitter.Emit(event.ProjectDeletedEvent{ProjectID: id})
	return nil
}

// UpdateDetails changes the project name and description. Nil fields are kept.
func (s *ProjectService) UpdateDetails(ctx context.Context, id string, name, description *string) (*models.Project, error) {
	var newName string
	if name != nil {
		if newName = strings.TrimSpace(*name); newName == "" {
			return nil, ErrInvalidName
		}
	}
	sess, err := s.session(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if name == nil && description == nil {
		return s.view(sess), nil
	}
	sess.mu.Lock()
	if name != nil {
		sess.name = newName
	}
	if description != nil {
		sess.description = strings.TrimSpace(*description)
	}
	s.touchLocked(sess)
	sess.mu.Unlock()

	s.emitter.Emit(event.ProjectUpdatedEvent{ProjectID: id})
	return s.view(sess), nil
}

// Save writes the project synchronously, after any queued background write.
func (s *ProjectService) Save(ctx context.Context, id string) (*models.Project, error) {
	sess, err := s.session(ctx, id, false)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if err := s.saver.Flush(ctx); err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	meta := sess.metaLocked()
	snap := sess.store.Snapshot()
	if err := s.adapter.Save(ctx, meta, snap); err != nil {
		sess.mu.Unlock()
		return nil, fmt.Errorf("failed to save project: %w", err)
	}
	s.saver.MarkSaved(meta, snap)
	sess.dirty = false
	sess.mu.Unlock()

	s.emitter.Emit(event.ProjectSavedEvent{ProjectID: id, Digest: storage.Digest(snap)})
	return s.view(sess), nil
}

// SetAutoSave toggles background persistence. Enabling it writes pending changes.
func (s *ProjectService) SetAutoSave(ctx context.Context, id string, enabled bool) (*models.Project, error) {
	sess, err := s.session(ctx, id, false)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	sess.autoSave = enabled
	if enabled && sess.dirty {
		s.scheduleLocked(sess)
	}
	sess.mu.Unlock()

	s.emitter.Emit(event.ProjectUpdatedEvent{ProjectID: id})
	return s.view(sess), nil
}

// ReplaceFiles swaps the whole file map. Paths already present keep their
// position; new paths follow in sorted order. A nil activePath keeps the current one.
// A map the store could not hold, such as two keys normalizing to one path or a
// file also used as a folder, is rejected with ErrInvalidLayout and nothing changes.
func (s *ProjectService) ReplaceFiles(ctx context.Context, id string, files map[string]string, activePath *string) (*models.Project, error) {
	sess, err := s.session(ctx, id, false)
	if err != nil {
		return nil, err
	}
	raw := make([]string, 0, len(files))
	for p := range files {
		raw = append(raw, p)
	}
	sort.Strings(raw)
	paths, err := vfs.ValidateLayout(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLayout, err)
	}

	sess.opMu.Lock()
	defer sess.opMu.Unlock()

	next := make(map[string]string, len(files))
	for i, p := range paths {
		next[p] = files[raw[i]]
	}
	snap := vfs.Snapshot{ActivePath: sess.store.ActiveFile()}
	if activePath != nil {
		snap.ActivePath = *activePath
	}
	for _, p := range sess.store.Paths() {
		if content, ok := next[p]; ok {
			snap.Files = append(snap.Files, vfs.File{Path: p, Content: content})
			delete(next, p)
		}
	}
	added := make([]string, 0, len(next))
	for p := range next {
		added = append(added, p)
	}
	sort.Strings(added)
	for _, p := range added {
		snap.Files = append(snap.Files, vfs.File{Path: p, Content: next[p]})
	}

	sess.store.Restore(snap)
	return s.view(sess), nil
}

// GetFile returns a single file of the project.
func (s *ProjectService) GetFile(ctx context.Context, id, path string) (vfs.File, error) {
	sess, err := s.session(ctx, id, false)
	if err != nil {
		return vfs.File{}, err
	}
	f, ok := sess.store.Get(path)
	if !ok {
		return vfs.File{}, ErrFileNotFound
	}
	return f, nil
}

// Tree returns the directory view of the project files.
func (s *ProjectService) Tree(ctx context.Context, id string) (*vfs.TreeNode, error) {
	sess, err := s.session(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return sess.store.Tree(), nil
}

func (s *ProjectService) CreateFile(ctx context.Context, id, path, content string, activate bool) (*models.FileOpResponse, error) {
	return s.apply(ctx, id, func(st *vfs.Store) (*models.FileOpResponse, error) {
		res := st.CreateFile(path, content, activate)
		return &models.FileOpResponse{Result: res, Path: vfs.Normalize(path)}, nil
	})
}

func (s *ProjectService) UpdateFile(ctx context.Context, id, path, content string) (*models.FileOpResponse, error) {
	return s.apply(ctx, id, func(st *vfs.Store) (*models.FileOpResponse, error) {
		res := st.UpdateContent(path, content)
		return &models.FileOpResponse{Result: res, Path: vfs.Normalize(path)}, nil
	})
}

// DeleteFile removes one file. The last remaining file of a project cannot be deleted.
func (s *ProjectService) DeleteFile(ctx context.Context, id, path string) (*models.FileOpResponse, error) {
	return s.apply(ctx, id, func(st *vfs.Store) (*models.FileOpResponse, error) {
		p := vfs.Normalize(path)
		if st.Has(p) && st.Len() == 1 {
			return nil, ErrLastFile
		}
		return &models.FileOpResponse{Result: st.DeleteFile(p), Path: p}, nil
	})
}

func (s *ProjectService) DeleteFolder(ctx context.Context, id, path string) (*models.FileOpResponse, error) {
	return s.apply(ctx, id, func(st *vfs.Store) (*models.FileOpResponse, error) {
		res, n := st.DeleteFolder(path)
		return &models.FileOpResponse{Result: res, Path: vfs.Normalize(path), Count: n}, nil
	})
}

func (s *ProjectService) RenameFile(ctx context.Context, id, from, to string) (*models.FileOpResponse, error) {
	return s.apply(ctx, id, func(st *vfs.Store) (*models.FileOpResponse, error) {
		res := st.RenameFile(from, to)
		return &models.FileOpResponse{Result: res, Path: vfs.Normalize(to), Count: countIf(res)}, nil
	})
}

func (s *ProjectService) RenameFolder(ctx context.Context, id, from, to string) (*models.FileOpResponse, error) {
	return s.apply(ctx, id, func(st *vfs.Store) (*models.FileOpResponse, error) {
		res, n := st.RenameFolder(from, to)
		return &models.FileOpResponse{Result: res, Path: vfs.Normalize(to), Count: n}, nil
	})
}

func (s *ProjectService) CreateFolder(ctx context.Context, id, path string) (*models.FileOpResponse, error) {
	return s.apply(ctx, id, func(st *vfs.Store) (*models.FileOpResponse, error) {
		return &models.FileOpResponse{Result: st.CreateFolder(path), Path: vfs.Normalize(path)}, nil
	})
}

// SetActive moves the editor selection. The path is not required to exist.
func (s *ProjectService) SetActive(ctx context.Context, id, path string) (*models.FileOpResponse, error) {
	return s.apply(ctx, id, func(st *vfs.Store) (*models.FileOpResponse, error) {
		st.SetActiveFile(path)
		return &models.FileOpResponse{Result: vfs.ResultUpdated, Path: vfs.Normalize(path)}, nil
	})
}

func countIf(res vfs.Result) int {
	if res.Changed() {
		return 1
	}
	return 0
}

func (s *ProjectService) apply(ctx context.Context, id string, fn func(*vfs.Store) (*models.FileOpResponse, error)) (*models.FileOpResponse, error) {
	sess, err := s.session(ctx, id, false)
	if err != nil {
		return nil, err
	}
	sess.opMu.Lock()
	defer sess.opMu.Unlock()
	resp, err := fn(sess.store)
	if err != nil {
		return nil, err
	}
	resp.ActivePath = sess.store.ActiveFile()
	return resp, nil
}

// WatchStorage follows external changes until ctx is done when the backend can
// report them (the file backend). Other backends return nil at once.
func (s *ProjectService) WatchStorage(ctx context.Context) error {
	w, ok := s.adapter.(interface {
		Watch(ctx context.Context, fn func(id string)) error
	})
	if !ok {
		return nil
	}
	return w.Watch(ctx, s.HandleExternalChange)
}

// HandleExternalChange drops a cached session whose stored record was rewritten
// by someone else, so the next Open reads it again. Sessions with unsaved or
// queued changes are kept.
func (s *ProjectService) HandleExternalChange(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	sess.mu.Lock()
	busy := sess.dirty || s.saver.Pending(id)
	sess.mu.Unlock()
	if !busy {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if busy {
		s.logger.Warn("Project changed in storage while it has unsaved changes", "id", id)
	} else {
		sess.unsubscribe()
		s.logger.Info("Project changed in storage, session dropped", "id", id)
	}
	s.emitter.Emit(event.ProjectChangedOnDiskEvent{ProjectID: id, Reloaded: !busy})
}

func (s *ProjectService) session(ctx context.Context, id string, bootstrap bool) (*session, error) {
	if err := storage.ValidateID(id); err != nil {
		return nil, err
	}
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		return sess, nil
	}

	var meta storage.ProjectMeta
	var snap vfs.Snapshot
	fresh := false
	rec, err := s.adapter.Load(ctx, id)
	switch {
	case err == nil:
		meta, snap = rec.Meta, rec.Snapshot
	case errors.Is(err, storage.ErrNotFound) && bootstrap:
		meta = storage.ProjectMeta{ID: id, Name: id, UpdatedAt: s.now()}
		snap = vfs.Snapshot{Files: vfs.DefaultFiles()}
		snap.ActivePath = snap.Files[0].Path
		fresh = true
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrProjectNotFound
	default:
		return nil, fmt.Errorf("failed to load project: %w", err)
	}
	if meta.Name == "" {
		meta.Name = id
	}
	if meta.Template == "" {
		meta.Template = DefaultTemplate
	}

	created := s.newSession(meta, snap, s.autoSave)
	if fresh {
		created.dirty = true
	} else {
		s.saver.MarkSaved(meta, snap)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[id]; ok {
		created.unsubscribe()
		return existing, nil
	}
	s.sessions[id] = created
	s.logger.Debug("Project opened", "id", id, "files", len(snap.Files), "bootstrap", fresh)
	return created, nil
}

func (s *ProjectService) newSession(meta storage.ProjectMeta, snap vfs.Snapshot, autoSave bool) *session {
	st := vfs.NewStore()
	st.Restore(snap)
	sess := &session{
		id:          meta.ID,
		store:       st,
		name:        meta.Name,
		description: meta.Description,
		template:    meta.Template,
		updatedAt:   meta.UpdatedAt,
		autoSave:    autoSave,
	}
	sess.unsubscribe = st.OnChange(func(c vfs.Change) {
		s.onChange(sess, c)
	})
	return sess
}

func (s *ProjectService) onChange(sess *session, c vfs.Change) {
	if c.Persist() {
		sess.mu.Lock()
		s.touchLocked(sess)
		sess.mu.Unlock()
	}
	s.emitter.Emit(changeEvent(sess.id, c))
}

// touchLocked stamps the project as modified and persists it or marks it dirty.
// The snapshot is taken under sess.mu so schedules for one project stay ordered.
func (s *ProjectService) touchLocked(sess *session) {
	sess.updatedAt = s.now()
	if !sess.autoSave {
		sess.dirty = true
		return
	}
	s.scheduleLocked(sess)
}

func (s *ProjectService) scheduleLocked(sess *session) {
	if s.saver.Schedule(sess.metaLocked(), sess.store.Snapshot()) {
		sess.dirty = false
		return
	}
	sess.dirty = true
	s.logger.Warn("Saver closed, change kept in memory", "id", sess.id)
}

func changeEvent(id string, c vfs.Change) event.Event {
	switch c.Op {
	case vfs.OpCreate:
		if vfs.Base(c.Path) == vfs.PlaceholderName {
			return event.FSCreatedEvent{ProjectID: id, Path: vfs.Dir(c.Path), IsDir: true}
		}
		return event.FSCreatedEvent{ProjectID: id, Path: c.Path}
	case vfs.OpDelete:
		return event.FSDeletedEvent{ProjectID: id, Path: c.Path, Count: c.Count}
	case vfs.OpDeleteFolder:
		return event.FSDeletedEvent{ProjectID: id, Path: c.Path, IsDir: true, Count: c.Count}
	case vfs.OpRename:
		return event.FSRenamedEvent{ProjectID: id, OldPath: c.OldPath, NewPath: c.Path, Count: c.Count}
	case vfs.OpRenameFolder:
		return event.FSRenamedEvent{ProjectID: id, OldPath: c.OldPath, NewPath: c.Path, IsDir: true, Count: c.Count}
	case vfs.OpActivate:
		return event.ActiveFileChangedEvent{ProjectID: id, Path: c.Path}
	case vfs.OpUpdate:
		return event.FSChangedEvent{ProjectID: id, Paths: []string{c.Path}}
	default:
		return event.FSChangedEvent{ProjectID: id}
	}
}

func (s *ProjectService) view(sess *session) *models.Project {
	snap := sess.store.Snapshot()
	sess.mu.Lock()
	defer sess.mu.Unlock()
	order := make([]string, 0, len(snap.Files))
	for _, f := range snap.Files {
		order = append(order, f.Path)
	}
	return &models.Project{
		ID:          sess.id,
		Name:        sess.name,
		Description: sess.description,
		Template:    sess.template,
		UpdatedAt:   sess.updatedAt,
		AutoSave:    sess.autoSave,
		Dirty:       sess.dirty,
		ActivePath:  snap.ActivePath,
		Files:       snap.Map(),
		Order:       order,
		Digest:      storage.Digest(snap),
	}
}
