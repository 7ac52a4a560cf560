package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"github.com/cipherstudio/cipherstudio/pkg/models"
	"github.com/cipherstudio/cipherstudio/pkg/vfs"
)

const (
	projectsDirName = "projects"
	listFileName    = "project-list.json"
)

// FileAdapter keeps one JSON document per project under <dir>/projects and the
// directory list in <dir>/project-list.json. Writes go through a temp file and
// a rename so readers never see a torn document.
type FileAdapter struct {
	mu     sync.Mutex
	dir    string
	logger *slog.Logger
	// written remembers the last payload this process wrote per project so the
	// watcher can tell its own writes from foreign ones.
	written map[string][32]byte
}

// NewFileAdapter creates the data directory layout if needed.
func NewFileAdapter(dir string, logger *slog.Logger) (*FileAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(dir, projectsDirName), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", dir)
	}
	return &FileAdapter{dir: dir, logger: logger, written: make(map[string][32]byte)}, nil
}

func (a *FileAdapter) Name() string { return "file" }

func (a *FileAdapter) projectPath(id string) string {
	return filepath.Join(a.dir, projectsDirName, id+".json")
}

func (a *FileAdapter) listPath() string {
	return filepath.Join(a.dir, listFileName)
}

func (a *FileAdapter) Save(ctx context.Context, meta ProjectMeta, snap vfs.Snapshot) error {
	if err := ValidateID(meta.ID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(meta, snap)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := writeFileAtomic(a.projectPath(meta.ID), data); err != nil {
		return errors.Wrapf(err, "write project %s", meta.ID)
	}
	a.written[meta.ID] = payloadSum(data)

	list := a.readListLocked()
	list[meta.ID] = meta.ListItem()
	return a.writeListLocked(list)
}

func (a *FileAdapter) Load(ctx context.Context, id string) (*Record, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(a.projectPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "read project %s", id)
	}
	rec, err := decodeRecord(a.logger, a.Name(), id, data)
	if err != nil {
		return nil, err
	}
	if rec.Meta.Name == "" {
		a.mu.Lock()
		if item, ok := a.readListLocked()[id]; ok {
			rec.Meta.Name = item.Name
			rec.Meta.UpdatedAt = item.UpdatedAt
		}
		a.mu.Unlock()
	}
	return rec, nil
}

func (a *FileAdapter) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	removeErr := os.Remove(a.projectPath(id))
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return errors.Wrapf(removeErr, "remove project %s", id)
	}
	delete(a.written, id)

	list := a.readListLocked()
	_, listed := list[id]
	if listed {
		delete(list, id)
		if err := a.writeListLocked(list); err != nil {
			return err
		}
	}
	if os.IsNotExist(removeErr) && !listed {
		return ErrNotFound
	}
	return nil
}

func (a *FileAdapter) List(ctx context.Context) ([]models.ProjectListItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	list := a.readListLocked()
	a.mu.Unlock()

	items := make([]models.ProjectListItem, 0, len(list))
	for _, item := range list {
		items = append(items, item)
	}
	sortListItems(items)
	return items, nil
}

func (a *FileAdapter) Close() error { return nil }

// readListLocked loads the directory list. A missing or corrupt list reads as
// empty; the next save rewrites it.
func (a *FileAdapter) readListLocked() map[string]models.ProjectListItem {
	out := make(map[string]models.ProjectListItem)
	data, err := os.ReadFile(a.listPath())
	if err != nil {
		if !os.IsNotExist(err) {
			a.logger.Warn("Failed to read project list", "path", a.listPath(), "error", err)
		}
		return out
	}
	var items []models.ProjectListItem
	if err := json.Unmarshal(data, &items); err != nil {
		a.logger.Warn("Ignoring corrupt project list", "path", a.listPath(), "error", err)
		return out
	}
	for _, item := range items {
		out[item.ID] = item
	}
	return out
}

func (a *FileAdapter) writeListLocked(list map[string]models.ProjectListItem) error {
	items := make([]models.ProjectListItem, 0, len(list))
	for _, item := range list {
		items = append(items, item)
	}
	sortListItems(items)
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode project list")
	}
	if err := writeFileAtomic(a.listPath(), data); err != nil {
		return errors.Wrap(err, "write project list")
	}
	return nil
}

// Watch reports ids of project documents changed by another process until ctx
// is done. Writes made through this adapter are filtered out.
func (a *FileAdapter) Watch(ctx context.Context, fn func(id string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	dir := filepath.Join(a.dir, projectsDirName)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return errors.Wrapf(err, "watch %s", dir)
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					continue
				}
				id, ok := projectIDFromFile(ev.Name)
				if !ok || a.isOwnWrite(id) {
					continue
				}
				a.logger.Debug("Project document changed on disk", "id", id, "op", ev.Op.String())
				fn(id)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				a.logger.Warn("Error watching projects directory", "error", err)
			}
		}
	}()
	return nil
}

func (a *FileAdapter) isOwnWrite(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	sum, ok := a.written[id]
	if !ok {
		return false
	}
	data, err := os.ReadFile(a.projectPath(id))
	if err != nil {
		return false
	}
	return payloadSum(data) == sum
}

func projectIDFromFile(name string) (string, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, ".json") {
		return "", false
	}
	id := strings.TrimSuffix(base, ".json")
	return id, ValidateID(id) == nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func sortListItems(items []models.ProjectListItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID < items[j].ID
	})
}
