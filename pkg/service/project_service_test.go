package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/cipherstudio/cipherstudio/pkg/event"
	"github.com/cipherstudio/cipherstudio/pkg/models"
	"github.com/cipherstudio/cipherstudio/pkg/storage"
	"github.com/cipherstudio/cipherstudio/pkg/vfs"
)

type eventLog struct {
	mu     sync.Mutex
	events []event.Event
}

func (l *eventLog) add(ev event.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.EventName())
	}
	return out
}

func (l *eventLog) reset() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}

func newTestService(t *testing.T, autoSave bool) (*ProjectService, *storage.FileAdapter, *eventLog) {
	t.Helper()
	return newTestServiceIn(t, t.TempDir(), autoSave)
}

func newTestServiceIn(t *testing.T, dir string, autoSave bool) (*ProjectService, *storage.FileAdapter, *eventLog) {
	t.Helper()
	a, err := storage.NewFileAdapter(dir, nil)
	if err != nil {
		t.Fatalf("NewFileAdapter() error = %v", err)
	}
	em := event.NewEmitter()
	log := &eventLog{}
	em.OnAny(log.add)
	svc := NewProjectService(a, em, nil, autoSave)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, a, log
}

func TestProjectService_CreateAndReopen(t *testing.T) {
	svc, a, _ := newTestService(t, true)
	ctx := context.Background()

	p, err := svc.Create(ctx, models.CreateProjectRequest{Name: "  Demo  "})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.Name != "Demo" || p.ActivePath != "/App.js" || p.Template != DefaultTemplate {
		t.Fatalf("Create() = %+v", p)
	}
	if !reflect.DeepEqual(p.Order, []string{"/App.js", "/index.js"}) {
		t.Fatalf("order = %v", p.Order)
	}

	items, err := svc.List(ctx)
	if err != nil || len(items) != 1 || items[0].ID != p.ID || items[0].Name != "Demo" {
		t.Fatalf("List() = %v, %v", items, err)
	}

	// A second service over the same storage sees the stored project.
	other := NewProjectService(a, event.NewEmitter(), nil, true)
	defer other.Close()
	got, err := other.Open(ctx, p.ID, false)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !reflect.DeepEqual(got.Files, p.Files) || got.Digest != p.Digest || got.Dirty {
		t.Fatalf("reopened %+v, want %+v", got, p)
	}

	if _, err := svc.Create(ctx, models.CreateProjectRequest{Name: "   "}); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("Create(blank) error = %v", err)
	}
}

func TestProjectService_OpenMissing(t *testing.T) {
	svc, _, _ := newTestService(t, true)
	ctx := context.Background()

	if _, err := svc.Open(ctx, "missing", false); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("Open() error = %v, want ErrProjectNotFound", err)
	}
	p, err := svc.Open(ctx, "missing", true)
	if err != nil {
		t.Fatalf("Open(bootstrap) error = %v", err)
	}
	if len(p.Files) != 2 || p.ActivePath != "/App.js" || !p.Dirty {
		t.Fatalf("bootstrap project = %+v", p)
	}
	if _, err := svc.Open(ctx, "../etc", true); !errors.Is(err, storage.ErrInvalidID) {
		t.Fatalf("Open(bad id) error = %v", err)
	}
}

func TestProjectService_EndToEnd(t *testing.T) {
	svc, a, _ := newTestService(t, false)
	ctx := context.Background()

	p, err := svc.Create(ctx, models.CreateProjectRequest{Name: "E2E"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ReplaceFiles(ctx, p.ID, map[string]string{}, nil); err != nil {
		t.Fatal(err)
	}
	svc.CreateFile(ctx, p.ID, "/src/App.jsx", "app", true)
	svc.CreateFile(ctx, p.ID, "/src/Util.js", "util", true)

	resp, err := svc.RenameFolder(ctx, p.ID, "/src", "/source")
	if err != nil || resp.Result != vfs.ResultRenamed || resp.Count != 2 {
		t.Fatalf("RenameFolder() = %+v, %v", resp, err)
	}
	saved, err := svc.Save(ctx, p.ID)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	want := map[string]string{"/source/App.jsx": "app", "/source/Util.js": "util"}
	if !reflect.DeepEqual(saved.Files, want) {
		t.Fatalf("files = %v, want %v", saved.Files, want)
	}

	rec, err := a.Load(ctx, p.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(rec.Snapshot.Map(), want) {
		t.Fatalf("loaded %v, want %v", rec.Snapshot.Map(), want)
	}

	resp, err = svc.DeleteFolder(ctx, p.ID, "/source")
	if err != nil || resp.Result != vfs.ResultDeleted || resp.Count != 2 {
		t.Fatalf("DeleteFolder() = %+v, %v", resp, err)
	}
	if resp.ActivePath != "" {
		t.Fatalf("active = %q, want none", resp.ActivePath)
	}
	got, _ := svc.Open(ctx, p.ID, false)
	if len(got.Files) != 0 || got.ActivePath != "" {
		t.Fatalf("project after delete = %+v", got)
	}
}

func TestProjectService_AutoSave(t *testing.T) {
	svc, a, log := newTestService(t, true)
	ctx := context.Background()
	p, _ := svc.Create(ctx, models.CreateProjectRequest{Name: "Auto"})

	svc.CreateFile(ctx, p.ID, "/notes.md", "hello", false)
	if err := svc.saver.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	rec, err := a.Load(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Snapshot.Map()["/notes.md"] != "hello" {
		t.Fatalf("autosaved files = %v", rec.Snapshot.Map())
	}

	found := false
	for _, name := range log.names() {
		if name == event.ProjectSaved {
			found = true
		}
	}
	if !found {
		t.Fatalf("events = %v, want %s", log.names(), event.ProjectSaved)
	}
}

func TestProjectService_ManualSave(t *testing.T) {
	svc, a, _ := newTestService(t, false)
	ctx := context.Background()
	p, _ := svc.Create(ctx, models.CreateProjectRequest{Name: "Manual"})

	svc.UpdateFile(ctx, p.ID, "/App.js", "changed")
	got, _ := svc.Open(ctx, p.ID, false)
	if !got.Dirty {
		t.Fatal("Dirty = false after an unsaved change")
	}
	if err := svc.saver.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	rec, _ := a.Load(ctx, p.ID)
	if rec.Snapshot.Map()["/App.js"] == "changed" {
		t.Fatal("change persisted without autosave")
	}

	// Enabling autosave writes what is pending.
	if _, err := svc.SetAutoSave(ctx, p.ID, true); err != nil {
		t.Fatal(err)
	}
	if err := svc.saver.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	rec, _ = a.Load(ctx, p.ID)
	if rec.Snapshot.Map()["/App.js"] != "changed" {
		t.Fatalf("stored App.js = %q", rec.Snapshot.Map()["/App.js"])
	}
	got, _ = svc.Open(ctx, p.ID, false)
	if got.Dirty || !got.AutoSave {
		t.Fatalf("project = %+v", got)
	}
}

func TestProjectService_FileOperations(t *testing.T) {
	svc, _, log := newTestService(t, false)
	ctx := context.Background()
	p, _ := svc.Create(ctx, models.CreateProjectRequest{Name: "Ops"})
	log.reset()

	steps := []struct {
		name      string
		call      func() (*models.FileOpResponse, error)
		want      vfs.Result
		wantEvent string
	}{
		{"create folder", func() (*models.FileOpResponse, error) { return svc.CreateFolder(ctx, p.ID, "/assets") }, vfs.ResultCreated, event.FSCreated},
		{"create file", func() (*models.FileOpResponse, error) { return svc.CreateFile(ctx, p.ID, "/src/a.js", "a", true) }, vfs.ResultCreated, event.FSCreated},
		{"update file", func() (*models.FileOpResponse, error) { return svc.UpdateFile(ctx, p.ID, "/src/a.js", "b") }, vfs.ResultUpdated, event.FSChanged},
		{"rename file", func() (*models.FileOpResponse, error) { return svc.RenameFile(ctx, p.ID, "/src/a.js", "/src/b.js") }, vfs.ResultRenamed, event.FSRenamed},
		{"rename conflict", func() (*models.FileOpResponse, error) { return svc.RenameFile(ctx, p.ID, "/App.js", "/index.js") }, vfs.ResultConflict, ""},
		{"activate", func() (*models.FileOpResponse, error) { return svc.SetActive(ctx, p.ID, "/index.js") }, vfs.ResultUpdated, event.ActiveFileChanged},
		{"delete missing", func() (*models.FileOpResponse, error) { return svc.DeleteFile(ctx, p.ID, "/nope.js") }, vfs.ResultNotFound, ""},
		{"delete folder", func() (*models.FileOpResponse, error) { return svc.DeleteFolder(ctx, p.ID, "/src") }, vfs.ResultDeleted, event.FSDeleted},
	}
	var wantEvents []string
	for _, step := range steps {
		resp, err := step.call()
		if err != nil {
			t.Fatalf("%s: error = %v", step.name, err)
		}
		if resp.Result != step.want {
			t.Fatalf("%s: result = %v, want %v", step.name, resp.Result, step.want)
		}
		if step.wantEvent != "" {
			wantEvents = append(wantEvents, step.wantEvent)
		}
	}
	if got := log.names(); !reflect.DeepEqual(got, wantEvents) {
		t.Fatalf("events = %v, want %v", got, wantEvents)
	}

	tree, err := svc.Tree(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if tree.Find("/assets") == nil || tree.Find("/src") != nil || tree.CountFiles() != 2 {
		t.Fatalf("tree = %+v", tree)
	}
	if f, err := svc.GetFile(ctx, p.ID, "index.js"); err != nil || f.Path != "/index.js" {
		t.Fatalf("GetFile() = %+v, %v", f, err)
	}
	if _, err := svc.GetFile(ctx, p.ID, "/src/b.js"); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("GetFile(deleted) error = %v", err)
	}
}

func TestProjectService_LastFile(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()
	p, _ := svc.Create(ctx, models.CreateProjectRequest{Name: "Last"})

	if _, err := svc.DeleteFile(ctx, p.ID, "/index.js"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.DeleteFile(ctx, p.ID, "/App.js"); !errors.Is(err, ErrLastFile) {
		t.Fatalf("DeleteFile(last) error = %v, want ErrLastFile", err)
	}
	resp, err := svc.DeleteFile(ctx, p.ID, "/gone.js")
	if err != nil || resp.Result != vfs.ResultNotFound {
		t.Fatalf("DeleteFile(missing) = %+v, %v", resp, err)
	}
	// Folder deletes may empty the project.
	resp, err = svc.DeleteFolder(ctx, p.ID, "/")
	if err != nil || resp.Count != 1 || resp.ActivePath != "" {
		t.Fatalf("DeleteFolder(/) = %+v, %v", resp, err)
	}
}

func TestProjectService_ReplaceFilesKeepsOrder(t *testing.T) {
	svc, _, _ := newTestService(t, false)
	ctx := context.Background()
	p, _ := svc.Create(ctx, models.CreateProjectRequest{Name: "Replace"})

	active := "/z.js"
	got, err := svc.ReplaceFiles(ctx, p.ID, map[string]string{
		"index.js": "i",
		"/z.js":    "z",
		"/b.js":    "b",
		"/App.js":  "a",
	}, &active)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/App.js", "/index.js", "/b.js", "/z.js"}
	if !reflect.DeepEqual(got.Order, want) {
		t.Fatalf("order = %v, want %v", got.Order, want)
	}
	if got.ActivePath != "/z.js" || got.Files["/index.js"] != "i" {
		t.Fatalf("project = %+v", got)
	}
}

func TestProjectService_ReplaceFilesRejectsBadLayout(t *testing.T) {
	dir := t.TempDir()
	svc, _, _ := newTestServiceIn(t, dir, false)
	ctx := context.Background()
	p, _ := svc.Create(ctx, models.CreateProjectRequest{Name: "Layout"})

	tests := []struct {
		name  string
		files map[string]string
		cause error
	}{
		{"file used as folder", map[string]string{"/src": "x", "/src/a.js": "y"}, vfs.ErrFolderClash},
		{"keys collapse to one path", map[string]string{"/a.js": "first", " /a.js/": "second"}, vfs.ErrDuplicatePath},
		{"root key", map[string]string{"/": "x"}, vfs.ErrRootPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ReplaceFiles(ctx, p.ID, tt.files, nil)
			if !errors.Is(err, ErrInvalidLayout) || !errors.Is(err, tt.cause) {
				t.Fatalf("ReplaceFiles() error = %v, want %v", err, tt.cause)
			}
			got, _ := svc.Open(ctx, p.ID, false)
			if !reflect.DeepEqual(got.Order, []string{"/App.js", "/index.js"}) || got.Dirty {
				t.Fatalf("project changed after rejected replace: %+v", got)
			}
		})
	}

	// Whatever a replace accepts must survive a save and a reload.
	if _, err := svc.ReplaceFiles(ctx, p.ID, map[string]string{"/src/a.js": "y", "/src2": "z"}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Save(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	fresh, _, _ := newTestServiceIn(t, dir, false)
	got, err := fresh.Open(ctx, p.ID, false)
	if err != nil {
		t.Fatalf("Open() after save error = %v", err)
	}
	if !reflect.DeepEqual(got.Files, map[string]string{"/src/a.js": "y", "/src2": "z"}) {
		t.Fatalf("reloaded files = %v", got.Files)
	}
}

func TestProjectService_Details(t *testing.T) {
	dir := t.TempDir()
	svc, _, log := newTestServiceIn(t, dir, true)
	ctx := context.Background()

	p, err := svc.Create(ctx, models.CreateProjectRequest{Name: "Site", Description: " landing page ", Template: "vanilla"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Description != "landing page" || p.Template != "vanilla" {
		t.Fatalf("Create() = %+v", p)
	}

	log.reset()
	desc := "marketing site"
	got, err := svc.UpdateDetails(ctx, p.ID, nil, &desc)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Site" || got.Description != desc {
		t.Fatalf("UpdateDetails() = %+v", got)
	}
	updated := false
	for _, name := range log.names() {
		updated = updated || name == event.ProjectUpdated
	}
	if !updated {
		t.Fatalf("events = %v, want %s", log.names(), event.ProjectUpdated)
	}
	if err := svc.saver.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	fresh, _, _ := newTestServiceIn(t, dir, true)
	reopened, err := fresh.Open(ctx, p.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Description != desc || reopened.Template != "vanilla" {
		t.Fatalf("reopened = %+v", reopened)
	}
}

func TestProjectService_RenameAndDelete(t *testing.T) {
	svc, _, _ := newTestService(t, true)
	ctx := context.Background()
	p, _ := svc.Create(ctx, models.CreateProjectRequest{Name: "Old"})

	blank, name := " ", "New"
	if _, err := svc.UpdateDetails(ctx, p.ID, &blank, nil); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("UpdateDetails(blank) error = %v", err)
	}
	if _, err := svc.UpdateDetails(ctx, p.ID, &name, nil); err != nil {
		t.Fatal(err)
	}
	if err := svc.saver.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	items, _ := svc.List(ctx)
	if len(items) != 1 || items[0].Name != "New" {
		t.Fatalf("List() = %v", items)
	}

	if err := svc.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := svc.Open(ctx, p.ID, false); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("Open(deleted) error = %v", err)
	}
	if err := svc.Delete(ctx, p.ID); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("Delete(again) error = %v", err)
	}
	items, _ = svc.List(ctx)
	if len(items) != 0 {
		t.Fatalf("List() after delete = %v", items)
	}
}

func TestProjectService_HandleExternalChange(t *testing.T) {
	dir := t.TempDir()
	svc, _, log := newTestServiceIn(t, dir, false)
	ctx := context.Background()
	p, _ := svc.Create(ctx, models.CreateProjectRequest{Name: "Ext"})

	svc.UpdateFile(ctx, p.ID, "/App.js", "local edit")
	svc.HandleExternalChange(p.ID)
	got, _ := svc.Open(ctx, p.ID, false)
	if got.Files["/App.js"] != "local edit" {
		t.Fatal("dirty session was dropped")
	}
	if _, err := svc.Save(ctx, p.ID); err != nil {
		t.Fatal(err)
	}

	// Another writer replaces the stored project.
	writer, err := storage.NewFileAdapter(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	snap := vfs.Snapshot{Files: []vfs.File{{Path: "/remote.js", Content: "r"}}, ActivePath: "/remote.js"}
	if err := writer.Save(ctx, storage.ProjectMeta{ID: p.ID, Name: "Ext", UpdatedAt: time.Now()}, snap); err != nil {
		t.Fatal(err)
	}

	log.reset()
	svc.HandleExternalChange(p.ID)
	got, err = svc.Open(ctx, p.ID, false)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got.Files, map[string]string{"/remote.js": "r"}) {
		t.Fatalf("files after reload = %v", got.Files)
	}
	if names := log.names(); len(names) != 1 || names[0] != event.ProjectChangedOnDisk {
		t.Fatalf("events = %v", names)
	}

	// Unknown ids are ignored.
	svc.HandleExternalChange("unknown")
}

func TestProjectService_SQLiteBackend(t *testing.T) {
	a, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "projects.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer a.Close()
	svc := NewProjectService(a, event.NewEmitter(), nil, true)
	defer svc.Close()
	ctx := context.Background()

	if svc.Backend() != "sqlite" {
		t.Fatalf("Backend() = %q", svc.Backend())
	}
	// Backends without change notifications return at once.
	if err := svc.WatchStorage(ctx); err != nil {
		t.Fatalf("WatchStorage() error = %v", err)
	}

	p, err := svc.Create(ctx, models.CreateProjectRequest{Name: "SQL"})
	if err != nil {
		t.Fatal(err)
	}
	svc.CreateFile(ctx, p.ID, "/db.js", "db", true)
	if _, err := svc.Save(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	rec, err := a.Load(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Snapshot.ActivePath != "/db.js" || rec.Meta.Name != "SQL" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestProjectService_ConcurrentEdits(t *testing.T) {
	svc, a, _ := newTestService(t, true)
	ctx := context.Background()
	p, _ := svc.Create(ctx, models.CreateProjectRequest{Name: "Busy"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc.CreateFile(ctx, p.ID, fmt.Sprintf("/f%02d.js", i), "x", false)
		}(i)
	}
	wg.Wait()
	if err := svc.saver.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	rec, err := a.Load(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(rec.Snapshot.Files); n != 22 {
		t.Fatalf("stored files = %d, want 22", n)
	}
}
