package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/cipherstudio/cipherstudio/pkg/vfs"
)

func sampleSnapshot() vfs.Snapshot {
	return vfs.Snapshot{
		Files: []vfs.File{
			{Path: "/src/App.jsx", Content: "export default function App() {}"},
			{Path: "/src/Util.js", Content: "export const x = 1"},
			{Path: "/assets/.gitkeep", Content: ""},
		},
		ActivePath: "/src/Util.js",
	}
}

func meta(id, name string, minute int) ProjectMeta {
	return ProjectMeta{ID: id, Name: name, UpdatedAt: time.Date(2024, 5, 1, 12, minute, 0, 0, time.UTC)}
}

// runAdapterContract exercises the behaviour every backend must share.
func runAdapterContract(t *testing.T, a Adapter) {
	t.Helper()
	ctx := context.Background()

	t.Run("load missing", func(t *testing.T) {
		if _, err := a.Load(ctx, "missing-project"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Load() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		if err := a.Save(ctx, meta("../escape", "x", 0), vfs.Snapshot{}); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("Save() error = %v, want ErrInvalidID", err)
		}
		if _, err := a.Load(ctx, ""); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("Load() error = %v, want ErrInvalidID", err)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		snap := sampleSnapshot()
		m := meta("p1", "First", 1)
		m.Description, m.Template = "demo app", "react"
		if err := a.Save(ctx, m, snap); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		rec, err := a.Load(ctx, "p1")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if !reflect.DeepEqual(rec.Snapshot, snap) {
			t.Fatalf("Load() snapshot = %+v, want %+v", rec.Snapshot, snap)
		}
		if rec.Meta.ID != "p1" || rec.Meta.Name != "First" || rec.Meta.Description != "demo app" || rec.Meta.Template != "react" {
			t.Fatalf("Load() meta = %+v", rec.Meta)
		}
		if rec.Version != CurrentVersion {
			t.Fatalf("Load() version = %d", rec.Version)
		}
	})

	t.Run("upsert and list order", func(t *testing.T) {
		if err := a.Save(ctx, meta("p2", "Second", 2), vfs.Snapshot{}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if err := a.Save(ctx, meta("p1", "First renamed", 3), sampleSnapshot()); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		items, err := a.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("List() = %+v, want 2 items", items)
		}
		if items[0].ID != "p1" || items[0].Name != "First renamed" || items[1].ID != "p2" {
			t.Fatalf("List() = %+v, want p1 then p2", items)
		}
	})

	t.Run("empty project", func(t *testing.T) {
		rec, err := a.Load(ctx, "p2")
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(rec.Snapshot.Files) != 0 || rec.Snapshot.ActivePath != "" {
			t.Fatalf("Load() = %+v, want empty snapshot", rec.Snapshot)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := a.Delete(ctx, "p1"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := a.Load(ctx, "p1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Load() after delete error = %v", err)
		}
		if err := a.Delete(ctx, "p1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("second Delete() error = %v, want ErrNotFound", err)
		}
		items, err := a.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(items) != 1 || items[0].ID != "p2" {
			t.Fatalf("List() = %+v, want only p2", items)
		}
	})
}
