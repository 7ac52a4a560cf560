package vfs

import (
	"sort"
	"sync"
)

// PlaceholderName is the hidden file that keeps an otherwise empty folder alive.
const PlaceholderName = ".gitkeep"

// File is a single entry of the store. Its path is also its identity.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Op names the kind of mutation reported to listeners.
type Op string

const (
	OpCreate       Op = "create"
	OpUpdate       Op = "update"
	OpDelete       Op = "delete"
	OpDeleteFolder Op = "delete_folder"
	OpRename       Op = "rename"
	OpRenameFolder Op = "rename_folder"
	OpActivate     Op = "activate"
	OpRestore      Op = "restore"
)

// Change describes a completed mutation.
type Change struct {
	Op      Op
	Path    string
	OldPath string
	// Count is the number of files touched by folder operations.
	Count int
}

// Persist reports whether the change touched the file map.
func (c Change) Persist() bool {
	return c.Op != OpActivate
}

// Listener receives changes after the store lock has been released.
type Listener func(Change)

// Snapshot is a detached copy of the store contents, files in insertion order.
type Snapshot struct {
	Files      []File `json:"files"`
	ActivePath string `json:"activePath"`
}

// Map returns the snapshot files keyed by path.
func (s Snapshot) Map() map[string]string {
	m := make(map[string]string, len(s.Files))
	for _, f := range s.Files {
		m[f.Path] = f.Content
	}
	return m
}

type listenerEntry struct {
	id int
	fn Listener
}

// Store owns a project's path->file map and the active file pointer.
// All mutation goes through its methods so the invariants hold after every call:
//   - every key is a normalized path,
//   - keys are unique under normalization,
//   - a file never shares its path with a folder.
//
// An empty active path means "no active file".
type Store struct {
	mu        sync.RWMutex
	files     map[string]*File
	order     []string
	active    string
	listeners []listenerEntry
	nextID    int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{files: make(map[string]*File)}
}

// NewDefaultStore returns a store bootstrapped with DefaultFiles, first file active.
func NewDefaultStore() *Store {
	s := NewStore()
	s.Restore(Snapshot{Files: DefaultFiles()})
	return s
}

// OnChange registers a listener and returns a function removing it.
func (s *Store) OnChange(fn Listener) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listenerEntry{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// CreateFile inserts or overwrites a file. An existing path keeps its position
// and only has its content replaced. Creating a real file next to a placeholder
// drops the placeholder.
func (s *Store) CreateFile(raw, content string, activate bool) Result {
	p := Normalize(raw)
	if p == Root {
		return ResultInvalid
	}

	s.mu.Lock()
	res := ResultCreated
	if f, ok := s.files[p]; ok {
		f.Content = content
		res = ResultOverwritten
	} else {
		if s.blockedLocked(p, nil) {
			s.mu.Unlock()
			return ResultConflict
		}
		s.insertLocked(p, content)
	}
	if Base(p) != PlaceholderName {
		if keep := Join(Dir(p), PlaceholderName); keep != p {
			s.removeLocked(keep)
		}
	}
	if activate {
		s.active = p
	} else {
		s.reassignLocked()
	}
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	notify(listeners, Change{Op: OpCreate, Path: p, Count: 1})
	return res
}

// CreateFolder makes an empty folder visible by writing its placeholder file.
// The active file is left untouched.
func (s *Store) CreateFolder(raw string) Result {
	p := Normalize(raw)
	if p == Root {
		return ResultInvalid
	}

	s.mu.Lock()
	if _, isFile := s.files[p]; isFile || s.underFileLocked(p) {
		s.mu.Unlock()
		return ResultConflict
	}
	if s.folderExistsLocked(p) {
		s.mu.Unlock()
		return ResultUnchanged
	}
	keep := Join(p, PlaceholderName)
	s.insertLocked(keep, "")
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	notify(listeners, Change{Op: OpCreate, Path: keep, Count: 1})
	return ResultCreated
}

// DeleteFile removes a single file. Deleting a missing path is a no-op.
// The store itself allows reaching zero files.
func (s *Store) DeleteFile(raw string) Result {
	p := Normalize(raw)

	s.mu.Lock()
	if !s.removeLocked(p) {
		s.mu.Unlock()
		return ResultNotFound
	}
	s.reassignLocked()
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	notify(listeners, Change{Op: OpDelete, Path: p, Count: 1})
	return ResultDeleted
}

// DeleteFolder removes every file equal to or underneath the folder path.
// It returns the number of removed files.
func (s *Store) DeleteFolder(raw string) (Result, int) {
	p := Normalize(raw)

	s.mu.Lock()
	victims := s.withinLocked(p)
	if len(victims) == 0 {
		s.mu.Unlock()
		return ResultNotFound, 0
	}
	for _, k := range victims {
		s.removeLocked(k)
	}
	s.reassignLocked()
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	notify(listeners, Change{Op: OpDeleteFolder, Path: p, Count: len(victims)})
	return ResultDeleted, len(victims)
}

// RenameFile moves one file to a new path. It never overwrites an existing file.
// A real file moved into a folder drops that folder's placeholder.
func (s *Store) RenameFile(oldRaw, newRaw string) Result {
	op, np := Normalize(oldRaw), Normalize(newRaw)
	if np == Root {
		return ResultInvalid
	}

	s.mu.Lock()
	f, ok := s.files[op]
	switch {
	case !ok:
		s.mu.Unlock()
		return ResultNotFound
	case op == np:
		s.mu.Unlock()
		return ResultUnchanged
	}
	if _, taken := s.files[np]; taken || s.blockedLocked(np, func(k string) bool { return k == op }) {
		s.mu.Unlock()
		return ResultConflict
	}

	delete(s.files, op)
	f.Path = np
	s.files[np] = f
	s.replaceOrderLocked(map[string]string{op: np})
	if Base(np) != PlaceholderName {
		s.removeLocked(Join(Dir(np), PlaceholderName))
	}
	if s.active == op {
		s.active = np
	}
	s.reassignLocked()
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	notify(listeners, Change{Op: OpRename, Path: np, OldPath: op, Count: 1})
	return ResultRenamed
}

// RenameFolder moves every file equal to or underneath oldRaw so that the old
// prefix is replaced by newRaw. The move is all-or-nothing: any destination
// collision rejects the whole operation. Moving a folder into itself (for
// example /src to /src/sub) returns ResultInvalid instead of nesting the files
// under the new prefix; the root cannot be a source or a destination either.
func (s *Store) RenameFolder(oldRaw, newRaw string) (Result, int) {
	op, np := Normalize(oldRaw), Normalize(newRaw)
	if op == Root || np == Root {
		return ResultInvalid, 0
	}
	if op == np {
		return ResultUnchanged, 0
	}
	if IsWithin(op, np) {
		// A folder cannot be moved into itself.
		return ResultInvalid, 0
	}

	s.mu.Lock()
	moved := s.withinLocked(op)
	if len(moved) == 0 {
		s.mu.Unlock()
		return ResultNotFound, 0
	}
	movedSet := make(map[string]struct{}, len(moved))
	for _, k := range moved {
		movedSet[k] = struct{}{}
	}
	ignore := func(k string) bool {
		_, ok := movedSet[k]
		return ok
	}
	renames := make(map[string]string, len(moved))
	for _, k := range moved {
		dst := rebase(k, op, np)
		if _, taken := s.files[dst]; (taken && !ignore(dst)) || s.blockedLocked(dst, ignore) {
			s.mu.Unlock()
			return ResultConflict, 0
		}
		renames[k] = dst
	}

	files := make(map[string]*File, len(renames))
	for from, to := range renames {
		f := s.files[from]
		delete(s.files, from)
		f.Path = to
		files[to] = f
	}
	for to, f := range files {
		s.files[to] = f
	}
	s.replaceOrderLocked(renames)
	if to, ok := renames[s.active]; ok {
		s.active = to
	}
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	notify(listeners, Change{Op: OpRenameFolder, Path: np, OldPath: op, Count: len(moved)})
	return ResultRenamed, len(moved)
}

// SetActiveFile points the store at a path. The path need not exist; a
// dangling pointer is reconciled by ActiveFile.
func (s *Store) SetActiveFile(raw string) {
	p := Normalize(raw)

	s.mu.Lock()
	s.active = p
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	notify(listeners, Change{Op: OpActivate, Path: p})
}

// ClearActive unsets the active file.
func (s *Store) ClearActive() {
	s.mu.Lock()
	s.active = ""
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	notify(listeners, Change{Op: OpActivate})
}

// UpdateContent replaces the content of an existing file.
func (s *Store) UpdateContent(raw, content string) Result {
	p := Normalize(raw)

	s.mu.Lock()
	f, ok := s.files[p]
	if !ok {
		s.mu.Unlock()
		return ResultNotFound
	}
	f.Content = content
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	notify(listeners, Change{Op: OpUpdate, Path: p, Count: 1})
	return ResultUpdated
}

// Restore replaces the whole store with a snapshot. Paths are normalized; a
// later duplicate overwrites the content of an earlier one. A missing or
// dangling active path falls back to the first file. The layout is not checked;
// snapshots from untrusted input go through ValidateLayout first.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	s.files = make(map[string]*File, len(snap.Files))
	s.order = s.order[:0]
	for _, f := range snap.Files {
		p := Normalize(f.Path)
		if p == Root {
			continue
		}
		if existing, ok := s.files[p]; ok {
			existing.Content = f.Content
			continue
		}
		s.insertLocked(p, f.Content)
	}
	s.active = ""
	if snap.ActivePath != "" {
		s.active = Normalize(snap.ActivePath)
	}
	if _, ok := s.files[s.active]; !ok {
		s.active = s.firstLocked()
	}
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	notify(listeners, Change{Op: OpRestore, Count: len(snap.Files)})
}

// Get returns a copy of the file at raw.
func (s *Store) Get(raw string) (File, bool) {
	p := Normalize(raw)
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[p]
	if !ok {
		return File{}, false
	}
	return *f, true
}

// Has reports whether a file exists at raw.
func (s *Store) Has(raw string) bool {
	_, ok := s.Get(raw)
	return ok
}

// FolderExists reports whether any file lives underneath raw.
func (s *Store) FolderExists(raw string) bool {
	p := Normalize(raw)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.folderExistsLocked(p)
}

// Len returns the number of files.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Paths returns all paths in insertion order.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Files returns copies of all files in insertion order.
func (s *Store) Files() []File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]File, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, *s.files[p])
	}
	return out
}

// ActiveFile returns the active path. A pointer to a missing file reads as the
// first file in insertion order, or "" for an empty store.
func (s *Store) ActiveFile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeLocked()
}

// Reconcile rewrites a dangling active pointer the way ActiveFile reads it.
func (s *Store) Reconcile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = s.activeLocked()
	return s.active
}

// Snapshot returns a detached copy of the store.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Files: make([]File, 0, len(s.order)), ActivePath: s.activeLocked()}
	for _, p := range s.order {
		snap.Files = append(snap.Files, *s.files[p])
	}
	return snap
}

func (s *Store) activeLocked() string {
	if s.active == "" {
		return ""
	}
	if _, ok := s.files[s.active]; ok {
		return s.active
	}
	return s.firstLocked()
}

func (s *Store) firstLocked() string {
	if len(s.order) == 0 {
		return ""
	}
	return s.order[0]
}

// reassignLocked moves the active pointer off a path that no longer exists.
func (s *Store) reassignLocked() {
	if s.active == "" {
		return
	}
	if _, ok := s.files[s.active]; !ok {
		s.active = s.firstLocked()
	}
}

func (s *Store) insertLocked(p, content string) {
	s.files[p] = &File{Path: p, Content: content}
	s.order = append(s.order, p)
}

func (s *Store) removeLocked(p string) bool {
	if _, ok := s.files[p]; !ok {
		return false
	}
	delete(s.files, p)
	for i, k := range s.order {
		if k == p {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// replaceOrderLocked renames keys in the order slice in place.
func (s *Store) replaceOrderLocked(renames map[string]string) {
	for i, k := range s.order {
		if to, ok := renames[k]; ok {
			s.order[i] = to
		}
	}
}

// withinLocked lists the keys equal to or underneath folder, in insertion order.
func (s *Store) withinLocked(folder string) []string {
	var out []string
	for _, k := range s.order {
		if IsWithin(folder, k) {
			out = append(out, k)
		}
	}
	return out
}

func (s *Store) folderExistsLocked(p string) bool {
	for k := range s.files {
		if k != p && IsWithin(p, k) {
			return true
		}
	}
	return false
}

func (s *Store) underFileLocked(p string) bool {
	for d := Dir(p); d != Root; d = Dir(d) {
		if _, ok := s.files[d]; ok {
			return true
		}
	}
	return false
}

// blockedLocked reports whether p cannot hold a file: either a folder already
// uses the path or one of its ancestors is a file. Keys matched by ignore are
// treated as absent.
func (s *Store) blockedLocked(p string, ignore func(string) bool) bool {
	for k := range s.files {
		if ignore != nil && ignore(k) {
			continue
		}
		if k != p && (IsWithin(p, k) || IsWithin(k, p)) {
			return true
		}
	}
	return false
}

func (s *Store) snapshotListenersLocked() []Listener {
	if len(s.listeners) == 0 {
		return nil
	}
	out := make([]Listener, len(s.listeners))
	for i, l := range s.listeners {
		out[i] = l.fn
	}
	return out
}

func notify(listeners []Listener, c Change) {
	for _, fn := range listeners {
		fn(c)
	}
}

// SortedPaths returns the snapshot paths in lexical order.
func (s Snapshot) SortedPaths() []string {
	out := make([]string, 0, len(s.Files))
	for _, f := range s.Files {
		out = append(out, f.Path)
	}
	sort.Strings(out)
	return out
}
