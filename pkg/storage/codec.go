package storage

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/cipherstudio/cipherstudio/pkg/vfs"
)

// CurrentVersion is the envelope version written by Encode.
const CurrentVersion = 1

var errCorrupt = stderrors.New("corrupt project record")

// envelope is the on-disk layout of a project:
//
//	{"version":1,"id":"..","name":"..","updatedAt":"..","activePath":"/App.js",
//	 "order":["/App.js","/index.js"],"files":{"/App.js":{"content":".."}}}
//
// files keeps the path -> {content} shape of the unversioned layout so older
// readers still find the content where they expect it.
type envelope struct {
	Version     int                  `json:"version"`
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Template    string               `json:"template,omitempty"`
	UpdatedAt   time.Time            `json:"updatedAt"`
	ActivePath  string               `json:"activePath,omitempty"`
	Order       []string             `json:"order"`
	Files       map[string]fileEntry `json:"files"`
}

// fileEntry accepts both {content} and the older {code} value shape.
type fileEntry struct {
	Content *string `json:"content,omitempty"`
	Code    *string `json:"code,omitempty"`
}

func (e fileEntry) text() string {
	switch {
	case e.Content != nil:
		return *e.Content
	case e.Code != nil:
		return *e.Code
	}
	return ""
}

// documentFile is one element of the array shape used by the project server.
type documentFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

// Encode serializes a project into the current envelope.
func Encode(meta ProjectMeta, snap vfs.Snapshot) ([]byte, error) {
	env := envelope{
		Version:     CurrentVersion,
		ID:          meta.ID,
		Name:        meta.Name,
		Description: meta.Description,
		Template:    meta.Template,
		UpdatedAt:   meta.UpdatedAt.UTC(),
		ActivePath:  snap.ActivePath,
		Order:       make([]string, 0, len(snap.Files)),
		Files:       make(map[string]fileEntry, len(snap.Files)),
	}
	for _, f := range snap.Files {
		content := f.Content
		env.Order = append(env.Order, f.Path)
		env.Files[f.Path] = fileEntry{Content: &content}
	}
	data, err := json.Marshal(&env)
	if err != nil {
		return nil, errors.Wrap(err, "encode project")
	}
	return data, nil
}

// Decode parses any supported layout. The key a record was stored under is
// authoritative for its id. Every failure wraps errCorrupt; a partially parsed
// map is never returned.
func Decode(id string, data []byte) (*Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.Wrap(errCorrupt, "empty payload")
	}

	switch trimmed[0] {
	case '[':
		return decodeDocument(id, trimmed)
	case '{':
	default:
		return nil, errors.Wrapf(errCorrupt, "unexpected leading byte %q", trimmed[0])
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, errors.Wrapf(errCorrupt, "parse: %v", err)
	}
	if raw, ok := probe["version"]; ok && isNumber(raw) {
		return decodeEnvelope(id, trimmed)
	}
	return decodeLegacy(id, trimmed)
}

func decodeEnvelope(id string, data []byte) (*Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrapf(errCorrupt, "parse envelope: %v", err)
	}
	if env.Version < 1 || env.Version > CurrentVersion {
		return nil, errors.Wrapf(errCorrupt, "unsupported version %d", env.Version)
	}

	files := make([]vfs.File, 0, len(env.Files))
	used := make(map[string]bool, len(env.Files))
	for _, p := range env.Order {
		entry, ok := env.Files[p]
		if !ok || used[p] {
			continue
		}
		used[p] = true
		files = append(files, vfs.File{Path: p, Content: entry.text()})
	}
	var rest []string
	for p := range env.Files {
		if !used[p] {
			rest = append(rest, p)
		}
	}
	sort.Strings(rest)
	for _, p := range rest {
		files = append(files, vfs.File{Path: p, Content: env.Files[p].text()})
	}

	snap, err := buildSnapshot(files, env.ActivePath)
	if err != nil {
		return nil, err
	}
	return &Record{
		Meta: ProjectMeta{
			ID:          id,
			Name:        env.Name,
			Description: env.Description,
			Template:    env.Template,
			UpdatedAt:   env.UpdatedAt,
		},
		Snapshot: snap,
		Version:  env.Version,
	}, nil
}

// decodeLegacy reads the bare path -> {content|code} object, keeping the key
// order of the stored document.
func decodeLegacy(id string, data []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, errors.Wrap(errCorrupt, "legacy payload is not an object")
	}
	var files []vfs.File
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, errors.Wrapf(errCorrupt, "legacy key: %v", err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, errors.Wrap(errCorrupt, "legacy key is not a string")
		}
		var entry fileEntry
		if err := dec.Decode(&entry); err != nil {
			return nil, errors.Wrapf(errCorrupt, "legacy value for %q: %v", key, err)
		}
		files = append(files, vfs.File{Path: key, Content: entry.text()})
	}
	if _, err := dec.Token(); err != nil {
		return nil, errors.Wrapf(errCorrupt, "legacy object: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.Wrap(errCorrupt, "trailing data after legacy object")
	}

	snap, err := buildSnapshot(files, "")
	if err != nil {
		return nil, err
	}
	return &Record{Meta: ProjectMeta{ID: id}, Snapshot: snap}, nil
}

// decodeDocument reads the [{name, content, type}] array. Folder entries become
// placeholder files.
func decodeDocument(id string, data []byte) (*Record, error) {
	var docs []documentFile
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, errors.Wrapf(errCorrupt, "parse document files: %v", err)
	}
	files := make([]vfs.File, 0, len(docs))
	for _, d := range docs {
		if d.Type == "folder" {
			files = append(files, vfs.File{Path: vfs.Join(d.Name, vfs.PlaceholderName)})
			continue
		}
		files = append(files, vfs.File{Path: d.Name, Content: d.Content})
	}
	snap, err := buildSnapshot(files, "")
	if err != nil {
		return nil, err
	}
	return &Record{Meta: ProjectMeta{ID: id}, Snapshot: snap}, nil
}

// buildSnapshot normalizes stored keys and rejects layouts the store could not
// represent: two keys collapsing to one path, a key at the root, or a file that
// is also used as a folder.
func buildSnapshot(in []vfs.File, active string) (vfs.Snapshot, error) {
	raw := make([]string, len(in))
	for i, f := range in {
		raw[i] = f.Path
	}
	paths, err := vfs.ValidateLayout(raw)
	if err != nil {
		return vfs.Snapshot{}, errors.Wrap(errCorrupt, err.Error())
	}
	files := make([]vfs.File, len(in))
	for i, f := range in {
		files[i] = vfs.File{Path: paths[i], Content: f.Content}
	}

	snap := vfs.Snapshot{Files: files}
	if active != "" {
		if p := vfs.Normalize(active); hasPath(files, p) {
			snap.ActivePath = p
		}
	}
	if snap.ActivePath == "" && len(files) > 0 {
		snap.ActivePath = files[0].Path
	}
	return snap, nil
}

func hasPath(files []vfs.File, p string) bool {
	for _, f := range files {
		if f.Path == p {
			return true
		}
	}
	return false
}

func isNumber(raw json.RawMessage) bool {
	var n json.Number
	return json.Unmarshal(raw, &n) == nil && n != ""
}

// decodeRecord is the shared Load tail of every backend: unreadable bytes
// become ErrNotFound and are logged, never returned as a parse error.
func decodeRecord(logger *slog.Logger, backend, id string, data []byte) (*Record, error) {
	rec, err := Decode(id, data)
	if err != nil {
		logger.Warn("Discarding unreadable project record", "backend", backend, "id", id, "error", err.Error())
		return nil, ErrNotFound
	}
	return rec, nil
}
