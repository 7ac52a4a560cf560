package vfs

// Result reports what a store operation did. Operations that leave the store
// untouched still return a Result so callers can react without polling state.
type Result int

const (
	ResultNotFound Result = iota
	ResultCreated
	ResultOverwritten
	ResultUpdated
	ResultDeleted
	ResultRenamed
	ResultUnchanged
	ResultConflict
	ResultInvalid
)

var resultNames = map[Result]string{
	ResultNotFound:    "not_found",
	ResultCreated:     "created",
	ResultOverwritten: "overwritten",
	ResultUpdated:     "updated",
	ResultDeleted:     "deleted",
	ResultRenamed:     "renamed",
	ResultUnchanged:   "unchanged",
	ResultConflict:    "conflict",
	ResultInvalid:     "invalid",
}

func (r Result) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return "unknown"
}

// Changed reports whether the operation mutated the file map.
func (r Result) Changed() bool {
	switch r {
	case ResultCreated, ResultOverwritten, ResultUpdated, ResultDeleted, ResultRenamed:
		return true
	}
	return false
}

// MarshalText encodes the result by name for JSON responses.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
