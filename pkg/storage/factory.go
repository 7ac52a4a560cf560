package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
)

const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendMySQL    = "mysql"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	// DataDir holds the file backend documents and the default SQLite database.
	DataDir string
	// DSN is the connection string for sql backends. For sqlite it is an
	// optional database file path.
	DSN   string
	Redis RedisOptions
}

// Open builds the adapter named by opts.Backend.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))
	if backend == "" {
		backend = BackendFile
	}
	logger = logger.With("backend", backend)

	switch backend {
	case BackendFile:
		a, err := NewFileAdapter(opts.DataDir, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	case BackendSQLite:
		path := opts.DSN
		if path == "" {
			path = filepath.Join(opts.DataDir, "cipherstudio.db")
		}
		a, err := OpenSQLite(path, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	case BackendMySQL, BackendPostgres:
		d := MySQL
		if backend == BackendPostgres {
			d = Postgres
		}
		a, err := OpenSQL(ctx, d, opts.DSN, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	case BackendRedis:
		a, err := OpenRedis(ctx, opts.Redis, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
}
