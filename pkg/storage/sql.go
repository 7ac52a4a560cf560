package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/cipherstudio/cipherstudio/pkg/models"
	"github.com/cipherstudio/cipherstudio/pkg/vfs"
)

// Dialect holds the statements that differ between SQL servers. Statements
// take their arguments in the order documented on each field.
type Dialect struct {
	Name   string
	Driver string
	// Schema creates the projects table.
	Schema string
	// Upsert: id, name, payload, digest, file_count, updated_at.
	Upsert string
	// SelectOne: id.
	SelectOne string
	// DeleteOne: id.
	DeleteOne string
	ListAll   string
	// PrepareDSN adjusts a user supplied DSN before it is opened.
	PrepareDSN func(dsn string) (string, error)
}

var MySQL = Dialect{
	Name:   "mysql",
	Driver: "mysql",
	Schema: `CREATE TABLE IF NOT EXISTS projects (
	id VARCHAR(128) NOT NULL PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	payload LONGTEXT NOT NULL,
	digest CHAR(64) NOT NULL,
	file_count INT NOT NULL,
	created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
	updated_at DATETIME(6) NOT NULL,
	INDEX idx_projects_updated_at (updated_at)
) DEFAULT CHARSET=utf8mb4`,
	Upsert: `INSERT INTO projects (id, name, payload, digest, file_count, updated_at) VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE name = VALUES(name), payload = VALUES(payload), digest = VALUES(digest), file_count = VALUES(file_count), updated_at = VALUES(updated_at)`,
	SelectOne:  `SELECT name, payload, updated_at FROM projects WHERE id = ?`,
	DeleteOne:  `DELETE FROM projects WHERE id = ?`,
	ListAll:    `SELECT id, name, updated_at FROM projects ORDER BY updated_at DESC, id`,
	PrepareDSN: prepareMySQLDSN,
}

var Postgres = Dialect{
	Name:   "postgres",
	Driver: "postgres",
	Schema: `CREATE TABLE IF NOT EXISTS projects (
	id VARCHAR(128) PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	payload TEXT NOT NULL,
	digest CHAR(64) NOT NULL,
	file_count INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_updated_at ON projects (updated_at)`,
	Upsert: `INSERT INTO projects (id, name, payload, digest, file_count, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, payload = EXCLUDED.payload, digest = EXCLUDED.digest, file_count = EXCLUDED.file_count, updated_at = EXCLUDED.updated_at`,
	SelectOne:  `SELECT name, payload, updated_at FROM projects WHERE id = $1`,
	DeleteOne:  `DELETE FROM projects WHERE id = $1`,
	ListAll:    `SELECT id, name, updated_at FROM projects ORDER BY updated_at DESC, id`,
	PrepareDSN: preparePostgresDSN,
}

// prepareMySQLDSN turns on parseTime so DATETIME columns scan into time.Time.
func prepareMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", errors.Wrap(err, "parse mysql dsn")
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return cfg.FormatDSN(), nil
}

// preparePostgresDSN accepts both URL and key=value connection strings.
func preparePostgresDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		converted, err := pq.ParseURL(dsn)
		if err != nil {
			return "", errors.Wrap(err, "parse postgres url")
		}
		return converted, nil
	}
	return dsn, nil
}

// SQLAdapter stores projects through database/sql.
type SQLAdapter struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// OpenSQL connects with the dialect's driver, pings the server and creates the
// schema.
func OpenSQL(ctx context.Context, d Dialect, dsn string, logger *slog.Logger) (*SQLAdapter, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s backend requires storage.dsn", d.Name)
	}
	if d.PrepareDSN != nil {
		var err error
		if dsn, err = d.PrepareDSN(dsn); err != nil {
			return nil, err
		}
	}
	sqlDB, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", d.Name)
	}
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetMaxOpenConns(8)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrapf(err, "connect %s", d.Name)
	}
	a, err := NewSQLAdapter(ctx, sqlDB, d, logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return a, nil
}

// NewSQLAdapter wraps an open handle and creates the schema.
func NewSQLAdapter(ctx context.Context, sqlDB *sql.DB, d Dialect, logger *slog.Logger) (*SQLAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, stmt := range splitStatements(d.Schema) {
		if _, err := sqlDB.ExecContext(ctx, stmt); err != nil {
			return nil, errors.Wrapf(err, "create %s schema", d.Name)
		}
	}
	return &SQLAdapter{db: sqlDB, dialect: d, logger: logger}, nil
}

func (a *SQLAdapter) Name() string { return a.dialect.Name }

func (a *SQLAdapter) Save(ctx context.Context, meta ProjectMeta, snap vfs.Snapshot) error {
	if err := ValidateID(meta.ID); err != nil {
		return err
	}
	data, err := Encode(meta, snap)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, a.dialect.Upsert,
		meta.ID, meta.Name, string(data), Digest(snap), len(snap.Files), meta.UpdatedAt.UTC())
	return errors.Wrapf(err, "save project %s", meta.ID)
}

func (a *SQLAdapter) Load(ctx context.Context, id string) (*Record, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	var (
		name, payload string
		updatedAt     time.Time
	)
	err := a.db.QueryRowContext(ctx, a.dialect.SelectOne, id).Scan(&name, &payload, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "load project %s", id)
	}
	rec, err := decodeRecord(a.logger, a.Name(), id, []byte(payload))
	if err != nil {
		return nil, err
	}
	if rec.Meta.Name == "" {
		rec.Meta.Name = name
	}
	if rec.Meta.UpdatedAt.IsZero() {
		rec.Meta.UpdatedAt = updatedAt
	}
	return rec, nil
}

func (a *SQLAdapter) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	res, err := a.db.ExecContext(ctx, a.dialect.DeleteOne, id)
	if err != nil {
		return errors.Wrapf(err, "delete project %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (a *SQLAdapter) List(ctx context.Context) ([]models.ProjectListItem, error) {
	rows, err := a.db.QueryContext(ctx, a.dialect.ListAll)
	if err != nil {
		return nil, errors.Wrap(err, "list projects")
	}
	defer rows.Close()

	items := make([]models.ProjectListItem, 0)
	for rows.Next() {
		var item models.ProjectListItem
		if err := rows.Scan(&item.ID, &item.Name, &item.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan project row")
		}
		items = append(items, item)
	}
	return items, errors.Wrap(rows.Err(), "list projects")
}

func (a *SQLAdapter) Close() error {
	return a.db.Close()
}

func splitStatements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";\n") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
