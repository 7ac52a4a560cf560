package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/glebarez/go-sqlite"
)

// sqliteDialect drives SQLAdapter in-process; the statements mirror Postgres
// with positional ? parameters.
var sqliteDialect = Dialect{
	Name:   "sqlite-sql",
	Driver: "sqlite",
	Schema: `CREATE TABLE IF NOT EXISTS projects (
	id VARCHAR(128) PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	payload TEXT NOT NULL,
	digest CHAR(64) NOT NULL,
	file_count INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_updated_at ON projects (updated_at)`,
	Upsert: `INSERT INTO projects (id, name, payload, digest, file_count, updated_at) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, payload = excluded.payload, digest = excluded.digest, file_count = excluded.file_count, updated_at = excluded.updated_at`,
	SelectOne: `SELECT name, payload, updated_at FROM projects WHERE id = ?`,
	DeleteOne: `DELETE FROM projects WHERE id = ?`,
	ListAll:   `SELECT id, name, updated_at FROM projects ORDER BY updated_at DESC, id`,
}

func newTestSQLAdapter(t *testing.T) *SQLAdapter {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "sql.db"))
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	a, err := NewSQLAdapter(context.Background(), sqlDB, sqliteDialect, nil)
	if err != nil {
		t.Fatalf("NewSQLAdapter() error = %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestSQLAdapter_Contract(t *testing.T) {
	runAdapterContract(t, newTestSQLAdapter(t))
}

func TestSQLAdapter_CorruptIsNotFound(t *testing.T) {
	a := newTestSQLAdapter(t)
	ctx := context.Background()
	if err := a.Save(ctx, meta("p", "P", 0), sampleSnapshot()); err != nil {
		t.Fatal(err)
	}
	if _, err := a.db.ExecContext(ctx, `UPDATE projects SET payload = ? WHERE id = ?`, "[1,2", "p"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Load(ctx, "p"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}
}

func TestDialects(t *testing.T) {
	tests := []struct {
		d            Dialect
		placeholders []string
		statements   int
	}{
		{d: MySQL, placeholders: []string{"?", "?", "?", "?", "?", "?"}, statements: 1},
		{d: Postgres, placeholders: []string{"$1", "$2", "$3", "$4", "$5", "$6"}, statements: 2},
	}
	for _, tt := range tests {
		t.Run(tt.d.Name, func(t *testing.T) {
			for _, p := range tt.placeholders {
				if !strings.Contains(tt.d.Upsert, p) {
					t.Errorf("Upsert missing placeholder %s", p)
				}
			}
			if got := strings.Count(tt.d.Upsert, "?"); tt.d.Name == "mysql" && got != 6 {
				t.Errorf("mysql Upsert has %d placeholders, want 6", got)
			}
			if got := len(splitStatements(tt.d.Schema)); got != tt.statements {
				t.Errorf("schema statements = %d, want %d", got, tt.statements)
			}
			for _, stmt := range []string{tt.d.SelectOne, tt.d.DeleteOne, tt.d.ListAll} {
				if !strings.Contains(stmt, "projects") {
					t.Errorf("statement does not target projects: %s", stmt)
				}
			}
		})
	}
}

func TestPrepareMySQLDSN(t *testing.T) {
	dsn, err := prepareMySQLDSN("user:pw@tcp(db:3306)/cipher")
	if err != nil {
		t.Fatalf("prepareMySQLDSN() error = %v", err)
	}
	if !strings.Contains(dsn, "parseTime=true") {
		t.Fatalf("dsn = %q, want parseTime=true", dsn)
	}
	if _, err := prepareMySQLDSN("::not a dsn"); err == nil {
		t.Fatalf("expected error for malformed dsn")
	}
}

func TestPreparePostgresDSN(t *testing.T) {
	got, err := preparePostgresDSN("postgres://user:pw@localhost:5432/cipher?sslmode=disable")
	if err != nil {
		t.Fatalf("preparePostgresDSN() error = %v", err)
	}
	want := "dbname='cipher' host='localhost' password='pw' port='5432' sslmode='disable' user='user'"
	if got != want {
		t.Errorf("preparePostgresDSN() = %q, want %q", got, want)
	}
	kv := "host=localhost dbname=cipher"
	if got, _ := preparePostgresDSN(kv); got != kv {
		t.Errorf("key/value dsn changed: %q", got)
	}
}

func TestOpenSQL_RequiresDSN(t *testing.T) {
	if _, err := OpenSQL(context.Background(), Postgres, " ", nil); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}
