package storage

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cipherstudio/cipherstudio/pkg/db"
	"github.com/cipherstudio/cipherstudio/pkg/models"
	"github.com/cipherstudio/cipherstudio/pkg/vfs"
)

// GormAdapter stores projects as rows of the projects table through gorm.
// The row doubles as the directory entry.
type GormAdapter struct {
	db     *gorm.DB
	logger *slog.Logger
}

// OpenSQLite opens (or creates) a SQLite database file and migrates it.
func OpenSQLite(path string, logger *slog.Logger) (*GormAdapter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "create database dir for %s", path)
	}
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	return NewGormAdapter(gdb, logger)
}

// NewGormAdapter wraps an existing connection and migrates the schema.
func NewGormAdapter(gdb *gorm.DB, logger *slog.Logger) (*GormAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &GormAdapter{db: gdb, logger: logger}
	if err := a.AutoMigrate(); err != nil {
		return nil, errors.Wrap(err, "migrate projects table")
	}
	return a, nil
}

// AutoMigrate creates database tables
func (a *GormAdapter) AutoMigrate() error {
	return a.db.AutoMigrate(&db.Project{})
}

func (a *GormAdapter) Name() string { return "sqlite" }

func (a *GormAdapter) Save(ctx context.Context, meta ProjectMeta, snap vfs.Snapshot) error {
	if err := ValidateID(meta.ID); err != nil {
		return err
	}
	data, err := Encode(meta, snap)
	if err != nil {
		return err
	}
	row := db.Project{
		ID:          meta.ID,
		Name:        meta.Name,
		Description: meta.Description,
		Template:    meta.Template,
		Payload:     string(data),
		Digest:      Digest(snap),
		FileCount:   len(snap.Files),
		UpdatedAt:   meta.UpdatedAt.UTC(),
	}
	err = a.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "template", "payload", "digest", "file_count", "updated_at"}),
		}).
		Create(&row).Error
	return errors.Wrapf(err, "save project %s", meta.ID)
}

func (a *GormAdapter) Load(ctx context.Context, id string) (*Record, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	var row db.Project
	if err := a.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "load project %s", id)
	}
	rec, err := decodeRecord(a.logger, a.Name(), id, []byte(row.Payload))
	if err != nil {
		return nil, err
	}
	if rec.Meta.Name == "" {
		rec.Meta.Name = row.Name
	}
	if rec.Meta.UpdatedAt.IsZero() {
		rec.Meta.UpdatedAt = row.UpdatedAt
	}
	return rec, nil
}

func (a *GormAdapter) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	res := a.db.WithContext(ctx).Delete(&db.Project{}, "id = ?", id)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "delete project %s", id)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (a *GormAdapter) List(ctx context.Context) ([]models.ProjectListItem, error) {
	var rows []db.Project
	err := a.db.WithContext(ctx).
		Select("id", "name", "updated_at").
		Order("updated_at desc").
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "list projects")
	}
	items := make([]models.ProjectListItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, models.ProjectListItem{ID: r.ID, Name: r.Name, UpdatedAt: r.UpdatedAt})
	}
	return items, nil
}

func (a *GormAdapter) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
