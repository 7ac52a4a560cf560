package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/cipherstudio/cipherstudio/pkg/models"
	"github.com/cipherstudio/cipherstudio/pkg/vfs"
)

// RedisOptions configures the redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key, e.g. "cipherstudio:".
	Prefix string
}

// RedisAdapter keeps each project under <prefix>project-<id>-files and the
// directory list in the <prefix>project-list hash.
type RedisAdapter struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
}

// OpenRedis connects and pings the server.
func OpenRedis(ctx context.Context, opts RedisOptions, logger *slog.Logger) (*RedisAdapter, error) {
	addr := opts.Addr
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 10 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "connect redis %s", addr)
	}
	return NewRedisAdapter(rdb, opts.Prefix, logger), nil
}

func NewRedisAdapter(rdb *redis.Client, prefix string, logger *slog.Logger) *RedisAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisAdapter{rdb: rdb, prefix: prefix, logger: logger}
}

func (a *RedisAdapter) Name() string { return "redis" }

func (a *RedisAdapter) projectKey(id string) string {
	return a.prefix + "project-" + id + "-files"
}

func (a *RedisAdapter) listKey() string {
	return a.prefix + "project-list"
}

func (a *RedisAdapter) Save(ctx context.Context, meta ProjectMeta, snap vfs.Snapshot) error {
	if err := ValidateID(meta.ID); err != nil {
		return err
	}
	data, err := Encode(meta, snap)
	if err != nil {
		return err
	}
	item, err := json.Marshal(meta.ListItem())
	if err != nil {
		return errors.Wrap(err, "encode list item")
	}
	_, err = a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, a.projectKey(meta.ID), data, 0)
		pipe.HSet(ctx, a.listKey(), meta.ID, item)
		return nil
	})
	return errors.Wrapf(err, "save project %s", meta.ID)
}

func (a *RedisAdapter) Load(ctx context.Context, id string) (*Record, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	data, err := a.rdb.Get(ctx, a.projectKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "load project %s", id)
	}
	rec, err := decodeRecord(a.logger, a.Name(), id, data)
	if err != nil {
		return nil, err
	}
	if rec.Meta.Name == "" {
		if raw, err := a.rdb.HGet(ctx, a.listKey(), id).Bytes(); err == nil {
			var item models.ProjectListItem
			if json.Unmarshal(raw, &item) == nil {
				rec.Meta.Name = item.Name
				rec.Meta.UpdatedAt = item.UpdatedAt
			}
		}
	}
	return rec, nil
}

func (a *RedisAdapter) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	var del, hdel *redis.IntCmd
	_, err := a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, a.projectKey(id))
		hdel = pipe.HDel(ctx, a.listKey(), id)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "delete project %s", id)
	}
	if del.Val() == 0 && hdel.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (a *RedisAdapter) List(ctx context.Context) ([]models.ProjectListItem, error) {
	entries, err := a.rdb.HGetAll(ctx, a.listKey()).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list projects")
	}
	items := make([]models.ProjectListItem, 0, len(entries))
	for id, raw := range entries {
		var item models.ProjectListItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			a.logger.Warn("Skipping corrupt project list entry", "id", id, "error", err)
			continue
		}
		items = append(items, item)
	}
	sortListItems(items)
	return items, nil
}

func (a *RedisAdapter) Close() error {
	return a.rdb.Close()
}
