// Command cipherstudio serves the project file store API for the CipherStudio
// browser IDE.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cipherstudio/cipherstudio/pkg/config"
	"github.com/cipherstudio/cipherstudio/pkg/event"
	"github.com/cipherstudio/cipherstudio/pkg/service"
	"github.com/cipherstudio/cipherstudio/pkg/storage"
	"github.com/cipherstudio/cipherstudio/pkg/utils"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "cipherstudio: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	configFile := flag.String("config", "", "Path to config.yaml (default ~/.cipherstudio/config.yaml)")
	backend := flag.String("storage", "", "Storage backend override: file, sqlite, mysql, postgres or redis")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}

	cfg, path, err := loadConfig(*configFile)
	if err != nil {
		return err
	}
	if *backend != "" {
		cfg.Storage.Backend = backend
	}

	logger := utils.InitLogger(cfg.LogLevel())
	logger.Info("Configuration loaded", "path", path, "backend", cfg.Backend())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	adapter, err := storage.Open(ctx, storageOptions(cfg), logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := adapter.Close(); err != nil {
			logger.Warn("Failed to close storage", "error", err)
		}
	}()

	projects := service.NewProjectService(adapter, event.Global(), logger, cfg.AutoSave())
	defer func() {
		// Pending background saves are written before exit.
		if err := projects.Close(); err != nil {
			logger.Warn("Failed to flush projects", "error", err)
		}
	}()
	go func() {
		if err := projects.WatchStorage(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Storage watcher stopped", "error", err)
		}
	}()

	server := NewServer(cfg, projects, event.Global(), logger)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
	<-server.Done()
	return nil
}

// loadConfig reads an explicit config file, or the default one after creating it.
func loadConfig(explicit string) (*config.AppConfig, string, error) {
	if explicit != "" {
		cfg, err := config.LoadFile(explicit)
		return cfg, explicit, err
	}
	if _, err := config.EnsureDefaultConfig(); err != nil {
		slog.Warn("Failed to write default config", "error", err)
	}
	return config.Load()
}

func storageOptions(cfg *config.AppConfig) storage.Options {
	return storage.Options{
		Backend: cfg.Backend(),
		DataDir: cfg.DataDir(),
		DSN:     cfg.DSN(),
		Redis: storage.RedisOptions{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		},
	}
}
