package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessor methods.
//
// Example (~/.cipherstudio/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8088
//   static_dir: ./frontend/dist
// storage:
//   backend: file        # file | sqlite | mysql | postgres | redis
//   data_dir: ~/.cipherstudio/data
//   dsn: ""              # mysql/postgres connection string
//   redis:
//     addr: 127.0.0.1:6379
//     prefix: "cipherstudio:"
// projects:
//   autosave: true
// log:
//   level: info
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Projects ProjectsConfig `yaml:"projects"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host      *string `yaml:"host"`
	Port      *int    `yaml:"port"`
	StaticDir *string `yaml:"static_dir,omitempty"`
}

type StorageConfig struct {
	Backend *string     `yaml:"backend"`
	DataDir *string     `yaml:"data_dir,omitempty"`
	DSN     *string     `yaml:"dsn,omitempty"`
	Redis   RedisConfig `yaml:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

type ProjectsConfig struct {
	AutoSave *bool `yaml:"autosave"`
}

type LogConfig struct {
	Level *string `yaml:"level"`
}

const (
	DefaultHost    = "127.0.0.1"
	DefaultPort    = 8088
	DefaultBackend = "file"
	DefaultLevel   = "info"

	appDirName = ".cipherstudio"
)

var backends = []string{"file", "sqlite", "mysql", "postgres", "redis"}

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, appDirName)
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.cipherstudio/config.yaml.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}
	cfg, err := LoadFile(configFile)
	if err != nil {
		return nil, "", err
	}
	return cfg, configFile, nil
}

// LoadFile reads and validates a config file at an explicit path.
func LoadFile(configFile string) (*AppConfig, error) {
	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", configFile, err)
	}

	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml config %s: %w", configFile, err)
	}

	// Validate
	if port := cfg.Port(); port < 1 || port > 65535 {
		return nil, fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}
	backend := cfg.Backend()
	valid := false
	for _, b := range backends {
		if b == backend {
			valid = true
		}
	}
	if !valid {
		return nil, fmt.Errorf("invalid storage.backend %q in %s (want one of %s)", backend, configFile, strings.Join(backends, ", "))
	}
	if (backend == "mysql" || backend == "postgres") && cfg.DSN() == "" {
		return nil, fmt.Errorf("storage.dsn is required for backend %s in %s", backend, configFile)
	}
	if _, err := parseLevel(cfg.LogLevelName()); err != nil {
		return nil, fmt.Errorf("invalid log.level in %s: %w", configFile, err)
	}

	return cfg, nil
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// It is safe to call on startup.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	defaultCfg := AppConfig{
		Server:   ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Storage:  StorageConfig{Backend: ptr(DefaultBackend)},
		Projects: ProjectsConfig{AutoSave: ptr(true)},
		Log:      LogConfig{Level: ptr(DefaultLevel)},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func (c *AppConfig) Host() string {
	if c == nil || c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil || c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

// StaticDir is the directory holding the built frontend; empty disables static serving.
func (c *AppConfig) StaticDir() string {
	if c == nil || c.Server.StaticDir == nil {
		return ""
	}
	return expandHome(strings.TrimSpace(*c.Server.StaticDir))
}

func (c *AppConfig) Backend() string {
	if c == nil || c.Storage.Backend == nil {
		return DefaultBackend
	}
	v := strings.ToLower(strings.TrimSpace(*c.Storage.Backend))
	if v == "" {
		return DefaultBackend
	}
	return v
}

// DataDir is where the file and sqlite backends keep their data.
// Defaults to ~/.cipherstudio/data.
func (c *AppConfig) DataDir() string {
	if c != nil && c.Storage.DataDir != nil {
		if v := strings.TrimSpace(*c.Storage.DataDir); v != "" {
			return expandHome(v)
		}
	}
	configDir, _, err := DefaultPaths()
	if err != nil {
		return filepath.Join(appDirName, "data")
	}
	return filepath.Join(configDir, "data")
}

func (c *AppConfig) DSN() string {
	if c == nil || c.Storage.DSN == nil {
		return ""
	}
	return strings.TrimSpace(*c.Storage.DSN)
}

// AutoSave reports whether new sessions persist changes in the background.
func (c *AppConfig) AutoSave() bool {
	if c == nil || c.Projects.AutoSave == nil {
		return true
	}
	return *c.Projects.AutoSave
}

func (c *AppConfig) LogLevelName() string {
	if c == nil || c.Log.Level == nil {
		return DefaultLevel
	}
	return strings.ToLower(strings.TrimSpace(*c.Log.Level))
}

// LogLevel returns the configured slog level, info when unset.
func (c *AppConfig) LogLevel() slog.Level {
	lvl, err := parseLevel(c.LogLevelName())
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func parseLevel(name string) (slog.Level, error) {
	var lvl slog.Level
	if name == "" {
		return slog.LevelInfo, nil
	}
	if err := lvl.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo, err
	}
	return lvl, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

func ptr[T any](v T) *T { return &v }
