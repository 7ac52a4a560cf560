package utils

import (
	"log/slog"
	"os"
	"sync"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

var (
	loggerMu sync.RWMutex
	logger   *slog.Logger
	level    = new(slog.LevelVar)
)

// InitLogger installs a colored stderr logger as the slog default. Colors are
// turned off when stderr is not a terminal.
func InitLogger(lvl slog.Level) *slog.Logger {
	level.Set(lvl)
	l := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	slog.SetDefault(l)
	return l
}

// SetLevel changes the level of the logger installed by InitLogger.
func SetLevel(lvl slog.Level) {
	level.Set(lvl)
}

// GetLogger returns the logger installed by InitLogger, or slog's default.
func GetLogger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	if logger == nil {
		return slog.Default()
	}
	return logger
}
