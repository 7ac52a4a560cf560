package utils

import (
	"context"
	"log/slog"
	"testing"
)

func TestInitLogger(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	l := InitLogger(slog.LevelWarn)
	if GetLogger() != l {
		t.Fatal("GetLogger() did not return the installed logger")
	}
	if l.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info enabled at warn level")
	}
	SetLevel(slog.LevelDebug)
	if !l.Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("SetLevel() did not lower the level")
	}
}
