package logging

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jagjeet027/FurniMart-sub002/internal/config"
	"github.com/jagjeet027/FurniMart-sub002/internal/logring"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestSetupStdout(t *testing.T) {
	lj := Setup(config.LoggingConfig{Level: "info", Format: "json"}, nil)
	if lj != nil {
		t.Error("Setup without file should not return a lumberjack logger")
	}
}

func TestSetupFile(t *testing.T) {
	dir := t.TempDir()
	lj := Setup(config.LoggingConfig{
		Level:     "debug",
		Format:    "text",
		File:      filepath.Join(dir, "furnichat.log"),
		MaxSizeMB: 1,
	}, nil)
	if lj == nil {
		t.Fatal("Setup with file should return a lumberjack logger")
	}
	defer lj.Close()

	slog.Info("test entry", "key", "value")
}

func TestSetupReloadChangesLevel(t *testing.T) {
	ctx := context.Background()

	Setup(config.LoggingConfig{Level: "info", Format: "json"}, nil)
	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		t.Fatal("debug enabled at info level")
	}

	// A config reload runs Setup again with the merged settings.
	Setup(config.LoggingConfig{Level: "debug", Format: "json"}, nil)
	if !slog.Default().Enabled(ctx, slog.LevelDebug) {
		t.Fatal("debug still disabled after reload to debug level")
	}
}

func TestSetupRingCapture(t *testing.T) {
	ring := logring.NewRingBuffer(10)
	Setup(config.LoggingConfig{Level: "info", Format: "json"}, ring)

	slog.Info("captured", "room", "room-1")

	entries := ring.Entries(0, slog.LevelInfo)
	if len(entries) != 1 {
		t.Fatalf("ring entries = %d, want 1", len(entries))
	}
	if entries[0].Message != "captured" {
		t.Errorf("message = %q, want %q", entries[0].Message, "captured")
	}
	if entries[0].Attrs["room"] != "room-1" {
		t.Errorf("attrs[room] = %v, want %q", entries[0].Attrs["room"], "room-1")
	}
}
