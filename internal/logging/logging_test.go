// Package logging tests.
package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestDefaultConfig verifies default logging configuration.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != LevelInfo {
		t.Errorf("expected info level, got %v", cfg.Level)
	}
	if cfg.Format != FormatText {
		t.Errorf("expected text format, got %v", cfg.Format)
	}
	if cfg.Output != "stderr" {
		t.Errorf("expected stderr output, got %q", cfg.Output)
	}
	if cfg.Component != "fnmoded" {
		t.Errorf("expected fnmoded component, got %q", cfg.Component)
	}
	if cfg.FilePath == "" {
		t.Error("expected non-empty default file path")
	}
}

// TestParseLevel tests level string parsing.
func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"trace", LevelInfo, true},
		{"", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// TestLevelString tests level to string conversion.
func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
	}

	for _, tt := range tests {
		if got := LevelString(tt.level); got != tt.want {
			t.Errorf("LevelString(%v) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

// TestNewFileOutput verifies logs land in the configured file.
func TestNewFileOutput(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = logPath
	cfg.Format = FormatJSON
	cfg.Level = LevelDebug

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer logger.Close()

	logger.Info("mode applied", "app_id", "org.example.editor", "state", "other")
	if err := logger.Sync(); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	if !strings.Contains(string(data), "mode applied") {
		t.Errorf("log file missing entry, got: %s", data)
	}
	if !strings.Contains(string(data), "org.example.editor") {
		t.Errorf("log file missing attribute, got: %s", data)
	}
}

// TestWithComponent verifies component tagging on child loggers.
func TestWithComponent(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "component.log")

	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = logPath
	cfg.Format = FormatJSON

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer logger.Close()

	child := logger.WithComponent("switcher")
	child.Info("test entry")
	logger.Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	if !strings.Contains(string(data), "switcher") {
		t.Errorf("expected component tag in output, got: %s", data)
	}
}

// TestLevelFiltering verifies entries below the configured level are dropped.
func TestLevelFiltering(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "filtered.log")

	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = logPath
	cfg.Level = LevelWarn

	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer logger.Close()

	logger.Debug("dropped entry")
	logger.Info("also dropped")
	logger.Warn("kept entry")
	logger.Sync()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	out := string(data)
	if strings.Contains(out, "dropped entry") || strings.Contains(out, "also dropped") {
		t.Errorf("low-level entries should be filtered, got: %s", out)
	}
	if !strings.Contains(out, "kept entry") {
		t.Errorf("warn entry missing, got: %s", out)
	}
}

// TestFileRotatorRotation verifies size-based rotation produces a new file.
func TestFileRotatorRotation(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "rotate.log")

	cfg := DefaultConfig()
	cfg.FilePath = logPath
	cfg.MaxSize = 1 // 1 MB
	cfg.Compress = false
	cfg.MaxBackups = 5
	cfg.MaxAge = 1

	r, err := NewFileRotator(cfg)
	if err != nil {
		t.Fatalf("NewFileRotator failed: %v", err)
	}
	defer r.Close()

	// Write past the 1 MB threshold.
	chunk := strings.Repeat("x", 64*1024)
	for i := 0; i < 20; i++ {
		if _, err := r.Write([]byte(chunk)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	matches, err := filepath.Glob(filepath.Join(tmpDir, "rotate-*.log*"))
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(matches) == 0 {
		t.Error("expected at least one rotated file")
	}
}
