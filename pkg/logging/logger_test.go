package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNew(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	runID := NewRunID()

	logger, err := New(dir, runID, "test-component")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	if logger.component != "test-component" {
		t.Errorf("Expected component 'test-component', got %q", logger.component)
	}

	if logger.RunID() != runID {
		t.Errorf("Expected run ID %q, got %q", runID, logger.RunID())
	}

	want := filepath.Join(dir, runID+".log")
	if logger.LogPath() != want {
		t.Errorf("Expected log path %q, got %q", want, logger.LogPath())
	}

	// Verify log file exists
	if _, err := os.Stat(logger.LogPath()); os.IsNotExist(err) {
		t.Errorf("Log file does not exist at %s", logger.LogPath())
	}
}

func TestLoggerFormatting(t *testing.T) {
	logger, err := New(t.TempDir(), NewRunID(), "test")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	logger.Debugf("Debug message")
	logger.Infof("Info message %d", 123)
	logger.Warnf("Warning message")
	logger.Errorf("Error message")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	content, err := os.ReadFile(logger.LogPath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	logContent := string(content)

	expectedPatterns := []string{
		"[test] [DEBUG] Debug message",
		"[test] [INFO] Info message 123",
		"[test] [WARN] Warning message",
		"[test] [ERROR] Error message",
	}

	for _, pattern := range expectedPatterns {
		if !strings.Contains(logContent, pattern) {
			t.Errorf("Log content missing expected pattern: %q\nContent:\n%s", pattern, logContent)
		}
	}
}

func TestNamedSharesFile(t *testing.T) {
	root, err := New(t.TempDir(), NewRunID(), "executor")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}

	child := root.Named("vcs")
	if child.LogPath() != root.LogPath() {
		t.Errorf("Expected same log path, got %q and %q", root.LogPath(), child.LogPath())
	}
	if child.RunID() != root.RunID() {
		t.Errorf("Expected same run ID, got %q and %q", root.RunID(), child.RunID())
	}

	root.Infof("Message from executor")
	child.Infof("Message from vcs")

	// Closing a child closes the shared file once
	if err := child.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := root.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}

	content, err := os.ReadFile(root.LogPath())
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	logContent := string(content)
	if !strings.Contains(logContent, "[executor]") {
		t.Error("Log missing executor entries")
	}
	if !strings.Contains(logContent, "[vcs]") {
		t.Error("Log missing vcs entries")
	}
}

func TestFallbackToStderr(t *testing.T) {
	// A file where the directory should be makes MkdirAll fail
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	logger, err := New(filepath.Join(blocker, "logs"), NewRunID(), "test")
	if err == nil {
		t.Fatal("Expected an error when the log directory cannot be created")
	}
	if logger == nil {
		t.Fatal("Expected a fallback logger")
	}
	if logger.LogPath() != "" {
		t.Errorf("Expected empty log path in fallback mode, got %q", logger.LogPath())
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.Infof("dropped")
	if logger.LogPath() != "" {
		t.Errorf("Expected empty log path, got %q", logger.LogPath())
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestNewRunID(t *testing.T) {
	id1 := NewRunID()
	id2 := NewRunID()

	if id1 == id2 {
		t.Errorf("Expected distinct run IDs, got %q twice", id1)
	}
	if _, err := uuid.Parse(id1); err != nil {
		t.Errorf("Expected a UUID, got %q: %v", id1, err)
	}
}
