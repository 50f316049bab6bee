package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func reset() {
	CloseAll()
	configMu.Lock()
	logsDir = ""
	debugMode = false
	logLevel = LevelInfo
	configMu.Unlock()
}

func TestInitialize_DisabledIsSilent(t *testing.T) {
	t.Cleanup(reset)

	if err := Initialize("", false, "info"); err != nil {
		t.Fatalf("disabled Initialize should not error: %v", err)
	}
	// Logging into the void must not panic or create files.
	Session("ignored %d", 1)
	PollError("also ignored")
	if IsDebugMode() {
		t.Error("debug mode should be off")
	}
}

func TestInitialize_RequiresDirInDebugMode(t *testing.T) {
	t.Cleanup(reset)
	if err := Initialize("", true, "debug"); err == nil {
		t.Error("debug mode without a directory should error")
	}
}

func TestGet_WritesToCategoryFile(t *testing.T) {
	t.Cleanup(reset)
	dir := t.TempDir()

	if err := Initialize(dir, true, "debug"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	Get(CategoryPoll).Info("attempt %d of %d", 3, 30)
	CloseAll()

	matches, err := filepath.Glob(filepath.Join(dir, "*_poll.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one poll log file, got %v (err=%v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "[INFO] attempt 3 of 30") {
		t.Errorf("log content missing entry: %q", data)
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Cleanup(reset)
	dir := t.TempDir()

	if err := Initialize(dir, true, "warn"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	l := Get(CategoryAPI)
	l.Debug("filtered out")
	l.Info("also filtered")
	l.Warn("kept warn")
	l.Error("kept error")
	CloseAll()

	matches, _ := filepath.Glob(filepath.Join(dir, "*_api.log"))
	if len(matches) != 1 {
		t.Fatalf("expected one api log file, got %v", matches)
	}
	data, _ := os.ReadFile(matches[0])
	text := string(data)
	if strings.Contains(text, "filtered") {
		t.Errorf("low-level entries leaked through: %q", text)
	}
	if !strings.Contains(text, "kept warn") || !strings.Contains(text, "kept error") {
		t.Errorf("high-level entries missing: %q", text)
	}
}

func TestGet_SameLoggerPerCategory(t *testing.T) {
	t.Cleanup(reset)
	if err := Initialize(t.TempDir(), true, "info"); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if Get(CategoryStore) != Get(CategoryStore) {
		t.Error("expected the same logger instance per category")
	}
}

func TestTimer_StopReturnsElapsed(t *testing.T) {
	t.Cleanup(reset)
	timer := StartTimer(CategorySession, "op")
	if d := timer.Stop(); d < 0 {
		t.Errorf("elapsed time negative: %v", d)
	}
}
