package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func fixedLogger(level Level, jsonFormat bool) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := NewLogger(level, jsonFormat)
	l.SetOutput(&buf)
	l.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return l, &buf
}

func TestLoggerLevelFiltering(t *testing.T) {
	l, buf := fixedLogger(WARN, false)

	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("INFO message should be filtered at WARN level")
	}
	if !strings.Contains(out, "WARN: shown") {
		t.Errorf("Expected WARN line, got %q", out)
	}
}

func TestLoggerTextFieldsSorted(t *testing.T) {
	l, buf := fixedLogger(DEBUG, false)

	l.WithField("run_id", "abc").Info("pass complete", map[string]interface{}{"exit": 0, "actions": 2})

	expected := "[2026-01-02 03:04:05] INFO: pass complete actions=2 exit=0 run_id=abc\n"
	if buf.String() != expected {
		t.Errorf("got %q\nexpected %q", buf.String(), expected)
	}
}

func TestLoggerJSON(t *testing.T) {
	l, buf := fixedLogger(DEBUG, true)

	l.WithFields(map[string]interface{}{"step": "epoch"}).Error("simulation failed")

	var entry LogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON log line: %v", err)
	}
	if entry.Level != "ERROR" || entry.Message != "simulation failed" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.Fields["step"] != "epoch" {
		t.Errorf("expected step field, got %v", entry.Fields)
	}
	if entry.Timestamp != "2026-01-02T03:04:05Z" {
		t.Errorf("unexpected timestamp %q", entry.Timestamp)
	}
}

func TestWithFieldDoesNotMutateParent(t *testing.T) {
	parent, buf := fixedLogger(DEBUG, false)
	_ = parent.WithField("child", true)

	parent.Info("plain")
	if strings.Contains(buf.String(), "child") {
		t.Error("child field leaked into parent logger")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warning", WARN},
		{"error", ERROR},
		{"fatal", FATAL},
		{"bogus", INFO},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}
}

func TestFileLoggerAndRotation(t *testing.T) {
	dir := t.TempDir()

	l, err := NewFileLogger(dir, "keeper", INFO, false)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer l.Close()

	l.Info("first line")

	path := filepath.Join(dir, "keeper.log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(data), "first line") {
		t.Errorf("log file missing entry: %q", data)
	}

	if err := l.RotateIfNeeded(1); err != nil {
		t.Fatalf("RotateIfNeeded failed: %v", err)
	}

	matches, _ := filepath.Glob(path + ".*")
	if len(matches) != 1 {
		t.Errorf("expected one rotated file, found %v", matches)
	}
}

func TestRotationWhileLogging(t *testing.T) {
	dir := t.TempDir()

	l, err := NewFileLogger(dir, "keeper", INFO, false)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer l.Close()
	l.SetOutput(&bytes.Buffer{})

	child := l.WithField("step", "watch")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			child.Warn("Previous pass still running, skipping tick")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if err := l.RotateIfNeeded(1); err != nil {
				t.Errorf("RotateIfNeeded failed: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	// A child created before rotation writes to the current file
	child.Info("after rotation")

	path := filepath.Join(dir, "keeper.log")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file missing after rotation: %v", err)
	}
	if !strings.Contains(string(data), "after rotation") {
		t.Errorf("child logger did not follow rotation, file contains %q", data)
	}
}

func TestFileLoggerKeepsStdoutFree(t *testing.T) {
	dir := t.TempDir()

	l, err := NewFileLogger(dir, "keeper", INFO, false)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer l.Close()

	if l.out.console != os.Stderr {
		t.Error("file logger should mirror to stderr so stdout carries command output")
	}
}
