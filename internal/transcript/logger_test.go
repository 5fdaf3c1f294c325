package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewFileLogger(Config{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, nil)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Log(Event{
		SessionID: "sess-1",
		Role:      "user",
		EventType: "user_message",
		Content:   "make her a pirate",
	})

	path := filepath.Join(dir, "sess-1.ndjson")
	line := waitForLogLine(t, path)
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.Content != "make her a pirate" {
		t.Fatalf("unexpected Content: %q", got.Content)
	}
	if got.Timestamp == "" {
		t.Fatal("expected timestamp to be populated")
	}
}

func TestFileLoggerSeparatesSessions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewFileLogger(Config{Enabled: true, Dir: dir, QueueSize: 16}, nil)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}

	logger.Log(Event{SessionID: "sess-a", EventType: "session_started"})
	logger.Log(Event{SessionID: "sess-b", EventType: "session_started"})

	// Close drains the queue before returning.
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for _, name := range []string{"sess-a.ndjson", "sess-b.ndjson"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected transcript file %s: %v", name, err)
		}
	}
}

func TestFileLoggerDisabledReturnsNoop(t *testing.T) {
	t.Parallel()

	logger, err := NewFileLogger(Config{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	logger.Log(Event{SessionID: "sess-1", EventType: "session_started"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestFileLoggerLogAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewFileLogger(Config{Enabled: true, Dir: dir, QueueSize: 4}, nil)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Must drop silently rather than panic on the closed queue.
	logger.Log(Event{SessionID: "sess-late", EventType: "user_message"})

	if _, err := os.Stat(filepath.Join(dir, "sess-late.ndjson")); !os.IsNotExist(err) {
		t.Errorf("Expected no transcript file for a post-close event, got %v", err)
	}
}

func TestFileLoggerCloseIdempotent(t *testing.T) {
	t.Parallel()

	logger, err := NewFileLogger(Config{Enabled: true, Dir: t.TempDir(), QueueSize: 4}, nil)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
