// Package transcript records session events as NDJSON, one file per
// session. Writes are asynchronous behind a bounded queue: when the queue
// is full events are dropped with a warning, never blocking the engine.
package transcript

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event is one transcript row.
type Event struct {
	Timestamp string         `json:"ts"`
	SessionID string         `json:"session_id"`
	Role      string         `json:"role,omitempty"`
	EventType string         `json:"event_type"`
	Content   string         `json:"content,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// Logger records transcript events.
type Logger interface {
	Log(event Event)
	Close() error
}

// Config controls the file logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

type noopLogger struct{}

func (noopLogger) Log(Event)    {}
func (noopLogger) Close() error { return nil }

// NewNoop returns a logger that discards everything.
func NewNoop() Logger {
	return noopLogger{}
}

// FileLogger writes NDJSON transcript files under a directory.
type FileLogger struct {
	dir    string
	logger *slog.Logger

	mu        sync.Mutex
	closed    bool
	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewFileLogger creates the transcript directory and starts the writer
// goroutine. When cfg.Enabled is false a noop logger is returned instead.
func NewFileLogger(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	fl := &FileLogger{
		dir:    cfg.Dir,
		logger: logger,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	go fl.writeLoop()
	return fl, nil
}

// Log enqueues an event. Never blocks: if the queue is full, or the logger
// is already closed, the event is dropped and a warning logged.
func (fl *FileLogger) Log(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.closed {
		fl.logger.Warn("transcript logger closed, dropping event",
			"session_id", event.SessionID,
			"event_type", event.EventType,
		)
		return
	}
	select {
	case fl.queue <- event:
	default:
		fl.logger.Warn("transcript queue full, dropping event",
			"session_id", event.SessionID,
			"event_type", event.EventType,
		)
	}
}

// Close stops accepting events, drains the queue, and waits for the writer
// to finish.
func (fl *FileLogger) Close() error {
	fl.closeOnce.Do(func() {
		fl.mu.Lock()
		fl.closed = true
		fl.mu.Unlock()
		close(fl.queue)
	})
	<-fl.done
	return nil
}

func (fl *FileLogger) writeLoop() {
	defer close(fl.done)
	for event := range fl.queue {
		fl.write(event)
	}
}

func (fl *FileLogger) write(event Event) {
	name := event.SessionID
	if name == "" {
		name = "unknown"
	}
	path := filepath.Join(fl.dir, name+".ndjson")

	line, err := json.Marshal(event)
	if err != nil {
		fl.logger.Warn("failed to marshal transcript event", "error", err)
		return
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fl.logger.Warn("failed to open transcript file", "path", path, "error", err)
		return
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			fl.logger.Warn("failed to close transcript file", "path", path, "error", closeErr)
		}
	}()

	if _, err := f.Write(append(line, '\n')); err != nil {
		fl.logger.Warn("failed to write transcript event", "path", path, "error", err)
	}
}
