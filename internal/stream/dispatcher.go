// Package stream provides the push side of the backend boundary: a single
// WebSocket connection carrying topic-addressed JSON events, fanned out to
// per-topic handlers.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

var errDispatcherClosed = errors.New("dispatcher closed")

// Handler consumes events delivered on one topic. Handlers run on the read
// loop goroutine, so delivery order within a topic is the transport order.
type Handler func(payload json.RawMessage)

// Subscriber is the part of the dispatcher the engine depends on.
type Subscriber interface {
	// Subscribe registers the handler for a topic, replacing any previous
	// registration, and returns an unsubscribe func. Unsubscribing is
	// idempotent and only removes the handler it paired with.
	Subscribe(topic string, h Handler) (unsubscribe func())
}

// envelope is the wire framing of the event channel.
type envelope struct {
	Topic string          `json:"topic"`
	Event json.RawMessage `json:"event"`
}

// Dispatcher owns one WebSocket connection and routes events by topic.
// Lifecycle is explicit: Open dials and starts the read loop, Close tears
// everything down. Events for topics with no handler are dropped.
type Dispatcher struct {
	url    string
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]*registration
	conn     *websocket.Conn
	opened   bool
	closed   bool

	cancelRead context.CancelFunc
	readDone   chan struct{}
}

// NewDispatcher creates a dispatcher for the given WebSocket URL.
func NewDispatcher(url string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		url:      url,
		logger:   logger,
		handlers: make(map[string]*registration),
	}
}

// registration pairs a handler with an identity so unsubscribe can tell
// whether its registration is still the current one for the topic.
type registration struct {
	h Handler
}

// Open dials the event channel and starts the read loop. The context only
// bounds the dial; the read loop runs until Close.
func (d *Dispatcher) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errDispatcherClosed
	}
	if d.opened {
		return nil
	}

	conn, _, err := websocket.Dial(ctx, d.url, nil)
	if err != nil {
		return fmt.Errorf("dial event channel: %w", err)
	}
	// Session pushes can carry full message histories.
	conn.SetReadLimit(1 << 22)

	readCtx, cancel := context.WithCancel(context.Background())
	d.conn = conn
	d.opened = true
	d.cancelRead = cancel
	d.readDone = make(chan struct{})

	go d.readLoop(readCtx, conn)

	d.logger.Info("event channel opened", "url", d.url)
	return nil
}

// Close tears down the connection and waits for the read loop to exit.
// Safe to call more than once; failures are logged, never returned upward
// in a way that blocks disposal.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	conn := d.conn
	cancel := d.cancelRead
	readDone := d.readDone
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "engine disposed"); err != nil {
			d.logger.Debug("failed to close event channel", "error", err)
		}
	}
	if readDone != nil {
		<-readDone
	}
}

// Subscribe registers a handler for a topic.
func (d *Dispatcher) Subscribe(topic string, h Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return func() {}
	}
	reg := &registration{h: h}
	d.handlers[topic] = reg

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		// Only remove if this registration is still the current one.
		if current, ok := d.handlers[topic]; ok && current == reg {
			delete(d.handlers, topic)
		}
	}
}

func (d *Dispatcher) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(d.readDone)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.logger.Warn("event channel read failed", "error", err)
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// Malformed frames never abort the stream.
			d.logger.Warn("dropping malformed event frame", "error", err)
			continue
		}
		if env.Topic == "" {
			d.logger.Warn("dropping event frame without topic")
			continue
		}

		d.mu.RLock()
		reg := d.handlers[env.Topic]
		d.mu.RUnlock()
		if reg == nil {
			continue
		}
		reg.h(env.Event)
	}
}
