package creation

import (
	"strings"
	"sync"
	"time"

	"github.com/LettuceAI/creation-engine/internal/domain"
)

// StreamCorrelator aggregates the events of exactly one in-flight request
// into a transient buffer. Deltas and reasoning fragments append in arrival
// order; tool-call announcements are keyed by call id so a later
// announcement replaces the earlier one (progressive argument streaming).
//
// The correlator owns the subscription for its request: Teardown releases
// it explicitly, and the engine guarantees the previous correlator for a
// session is torn down before a new one is bound.
type StreamCorrelator struct {
	requestID string
	startedAt time.Time

	mu          sync.Mutex
	text        strings.Builder
	reasoning   strings.Builder
	toolCalls   []domain.ToolCall
	toolIndex   map[string]int
	errMessage  string
	terminated  bool
	unsubscribe func()
	torn        bool
}

// StreamSnapshot is a point-in-time copy of the correlator's buffers.
type StreamSnapshot struct {
	RequestID  string
	StartedAt  time.Time
	Text       string
	Reasoning  string
	ToolCalls  []domain.ToolCall
	ErrMessage string
	Terminated bool
}

// NewStreamCorrelator creates a correlator for one request id.
func NewStreamCorrelator(requestID string, startedAt time.Time) *StreamCorrelator {
	return &StreamCorrelator{
		requestID: requestID,
		startedAt: startedAt,
		toolIndex: make(map[string]int),
	}
}

// RequestID returns the request this correlator is bound to.
func (c *StreamCorrelator) RequestID() string {
	return c.requestID
}

// Bind attaches the subscription teardown handle. Must be called once,
// right after the subscription is created.
func (c *StreamCorrelator) Bind(unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribe = unsubscribe
	// An error event may already have terminated the stream.
	if c.terminated {
		c.teardownLocked()
	}
}

// Apply folds one streamed event into the buffers. Events arriving after
// termination are ignored.
func (c *StreamCorrelator) Apply(ev domain.StreamEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.terminated {
		return
	}

	switch ev.Type {
	case domain.EventDelta:
		c.text.WriteString(ev.Text)
	case domain.EventReasoning:
		c.reasoning.WriteString(ev.Text)
	case domain.EventToolCall:
		for _, call := range ev.ToolCalls {
			if idx, ok := c.toolIndex[call.ID]; ok {
				c.toolCalls[idx] = call
				continue
			}
			c.toolIndex[call.ID] = len(c.toolCalls)
			c.toolCalls = append(c.toolCalls, call)
		}
	case domain.EventError:
		c.errMessage = ev.Message
		c.text.Reset()
		c.reasoning.Reset()
		c.terminated = true
		// The request is over; release the subscription rather than
		// waiting for the engine to notice.
		c.teardownLocked()
	}
}

// Snapshot returns a copy of the current buffers.
func (c *StreamCorrelator) Snapshot() StreamSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return StreamSnapshot{
		RequestID:  c.requestID,
		StartedAt:  c.startedAt,
		Text:       c.text.String(),
		Reasoning:  c.reasoning.String(),
		ToolCalls:  append([]domain.ToolCall(nil), c.toolCalls...),
		ErrMessage: c.errMessage,
		Terminated: c.terminated,
	}
}

// Teardown releases the subscription and stops accepting events. Idempotent.
func (c *StreamCorrelator) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminated = true
	c.teardownLocked()
}

func (c *StreamCorrelator) teardownLocked() {
	if c.torn || c.unsubscribe == nil {
		return
	}
	c.torn = true
	c.unsubscribe()
}
