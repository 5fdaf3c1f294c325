package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// StreamEventType discriminates the streaming event union.
type StreamEventType string

const (
	EventDelta     StreamEventType = "delta"
	EventReasoning StreamEventType = "reasoning"
	EventToolCall  StreamEventType = "tool_call"
	EventError     StreamEventType = "error"
)

var errUnknownEventType = errors.New("unknown stream event type")

// StreamEvent is one incremental event on a request's stream. Exactly one
// payload field is meaningful, selected by Type.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Text      string          `json:"text,omitempty"`       // delta, reasoning
	ToolCalls []ToolCall      `json:"tool_calls,omitempty"` // tool_call
	Message   string          `json:"message,omitempty"`    // error
}

// ParseStreamEvent decodes a raw streamed frame. Malformed frames are the
// caller's ChannelParseError case: drop, log, keep reading.
func ParseStreamEvent(data []byte) (StreamEvent, error) {
	var ev StreamEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return StreamEvent{}, fmt.Errorf("decode stream event: %w", err)
	}
	switch ev.Type {
	case EventDelta, EventReasoning, EventToolCall, EventError:
		return ev, nil
	default:
		return StreamEvent{}, fmt.Errorf("%w: %q", errUnknownEventType, ev.Type)
	}
}

// SessionPush is the out-of-band broadcast of canonical session state.
// Consumers must discard pushes whose SessionID does not match the
// currently active session.
type SessionPush struct {
	SessionID string        `json:"session_id"`
	Draft     DraftEntity   `json:"draft"`
	Status    SessionStatus `json:"status"`
	Messages  []Message     `json:"messages"`
}
