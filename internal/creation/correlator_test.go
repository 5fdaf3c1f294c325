package creation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/LettuceAI/creation-engine/internal/domain"
)

func TestCorrelatorAppendsInArrivalOrder(t *testing.T) {
	t.Parallel()

	c := NewStreamCorrelator("req-1", time.Now())
	c.Apply(domain.StreamEvent{Type: domain.EventDelta, Text: "Once "})
	c.Apply(domain.StreamEvent{Type: domain.EventReasoning, Text: "the user wants a pirate, "})
	c.Apply(domain.StreamEvent{Type: domain.EventDelta, Text: "upon "})
	c.Apply(domain.StreamEvent{Type: domain.EventDelta, Text: "a time"})
	c.Apply(domain.StreamEvent{Type: domain.EventReasoning, Text: "so set the name first"})

	snap := c.Snapshot()
	if snap.Text != "Once upon a time" {
		t.Errorf("Expected concatenated deltas, got %q", snap.Text)
	}
	if snap.Reasoning != "the user wants a pirate, so set the name first" {
		t.Errorf("Expected concatenated reasoning, got %q", snap.Reasoning)
	}
}

func TestCorrelatorToolCallReplacedByID(t *testing.T) {
	t.Parallel()

	c := NewStreamCorrelator("req-1", time.Now())
	c.Apply(domain.StreamEvent{Type: domain.EventToolCall, ToolCalls: []domain.ToolCall{
		{ID: "call-1", Name: domain.ToolSetName, Arguments: json.RawMessage(`{"name":"Ma`)},
	}})
	c.Apply(domain.StreamEvent{Type: domain.EventToolCall, ToolCalls: []domain.ToolCall{
		{ID: "call-2", Name: domain.ToolGenerateImage},
	}})
	c.Apply(domain.StreamEvent{Type: domain.EventToolCall, ToolCalls: []domain.ToolCall{
		{ID: "call-1", Name: domain.ToolSetName, Arguments: json.RawMessage(`{"name":"Mara"}`)},
	}})

	snap := c.Snapshot()
	if len(snap.ToolCalls) != 2 {
		t.Fatalf("Expected 2 tool calls, got %d", len(snap.ToolCalls))
	}
	if snap.ToolCalls[0].ID != "call-1" || string(snap.ToolCalls[0].Arguments) != `{"name":"Mara"}` {
		t.Errorf("Expected call-1 replaced in place with final arguments, got %+v", snap.ToolCalls[0])
	}
	if snap.ToolCalls[1].ID != "call-2" {
		t.Errorf("Expected call-2 to keep its position, got %+v", snap.ToolCalls[1])
	}
}

func TestCorrelatorErrorClearsBuffersAndUnsubscribes(t *testing.T) {
	t.Parallel()

	unsubscribed := 0
	c := NewStreamCorrelator("req-1", time.Now())
	c.Bind(func() { unsubscribed++ })

	c.Apply(domain.StreamEvent{Type: domain.EventDelta, Text: "partial answer"})
	c.Apply(domain.StreamEvent{Type: domain.EventReasoning, Text: "thinking"})
	c.Apply(domain.StreamEvent{Type: domain.EventError, Message: "model overloaded"})

	snap := c.Snapshot()
	if snap.Text != "" || snap.Reasoning != "" {
		t.Errorf("Expected buffers cleared on error, got text=%q reasoning=%q", snap.Text, snap.Reasoning)
	}
	if snap.ErrMessage != "model overloaded" {
		t.Errorf("Expected error message retained, got %q", snap.ErrMessage)
	}
	if !snap.Terminated {
		t.Error("Expected stream terminated after error")
	}
	if unsubscribed != 1 {
		t.Errorf("Expected exactly one unsubscribe, got %d", unsubscribed)
	}

	// Late events after termination must be ignored.
	c.Apply(domain.StreamEvent{Type: domain.EventDelta, Text: "late"})
	if got := c.Snapshot().Text; got != "" {
		t.Errorf("Expected post-error delta ignored, got %q", got)
	}
}

func TestCorrelatorBindAfterErrorUnsubscribesImmediately(t *testing.T) {
	t.Parallel()

	c := NewStreamCorrelator("req-1", time.Now())
	c.Apply(domain.StreamEvent{Type: domain.EventError, Message: "boom"})

	unsubscribed := 0
	c.Bind(func() { unsubscribed++ })
	if unsubscribed != 1 {
		t.Errorf("Expected bind on a terminated stream to release the subscription, got %d", unsubscribed)
	}
}

func TestCorrelatorTeardownIdempotent(t *testing.T) {
	t.Parallel()

	unsubscribed := 0
	c := NewStreamCorrelator("req-1", time.Now())
	c.Bind(func() { unsubscribed++ })

	c.Teardown()
	c.Teardown()

	if unsubscribed != 1 {
		t.Errorf("Expected one unsubscribe across repeated teardowns, got %d", unsubscribed)
	}
}
