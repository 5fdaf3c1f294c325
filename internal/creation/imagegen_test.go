package creation

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/LettuceAI/creation-engine/internal/domain"
)

func TestDeriveImageGenerationsPendingOnCall(t *testing.T) {
	t.Parallel()

	now := time.Now()
	msgs := []domain.Message{{
		ID:        "m1",
		Role:      domain.RoleAssistant,
		CreatedAt: now,
		ToolCalls: []domain.ToolCall{
			{ID: "c1", Name: domain.ToolGenerateImage},
			{ID: "c2", Name: domain.ToolSetName},
		},
	}}

	entries := DeriveImageGenerations(msgs, nil, now)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry for the generate_image call, got %d", len(entries))
	}
	if entries[0].Status != domain.ImageGenPending {
		t.Errorf("Expected pending before the result arrives, got %q", entries[0].Status)
	}
	if entries[0].ID != "imagegen-c1" || entries[0].ToolCallID != "c1" {
		t.Errorf("Expected entry keyed by tool call id, got %+v", entries[0])
	}
}

func TestDeriveImageGenerationsResultTransitions(t *testing.T) {
	t.Parallel()

	now := time.Now()

	tests := []struct {
		name       string
		result     domain.ToolResult
		wantStatus domain.ImageGenStatus
		wantImage  string
	}{
		{
			name:       "success to done",
			result:     domain.ToolResult{ToolCallID: "c1", Success: true, Result: json.RawMessage(`{"image_id":"img-9"}`)},
			wantStatus: domain.ImageGenDone,
			wantImage:  "img-9",
		},
		{
			name:       "failure to error",
			result:     domain.ToolResult{ToolCallID: "c1", Success: false},
			wantStatus: domain.ImageGenError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msgs := []domain.Message{{
				ID:          "m1",
				CreatedAt:   now,
				ToolCalls:   []domain.ToolCall{{ID: "c1", Name: domain.ToolGenerateImage}},
				ToolResults: []domain.ToolResult{tt.result},
			}}
			entries := DeriveImageGenerations(msgs, nil, now)
			if len(entries) != 1 {
				t.Fatalf("Expected 1 entry, got %d", len(entries))
			}
			if entries[0].Status != tt.wantStatus {
				t.Errorf("Expected status %q, got %q", tt.wantStatus, entries[0].Status)
			}
			if entries[0].ImageID != tt.wantImage {
				t.Errorf("Expected image id %q, got %q", tt.wantImage, entries[0].ImageID)
			}
		})
	}
}

func TestDeriveImageGenerationsResultBeforeCall(t *testing.T) {
	t.Parallel()

	now := time.Now()
	msgs := []domain.Message{
		{
			ID:        "m1",
			CreatedAt: now,
			ToolResults: []domain.ToolResult{
				{ToolCallID: "c1", Success: true, Result: json.RawMessage(`{"image_id":"img-1"}`)},
			},
		},
		{
			ID:        "m2",
			CreatedAt: now.Add(time.Second),
			ToolCalls: []domain.ToolCall{{ID: "c1", Name: domain.ToolGenerateImage}},
		},
	}

	// The call in a later message still pairs with the earlier result, and
	// the terminal state sticks.
	entries := DeriveImageGenerations(msgs, nil, now)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Status != domain.ImageGenDone || entries[0].ImageID != "img-1" {
		t.Errorf("Expected done with img-1, got %+v", entries[0])
	}
}

func TestDeriveImageGenerationsDanglingResult(t *testing.T) {
	t.Parallel()

	now := time.Now()
	msgs := []domain.Message{{
		ID:        "m1",
		CreatedAt: now,
		ToolResults: []domain.ToolResult{
			// Attributable: carries an image id.
			{ToolCallID: "ghost-1", Success: true, Result: json.RawMessage(`{"image_id":"img-2"}`)},
			// Not attributable: some other tool's failure.
			{ToolCallID: "ghost-2", Success: false},
		},
	}}

	entries := DeriveImageGenerations(msgs, nil, now)
	if len(entries) != 1 {
		t.Fatalf("Expected only the attributable dangling result, got %d entries", len(entries))
	}
	if entries[0].ToolCallID != "ghost-1" || entries[0].Status != domain.ImageGenDone {
		t.Errorf("Expected ghost-1 done, got %+v", entries[0])
	}
}

func TestDeriveImageGenerationsStreamingCalls(t *testing.T) {
	t.Parallel()

	now := time.Now()
	streaming := []domain.ToolCall{{ID: "c-live", Name: domain.ToolGenerateImage}}

	entries := DeriveImageGenerations(nil, streaming, now)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry from the streaming call, got %d", len(entries))
	}
	if entries[0].Status != domain.ImageGenPending {
		t.Errorf("Expected streaming call pending, got %q", entries[0].Status)
	}
	if !entries[0].CreatedAt.Equal(now) {
		t.Errorf("Expected streaming entry timestamped now, got %v", entries[0].CreatedAt)
	}
}

func TestDeriveImageGenerationsIdempotent(t *testing.T) {
	t.Parallel()

	now := time.Now()
	msgs := []domain.Message{{
		ID:          "m1",
		CreatedAt:   now,
		ToolCalls:   []domain.ToolCall{{ID: "c1", Name: domain.ToolGenerateImage}},
		ToolResults: []domain.ToolResult{{ToolCallID: "c1", Success: true, Result: json.RawMessage(`{"image_id":"img-1"}`)}},
	}}

	first := DeriveImageGenerations(msgs, nil, now)
	second := DeriveImageGenerations(msgs, nil, now)
	if len(first) != len(second) {
		t.Fatalf("Expected identical entry counts, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("Expected identical entries at %d, got %+v and %+v", i, first[i], second[i])
		}
	}
}
