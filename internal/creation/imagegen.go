package creation

import (
	"encoding/json"
	"time"

	"github.com/LettuceAI/creation-engine/internal/domain"
)

// imageResultPayload is the part of a generate_image tool result the
// tracker cares about.
type imageResultPayload struct {
	ImageID string `json:"image_id"`
}

// DeriveImageGenerations walks the persisted messages plus any tool calls
// still streaming and produces the image-generation entry set.
//
// Observing a generate_image call creates an entry at pending immediately,
// independent of whether its result has arrived. A matching result moves
// the entry to done or error; a result observed without its call creates
// the entry directly in its terminal state. Entries never leave done or
// error. The derivation is a pure function of its inputs: running it twice
// yields the same set, with at most one entry per tool call id.
func DeriveImageGenerations(msgs []domain.Message, streaming []domain.ToolCall, now time.Time) []domain.ImageGenerationEntry {
	entries := make([]domain.ImageGenerationEntry, 0)
	index := make(map[string]int)

	observeCall := func(call domain.ToolCall, at time.Time) {
		if call.Name != domain.ToolGenerateImage {
			return
		}
		if _, ok := index[call.ID]; ok {
			return
		}
		index[call.ID] = len(entries)
		entries = append(entries, domain.ImageGenerationEntry{
			ID:         domain.ImageGenEntryID(call.ID),
			ToolCallID: call.ID,
			Status:     domain.ImageGenPending,
			CreatedAt:  at,
		})
	}

	observeResult := func(result domain.ToolResult, at time.Time) {
		idx, ok := index[result.ToolCallID]
		if !ok {
			// Result without its call. It gets an entry only when it is
			// attributable to image generation, which for a dangling
			// result means its payload carries an image id. Anything
			// else belongs to some other tool.
			var payload imageResultPayload
			_ = json.Unmarshal(result.Result, &payload)
			if payload.ImageID == "" {
				return
			}
			idx = len(entries)
			index[result.ToolCallID] = idx
			entries = append(entries, domain.ImageGenerationEntry{
				ID:         domain.ImageGenEntryID(result.ToolCallID),
				ToolCallID: result.ToolCallID,
				CreatedAt:  at,
			})
			if result.Success {
				entries[idx].Status = domain.ImageGenDone
				entries[idx].ImageID = payload.ImageID
			} else {
				entries[idx].Status = domain.ImageGenError
			}
			return
		}

		// done and error are terminal.
		if entries[idx].Status != domain.ImageGenPending {
			return
		}
		if result.Success {
			var payload imageResultPayload
			_ = json.Unmarshal(result.Result, &payload)
			entries[idx].Status = domain.ImageGenDone
			entries[idx].ImageID = payload.ImageID
		} else {
			entries[idx].Status = domain.ImageGenError
		}
	}

	// First pass: every call in message order, so result-after-call is the
	// common path regardless of how the backend interleaved them within a
	// message.
	for _, msg := range msgs {
		for _, call := range msg.ToolCalls {
			observeCall(call, msg.CreatedAt)
		}
	}
	for _, call := range streaming {
		observeCall(call, now)
	}

	for _, msg := range msgs {
		for _, result := range msg.ToolResults {
			observeResult(result, msg.CreatedAt)
		}
	}

	return entries
}
