package creation

import (
	"sort"

	"github.com/LettuceAI/creation-engine/internal/domain"
)

// SequenceTimeline merges persisted messages, the transient streaming
// buffer, and synthetic image-generation anchors into one render timeline.
//
// While a request is in flight the streaming buffer contributes a single
// assistant pseudo-message; each image-generation entry contributes a
// system pseudo-message with empty content whose id anchors the widget.
// Ordering is CreatedAt ascending with insertion order as the tie-break —
// a stable sort, because optimistic and synthesized items routinely share
// a timestamp granularity with real messages.
//
// Pure function of its inputs; cheap to recompute on every state change.
func SequenceTimeline(msgs []domain.Message, streaming *StreamSnapshot, imagegens []domain.ImageGenerationEntry) []domain.Message {
	timeline := make([]domain.Message, 0, len(msgs)+len(imagegens)+1)
	timeline = append(timeline, msgs...)

	if streaming != nil && !streaming.Terminated {
		timeline = append(timeline, domain.Message{
			ID:        "streaming-" + streaming.RequestID,
			Role:      domain.RoleAssistant,
			Content:   streaming.Text,
			ToolCalls: streaming.ToolCalls,
			CreatedAt: streaming.StartedAt,
		})
	}

	for _, entry := range imagegens {
		timeline = append(timeline, domain.Message{
			ID:        entry.ID,
			Role:      domain.RoleSystem,
			CreatedAt: entry.CreatedAt,
		})
	}

	sort.SliceStable(timeline, func(i, j int) bool {
		return timeline[i].CreatedAt.Before(timeline[j].CreatedAt)
	})

	return timeline
}
