package domain

import "time"

// ImageGenStatus is the state of one image-generation request.
type ImageGenStatus string

const (
	ImageGenPending ImageGenStatus = "pending"
	ImageGenDone    ImageGenStatus = "done"
	ImageGenError   ImageGenStatus = "error"
)

// ImageGenerationEntry tracks one generate_image tool call. Entries are
// keyed by ToolCallID so deriving them repeatedly from the same messages
// yields the same set.
type ImageGenerationEntry struct {
	ID         string         `json:"id"`
	ToolCallID string         `json:"tool_call_id"`
	Status     ImageGenStatus `json:"status"`
	ImageID    string         `json:"image_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ImageGenEntryID derives the stable entry id for a tool call.
func ImageGenEntryID(toolCallID string) string {
	return "imagegen-" + toolCallID
}
