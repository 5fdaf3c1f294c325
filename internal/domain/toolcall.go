package domain

import "encoding/json"

// Tool names fixed by the backend contract.
const (
	ToolSetName        = "set_name"
	ToolSetDescription = "set_description"
	ToolAddScene       = "add_scene"
	ToolGenerateImage  = "generate_image"
	ToolShowPreview    = "show_preview"
)

// ToolCall is a structured request emitted by the assistant mid-turn.
// Arguments may still be partial while the call is being streamed.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the outcome of executing a tool call. ToolCallID may
// reference a call the client has not observed (dangling).
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Result     json.RawMessage `json:"result,omitempty"`
	Success    bool            `json:"success"`
}
