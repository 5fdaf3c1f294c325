// Package domain defines the core types of a creation session.
package domain

import (
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// SessionStatus tracks where a session is in its lifecycle.
type SessionStatus string

const (
	StatusActive       SessionStatus = "active"
	StatusPreviewShown SessionStatus = "preview_shown"
	StatusCompleted    SessionStatus = "completed"
	StatusCancelled    SessionStatus = "cancelled"
)

// Message is one persisted turn in a session timeline.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Session is one end-to-end creation conversation. It is owned exclusively
// by the session store; everything else reads snapshots.
type Session struct {
	ID           string        `json:"id"`
	Messages     []Message     `json:"messages"`
	Draft        DraftEntity   `json:"draft"`
	DraftHistory []DraftEntity `json:"draft_history,omitempty"`
	Status       SessionStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Clone returns a deep copy of the session so callers can hand out
// snapshots without exposing the writer's backing slices.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = cloneMessages(s.Messages)
	out.Draft = s.Draft.Clone()
	if s.DraftHistory != nil {
		out.DraftHistory = make([]DraftEntity, len(s.DraftHistory))
		for i := range s.DraftHistory {
			out.DraftHistory[i] = s.DraftHistory[i].Clone()
		}
	}
	return &out
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
		out[i].ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		out[i].ToolResults = append([]ToolResult(nil), m.ToolResults...)
	}
	return out
}
