package creation

import (
	"sync"
	"time"

	"github.com/LettuceAI/creation-engine/internal/domain"
)

// Store owns the canonical session record. It is the single logical writer:
// the engine serializes mutations, and every read hands out a deep-copied
// snapshot. The draft history is a client-side undo stack, one entry per
// accepted turn, popped by regenerate.
type Store struct {
	mu      sync.Mutex
	session *domain.Session
}

// NewStore takes ownership of the session returned by the backend's start
// call.
func NewStore(session *domain.Session) *Store {
	return &Store{session: session}
}

// Snapshot returns a deep copy of the current session.
func (s *Store) Snapshot() *domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone()
}

// SessionID returns the session's id.
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.ID
}

// Status returns the session's lifecycle status.
func (s *Store) Status() domain.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Status
}

// SetStatus updates the lifecycle status.
func (s *Store) SetStatus(status domain.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Status = status
	s.session.UpdatedAt = time.Now()
}

// AppendOptimistic appends a locally created user message so the UI sees
// it before the round trip begins.
func (s *Store) AppendOptimistic(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Messages = append(s.session.Messages, msg)
	s.session.UpdatedAt = time.Now()
}

// RemoveMessage removes a message by id. Used to roll an optimistic append
// back when its round trip fails.
func (s *Store) RemoveMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.session.Messages {
		if s.session.Messages[i].ID == id {
			s.session.Messages = append(s.session.Messages[:i], s.session.Messages[i+1:]...)
			s.session.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// ReplaceCanonical replaces message list, draft, and status with the
// backend's canonical state. Client-generated optimistic ids are discarded
// wholesale in favor of server-assigned ones. The previous draft is pushed
// onto the history on every replacement, chat-only turns included: each
// accepted turn pairs with exactly one history entry, so popping one is
// always the exact inverse of the turn being regenerated.
func (s *Store) ReplaceCanonical(messages []domain.Message, draft domain.DraftEntity, status domain.SessionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session.DraftHistory = append(s.session.DraftHistory, s.session.Draft.Clone())
	s.session.Messages = messages
	s.session.Draft = draft
	if status != "" {
		s.session.Status = status
	}
	s.session.UpdatedAt = time.Now()
}

// LatestAssistantID returns the id of the most recent assistant message.
func (s *Store) LatestAssistantID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.session.Messages) - 1; i >= 0; i-- {
		if s.session.Messages[i].Role == domain.RoleAssistant {
			return s.session.Messages[i].ID, true
		}
	}
	return "", false
}

// PopAssistantTurn removes the most recent assistant message and pops
// exactly one draft-history entry, restoring the draft to its pre-turn
// state. Returns false when no assistant message exists.
func (s *Store) PopAssistantTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := len(s.session.Messages) - 1; i >= 0; i-- {
		if s.session.Messages[i].Role == domain.RoleAssistant {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	s.session.Messages = append(s.session.Messages[:idx], s.session.Messages[idx+1:]...)
	if n := len(s.session.DraftHistory); n > 0 {
		s.session.Draft = s.session.DraftHistory[n-1]
		s.session.DraftHistory = s.session.DraftHistory[:n-1]
	}
	s.session.UpdatedAt = time.Now()
	return true
}

// DraftHistoryLen reports the undo stack depth.
func (s *Store) DraftHistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.session.DraftHistory)
}
