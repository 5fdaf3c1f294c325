package creation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LettuceAI/creation-engine/internal/backend"
	"github.com/LettuceAI/creation-engine/internal/domain"
	"github.com/LettuceAI/creation-engine/internal/library"
	"github.com/LettuceAI/creation-engine/internal/stream"
	"github.com/LettuceAI/creation-engine/internal/transcript"
)

// Topic naming of the event channel.
func requestTopic(requestID string) string { return "creation/" + requestID }
func sessionTopic(sessionID string) string { return "session/" + sessionID }

// Options configures optional engine collaborators.
type Options struct {
	// Library receives the promoted draft on complete. Optional.
	Library library.Repository

	// Transcripts records session events. Defaults to a noop logger.
	Transcripts transcript.Logger

	Logger *slog.Logger
}

// Engine ties the session store, the stream correlator, and the backend
// boundary together. All mutations funnel through it, which is what makes
// the store's single-logical-writer rule and the one-outstanding-request
// invariant hold.
type Engine struct {
	client      backend.Client
	events      stream.Subscriber
	library     library.Repository
	transcripts transcript.Logger
	logger      *slog.Logger
	now         func() time.Time

	mu              sync.Mutex
	store           *Store
	correlator      *StreamCorrelator
	canceller       *CancellationController
	inFlight        bool
	activeRequestID string
	lastError       string
	pushUnsub       func()
	closed          bool
}

// NewEngine creates an engine over the given backend client and event
// subscriber.
func NewEngine(client backend.Client, events stream.Subscriber, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transcripts := opts.Transcripts
	if transcripts == nil {
		transcripts = transcript.NewNoop()
	}
	return &Engine{
		client:      client,
		events:      events,
		library:     opts.Library,
		transcripts: transcripts,
		logger:      logger,
		now:         time.Now,
		canceller:   NewCancellationController(logger),
	}
}

// Start begins a new creation session. Any previous session's in-flight
// request and push subscription are torn down first.
func (e *Engine) Start(ctx context.Context, goal string) (*domain.Session, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	e.teardownActiveLocked(ctx)
	e.mu.Unlock()

	session, err := e.client.Start(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("start creation session: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}

	e.store = NewStore(session)
	e.lastError = ""
	sessionID := session.ID
	e.pushUnsub = e.events.Subscribe(sessionTopic(sessionID), e.pushHandler(sessionID))

	e.transcripts.Log(transcript.Event{
		SessionID: sessionID,
		EventType: "session_started",
		Meta:      map[string]any{"goal": goal},
	})
	e.logger.Info("creation session started", "session_id", sessionID)

	return e.store.Snapshot(), nil
}

// pushHandler consumes out-of-band session-state broadcasts. Pushes for any
// other session are stale and silently discarded.
func (e *Engine) pushHandler(sessionID string) stream.Handler {
	return func(payload json.RawMessage) {
		var push domain.SessionPush
		if err := json.Unmarshal(payload, &push); err != nil {
			e.logger.Warn("dropping malformed session push", "error", err)
			return
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed || e.store == nil || e.store.SessionID() != sessionID || push.SessionID != sessionID {
			return
		}
		e.store.ReplaceCanonical(push.Messages, push.Draft, push.Status)
	}
}

// Send delivers a user turn. The user message appears in the timeline
// synchronously with a client-generated id; on success the backend's
// canonical message set replaces the whole list. On failure the optimistic
// message is rolled back and a SendFailedError carries the inputs back.
func (e *Engine) Send(ctx context.Context, text string, attachments, references []string) (*domain.Session, error) {
	e.mu.Lock()
	if err := e.sendableLocked(); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	optimistic := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Content:   text,
		CreatedAt: e.now(),
	}
	e.store.AppendOptimistic(optimistic)

	sessionID := e.store.SessionID()
	requestID := e.beginRequestLocked()
	e.transcripts.Log(transcript.Event{
		SessionID: sessionID,
		Role:      string(domain.RoleUser),
		EventType: "user_message",
		Content:   text,
		Meta:      map[string]any{"request_id": requestID},
	})
	e.mu.Unlock()

	canonical, err := e.client.SendMessage(ctx, sessionID, backend.MessageRequest{
		Text:        text,
		Attachments: attachments,
		References:  references,
		RequestID:   requestID,
	})

	e.mu.Lock()
	defer e.mu.Unlock()
	current := e.finishRequestLocked(requestID)

	if err != nil {
		e.store.RemoveMessage(optimistic.ID)
		if current {
			e.lastError = err.Error()
		}
		e.logger.Warn("send failed, optimistic message rolled back",
			"session_id", sessionID,
			"request_id", requestID,
			"error", err,
		)
		return nil, &SendFailedError{
			Text:        text,
			Attachments: attachments,
			References:  references,
			Err:         err,
		}
	}

	if !current {
		// Aborted or superseded while in flight; the canonical state of a
		// stale request must not overwrite newer state.
		e.logger.Info("discarding stale send result", "request_id", requestID)
		return e.store.Snapshot(), nil
	}

	e.store.ReplaceCanonical(canonical.Messages, canonical.Draft, canonical.Status)
	e.logTurnOutcome(sessionID, requestID, canonical)
	return e.store.Snapshot(), nil
}

// Regenerate redoes the latest assistant turn. The assistant message and
// one draft-history entry are removed synchronously before the network
// call so the UI reflects the reverted state even under latency. If the
// round trip then fails the reverted state stands; there is no
// compensating re-append.
func (e *Engine) Regenerate(ctx context.Context) (*domain.Session, error) {
	e.mu.Lock()
	if err := e.sendableLocked(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if _, ok := e.store.LatestAssistantID(); !ok {
		e.mu.Unlock()
		return nil, ErrNoAssistantTurn
	}

	e.store.PopAssistantTurn()
	sessionID := e.store.SessionID()
	requestID := e.beginRequestLocked()
	e.transcripts.Log(transcript.Event{
		SessionID: sessionID,
		EventType: "regenerate",
		Meta:      map[string]any{"request_id": requestID},
	})
	e.mu.Unlock()

	canonical, err := e.client.Regenerate(ctx, sessionID, requestID)

	e.mu.Lock()
	defer e.mu.Unlock()
	current := e.finishRequestLocked(requestID)

	if err != nil {
		if current {
			e.lastError = err.Error()
		}
		return nil, fmt.Errorf("regenerate: %w", err)
	}
	if !current {
		e.logger.Info("discarding stale regenerate result", "request_id", requestID)
		return e.store.Snapshot(), nil
	}

	e.store.ReplaceCanonical(canonical.Messages, canonical.Draft, canonical.Status)
	e.logTurnOutcome(sessionID, requestID, canonical)
	return e.store.Snapshot(), nil
}

// Complete accepts the draft, promotes it into the library, and marks the
// session completed.
func (e *Engine) Complete(ctx context.Context) (domain.DraftEntity, error) {
	e.mu.Lock()
	if err := e.sendableLocked(); err != nil {
		e.mu.Unlock()
		return domain.DraftEntity{}, err
	}
	sessionID := e.store.SessionID()
	e.mu.Unlock()

	draft, err := e.client.Complete(ctx, sessionID)
	if err != nil {
		return domain.DraftEntity{}, fmt.Errorf("complete session: %w", err)
	}

	e.mu.Lock()
	if e.store != nil && e.store.SessionID() == sessionID {
		e.store.SetStatus(domain.StatusCompleted)
	}
	e.mu.Unlock()

	e.transcripts.Log(transcript.Event{
		SessionID: sessionID,
		EventType: "session_completed",
		Content:   draft.Name,
	})

	if e.library != nil {
		nowTs := e.now()
		entity := &library.Entity{
			ID:        uuid.NewString(),
			Name:      draft.Name,
			Draft:     draft.Clone(),
			AvatarID:  draft.AvatarImageID(),
			CreatedAt: nowTs,
			UpdatedAt: nowTs,
		}
		if err := e.library.SaveEntity(ctx, entity); err != nil {
			return draft, fmt.Errorf("promote draft to library: %w", err)
		}
		e.logger.Info("draft promoted", "session_id", sessionID, "entity_id", entity.ID)
		e.cacheAvatar(ctx, sessionID, entity)
	}

	return draft, nil
}

// cacheAvatar resolves the promoted entity's avatar bytes from the backend
// into the library. Best-effort: the entity is already saved, a miss here
// only means the avatar is re-fetched later.
func (e *Engine) cacheAvatar(ctx context.Context, sessionID string, entity *library.Entity) {
	if entity.AvatarID == "" {
		return
	}
	data, mimeType, err := e.client.FetchImage(ctx, sessionID, entity.AvatarID)
	if err != nil {
		e.logger.Warn("failed to fetch avatar image",
			"entity_id", entity.ID,
			"image_id", entity.AvatarID,
			"error", err,
		)
		return
	}
	if err := e.library.PutAvatar(ctx, &library.Avatar{
		EntityID: entity.ID,
		ImageID:  entity.AvatarID,
		MimeType: mimeType,
		Data:     data,
	}); err != nil {
		e.logger.Warn("failed to store avatar",
			"entity_id", entity.ID,
			"error", err,
		)
	}
}

// Cancel abandons the session: aborts any in-flight request, asks the
// backend to stop, and marks the session cancelled. Informational, not an
// error; always best-effort.
func (e *Engine) Cancel(ctx context.Context) error {
	e.mu.Lock()
	if e.store == nil {
		e.mu.Unlock()
		return ErrNoSession
	}
	sessionID := e.store.SessionID()
	// The explicit session-level cancel below covers the backend side, so
	// the request abort only clears local state here.
	e.abortRequestLocked(ctx, "")
	e.store.SetStatus(domain.StatusCancelled)
	e.lastError = ""
	e.mu.Unlock()

	// The session itself is cancelled even when no request was armed.
	if err := e.client.Cancel(ctx, sessionID); err != nil {
		e.logger.Warn("best-effort session cancellation failed",
			"session_id", sessionID,
			"error", err,
		)
	}
	e.transcripts.Log(transcript.Event{
		SessionID: sessionID,
		EventType: "session_cancelled",
	})
	return nil
}

// Abort stops the in-flight request, if any, without ending the session.
func (e *Engine) Abort(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return
	}
	e.abortRequestLocked(ctx, e.store.SessionID())
}

// Close disposes the engine: unsubscribe, best-effort request
// cancellation, clear local state. Failures are logged, never returned in
// a way that blocks disposal.
func (e *Engine) Close(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.teardownActiveLocked(ctx)
	e.closed = true
	e.store = nil

	if err := e.transcripts.Close(); err != nil {
		e.logger.Warn("failed to close transcript logger", "error", err)
	}
	e.logger.Info("creation engine closed")
}

// Session returns a snapshot of the active session, or nil.
func (e *Engine) Session() *domain.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil
	}
	return e.store.Snapshot()
}

// InFlight reports whether a request is outstanding.
func (e *Engine) InFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// LastError returns the session-level error message surfaced by the most
// recent failed request or stream, or "".
func (e *Engine) LastError() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastError
}

// Timeline recomputes the render timeline from the current snapshot:
// persisted messages, the streaming pseudo-message while a request is in
// flight, and one anchor per image generation.
func (e *Engine) Timeline() []domain.Message {
	e.mu.Lock()
	store := e.store
	var snap *StreamSnapshot
	if e.inFlight && e.correlator != nil {
		s := e.correlator.Snapshot()
		snap = &s
	}
	e.mu.Unlock()

	if store == nil {
		return nil
	}
	session := store.Snapshot()

	var streamingCalls []domain.ToolCall
	if snap != nil {
		streamingCalls = snap.ToolCalls
	}
	imagegens := DeriveImageGenerations(session.Messages, streamingCalls, e.now())
	return SequenceTimeline(session.Messages, snap, imagegens)
}

// ImageGenerations derives the current image-generation entry set.
func (e *Engine) ImageGenerations() []domain.ImageGenerationEntry {
	e.mu.Lock()
	store := e.store
	var streamingCalls []domain.ToolCall
	if e.inFlight && e.correlator != nil {
		streamingCalls = e.correlator.Snapshot().ToolCalls
	}
	e.mu.Unlock()

	if store == nil {
		return nil
	}
	return DeriveImageGenerations(store.Snapshot().Messages, streamingCalls, e.now())
}

// sendableLocked gates mutation operations.
func (e *Engine) sendableLocked() error {
	if e.closed {
		return ErrEngineClosed
	}
	if e.store == nil {
		return ErrNoSession
	}
	if e.inFlight {
		return ErrRequestInFlight
	}
	return nil
}

// beginRequestLocked tears down any stale correlator, then binds a fresh
// one to a new request id. The old subscription is always released before
// the new one exists, so a slow stale response can never apply deltas
// after a newer request has started.
func (e *Engine) beginRequestLocked() string {
	if e.correlator != nil {
		e.correlator.Teardown()
	}

	requestID := uuid.NewString()
	correlator := NewStreamCorrelator(requestID, e.now())
	unsubscribe := e.events.Subscribe(requestTopic(requestID), e.streamHandler(correlator))
	correlator.Bind(unsubscribe)

	e.correlator = correlator
	e.canceller.Arm(requestID, correlator.Teardown)
	e.inFlight = true
	e.activeRequestID = requestID
	e.lastError = ""
	return requestID
}

// streamHandler folds raw frames of one request's topic into its
// correlator. Malformed events are dropped; the stream continues.
func (e *Engine) streamHandler(correlator *StreamCorrelator) stream.Handler {
	return func(payload json.RawMessage) {
		ev, err := domain.ParseStreamEvent(payload)
		if err != nil {
			e.logger.Warn("dropping malformed stream event",
				"request_id", correlator.RequestID(),
				"error", err,
			)
			return
		}
		correlator.Apply(ev)
		if ev.Type == domain.EventError {
			e.mu.Lock()
			e.lastError = ev.Message
			e.mu.Unlock()
			e.logger.Warn("stream reported error",
				"request_id", correlator.RequestID(),
				"message", ev.Message,
			)
		}
	}
}

// finishRequestLocked releases the subscription after a round trip
// resolved either way. Scoped to the request that resolved: an aborted or
// superseded request's late resolution must not tear down its successor.
// Reports whether the request was still the active one.
func (e *Engine) finishRequestLocked(requestID string) bool {
	if e.activeRequestID != requestID {
		return false
	}
	if e.correlator != nil {
		e.correlator.Teardown()
		e.correlator = nil
	}
	e.canceller.Disarm()
	e.inFlight = false
	e.activeRequestID = ""
	return true
}

// abortRequestLocked clears in-flight state and best-effort cancels on the
// backend. An empty sessionID skips the backend call. Never mutates
// persisted messages.
func (e *Engine) abortRequestLocked(ctx context.Context, sessionID string) {
	var cancelBackend func(context.Context) error
	if sessionID != "" {
		cancelBackend = func(ctx context.Context) error {
			return e.client.Cancel(ctx, sessionID)
		}
	}
	e.canceller.Abort(ctx, cancelBackend)
	if e.correlator != nil {
		e.correlator.Teardown()
		e.correlator = nil
	}
	e.inFlight = false
	e.activeRequestID = ""
}

// teardownActiveLocked is the disposal path: unsubscribe first, then
// request cancellation, then clear local state.
func (e *Engine) teardownActiveLocked(ctx context.Context) {
	if e.pushUnsub != nil {
		e.pushUnsub()
		e.pushUnsub = nil
	}
	if e.store != nil {
		e.abortRequestLocked(ctx, e.store.SessionID())
	}
	e.lastError = ""
}

func (e *Engine) logTurnOutcome(sessionID, requestID string, canonical *domain.Session) {
	content := ""
	for i := len(canonical.Messages) - 1; i >= 0; i-- {
		if canonical.Messages[i].Role == domain.RoleAssistant {
			content = canonical.Messages[i].Content
			break
		}
	}
	e.transcripts.Log(transcript.Event{
		SessionID: sessionID,
		Role:      string(domain.RoleAssistant),
		EventType: "assistant_message",
		Content:   content,
		Meta:      map[string]any{"request_id": requestID},
	})
}
