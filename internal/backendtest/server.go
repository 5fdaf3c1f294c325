// Package backendtest provides an in-process stub of the creation backend:
// the HTTP lifecycle surface plus the WebSocket event channel. Tests script
// its behavior through the exported hook funcs and push events with Publish.
package backendtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/LettuceAI/creation-engine/internal/domain"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// SendRequest mirrors the wire shape of a message round trip.
type SendRequest struct {
	Text        string   `json:"text"`
	Attachments []string `json:"attachments"`
	References  []string `json:"references"`
	RequestID   string   `json:"request_id"`
}

// Server is the scripted stub backend.
type Server struct {
	HTTP *httptest.Server

	// Hooks scripting each lifecycle call. Set before driving the client.
	StartFunc      func(goal string) (*domain.Session, error)
	SendFunc       func(sessionID string, req SendRequest) (*domain.Session, error)
	RegenerateFunc func(sessionID, requestID string) (*domain.Session, error)
	CompleteFunc   func(sessionID string) (domain.DraftEntity, error)
	CancelFunc     func(sessionID string) error

	mu        sync.Mutex
	conn      *websocket.Conn
	connReady chan struct{}
	readyOnce sync.Once
	cancelled []string
}

// New starts the stub with greeting-session defaults.
func New() *Server {
	s := &Server{connReady: make(chan struct{})}

	s.StartFunc = func(goal string) (*domain.Session, error) {
		now := time.Now()
		return &domain.Session{
			ID: "sess-1",
			Messages: []domain.Message{{
				ID:        "msg-greeting",
				Role:      domain.RoleAssistant,
				Content:   "Hi! Let's create something together.",
				CreatedAt: now,
			}},
			Status:    domain.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	}

	r := chi.NewRouter()
	r.Post("/v1/creation/start", s.handleStart)
	r.Post("/v1/creation/{sessionID}/message", s.handleMessage)
	r.Post("/v1/creation/{sessionID}/regenerate", s.handleRegenerate)
	r.Post("/v1/creation/{sessionID}/complete", s.handleComplete)
	r.Post("/v1/creation/{sessionID}/cancel", s.handleCancel)
	r.Get("/v1/events", s.handleEvents)

	s.HTTP = httptest.NewServer(r)
	return s
}

// EventsURL returns the WebSocket URL of the event channel.
func (s *Server) EventsURL() string {
	return "ws" + strings.TrimPrefix(s.HTTP.URL, "http") + "/v1/events"
}

// Close shuts the stub down.
func (s *Server) Close() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "test over")
	}
	s.HTTP.Close()
}

// Publish emits one event on a topic, waiting briefly for the client's
// event-channel connection if it has not arrived yet.
func (s *Server) Publish(topic string, event any) error {
	select {
	case <-s.connReady:
	case <-time.After(2 * time.Second):
		return fmt.Errorf("no event channel connection")
	}

	payload, err := json.Marshal(map[string]any{"topic": topic, "event": event})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(context.Background(), websocket.MessageText, payload)
}

// PublishRaw emits a pre-encoded frame, malformed ones included.
func (s *Server) PublishRaw(frame []byte) error {
	select {
	case <-s.connReady:
	case <-time.After(2 * time.Second):
		return fmt.Errorf("no event channel connection")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(context.Background(), websocket.MessageText, frame)
}

// Cancelled returns the session ids the client asked to cancel.
func (s *Server) Cancelled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancelled...)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Goal string `json:"goal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.StartFunc(req.Goal)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if s.SendFunc == nil {
		writeError(w, http.StatusNotImplemented, "send not scripted")
		return
	}
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.SendFunc(chi.URLParam(r, "sessionID"), req)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	if s.RegenerateFunc == nil {
		writeError(w, http.StatusNotImplemented, "regenerate not scripted")
		return
	}
	var req struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	session, err := s.RegenerateFunc(chi.URLParam(r, "sessionID"), req.RequestID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if s.CompleteFunc == nil {
		writeError(w, http.StatusNotImplemented, "complete not scripted")
		return
	}
	draft, err := s.CompleteFunc(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s.mu.Lock()
	s.cancelled = append(s.cancelled, sessionID)
	s.mu.Unlock()

	if s.CancelFunc != nil {
		if err := s.CancelFunc(sessionID); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	// Server-to-client only; keep control frames flowing.
	conn.CloseRead(context.Background())

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.connReady) })
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
