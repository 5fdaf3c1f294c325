package creation_test

import (
	"context"
	"testing"
	"time"

	"github.com/LettuceAI/creation-engine/internal/backend"
	"github.com/LettuceAI/creation-engine/internal/backendtest"
	"github.com/LettuceAI/creation-engine/internal/creation"
	"github.com/LettuceAI/creation-engine/internal/domain"
	"github.com/LettuceAI/creation-engine/internal/stream"
)

// Drives the engine through the real HTTP client and WebSocket dispatcher
// against the stub backend, end to end.
func TestEngineOverWire(t *testing.T) {
	t.Parallel()

	server := backendtest.New()
	defer server.Close()

	dispatcher := stream.NewDispatcher(server.EventsURL(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dispatcher.Open(ctx); err != nil {
		t.Fatalf("failed to open event channel: %v", err)
	}
	defer dispatcher.Close()

	client := backend.NewHTTPClient(server.HTTP.URL, nil)
	engine := creation.NewEngine(client, dispatcher, creation.Options{})
	defer engine.Close(context.Background())

	session, err := engine.Start(context.Background(), "a pirate captain")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if session.ID != "sess-1" || len(session.Messages) != 1 {
		t.Fatalf("Expected greeting session, got %+v", session)
	}

	// The send round trip blocks on the stub until we saw the stream
	// frames delivered, so the timeline can be observed mid-flight.
	sendEntered := make(chan string, 1)
	release := make(chan struct{})
	server.SendFunc = func(sessionID string, req backendtest.SendRequest) (*domain.Session, error) {
		sendEntered <- req.RequestID
		<-release
		now := time.Now()
		return &domain.Session{
			ID: sessionID,
			Messages: []domain.Message{
				{ID: "srv-u1", Role: domain.RoleUser, Content: req.Text, CreatedAt: now.Add(-time.Second)},
				{ID: "srv-a1", Role: domain.RoleAssistant, Content: "She is called Mara.", CreatedAt: now},
			},
			Draft:  domain.DraftEntity{Name: "Mara"},
			Status: domain.StatusActive,
		}, nil
	}

	sendDone := make(chan error, 1)
	go func() {
		_, err := engine.Send(context.Background(), "name her", nil, nil)
		sendDone <- err
	}()

	var requestID string
	select {
	case requestID = <-sendEntered:
	case <-time.After(2 * time.Second):
		t.Fatal("send never reached the stub backend")
	}

	topic := "creation/" + requestID
	if err := server.Publish(topic, map[string]string{"type": "delta", "text": "She is "}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := server.Publish(topic, map[string]string{"type": "delta", "text": "called Mara."}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, func() bool {
		for _, msg := range engine.Timeline() {
			if msg.ID == "streaming-"+requestID && msg.Content == "She is called Mara." {
				return true
			}
		}
		return false
	})

	close(release)
	if err := <-sendDone; err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	session = engine.Session()
	if session.Draft.Name != "Mara" {
		t.Errorf("Expected canonical draft applied, got %+v", session.Draft)
	}
	if engine.InFlight() {
		t.Error("Expected request resolved")
	}

	// Out-of-band push on the session topic updates canonical state.
	if err := server.Publish("session/sess-1", domain.SessionPush{
		SessionID: "sess-1",
		Draft:     domain.DraftEntity{Name: "Mara", Description: "a pirate captain"},
		Status:    domain.StatusPreviewShown,
		Messages:  session.Messages,
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	waitFor(t, func() bool {
		return engine.Session().Status == domain.StatusPreviewShown
	})

	if err := engine.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	waitFor(t, func() bool {
		cancelled := server.Cancelled()
		return len(cancelled) == 1 && cancelled[0] == "sess-1"
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}
