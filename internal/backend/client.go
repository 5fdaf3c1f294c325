// Package backend provides the HTTP client for the creation backend's
// lifecycle calls. Streaming events arrive separately over the event
// channel; this client only does request/response round trips.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/LettuceAI/creation-engine/internal/domain"
)

var (
	errBackendRejected = errors.New("backend rejected request")
	errEmptyResponse   = errors.New("backend returned empty response")
)

// MessageRequest carries one user turn to the backend.
type MessageRequest struct {
	Text        string   `json:"text"`
	Attachments []string `json:"attachments,omitempty"`
	References  []string `json:"references,omitempty"`
	RequestID   string   `json:"request_id,omitempty"`
}

// Client is the lifecycle surface of the creation backend.
type Client interface {
	Start(ctx context.Context, goal string) (*domain.Session, error)
	SendMessage(ctx context.Context, sessionID string, req MessageRequest) (*domain.Session, error)
	Regenerate(ctx context.Context, sessionID, requestID string) (*domain.Session, error)
	Complete(ctx context.Context, sessionID string) (domain.DraftEntity, error)
	Cancel(ctx context.Context, sessionID string) error
	FetchImage(ctx context.Context, sessionID, imageID string) (data []byte, mimeType string, err error)
}

// HTTPClient implements Client over HTTP/JSON.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a client against the given base URL. No request
// timeout is applied: a send can legitimately stay open for as long as the
// backend streams; the user aborts via cancellation.
func NewHTTPClient(baseURL string, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
		logger:  logger,
	}
}

// Start begins a new creation session.
func (c *HTTPClient) Start(ctx context.Context, goal string) (*domain.Session, error) {
	var session domain.Session
	err := c.postJSON(ctx, "/v1/creation/start", map[string]string{"goal": goal}, &session)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("start session: %w", errEmptyResponse)
	}
	return &session, nil
}

// SendMessage delivers a user turn and returns the canonical session.
func (c *HTTPClient) SendMessage(ctx context.Context, sessionID string, req MessageRequest) (*domain.Session, error) {
	var session domain.Session
	path := "/v1/creation/" + sessionID + "/message"
	if err := c.postJSON(ctx, path, req, &session); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &session, nil
}

// Regenerate asks the backend to redo the latest assistant turn.
func (c *HTTPClient) Regenerate(ctx context.Context, sessionID, requestID string) (*domain.Session, error) {
	var session domain.Session
	path := "/v1/creation/" + sessionID + "/regenerate"
	body := map[string]string{}
	if requestID != "" {
		body["request_id"] = requestID
	}
	if err := c.postJSON(ctx, path, body, &session); err != nil {
		return nil, fmt.Errorf("regenerate: %w", err)
	}
	return &session, nil
}

// Complete accepts the draft and returns its final form.
func (c *HTTPClient) Complete(ctx context.Context, sessionID string) (domain.DraftEntity, error) {
	var draft domain.DraftEntity
	path := "/v1/creation/" + sessionID + "/complete"
	if err := c.postJSON(ctx, path, struct{}{}, &draft); err != nil {
		return domain.DraftEntity{}, fmt.Errorf("complete session: %w", err)
	}
	return draft, nil
}

// Cancel asks the backend to stop any in-flight work for the session.
func (c *HTTPClient) Cancel(ctx context.Context, sessionID string) error {
	path := "/v1/creation/" + sessionID + "/cancel"
	if err := c.postJSON(ctx, path, struct{}{}, nil); err != nil {
		return fmt.Errorf("cancel session: %w", err)
	}
	return nil
}

// FetchImage retrieves a generated image by its opaque id.
func (c *HTTPClient) FetchImage(ctx context.Context, sessionID, imageID string) ([]byte, string, error) {
	url := c.baseURL + "/v1/creation/" + sessionID + "/images/" + imageID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build image request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer closeBody(resp.Body, c.logger)

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image: %w", statusError(resp))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read image body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp.Body, c.logger)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError extracts the backend's {"error": "..."} payload if present.
func statusError(resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("%w: %s (status %d)", errBackendRejected, payload.Error, resp.StatusCode)
	}
	return fmt.Errorf("%w: status %d", errBackendRejected, resp.StatusCode)
}

func closeBody(body io.ReadCloser, logger *slog.Logger) {
	if err := body.Close(); err != nil {
		logger.Debug("failed to close response body", "error", err)
	}
}
