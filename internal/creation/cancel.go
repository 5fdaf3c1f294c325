package creation

import (
	"context"
	"log/slog"
	"sync"
)

// CancellationController owns the active request identifier and its
// subscription teardown handle. Abort is cooperative and non-blocking:
// local state is cleared immediately whether or not the backend ever
// confirms the cancellation.
type CancellationController struct {
	logger *slog.Logger

	mu        sync.Mutex
	requestID string
	teardown  func()
}

// NewCancellationController creates an empty controller.
func NewCancellationController(logger *slog.Logger) *CancellationController {
	if logger == nil {
		logger = slog.Default()
	}
	return &CancellationController{logger: logger}
}

// Arm records the request that is now in flight. Any previously armed
// request's subscription is torn down first.
func (c *CancellationController) Arm(requestID string, teardown func()) {
	c.mu.Lock()
	prev := c.teardown
	c.requestID = requestID
	c.teardown = teardown
	c.mu.Unlock()

	if prev != nil {
		prev()
	}
}

// Disarm clears the controller after a request resolved normally.
func (c *CancellationController) Disarm() {
	c.mu.Lock()
	c.requestID = ""
	c.teardown = nil
	c.mu.Unlock()
}

// ActiveRequestID returns the armed request id, or "".
func (c *CancellationController) ActiveRequestID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestID
}

// Abort tears down the subscription and asks the backend to stop, in that
// order. The backend call is best-effort: a failure is logged and local
// state is cleared regardless, so the caller never waits on an
// acknowledgment. Persisted messages are never touched here.
func (c *CancellationController) Abort(ctx context.Context, cancelBackend func(context.Context) error) {
	c.mu.Lock()
	requestID := c.requestID
	teardown := c.teardown
	c.requestID = ""
	c.teardown = nil
	c.mu.Unlock()

	if teardown != nil {
		teardown()
	}
	if requestID == "" || cancelBackend == nil {
		return
	}
	// Fire and forget: the caller must not wait on the backend's
	// acknowledgment, and the caller's context may be about to die.
	go func() {
		if err := cancelBackend(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("best-effort request cancellation failed",
				"request_id", requestID,
				"error", err,
			)
		}
	}()
}
