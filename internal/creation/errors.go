// Package creation implements the client-side engine of an AI-assisted
// creation session: the canonical session store, the stream correlator for
// in-flight requests, tool-call and image-generation derivation, the
// timeline sequencer, and cooperative cancellation.
package creation

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSession is returned when an operation needs an active session.
	ErrNoSession = errors.New("no active session")

	// ErrRequestInFlight is returned when a second send or regenerate is
	// attempted while one is still outstanding. At most one request per
	// session is enforced here, not by disabled UI controls.
	ErrRequestInFlight = errors.New("a request is already in flight for this session")

	// ErrNoAssistantTurn is returned by regenerate when the session has no
	// assistant message to redo.
	ErrNoAssistantTurn = errors.New("no assistant turn to regenerate")

	// ErrEngineClosed is returned after the engine has been disposed.
	ErrEngineClosed = errors.New("engine closed")
)

// SendFailedError reports a failed send round trip. The optimistic message
// has already been rolled back; the original inputs travel back to the
// caller so nothing is lost on retry.
type SendFailedError struct {
	Text        string
	Attachments []string
	References  []string
	Err         error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("send failed (input restored): %v", e.Err)
}

func (e *SendFailedError) Unwrap() error {
	return e.Err
}
