package call

import "errors"

// Command error taxonomy. Callers classify with errors.Is; the API layer
// maps these onto HTTP status codes.
var (
	// ErrNotRegistered rejects call commands while the endpoint has no
	// registrar binding. Retry after registration.
	ErrNotRegistered = errors.New("not registered")

	// ErrSessionNotFound reports a stale or unknown session identifier.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSessionState reports a command that is not valid for the
	// session's current state, e.g. answering an established call.
	ErrInvalidSessionState = errors.New("invalid session state")

	// ErrTransportFailure wraps a signaling operation the transport
	// rejected. The affected session is force-terminated.
	ErrTransportFailure = errors.New("transport failure")

	// ErrStopped rejects commands after the orchestrator loop exited.
	ErrStopped = errors.New("orchestrator stopped")
)
