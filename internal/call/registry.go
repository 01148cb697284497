package call

import (
	"time"

	"github.com/google/uuid"

	"sip2ha/internal/signaling"
)

// Registry is the authoritative table of in-flight sessions. It is a pure
// store: transition decisions live in the orchestrator. All access happens
// on the orchestrator loop, so no locking is needed.
//
// Identifiers are random UUIDs assigned at creation and never reused.
type Registry struct {
	sessions map[string]*Session
	byDialog map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byDialog: make(map[string]string),
	}
}

// CreateOutbound adds a session for a locally initiated call, in Initial
// state with no transport dialog yet.
func (r *Registry) CreateOutbound(remoteParty string, media signaling.MediaRequest) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		Direction:   Outbound,
		State:       StateInitial,
		RemoteParty: remoteParty,
		Media:       media,
		CreatedAt:   time.Now(),
	}
	r.sessions[s.ID] = s
	return s
}

// AdmitInbound adds a session for a remotely initiated call, bound to its
// transport dialog from the start.
func (r *Registry) AdmitInbound(remoteParty string, media signaling.MediaRequest, dialogID string) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		Direction:   Inbound,
		State:       StateInitial,
		RemoteParty: remoteParty,
		Media:       media,
		CreatedAt:   time.Now(),
		dialogID:    dialogID,
	}
	r.sessions[s.ID] = s
	r.byDialog[dialogID] = s.ID
	return s
}

// Get returns the session with the given identifier, or ErrSessionNotFound
// for an unknown or already-removed one.
func (r *Registry) Get(id string) (*Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// ByDialog resolves a transport dialog identifier to its session.
func (r *Registry) ByDialog(dialogID string) (*Session, bool) {
	id, ok := r.byDialog[dialogID]
	if !ok {
		return nil, false
	}
	s, ok := r.sessions[id]
	return s, ok
}

// BindDialog links an outbound session to the dialog the transport
// assigned when its invite went out.
func (r *Registry) BindDialog(s *Session, dialogID string) {
	s.dialogID = dialogID
	r.byDialog[dialogID] = s.ID
}

// Remove deletes a session and its dialog index entry. Removing an unknown
// identifier is a no-op.
func (r *Registry) Remove(id string) {
	s, ok := r.sessions[id]
	if !ok {
		return
	}
	if s.dialogID != "" {
		delete(r.byDialog, s.dialogID)
	}
	delete(r.sessions, id)
}

// List returns a snapshot of all live sessions.
func (r *Registry) List() []*Session {
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int { return len(r.sessions) }
