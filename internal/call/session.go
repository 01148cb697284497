package call

import (
	"time"

	"sip2ha/internal/signaling"
)

// Direction tags a session as locally or remotely initiated.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outbound"
	case Inbound:
		return "inbound"
	default:
		return "unknown"
	}
}

// State is a session's position in its lifecycle. Establishing is reachable
// only for outbound sessions, Ringing only for inbound ones. Terminated is
// a removal trigger, not a resting state: a session never stays in the
// registry once it gets there.
type State int

const (
	StateInitial State = iota
	StateEstablishing
	StateRinging
	StateEstablished
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateEstablishing:
		return "establishing"
	case StateRinging:
		return "ringing"
	case StateEstablished:
		return "established"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session is one call attempt or active call. It is created and mutated
// exclusively on the orchestrator loop.
type Session struct {
	ID          string
	Direction   Direction
	State       State
	RemoteParty string
	Media       signaling.MediaRequest
	CreatedAt   time.Time

	// dialogID links the session to its transport dialog. Empty for an
	// outbound session whose invite has not gone out yet.
	dialogID string

	// answering marks an inbound session whose accept is in flight at the
	// transport, blocking a second answer until the outcome posts back.
	answering bool
}

// canTransition reports whether moving to next is a valid forward step for
// this session. Transitions never reappear after Terminated.
func (s *Session) canTransition(next State) bool {
	if s.State == StateTerminated {
		return false
	}
	switch next {
	case StateEstablishing:
		return s.Direction == Outbound && s.State == StateInitial
	case StateRinging:
		return s.Direction == Inbound && s.State == StateInitial
	case StateEstablished:
		if s.Direction == Outbound {
			return s.State == StateEstablishing
		}
		return s.State == StateRinging
	case StateTerminated:
		return true
	default:
		return false
	}
}

// canTimeOut reports whether the session is in a state that may still hold
// an armed deadline.
func (s *Session) canTimeOut() bool {
	switch s.State {
	case StateInitial, StateEstablishing, StateRinging:
		return true
	default:
		return false
	}
}
