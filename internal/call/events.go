package call

// Event is a lifecycle notification published to subscribers. The variant
// set is closed; every payload shape is statically known.
type Event interface {
	// EventName returns the wire name of the event variant.
	EventName() string
}

// Registered reports a successful registrar binding.
type Registered struct{}

// Unregistered reports loss of the registrar binding. After a transport
// drop with exhausted retries this is the final, persistent state.
type Unregistered struct {
	Reason string `json:"reason,omitempty"`
}

// RegistrationFailed reports one failed registration attempt.
type RegistrationFailed struct {
	Error string `json:"error"`
}

// CallDialing reports an outbound session whose invite went out.
type CallDialing struct {
	SessionID string `json:"session_id"`
	Callee    string `json:"callee"`
}

// IncomingCall reports an inbound session that started ringing.
type IncomingCall struct {
	SessionID string `json:"session_id"`
	Caller    string `json:"caller"`
}

// CallEstablished reports a session that reached the active state.
type CallEstablished struct {
	SessionID string `json:"session_id"`
}

// CallTerminated reports a session that ended. Reason is one of "local",
// "remote", "rejected", "cancelled", "timeout", "disconnected" or an
// "error: ..." string.
type CallTerminated struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

func (Registered) EventName() string         { return "registered" }
func (Unregistered) EventName() string       { return "unregistered" }
func (RegistrationFailed) EventName() string { return "registration_failed" }
func (CallDialing) EventName() string        { return "call_dialing" }
func (IncomingCall) EventName() string       { return "incoming_call" }
func (CallEstablished) EventName() string    { return "call_established" }
func (CallTerminated) EventName() string     { return "call_terminated" }

// Termination reason codes.
const (
	ReasonLocal        = "local"
	ReasonRemote       = "remote"
	ReasonRejected     = "rejected"
	ReasonCancelled    = "cancelled"
	ReasonTimeout      = "timeout"
	ReasonDisconnected = "disconnected"
)
