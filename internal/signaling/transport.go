package signaling

import "context"

// MediaRequest describes which media streams a call should carry. The
// bridge itself never touches media frames; the flags are forwarded to
// the SIP stack during offer/answer and reported to subscribers.
type MediaRequest struct {
	Audio bool
	Video bool
}

// Credentials identifies this endpoint towards the SIP registrar.
type Credentials struct {
	Server   string
	Port     int
	Domain   string
	Username string
	Password string
	// Transport protocol for signaling, "udp" or "tcp".
	Protocol string
	// Candidate relay servers handed to the media layer, opaque here.
	RelayServers []string
}

// Event is a transport-level notification. The set of variants is closed;
// consumers dispatch with a type switch.
type Event interface {
	isEvent()
}

// Connected reports that the transport established its network listener.
type Connected struct{}

// Disconnected reports loss of the signaling connection. Err is nil on an
// orderly shutdown.
type Disconnected struct {
	Err error
}

// InboundSession reports a new incoming call dialog.
type InboundSession struct {
	DialogID string
	Caller   string
	Media    MediaRequest
}

// SessionEstablished reports that a dialog reached the confirmed state:
// the remote party accepted an outbound invite, or the remote party
// acknowledged our acceptance of an inbound one.
type SessionEstablished struct {
	DialogID string
}

// SessionEnded reports that the remote side closed a dialog.
type SessionEnded struct {
	DialogID string
	Reason   string
}

// SessionFailed reports a transport-level error on a live dialog.
type SessionFailed struct {
	DialogID string
	Err      error
}

func (Connected) isEvent()          {}
func (Disconnected) isEvent()       {}
func (InboundSession) isEvent()     {}
func (SessionEstablished) isEvent() {}
func (SessionEnded) isEvent()       {}
func (SessionFailed) isEvent()      {}

// Dialog end reasons reported by the transport.
const (
	EndReasonRemote    = "remote"
	EndReasonRejected  = "rejected"
	EndReasonCancelled = "cancelled"
)

// Transport abstracts the wire-level signaling stack. All methods are safe
// for concurrent use; blocking calls honor ctx cancellation.
//
// Implementations: Client (gosip-backed), plus test fakes.
type Transport interface {
	// Connect binds the local listener. It does not register.
	Connect(ctx context.Context) error

	// Register authenticates against the configured registrar. It blocks
	// until a final response or ctx expiry.
	Register(ctx context.Context) error

	// Unregister removes the binding at the registrar.
	Unregister(ctx context.Context) error

	// Invite starts an outbound dialog and returns its identifier. The
	// dialog outcome arrives later as SessionEstablished / SessionEnded /
	// SessionFailed events.
	Invite(ctx context.Context, remote string, media MediaRequest) (string, error)

	// Accept answers a previously reported inbound dialog.
	Accept(ctx context.Context, dialogID string, media MediaRequest) error

	// Reject declines a ringing inbound dialog.
	Reject(ctx context.Context, dialogID string) error

	// Cancel aborts an outbound dialog that has not been accepted yet.
	Cancel(ctx context.Context, dialogID string) error

	// Bye terminates an established dialog.
	Bye(ctx context.Context, dialogID string) error

	// Events returns the transport notification stream. The channel is
	// closed by Close.
	Events() <-chan Event

	// Close tears down the listener and releases all dialogs.
	Close() error
}
