package call

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"sip2ha/internal/signaling"
)

// Config carries the validated call-handling configuration.
type Config struct {
	// RingTimeout bounds how long an outbound invite may ring before the
	// session is cancelled with reason "timeout".
	RingTimeout time.Duration

	// AutoAnswer accepts inbound sessions after AutoAnswerDelay unless a
	// manual command gets there first.
	AutoAnswer      bool
	AutoAnswerDelay time.Duration

	// Registration retry policy.
	RegisterAttempts    uint64
	RegisterInterval    time.Duration
	RegisterExponential bool

	// SubscriberBuffer is the per-subscriber event buffer size.
	SubscriberBuffer int
}

// Orchestrator owns the session registry, the registration state and the
// event broadcaster for one SIP endpoint.
//
// All registry mutations, state transitions and broadcasts run serially on
// the Run loop, so no two transitions ever interleave. Blocking transport
// calls run on short-lived goroutines that post their outcome back onto
// the loop; every continuation re-validates session state first, since the
// session may have moved while the call was outstanding.
type Orchestrator struct {
	cfg       Config
	transport signaling.Transport
	registry  *Registry
	timeouts  *Supervisor
	events    *Broadcaster
	log       *logrus.Entry

	regState RegistrationState
	ops      chan func()
	stopped  chan struct{}
	runCtx   context.Context
}

// New creates an Orchestrator. Run must be started before commands are
// served.
func New(cfg Config, transport signaling.Transport, log *logrus.Entry) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		transport: transport,
		registry:  NewRegistry(),
		events:    NewBroadcaster(cfg.SubscriberBuffer, log),
		log:       log,
		ops:       make(chan func(), 64),
		stopped:   make(chan struct{}),
	}
	o.timeouts = NewSupervisor(o.post)
	return o
}

// Subscribe registers a lifecycle event consumer.
func (o *Orchestrator) Subscribe() *Subscriber { return o.events.Subscribe() }

// Unsubscribe removes a lifecycle event consumer.
func (o *Orchestrator) Unsubscribe(sub *Subscriber) { o.events.Unsubscribe(sub) }

// Run executes the orchestrator loop until ctx is cancelled. On exit all
// live sessions are terminated and subscribers are closed.
func (o *Orchestrator) Run(ctx context.Context) {
	o.runCtx = ctx
	defer close(o.stopped)
	defer o.events.Close()

	transportEvents := o.transport.Events()
	for {
		select {
		case <-ctx.Done():
			o.terminateAll(ReasonDisconnected)
			return
		case fn := <-o.ops:
			fn()
		case ev, ok := <-transportEvents:
			if !ok {
				o.onTransportDown(nil)
				transportEvents = nil
				continue
			}
			o.handleTransportEvent(ev)
		}
	}
}

// post hands fn to the loop without waiting for it to run.
func (o *Orchestrator) post(fn func()) {
	select {
	case o.ops <- fn:
	case <-o.stopped:
	}
}

// do runs fn on the loop and returns its error.
func (o *Orchestrator) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case o.ops <- func() { errc <- fn() }:
	case <-o.stopped:
		return ErrStopped
	}
	select {
	case err := <-errc:
		return err
	case <-o.stopped:
		return ErrStopped
	}
}

// MakeCall starts an outbound call and returns the new session id. Fails
// with ErrNotRegistered unless the endpoint holds a registrar binding.
func (o *Orchestrator) MakeCall(remoteParty string, media signaling.MediaRequest) (string, error) {
	var id string
	err := o.do(func() error {
		if o.regState != RegRegistered {
			return ErrNotRegistered
		}
		s := o.registry.CreateOutbound(remoteParty, media)
		id = s.ID
		o.log.Infof("session %s: calling %q", s.ID, remoteParty)
		o.sendInvite(s)
		return nil
	})
	return id, err
}

// AnswerCall accepts a ringing inbound session. Fails with
// ErrSessionNotFound for an unknown id and ErrInvalidSessionState for a
// session that is not ringing.
func (o *Orchestrator) AnswerCall(id string, media signaling.MediaRequest) error {
	return o.do(func() error {
		s, err := o.registry.Get(id)
		if err != nil {
			return err
		}
		if s.State != StateRinging || s.answering {
			return ErrInvalidSessionState
		}
		s.Media = media
		o.accept(s)
		return nil
	})
}

// HangupCall terminates a session in whatever state it is: a not yet
// established outbound call is cancelled, a ringing inbound call is
// rejected, an established call gets a normal bye.
func (o *Orchestrator) HangupCall(id string) error {
	return o.do(func() error {
		s, err := o.registry.Get(id)
		if err != nil {
			return err
		}
		o.hangup(s)
		return nil
	})
}

// SessionInfo is one session's row in a status snapshot.
type SessionInfo struct {
	ID          string        `json:"id"`
	Direction   string        `json:"direction"`
	State       string        `json:"state"`
	RemoteParty string        `json:"remote_party"`
	Audio       bool          `json:"audio"`
	Video       bool          `json:"video"`
	Duration    time.Duration `json:"duration"`
}

// Status is the full orchestrator snapshot; reconnecting subscribers use
// it to re-sync after missed events.
type Status struct {
	Registered        bool          `json:"registered"`
	RegistrationState string        `json:"registration_state"`
	ActiveSessions    []SessionInfo `json:"active_sessions"`
}

// Status returns a snapshot of registration and all live sessions.
func (o *Orchestrator) Status() Status {
	var st Status
	err := o.do(func() error {
		st.Registered = o.regState == RegRegistered
		st.RegistrationState = o.regState.String()
		sessions := o.registry.List()
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		})
		st.ActiveSessions = make([]SessionInfo, 0, len(sessions))
		for _, s := range sessions {
			st.ActiveSessions = append(st.ActiveSessions, SessionInfo{
				ID:          s.ID,
				Direction:   s.Direction.String(),
				State:       s.State.String(),
				RemoteParty: s.RemoteParty,
				Audio:       s.Media.Audio,
				Video:       s.Media.Video,
				Duration:    time.Since(s.CreatedAt),
			})
		}
		return nil
	})
	if err != nil {
		return Status{RegistrationState: RegDisconnected.String()}
	}
	return st
}

// sendInvite issues the transport invite for a fresh outbound session and,
// once the invite is out, moves it to Establishing and arms the ring
// timeout.
func (o *Orchestrator) sendInvite(s *Session) {
	ctx := o.runCtx
	id := s.ID
	go func() {
		dialogID, err := o.transport.Invite(ctx, s.RemoteParty, s.Media)
		o.post(func() {
			cur, getErr := o.registry.Get(id)
			if getErr != nil {
				// Hung up while the invite was in flight.
				if err == nil {
					go func() { _ = o.transport.Cancel(ctx, dialogID) }()
				}
				return
			}
			if err != nil {
				o.log.Errorf("session %s: invite failed: %v", id, err)
				o.terminate(cur, fmt.Sprintf("error: %v", err))
				return
			}
			if cur.State != StateInitial {
				return
			}
			o.registry.BindDialog(cur, dialogID)
			o.transition(cur, StateEstablishing, "")
			o.timeouts.Arm(id, o.cfg.RingTimeout, func() { o.onRingTimeout(id) })
		})
	}()
}

// accept issues the transport accept for a ringing inbound session. The
// session is marked answering so a racing second answer is rejected until
// the outcome posts back.
func (o *Orchestrator) accept(s *Session) {
	s.answering = true
	o.timeouts.Disarm(s.ID)
	ctx := o.runCtx
	id := s.ID
	dialogID := s.dialogID
	media := s.Media
	go func() {
		err := o.transport.Accept(ctx, dialogID, media)
		o.post(func() {
			cur, getErr := o.registry.Get(id)
			if getErr != nil {
				// Terminated while the accept was in flight.
				return
			}
			cur.answering = false
			if err != nil {
				o.log.Errorf("session %s: accept failed: %v", id, err)
				o.terminate(cur, fmt.Sprintf("error: %v", err))
				return
			}
			if cur.State == StateRinging {
				o.transition(cur, StateEstablished, "")
			}
		})
	}()
}

// hangup dispatches to the transport primitive matching the session's
// current state and direction, then terminates the session locally. A
// termination primitive for an established dialog is never sent to one
// that was not established, and vice versa.
func (o *Orchestrator) hangup(s *Session) {
	ctx := o.runCtx
	dialogID := s.dialogID
	switch {
	case s.State == StateEstablished:
		go func() {
			if err := o.transport.Bye(ctx, dialogID); err != nil {
				o.log.Warnf("bye failed: %v", fmt.Errorf("%w: %v", ErrTransportFailure, err))
			}
		}()
	case s.Direction == Inbound:
		go func() {
			if err := o.transport.Reject(ctx, dialogID); err != nil {
				o.log.Warnf("reject failed: %v", fmt.Errorf("%w: %v", ErrTransportFailure, err))
			}
		}()
	default:
		// Outbound, not yet established. No dialog means no invite went
		// out yet; the invite postback will see the session gone.
		if dialogID != "" {
			go func() {
				if err := o.transport.Cancel(ctx, dialogID); err != nil {
					o.log.Warnf("cancel failed: %v", fmt.Errorf("%w: %v", ErrTransportFailure, err))
				}
			}()
		}
	}
	o.terminate(s, ReasonLocal)
}

// onRingTimeout fires when an outbound session has not established within
// the configured deadline. It runs on the loop; a session that established
// or terminated in the meantime is left alone.
func (o *Orchestrator) onRingTimeout(id string) {
	s, err := o.registry.Get(id)
	if err != nil || !s.canTimeOut() {
		return
	}
	o.log.Infof("session %s: ring timeout", id)
	ctx := o.runCtx
	dialogID := s.dialogID
	if dialogID != "" {
		go func() { _ = o.transport.Cancel(ctx, dialogID) }()
	}
	o.terminate(s, ReasonTimeout)
}

// onAutoAnswer fires after the auto-answer delay. The session may have
// been answered or terminated while the deadline was pending, so its state
// is re-checked before accepting.
func (o *Orchestrator) onAutoAnswer(id string) {
	s, err := o.registry.Get(id)
	if err != nil || s.State != StateRinging || s.answering {
		return
	}
	o.log.Infof("session %s: auto-answering", id)
	o.accept(s)
}

// handleTransportEvent dispatches one transport notification on the loop.
func (o *Orchestrator) handleTransportEvent(ev signaling.Event) {
	switch ev := ev.(type) {
	case signaling.Connected:
		o.log.Info("transport connected")

	case signaling.Disconnected:
		o.onTransportDown(ev.Err)

	case signaling.InboundSession:
		s := o.registry.AdmitInbound(ev.Caller, ev.Media, ev.DialogID)
		o.log.Infof("session %s: incoming call from %q", s.ID, ev.Caller)
		o.transition(s, StateRinging, "")
		if o.cfg.AutoAnswer {
			o.timeouts.Arm(s.ID, o.cfg.AutoAnswerDelay, func() { o.onAutoAnswer(s.ID) })
		}

	case signaling.SessionEstablished:
		s, ok := o.registry.ByDialog(ev.DialogID)
		if !ok {
			o.log.Debugf("established event for unknown dialog %s ignored", ev.DialogID)
			return
		}
		// Inbound sessions are established on the accept outcome; the
		// remote ack adds nothing.
		if s.State == StateEstablishing {
			o.timeouts.Disarm(s.ID)
			o.transition(s, StateEstablished, "")
		}

	case signaling.SessionEnded:
		s, ok := o.registry.ByDialog(ev.DialogID)
		if !ok {
			o.log.Debugf("end event for unknown dialog %s ignored", ev.DialogID)
			return
		}
		o.terminate(s, ev.Reason)

	case signaling.SessionFailed:
		s, ok := o.registry.ByDialog(ev.DialogID)
		if !ok {
			o.log.Debugf("failure for unknown dialog %s ignored", ev.DialogID)
			return
		}
		o.log.Errorf("session %s: transport error: %v", s.ID, ev.Err)
		o.terminate(s, fmt.Sprintf("error: %v", ev.Err))
	}
}

// transition moves a session forward and publishes exactly one event for
// the new state. An invalid transition is fatal to that session only: it
// is force-terminated and logged, never crashing the orchestrator.
func (o *Orchestrator) transition(s *Session, next State, reason string) {
	if !s.canTransition(next) {
		o.log.Errorf("session %s: invalid transition %s -> %s, terminating", s.ID, s.State, next)
		o.terminate(s, fmt.Sprintf("error: invalid transition %s -> %s", s.State, next))
		return
	}
	o.log.Debugf("session %s: %s -> %s", s.ID, s.State, next)
	s.State = next
	switch next {
	case StateEstablishing:
		o.events.Publish(CallDialing{SessionID: s.ID, Callee: s.RemoteParty})
	case StateRinging:
		o.events.Publish(IncomingCall{SessionID: s.ID, Caller: s.RemoteParty})
	case StateEstablished:
		o.events.Publish(CallEstablished{SessionID: s.ID})
	case StateTerminated:
		o.events.Publish(CallTerminated{SessionID: s.ID, Reason: reason})
	}
}

// terminate finishes a session: the deadline is disarmed, the terminal
// event published and the session removed from the registry in one step.
func (o *Orchestrator) terminate(s *Session, reason string) {
	if s.State == StateTerminated {
		return
	}
	o.timeouts.Disarm(s.ID)
	o.log.Infof("session %s: terminated (%s)", s.ID, reason)
	s.State = StateTerminated
	o.registry.Remove(s.ID)
	o.events.Publish(CallTerminated{SessionID: s.ID, Reason: reason})
}

// terminateAll finishes every live session with the same reason.
func (o *Orchestrator) terminateAll(reason string) {
	for _, s := range o.registry.List() {
		o.terminate(s, reason)
	}
}
