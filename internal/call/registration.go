package call

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RegistrationState is the process-wide connection state towards the
// registrar, owned by the orchestrator and mutated only on transport
// events or explicit connect/disconnect commands.
type RegistrationState int

const (
	RegDisconnected RegistrationState = iota
	RegConnecting
	RegRegistered
	RegUnregistering
)

func (s RegistrationState) String() string {
	switch s {
	case RegDisconnected:
		return "disconnected"
	case RegConnecting:
		return "connecting"
	case RegRegistered:
		return "registered"
	case RegUnregistering:
		return "unregistering"
	default:
		return "unknown"
	}
}

// registerBackoff builds the bounded retry policy for registration
// attempts from the orchestrator configuration.
func (o *Orchestrator) registerBackoff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if o.cfg.RegisterExponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = o.cfg.RegisterInterval
		b = eb
	} else {
		b = backoff.NewConstantBackOff(o.cfg.RegisterInterval)
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, o.cfg.RegisterAttempts), ctx)
}

// Connect drives the transport's connect and register sequence. Failed
// registration attempts are retried per the configured policy; each
// failure publishes a registration_failed event. Exhausted attempts settle
// in Disconnected and publish a persistent unregistered event.
func (o *Orchestrator) Connect() error {
	return o.do(func() error {
		if o.regState != RegDisconnected {
			return nil
		}
		o.regState = RegConnecting
		ctx := o.runCtx

		go func() {
			err := o.transport.Connect(ctx)
			if err == nil {
				attempt := func() error {
					return o.transport.Register(ctx)
				}
				notify := func(err error, next time.Duration) {
					o.log.Warnf("registration attempt failed, next in %s: %v", next, err)
					o.post(func() {
						o.events.Publish(RegistrationFailed{Error: err.Error()})
					})
				}
				err = backoff.RetryNotify(attempt, o.registerBackoff(ctx), notify)
			}

			o.post(func() {
				if o.regState != RegConnecting {
					return
				}
				if err != nil {
					o.log.Errorf("connect failed: %v", err)
					o.regState = RegDisconnected
					// The last attempt's failure is not reported through
					// the retry notifier, so publish it here.
					o.events.Publish(RegistrationFailed{Error: err.Error()})
					o.events.Publish(Unregistered{Reason: "registration failed"})
					return
				}
				o.regState = RegRegistered
				o.events.Publish(Registered{})
			})
		}()
		return nil
	})
}

// Disconnect unregisters and settles in Disconnected. Live sessions are
// terminated first so none survives the binding.
func (o *Orchestrator) Disconnect() error {
	return o.do(func() error {
		if o.regState == RegDisconnected || o.regState == RegUnregistering {
			return nil
		}
		o.regState = RegUnregistering
		o.terminateAll(ReasonDisconnected)
		ctx := o.runCtx

		go func() {
			if err := o.transport.Unregister(ctx); err != nil {
				o.log.Warnf("unregister failed: %v", err)
			}
			o.post(func() {
				if o.regState != RegUnregistering {
					return
				}
				o.regState = RegDisconnected
				o.events.Publish(Unregistered{Reason: ReasonLocal})
			})
		}()
		return nil
	})
}

// onTransportDown reacts to a transport-level disconnect: every live
// session is terminated (no orphans survive a transport drop) and the
// registration state falls back to Disconnected.
func (o *Orchestrator) onTransportDown(err error) {
	o.terminateAll(ReasonDisconnected)
	if o.regState == RegDisconnected {
		return
	}
	o.regState = RegDisconnected
	reason := ReasonDisconnected
	if err != nil {
		o.log.Errorf("transport disconnected: %v", err)
	}
	o.events.Publish(Unregistered{Reason: reason})
}
