package hass

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"sip2ha/internal/call"
)

// Bridge mirrors registration and call state into Home Assistant entities
// through its REST API. It is one subscriber among others: publishing is
// fire and forget, failures are logged and never block the orchestrator.
type Bridge struct {
	baseURL string
	token   string
	prefix  string
	client  *http.Client
	log     *logrus.Entry
}

// NewBridge creates a Bridge targeting the Home Assistant instance at
// baseURL, authenticating with a long-lived access token.
func NewBridge(baseURL, token, prefix string, log *logrus.Entry) *Bridge {
	return &Bridge{
		baseURL: baseURL,
		token:   token,
		prefix:  prefix,
		client:  &http.Client{Timeout: 5 * time.Second},
		log:     log,
	}
}

// Run consumes the subscription until ctx is cancelled or the channel
// closes. The caller owns the subscription's registration.
func (b *Bridge) Run(ctx context.Context, sub *call.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			b.apply(ctx, ev)
		}
	}
}

func (b *Bridge) apply(ctx context.Context, ev call.Event) {
	switch ev := ev.(type) {
	case call.Registered:
		b.setState(ctx, b.entity("binary_sensor", "registered"), "on", nil)
	case call.Unregistered:
		b.setState(ctx, b.entity("binary_sensor", "registered"), "off", map[string]any{
			"reason": ev.Reason,
		})
	case call.RegistrationFailed:
		b.setState(ctx, b.entity("binary_sensor", "registered"), "off", map[string]any{
			"error": ev.Error,
		})
	case call.CallDialing:
		b.setState(ctx, b.entity("sensor", "call"), "dialing", map[string]any{
			"session_id":   ev.SessionID,
			"remote_party": ev.Callee,
		})
	case call.IncomingCall:
		b.setState(ctx, b.entity("sensor", "call"), "ringing", map[string]any{
			"session_id":   ev.SessionID,
			"remote_party": ev.Caller,
		})
	case call.CallEstablished:
		b.setState(ctx, b.entity("sensor", "call"), "in_call", map[string]any{
			"session_id": ev.SessionID,
		})
	case call.CallTerminated:
		b.setState(ctx, b.entity("sensor", "call"), "idle", map[string]any{
			"session_id": ev.SessionID,
			"reason":     ev.Reason,
		})
	}
}

func (b *Bridge) entity(domain, suffix string) string {
	return fmt.Sprintf("%s.%s_%s", domain, b.prefix, suffix)
}

type stateUpdate struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (b *Bridge) setState(ctx context.Context, entity, state string, attrs map[string]any) {
	body, err := json.Marshal(stateUpdate{State: state, Attributes: attrs})
	if err != nil {
		b.log.Warnf("marshal state for %s: %v", entity, err)
		return
	}

	url := fmt.Sprintf("%s/api/states/%s", b.baseURL, entity)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		b.log.Warnf("build state request for %s: %v", entity, err)
		return
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("Content-Type", "application/json")

	res, err := b.client.Do(req)
	if err != nil {
		b.log.Warnf("push state for %s: %v", entity, err)
		return
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		b.log.Warnf("push state for %s: %s", entity, res.Status)
		return
	}
	b.log.Debugf("entity %s set to %q", entity, state)
}
