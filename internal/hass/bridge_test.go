package hass

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sip2ha/internal/call"
)

type recordedState struct {
	Entity string
	State  string
	Attrs  map[string]any
	Auth   string
}

type fakeHass struct {
	mu     sync.Mutex
	states []recordedState
}

func (f *fakeHass) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			State      string         `json:"state"`
			Attributes map[string]any `json:"attributes"`
		}
		_ = json.Unmarshal(body, &payload)

		f.mu.Lock()
		f.states = append(f.states, recordedState{
			Entity: r.URL.Path[len("/api/states/"):],
			State:  payload.State,
			Attrs:  payload.Attributes,
			Auth:   r.Header.Get("Authorization"),
		})
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
}

func (f *fakeHass) recorded() []recordedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedState, len(f.states))
	copy(out, f.states)
	return out
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("prefix", "test")
}

func TestBridgeMirrorsEvents(t *testing.T) {
	fake := &fakeHass{}
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	b := NewBridge(ts.URL, "tok", "frontdoor", testLogger())
	ctx := context.Background()

	b.apply(ctx, call.Registered{})
	b.apply(ctx, call.IncomingCall{SessionID: "s1", Caller: "alice"})
	b.apply(ctx, call.CallEstablished{SessionID: "s1"})
	b.apply(ctx, call.CallTerminated{SessionID: "s1", Reason: call.ReasonRemote})
	b.apply(ctx, call.Unregistered{Reason: "disconnected"})

	states := fake.recorded()
	require.Len(t, states, 5)

	assert.Equal(t, "binary_sensor.frontdoor_registered", states[0].Entity)
	assert.Equal(t, "on", states[0].State)
	assert.Equal(t, "Bearer tok", states[0].Auth)

	assert.Equal(t, "sensor.frontdoor_call", states[1].Entity)
	assert.Equal(t, "ringing", states[1].State)
	assert.Equal(t, "alice", states[1].Attrs["remote_party"])

	assert.Equal(t, "in_call", states[2].State)
	assert.Equal(t, "idle", states[3].State)
	assert.Equal(t, "remote", states[3].Attrs["reason"])

	assert.Equal(t, "off", states[4].State)
}

func TestBridgeRunConsumesSubscription(t *testing.T) {
	fake := &fakeHass{}
	ts := httptest.NewServer(fake.handler())
	defer ts.Close()

	b := NewBridge(ts.URL, "tok", "sip2ha", testLogger())
	brd := call.NewBroadcaster(8, testLogger())
	sub := brd.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx, sub)
	}()

	brd.Publish(call.Registered{})
	assert.Eventually(t, func() bool {
		return len(fake.recorded()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestBridgeSurvivesServerErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()

	b := NewBridge(ts.URL, "tok", "sip2ha", testLogger())
	// Must log and carry on, never panic or block.
	b.apply(context.Background(), call.Registered{})
	b.apply(context.Background(), call.CallEstablished{SessionID: "s1"})
}
