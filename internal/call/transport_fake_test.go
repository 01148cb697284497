package call

import (
	"context"
	"fmt"
	"sync"

	"sip2ha/internal/signaling"
)

// fakeTransport records signaling commands and lets tests inject transport
// events.
type fakeTransport struct {
	mu sync.Mutex

	events chan signaling.Event

	registerErr   error
	registerCalls int
	nextDialog    int

	invites   []string
	accepts   []string
	rejects   []string
	cancels   []string
	byes      []string
	inviteErr error
	acceptErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan signaling.Event, 64)}
}

func (f *fakeTransport) Connect(ctx context.Context) error { return nil }

func (f *fakeTransport) Register(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCalls++
	return f.registerErr
}

func (f *fakeTransport) Unregister(ctx context.Context) error { return nil }

func (f *fakeTransport) Invite(ctx context.Context, remote string, media signaling.MediaRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inviteErr != nil {
		return "", f.inviteErr
	}
	f.nextDialog++
	id := fmt.Sprintf("dlg-%d", f.nextDialog)
	f.invites = append(f.invites, id)
	return id, nil
}

func (f *fakeTransport) Accept(ctx context.Context, dialogID string, media signaling.MediaRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acceptErr != nil {
		return f.acceptErr
	}
	f.accepts = append(f.accepts, dialogID)
	return nil
}

func (f *fakeTransport) Reject(ctx context.Context, dialogID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects = append(f.rejects, dialogID)
	return nil
}

func (f *fakeTransport) Cancel(ctx context.Context, dialogID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, dialogID)
	return nil
}

func (f *fakeTransport) Bye(ctx context.Context, dialogID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byes = append(f.byes, dialogID)
	return nil
}

func (f *fakeTransport) Events() <-chan signaling.Event { return f.events }

func (f *fakeTransport) Close() error {
	close(f.events)
	return nil
}

func (f *fakeTransport) emit(ev signaling.Event) { f.events <- ev }

func (f *fakeTransport) recorded(kind string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var src []string
	switch kind {
	case "invite":
		src = f.invites
	case "accept":
		src = f.accepts
	case "reject":
		src = f.rejects
	case "cancel":
		src = f.cancels
	case "bye":
		src = f.byes
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

func (f *fakeTransport) registerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registerCalls
}
