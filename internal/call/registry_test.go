package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sip2ha/internal/signaling"
)

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry()

	s := r.CreateOutbound("bob", signaling.MediaRequest{Audio: true})
	require.NotEmpty(t, s.ID)
	assert.Equal(t, Outbound, s.Direction)
	assert.Equal(t, StateInitial, s.State)
	assert.False(t, s.CreatedAt.IsZero())

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRegistryIdentifiersAreUnique(t *testing.T) {
	r := NewRegistry()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		s := r.CreateOutbound("bob", signaling.MediaRequest{Audio: true})
		assert.False(t, seen[s.ID])
		seen[s.ID] = true
	}
}

func TestRegistryAdmitInboundIndexesDialog(t *testing.T) {
	r := NewRegistry()
	s := r.AdmitInbound("alice", signaling.MediaRequest{Audio: true}, "dlg-1")

	assert.Equal(t, Inbound, s.Direction)
	got, ok := r.ByDialog("dlg-1")
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestRegistryBindDialog(t *testing.T) {
	r := NewRegistry()
	s := r.CreateOutbound("bob", signaling.MediaRequest{Audio: true})

	_, ok := r.ByDialog("dlg-9")
	require.False(t, ok)

	r.BindDialog(s, "dlg-9")
	got, ok := r.ByDialog("dlg-9")
	require.True(t, ok)
	assert.Same(t, s, got)
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	s := r.AdmitInbound("alice", signaling.MediaRequest{Audio: true}, "dlg-1")

	r.Remove(s.ID)
	_, err := r.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, ok := r.ByDialog("dlg-1")
	assert.False(t, ok)
	assert.Zero(t, r.Len())

	// Removing again is a no-op.
	r.Remove(s.ID)
}
