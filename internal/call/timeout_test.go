package call

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSupervisorFiresOnce(t *testing.T) {
	s := NewSupervisor(func(fn func()) { fn() })
	var fired atomic.Int32

	s.Arm("a", 20*time.Millisecond, func() { fired.Add(1) })

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestSupervisorDisarmPreventsFiring(t *testing.T) {
	s := NewSupervisor(func(fn func()) { fn() })
	var fired atomic.Int32

	s.Arm("a", 30*time.Millisecond, func() { fired.Add(1) })
	s.Disarm("a")

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestSupervisorDisarmIsIdempotent(t *testing.T) {
	s := NewSupervisor(func(fn func()) { fn() })
	var fired atomic.Int32

	// Never armed.
	s.Disarm("ghost")

	// Already fired.
	s.Arm("a", 5*time.Millisecond, func() { fired.Add(1) })
	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	s.Disarm("a")
	s.Disarm("a")
}

func TestSupervisorRearmReplacesDeadline(t *testing.T) {
	s := NewSupervisor(func(fn func()) { fn() })
	var first, second atomic.Int32

	s.Arm("a", 30*time.Millisecond, func() { first.Add(1) })
	s.Arm("a", 60*time.Millisecond, func() { second.Add(1) })

	time.Sleep(45 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load(), "replaced deadline must not fire")

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestSupervisorStaleGenerationIgnored(t *testing.T) {
	s := NewSupervisor(func(fn func()) { fn() })
	var stale, fresh atomic.Int32

	// First deadline is disarmed before it goes off, then the session
	// is re-armed. A timer callback from the first deadline that runs
	// late must not be delivered against the new one.
	s.Arm("a", time.Hour, func() { stale.Add(1) })
	s.Disarm("a")
	s.Arm("a", 20*time.Millisecond, func() { fresh.Add(1) })

	s.fired("a", 1, func() { stale.Add(1) })

	assert.Eventually(t, func() bool { return fresh.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), stale.Load(), "stale deadline must not be delivered")
}

func TestSupervisorIndependentSessions(t *testing.T) {
	s := NewSupervisor(func(fn func()) { fn() })
	var a, b atomic.Int32

	s.Arm("a", 20*time.Millisecond, func() { a.Add(1) })
	s.Arm("b", 20*time.Millisecond, func() { b.Add(1) })
	s.Disarm("a")

	assert.Eventually(t, func() bool { return b.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), a.Load())
}
