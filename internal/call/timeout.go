package call

import (
	"sync"
	"time"
)

// Supervisor schedules per-session deadlines: the outbound ring timeout
// and the inbound auto-answer delay. A session holds at most one deadline;
// arming a new one replaces the previous. Every deadline fires at most
// once, and disarming a fired or never-armed deadline is a no-op.
//
// Fired callbacks are handed to deliver, which runs them on the
// orchestrator loop where session state is re-checked before acting.
type Supervisor struct {
	mu        sync.Mutex
	deadlines map[string]*deadline
	deliver   func(fn func())

	// nextGen increases on every Arm, never resetting, so a stale fire
	// from a long-gone deadline can never match a later one for the same
	// session.
	nextGen uint64
}

type deadline struct {
	timer *time.Timer
	gen   uint64
}

// NewSupervisor creates a Supervisor delivering fired callbacks through
// the given function.
func NewSupervisor(deliver func(fn func())) *Supervisor {
	return &Supervisor{
		deadlines: make(map[string]*deadline),
		deliver:   deliver,
	}
}

// Arm schedules fn to run after d, replacing any prior deadline for this
// session.
func (s *Supervisor) Arm(sessionID string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.deadlines[sessionID]; ok {
		prev.timer.Stop()
	}
	s.nextGen++
	gen := s.nextGen
	dl := &deadline{gen: gen}
	dl.timer = time.AfterFunc(d, func() {
		s.fired(sessionID, gen, fn)
	})
	s.deadlines[sessionID] = dl
}

// Disarm cancels the session's pending deadline, if any.
func (s *Supervisor) Disarm(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dl, ok := s.deadlines[sessionID]; ok {
		dl.timer.Stop()
		delete(s.deadlines, sessionID)
	}
}

// fired runs on the timer goroutine. A deadline that was disarmed or
// replaced after its timer fired but before this check is dropped here;
// that is what makes a late-firing timer a no-op.
func (s *Supervisor) fired(sessionID string, gen uint64, fn func()) {
	s.mu.Lock()
	dl, ok := s.deadlines[sessionID]
	if !ok || dl.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.deadlines, sessionID)
	s.mu.Unlock()
	s.deliver(fn)
}
