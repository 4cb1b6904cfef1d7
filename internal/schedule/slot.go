package schedule

import (
	"sync"
	"time"
)

// Slot owns at most one live timer. Arming a slot stops whatever it held
// before, so a component can never leak a second poll or debounce timer.
type Slot struct {
	clock Clock

	mu    sync.Mutex
	timer Timer
	token uint64
}

// NewSlot returns an empty slot backed by clock (System when nil).
func NewSlot(clock Clock) *Slot {
	if clock == nil {
		clock = System
	}
	return &Slot{clock: clock}
}

// Arm schedules fn after d, replacing any pending timer. fn does not run if
// the slot is re-armed or stopped before the deadline.
func (s *Slot) Arm(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.token++
	token := s.token
	s.timer = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		if s.token != token {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		fn()
	})
}

// Stop cancels the pending timer, if any. It reports whether one was armed.
func (s *Slot) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token++
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	return true
}

// Armed reports whether a timer is pending.
func (s *Slot) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}
