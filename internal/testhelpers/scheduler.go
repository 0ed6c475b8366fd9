package testhelpers

import (
	"sync"
	"time"

	"github.com/Tyrowin/relaychat/internal/liveness"
)

// ManualScheduler is a liveness.Scheduler driven by Advance instead of the
// wall clock.
type ManualScheduler struct {
	// IgnoreStops makes Stop report success without cancelling, to simulate
	// a timer that already fired concurrently with its cancellation.
	IgnoreStops bool

	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	s       *ManualScheduler
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

// NewManualScheduler creates a scheduler at time zero.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// AfterFunc schedules f at now+d.
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) liveness.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	active := !t.stopped && !t.fired
	if !t.s.IgnoreStops {
		t.stopped = true
	}
	return active
}

// Advance moves the clock forward by d, running due callbacks in deadline
// order. Callbacks run without the scheduler lock and may schedule more timers.
func (s *ManualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		next := s.nextDueLocked(target)
		if next == nil {
			s.now = target
			s.mu.Unlock()
			return
		}
		s.now = next.at
		next.fired = true
		s.mu.Unlock()

		next.f()
	}
}

func (s *ManualScheduler) nextDueLocked(target time.Duration) *manualTimer {
	var next *manualTimer
	for _, t := range s.timers {
		if t.stopped || t.fired || t.at > target {
			continue
		}
		if next == nil || t.at < next.at {
			next = t
		}
	}
	return next
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
