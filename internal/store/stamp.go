package store

import (
	"sync"
	"time"
)

// stamper hands out strictly increasing UTC timestamps so CreatedAt is a
// total order even when two messages arrive within the clock resolution.
type stamper struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newStamper() *stamper {
	return &stamper{now: time.Now}
}

func (s *stamper) next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}
