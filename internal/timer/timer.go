// Package timer provides the repeating callbacks used by a call session:
// a wall-clock display tick, a hold display tick and the auto-save tick.
package timer

import (
	"sync"
	"time"
)

// Scheduler runs fn every d until the returned stop function is called.
// stop must be safe to call more than once.
type Scheduler interface {
	Every(d time.Duration, fn func()) (stop func())
}

// Ticker is the production Scheduler backed by time.Ticker.
type Ticker struct{}

func (Ticker) Every(d time.Duration, fn func()) func() {
	t := time.NewTicker(d)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-t.C:
				// stop may race a pending tick; re-check before firing.
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			t.Stop()
			close(done)
		})
	}
}

// Set owns every timer of one session. StopAll tears them down together and
// permanently closes the set, so a callback registered later never runs.
type Set struct {
	sched Scheduler

	mu     sync.Mutex
	stops  map[string]func()
	closed bool
}

func NewSet(s Scheduler) *Set {
	return &Set{sched: s, stops: map[string]func(){}}
}

// Start (re)starts the named timer. A running timer with the same name is stopped first.
func (s *Set) Start(name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if stop, ok := s.stops[name]; ok {
		stop()
	}
	s.stops[name] = s.sched.Every(d, fn)
}

func (s *Set) Stop(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.stops[name]; ok {
		stop()
		delete(s.stops, name)
	}
}

func (s *Set) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.stops[name]
	return ok
}

// StopAll cancels every timer exactly once and closes the set.
func (s *Set) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for name, stop := range s.stops {
		stop()
		delete(s.stops, name)
	}
}

func (s *Set) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
