package timer

import (
	"sync"
	"time"
)

// Manual is a deterministic clock and Scheduler for tests.
// Callbacks fire synchronously from Advance, in due order.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	tasks []*manualTask
}

type manualTask struct {
	every   time.Duration
	next    time.Time
	fn      func()
	stopped bool
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Every(d time.Duration, fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTask{every: d, next: m.now.Add(d), fn: fn}
	m.tasks = append(m.tasks, t)
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		t.stopped = true
	}
}

// Active is the number of timers that have not been stopped.
func (m *Manual) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d, firing every callback that comes due.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var due *manualTask
		for _, t := range m.tasks {
			if t.stopped || t.next.After(target) {
				continue
			}
			if due == nil || t.next.Before(due.next) {
				due = t
			}
		}
		if due == nil {
			m.now = target
			m.compact()
			m.mu.Unlock()
			return
		}
		m.now = due.next
		due.next = due.next.Add(due.every)
		fn := due.fn
		m.mu.Unlock()

		fn()
	}
}

func (m *Manual) compact() {
	kept := m.tasks[:0]
	for _, t := range m.tasks {
		if !t.stopped {
			kept = append(kept, t)
		}
	}
	m.tasks = kept
}
