// Package notify is the boundary to the transient user notification widget.
package notify

import (
	"log/slog"
	"sync"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice is one transient notification.
type Notice struct {
	Level   Level
	Message string
	// Err is the underlying failure for error notices.
	Err error
}

type Notifier interface {
	Notify(n Notice)
}

// Func adapts a function to Notifier.
type Func func(Notice)

func (f Func) Notify(n Notice) { f(n) }

// Multi delivers each notice to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(n Notice) {
	for _, x := range m {
		x.Notify(n)
	}
}

// Discard drops every notice.
var Discard Notifier = Func(func(Notice) {})

// Log writes notices to a structured logger.
type Log struct {
	L *slog.Logger
}

func (l Log) Notify(n Notice) {
	log := l.L
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"level", string(n.Level)}
	if n.Err != nil {
		attrs = append(attrs, "err", n.Err)
	}
	if n.Level == LevelError {
		log.Warn(n.Message, attrs...)
		return
	}
	log.Info(n.Message, attrs...)
}

// Recorder keeps every notice; useful in tests.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Count returns how many notices have level lv.
func (r *Recorder) Count(lv Level) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.notices {
		if x.Level == lv {
			n++
		}
	}
	return n
}
