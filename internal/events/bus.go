// Package events is the in-process notification bus for call lifecycle events.
// Publishing never waits for subscribers.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"calldesk/internal/calls"
)

type Type string

const (
	CallStarted   Type = "call_started"
	CallCompleted Type = "call_completed"
)

// Event carries a record snapshot. For CallStarted the record has no end time.
type Event struct {
	Type   Type         `json:"type"`
	Record calls.Record `json:"record"`
	At     time.Time    `json:"at"`
}

type Handler func(ctx context.Context, e Event)

type subscription struct {
	id int
	h  Handler
}

type Bus struct {
	log *slog.Logger

	mu   sync.RWMutex
	next int
	subs map[Type][]subscription

	wg sync.WaitGroup
}

func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log.With("component", "events"), subs: map[Type][]subscription{}}
}

// Subscribe registers h for t and returns a function that removes it.
func (b *Bus) Subscribe(t Type, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.subs[t] = append(b.subs[t], subscription{id: id, h: h})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[t]
		for i, s := range list {
			if s.id == id {
				b.subs[t] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish hands e to every subscriber on its own goroutine and returns immediately.
// Handlers run detached from ctx cancellation; a panicking handler is logged.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.RLock()
	list := append([]subscription(nil), b.subs[e.Type]...)
	b.mu.RUnlock()

	hctx := context.WithoutCancel(ctx)
	for _, s := range list {
		ev := e
		ev.Record = e.Record.Clone()
		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			defer func() {
				if p := recover(); p != nil {
					b.log.Error("event handler panicked", "type", string(ev.Type), "record_id", ev.Record.ID.String(), "panic", p)
				}
			}()
			h(hctx, ev)
		}(s.h)
	}
}

// Wait blocks until every handler started so far has returned.
func (b *Bus) Wait() { b.wg.Wait() }
