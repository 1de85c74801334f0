package timer

import (
	"testing"
	"time"
)

func TestManual_FiresInDueOrder(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	var got []string
	m.Every(2*time.Second, func() { got = append(got, "a") })
	m.Every(3*time.Second, func() { got = append(got, "b") })

	m.Advance(6 * time.Second)

	want := []string{"a", "b", "a", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if !m.Now().Equal(time.Unix(6, 0)) {
		t.Fatalf("unexpected now %v", m.Now())
	}
}

func TestSet_StopAllCancelsOnceAndCloses(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	s := NewSet(m)
	fired := 0
	s.Start("clock", time.Second, func() { fired++ })
	s.Start("hold", time.Second, func() { fired++ })
	if m.Active() != 2 {
		t.Fatalf("expected 2 active timers, got %d", m.Active())
	}

	s.StopAll()
	s.StopAll()
	m.Advance(5 * time.Second)
	if fired != 0 {
		t.Fatalf("expected no callbacks after StopAll, got %d", fired)
	}

	s.Start("late", time.Second, func() { fired++ })
	m.Advance(5 * time.Second)
	if fired != 0 || s.Running("late") {
		t.Fatalf("closed set must not start timers")
	}
}

func TestSet_RestartReplacesTimer(t *testing.T) {
	m := NewManual(time.Unix(0, 0))
	s := NewSet(m)
	a, b := 0, 0
	s.Start("hold", time.Second, func() { a++ })
	s.Start("hold", time.Second, func() { b++ })
	m.Advance(3 * time.Second)
	if a != 0 || b != 3 {
		t.Fatalf("expected only the replacement to fire, got a=%d b=%d", a, b)
	}
	s.Stop("hold")
	if s.Running("hold") || m.Active() != 0 {
		t.Fatalf("expected hold stopped")
	}
}

func TestTicker_StopIsIdempotent(t *testing.T) {
	fired := make(chan struct{}, 16)
	stop := Ticker{}.Every(5*time.Millisecond, func() { fired <- struct{}{} })
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("expected ticker to fire")
	}
	stop()
	stop()
}
