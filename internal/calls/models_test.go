package calls

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var t0 = time.Unix(1700000000, 0).UTC()

func newSession() *Session {
	return &Session{
		ID:          LocalID(1),
		CallerName:  "Jane Doe",
		CallerPhone: "555-1234",
		CallType:    CallTypeInbound,
		StartTime:   t0,
		Status:      StatusActive,
	}
}

func TestSession_HoldResumeEndScenario(t *testing.T) {
	s := newSession()
	if err := s.Hold(t0.Add(10 * time.Second)); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if err := s.Resume(t0.Add(40 * time.Second)); err != nil {
		t.Fatalf("resume: %v", err)
	}
	rec, err := s.Complete(t0.Add(70 * time.Second))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if rec.TotalHoldDuration != 30000 {
		t.Fatalf("expected 30s hold, got %dms", rec.TotalHoldDuration)
	}
	if rec.Duration != 40000 {
		t.Fatalf("expected 40s duration, got %dms", rec.Duration)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", rec.Status)
	}
}

func TestSession_HoldSumsEveryPair(t *testing.T) {
	s := newSession()
	pairs := [][2]time.Duration{{5 * time.Second, 7 * time.Second}, {20 * time.Second, 21500 * time.Millisecond}, {30 * time.Second, 90 * time.Second}}
	var want Millis
	for _, p := range pairs {
		if err := s.Hold(t0.Add(p[0])); err != nil {
			t.Fatalf("hold: %v", err)
		}
		if err := s.Resume(t0.Add(p[1])); err != nil {
			t.Fatalf("resume: %v", err)
		}
		want += ToMillis(p[1] - p[0])
	}
	if s.TotalHoldDuration != want {
		t.Fatalf("expected %d, got %d", want, s.TotalHoldDuration)
	}
}

func TestSession_EndWhileOnHoldClosesSegmentOnce(t *testing.T) {
	s := newSession()
	_ = s.Hold(t0.Add(10 * time.Second))
	rec, err := s.Complete(t0.Add(25 * time.Second))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if rec.TotalHoldDuration != 15000 {
		t.Fatalf("expected 15s hold, got %d", rec.TotalHoldDuration)
	}
	if rec.Duration != 10000 {
		t.Fatalf("expected 10s duration, got %d", rec.Duration)
	}
	if s.HoldStartTime != nil {
		t.Fatalf("expected hold segment closed")
	}
}

func TestSession_DurationClampedForSkewAndZeroLength(t *testing.T) {
	s := newSession()
	rec, _ := s.Complete(t0)
	if rec.Duration != 0 {
		t.Fatalf("expected zero duration, got %d", rec.Duration)
	}

	s = newSession()
	rec, _ = s.Complete(t0.Add(-5 * time.Second))
	if rec.Duration != 0 {
		t.Fatalf("expected clamped duration, got %d", rec.Duration)
	}
	if !rec.EndTime.Equal(rec.StartTime) {
		t.Fatalf("expected end time clamped to start, got %v", rec.EndTime)
	}
}

func TestSession_InvalidTransitions(t *testing.T) {
	s := newSession()
	if err := s.Resume(t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on resume from active, got %v", err)
	}
	_ = s.Hold(t0)
	if err := s.Hold(t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on double hold, got %v", err)
	}
	_, _ = s.Complete(t0)
	if _, err := s.Complete(t0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on double end, got %v", err)
	}
}

func TestID_JSONKeepsKind(t *testing.T) {
	recs := []Record{
		{ID: LocalID(1700000000123456789), CallerName: "a"},
		{ID: MustRemoteID("65a1b2c3d4e5f60718293a4b"), CallerName: "b"},
	}
	b, err := json.Marshal(recs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out []Record
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out[0].ID.IsLocal() || out[0].ID != recs[0].ID {
		t.Fatalf("expected local id preserved, got %v", out[0].ID)
	}
	if !out[1].ID.IsRemote() || out[1].ID != recs[1].ID {
		t.Fatalf("expected remote id preserved, got %v", out[1].ID)
	}
}

func TestRemoteIDShape(t *testing.T) {
	if !IsRemoteID("65a1b2c3d4e5f60718293a4b") {
		t.Fatalf("expected 24 hex chars to be remote")
	}
	for _, s := range []string{"", "1700000000123", "65A1B2C3D4E5F60718293A4B", "65a1b2c3d4e5f60718293a4"} {
		if IsRemoteID(s) {
			t.Fatalf("did not expect %q to be remote", s)
		}
	}
	if _, err := RemoteID("42"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error")
	}
}

func TestDocument_NormalizesServerID(t *testing.T) {
	raw := []byte(`{"_id":"65a1b2c3d4e5f60718293a4b","callerName":"Jane","callerPhone":"555","callType":"inbound","duration":1000}`)
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	rec, err := d.Record()
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.ID.String() != "65a1b2c3d4e5f60718293a4b" || rec.Status != StatusCompleted {
		t.Fatalf("unexpected record: %+v", rec)
	}

	local := DocumentFromRecord(Record{ID: LocalID(7)})
	if local.ID != "" {
		t.Fatalf("local id must not be sent, got %q", local.ID)
	}
}

func TestMaskSensitive(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"123":         "***",
		"123-45-6789": "*******6789",
	}
	for in, want := range cases {
		if got := MaskSensitive(in); got != want {
			t.Fatalf("MaskSensitive(%q) = %q, want %q", in, got, want)
		}
	}
	r := Record{SensitiveID: "123456789"}
	if r.Redacted().SensitiveID != "*****6789" || r.SensitiveID != "123456789" {
		t.Fatalf("expected redacted copy only")
	}
}
