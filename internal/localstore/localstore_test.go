package localstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"calldesk/internal/calls"
)

func TestMemory_RoundTripsHistoryAsOneArray(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	recs, err := m.Load(ctx)
	if err != nil || len(recs) != 0 {
		t.Fatalf("expected empty history, got %v %v", recs, err)
	}

	in := []calls.Record{
		{ID: calls.LocalID(2), CallerName: "b", Status: calls.StatusCompleted},
		{ID: calls.MustRemoteID("65a1b2c3d4e5f60718293a4b"), CallerName: "a", Status: calls.StatusCompleted},
	}
	if err := m.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}

	var raw []map[string]any
	if err := json.Unmarshal(m.Raw(), &raw); err != nil {
		t.Fatalf("expected a JSON array: %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(raw))
	}

	out, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out[0].ID != in[0].ID || out[1].ID != in[1].ID {
		t.Fatalf("ids not preserved: %+v", out)
	}
}

func TestMemory_Draft(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	hold := time.Unix(1700000010, 0).UTC()
	s := calls.Session{ID: calls.LocalID(5), CallerName: "x", Status: calls.StatusOnHold, HoldStartTime: &hold, TotalHoldDuration: 1200}

	if err := m.SaveDraft(ctx, s); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	got, ok, err := m.LoadDraft(ctx)
	if err != nil || !ok {
		t.Fatalf("load draft: ok=%v err=%v", ok, err)
	}
	if got.ID != s.ID || got.HoldStartTime == nil || !got.HoldStartTime.Equal(hold) || got.TotalHoldDuration != 1200 {
		t.Fatalf("unexpected draft: %+v", got)
	}
	_ = m.ClearDraft(ctx)
	if _, ok, _ := m.LoadDraft(ctx); ok {
		t.Fatalf("expected draft cleared")
	}
}

func TestNewRedis_DefaultKeys(t *testing.T) {
	r := NewRedis(nil, "", "")
	if r.historyKey != DefaultHistoryKey || r.draftKey != DefaultDraftKey {
		t.Fatalf("unexpected keys %q %q", r.historyKey, r.draftKey)
	}
}
