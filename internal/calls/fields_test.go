package calls

import (
	"encoding/json"
	"testing"
)

func TestCustomFields_SetKeepsOrder(t *testing.T) {
	var f CustomFields
	f = f.Set("reason", "billing")
	f = f.Set("priority", "high")
	f = f.Set("reason", "refund")

	if len(f) != 2 || f[0].ID != "reason" || f[0].Value != "refund" {
		t.Fatalf("unexpected fields: %+v", f)
	}
	if v, ok := f.Get("priority"); !ok || v != "high" {
		t.Fatalf("expected priority high")
	}
	if g := f.Delete("reason"); len(g) != 1 || len(f) != 2 {
		t.Fatalf("delete must not mutate the receiver")
	}
}

func TestSchema_GenerateNotes(t *testing.T) {
	s := Schema{
		{ID: "reason", Label: "Reason", Type: FieldTypeText, IncludeInNotes: true},
		{ID: "internal", Label: "Internal", Type: FieldTypeText},
		{ID: "outcome", Type: FieldTypeSelect, Options: []string{"resolved", "escalated"}, IncludeInNotes: true},
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	f := CustomFields{{ID: "outcome", Value: "resolved"}, {ID: "internal", Value: "x"}, {ID: "reason", Value: "billing"}}

	got := s.GenerateNotes(f)
	want := "Reason: billing\noutcome: resolved"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSchema_ValidateRejectsBadDescriptors(t *testing.T) {
	s := Schema{{ID: ""}, {ID: "a"}, {ID: "a"}, {ID: "b", Type: FieldTypeSelect}, {ID: "c", Type: "colour"}}
	if err := s.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestCustomFields_JSONIsOrderedObject(t *testing.T) {
	f := CustomFields{}.Set("zeta", "1").Set("alpha", "two")
	raw, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"zeta":"1","alpha":"two"}` {
		t.Fatalf("unexpected encoding %s", raw)
	}

	var back CustomFields
	if err := json.Unmarshal([]byte(`{"b":"x","a":true,"c":3}`), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back) != 3 || back[0].ID != "b" || back[1].Value != "true" || back[2].Value != "3" {
		t.Fatalf("unexpected decode %+v", back)
	}
	if err := json.Unmarshal([]byte(`["a"]`), &back); err == nil {
		t.Fatalf("expected non-object rejected")
	}
}
