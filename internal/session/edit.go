package session

import (
	"context"
	"fmt"
	"strings"

	"calldesk/internal/calls"
	"calldesk/internal/history"
)

// Edit is the editable form of a completed record. Timing fields are not
// editable; they are carried over from the stored record on save.
type Edit struct {
	ID            calls.ID
	CallerName    string
	CallerPhone   string
	CallType      calls.CallType
	Notes         string
	CustomData    calls.CustomFields
	AccountNumber string
	SensitiveID   string
}

// BeginEdit loads the record addressed by id, following reconciled ids.
// No timers are engaged.
func (m *Machine) BeginEdit(id calls.ID) (Edit, error) {
	rec, ok := m.recorder.Get(m.recorder.Resolve(id))
	if !ok {
		return Edit{}, fmt.Errorf("%w: call %s", calls.ErrNotFound, id)
	}
	return Edit{
		ID:            rec.ID,
		CallerName:    rec.CallerName,
		CallerPhone:   rec.CallerPhone,
		CallType:      rec.CallType,
		Notes:         rec.Notes,
		CustomData:    rec.CustomData.Clone(),
		AccountNumber: rec.AccountNumber,
		SensitiveID:   rec.SensitiveID,
	}, nil
}

// SaveEdit writes e back under the record's current id.
// The id is re-resolved so an edit begun before reconciliation lands on the remote id.
func (m *Machine) SaveEdit(ctx context.Context, e Edit) (calls.Record, error) {
	name := strings.TrimSpace(e.CallerName)
	phone := strings.TrimSpace(e.CallerPhone)
	if name == "" || phone == "" {
		return calls.Record{}, fmt.Errorf("%w: caller name and phone are required", calls.ErrValidation)
	}
	if e.CallType == "" {
		e.CallType = calls.CallTypeInbound
	}
	if !e.CallType.Valid() {
		return calls.Record{}, fmt.Errorf("%w: unknown call type %q", calls.ErrValidation, e.CallType)
	}

	id := m.recorder.Resolve(e.ID)
	rec, ok := m.recorder.Get(id)
	if !ok {
		return calls.Record{}, fmt.Errorf("%w: call %s", calls.ErrNotFound, e.ID)
	}
	rec.CallerName = name
	rec.CallerPhone = phone
	rec.CallType = e.CallType
	rec.Notes = e.Notes
	rec.CustomData = e.CustomData.Clone()
	rec.AccountNumber = strings.TrimSpace(e.AccountNumber)
	rec.SensitiveID = strings.TrimSpace(e.SensitiveID)

	if err := m.recorder.Upsert(ctx, rec, history.UpsertOptions{Announce: true}); err != nil {
		return rec, err
	}
	m.log.Info("call edited", "call_id", rec.ID.String())
	if m.hooks != nil {
		m.hooks.CallEdited(ctx, rec)
	}
	return rec, nil
}
