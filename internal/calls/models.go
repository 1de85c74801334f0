package calls

import (
	"fmt"
	"strings"
	"time"
)

// CallType classifies a call. Keep these stable; they are persisted.
type CallType string

const (
	CallTypeInbound  CallType = "inbound"
	CallTypeOutbound CallType = "outbound"
	CallTypeInternal CallType = "internal"
	CallTypeTransfer CallType = "transfer"
	CallTypeCallback CallType = "callback"
)

func (t CallType) Valid() bool {
	switch t {
	case CallTypeInbound, CallTypeOutbound, CallTypeInternal, CallTypeTransfer, CallTypeCallback:
		return true
	default:
		return false
	}
}

// ParseCallType accepts the persisted names case-insensitively. Empty means inbound.
func ParseCallType(s string) (CallType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CallTypeInbound, nil
	}
	t := CallType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown call type %q", ErrValidation, s)
	}
	return t, nil
}

type Status string

const (
	StatusActive    Status = "active"
	StatusOnHold    Status = "on_hold"
	StatusCompleted Status = "completed"
)

// Millis is a non-negative duration in milliseconds, the persisted unit.
type Millis int64

func ToMillis(d time.Duration) Millis {
	if d < 0 {
		return 0
	}
	return Millis(d / time.Millisecond)
}

func (m Millis) Duration() time.Duration { return time.Duration(m) * time.Millisecond }

// Session is the transient, in-progress form of a call.
//
// Invariant: HoldStartTime is set iff Status == StatusOnHold.
// TotalHoldDuration never decreases.
type Session struct {
	ID          ID       `json:"id"`
	CallerName  string   `json:"callerName"`
	CallerPhone string   `json:"callerPhone"`
	CallType    CallType `json:"callType"`

	StartTime         time.Time  `json:"startTime"`
	Status            Status     `json:"status"`
	HoldStartTime     *time.Time `json:"holdStartTime,omitempty"`
	TotalHoldDuration Millis     `json:"totalHoldDuration"`

	Notes         string       `json:"notes"`
	CustomData    CustomFields `json:"customData,omitempty"`
	AccountNumber string       `json:"accountNumber,omitempty"`
	SensitiveID   string       `json:"sensitiveId,omitempty"`

	ContactID     string `json:"contactId,omitempty"`
	ContactSource string `json:"contactSource,omitempty"`
}

// Hold opens a hold segment at now.
func (s *Session) Hold(now time.Time) error {
	if s.Status != StatusActive {
		return fmt.Errorf("%w: hold from %s", ErrInvalidTransition, s.Status)
	}
	t := now
	s.HoldStartTime = &t
	s.Status = StatusOnHold
	return nil
}

// Resume closes the open hold segment and returns to active.
func (s *Session) Resume(now time.Time) error {
	if s.Status != StatusOnHold {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, s.Status)
	}
	s.closeHold(now)
	s.Status = StatusActive
	return nil
}

func (s *Session) closeHold(now time.Time) {
	if s.HoldStartTime == nil {
		return
	}
	s.TotalHoldDuration += ToMillis(now.Sub(*s.HoldStartTime))
	s.HoldStartTime = nil
}

// CurrentHold is the length of the open hold segment, zero when not on hold.
func (s Session) CurrentHold(now time.Time) time.Duration {
	if s.HoldStartTime == nil {
		return 0
	}
	d := now.Sub(*s.HoldStartTime)
	if d < 0 {
		return 0
	}
	return d
}

// Elapsed is talk time so far: wall time since start minus all hold time.
func (s Session) Elapsed(now time.Time) time.Duration {
	d := now.Sub(s.StartTime) - s.TotalHoldDuration.Duration() - s.CurrentHold(now)
	if d < 0 {
		return 0
	}
	return d
}

// Complete finalizes the session at now. An open hold segment is closed exactly once.
func (s *Session) Complete(now time.Time) (Record, error) {
	if s.Status != StatusActive && s.Status != StatusOnHold {
		return Record{}, fmt.Errorf("%w: end from %s", ErrInvalidTransition, s.Status)
	}
	s.closeHold(now)
	s.Status = StatusCompleted

	end := now
	if end.Before(s.StartTime) {
		// The clock moved backwards during the call.
		end = s.StartTime
	}
	return Record{
		ID:                s.ID,
		CallerName:        s.CallerName,
		CallerPhone:       s.CallerPhone,
		CallType:          s.CallType,
		StartTime:         s.StartTime,
		EndTime:           end,
		Duration:          ToMillis(end.Sub(s.StartTime) - s.TotalHoldDuration.Duration()),
		TotalHoldDuration: s.TotalHoldDuration,
		Status:            StatusCompleted,
		Notes:             s.Notes,
		CustomData:        s.CustomData.Clone(),
		AccountNumber:     s.AccountNumber,
		SensitiveID:       s.SensitiveID,
		ContactID:         s.ContactID,
		ContactSource:     s.ContactSource,
	}, nil
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s Session) Clone() Session {
	out := s
	if s.HoldStartTime != nil {
		t := *s.HoldStartTime
		out.HoldStartTime = &t
	}
	out.CustomData = s.CustomData.Clone()
	return out
}

// Record is the finalized, persisted form of a call.
// It is immutable once completed except through an explicit edit-and-resave.
type Record struct {
	ID          ID       `json:"id"`
	CallerName  string   `json:"callerName"`
	CallerPhone string   `json:"callerPhone"`
	CallType    CallType `json:"callType"`

	StartTime         time.Time `json:"startTime"`
	EndTime           time.Time `json:"endTime"`
	Duration          Millis    `json:"duration"`
	TotalHoldDuration Millis    `json:"totalHoldDuration"`
	Status            Status    `json:"status"`

	Notes         string       `json:"notes"`
	CustomData    CustomFields `json:"customData,omitempty"`
	AccountNumber string       `json:"accountNumber,omitempty"`
	SensitiveID   string       `json:"sensitiveId,omitempty"`

	ContactID     string `json:"contactId,omitempty"`
	ContactSource string `json:"contactSource,omitempty"`

	// CRMID is attached asynchronously after a successful CRM log.
	CRMID string `json:"crmId,omitempty"`
}

func (r Record) Clone() Record {
	out := r
	out.CustomData = r.CustomData.Clone()
	return out
}

// Redacted returns a copy with the sensitive identifier masked.
func (r Record) Redacted() Record {
	out := r.Clone()
	out.SensitiveID = MaskSensitive(r.SensitiveID)
	return out
}

// MaskSensitive keeps the last four characters visible.
func MaskSensitive(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return ""
	}
	keep := 4
	if len(r) <= keep {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-keep) + string(r[len(r)-keep:])
}
