// Package callstore is the server side of the call record store: the
// collection and per-record endpoints the desk talks to in remote mode.
package callstore

import (
	"errors"
	"strings"
	"time"

	"calldesk/internal/calls"

	"github.com/google/uuid"
)

// Call is one stored record with its owner.
//
// Tenancy invariant: every query is scoped by WorkspaceID and AgentID.
type Call struct {
	WorkspaceID string
	AgentID     string
	Doc         calls.Document
}

// Owner scopes repository access.
type Owner struct {
	WorkspaceID string
	AgentID     string
}

func (o Owner) valid() bool { return o.WorkspaceID != "" && o.AgentID != "" }

// Actor is the authenticated caller of a service operation.
type Actor struct {
	UserID      string
	WorkspaceID string
	Role        string
	IP          string
}

func (a Actor) owner() Owner { return Owner{WorkspaceID: a.WorkspaceID, AgentID: a.UserID} }

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrForbidden       = errors.New("forbidden")
)

// newRecordID returns a 24 lowercase hex server id.
func newRecordID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

// normalize validates d for storage and fills defaults.
func normalize(d calls.Document) (calls.Document, error) {
	d.CallerName = strings.TrimSpace(d.CallerName)
	d.CallerPhone = strings.TrimSpace(d.CallerPhone)
	if d.CallerName == "" || d.CallerPhone == "" {
		return calls.Document{}, errors.Join(ErrInvalidArgument, errors.New("callerName and callerPhone are required"))
	}
	if d.CallType == "" {
		d.CallType = calls.CallTypeInbound
	}
	if !d.CallType.Valid() {
		return calls.Document{}, errors.Join(ErrInvalidArgument, errors.New("unknown callType"))
	}
	if d.StartTime.IsZero() {
		return calls.Document{}, errors.Join(ErrInvalidArgument, errors.New("startTime is required"))
	}
	if !d.EndTime.IsZero() && d.EndTime.Before(d.StartTime) {
		// Desk clock skew: store a zero-length span rather than refuse the call.
		d.EndTime = d.StartTime
	}
	if d.Duration < 0 || d.TotalHoldDuration < 0 {
		return calls.Document{}, errors.Join(ErrInvalidArgument, errors.New("durations must be non-negative"))
	}
	if d.Status == "" {
		d.Status = calls.StatusCompleted
	}
	d.StartTime = d.StartTime.UTC()
	if !d.EndTime.IsZero() {
		d.EndTime = d.EndTime.UTC()
	}
	return d, nil
}

// ChangeType names a stream event.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// Change is one message on the change stream.
type Change struct {
	Type ChangeType      `json:"type"`
	ID   string          `json:"_id"`
	Call *calls.Document `json:"call,omitempty"`
	At   time.Time       `json:"at"`
}
