package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - workspace_id is required for tenancy isolation.
// - actor and ip capture are best-effort; do not block record writes on audit failures.
type Event struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// IPAddress is the client IP as resolved by the router.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// CallID is the server id of the affected record.
	CallID string `json:"call_id,omitempty" db:"call_id"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details. Never include the sensitive identifier.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeCallCreated EventType = "call_created"
	EventTypeCallUpdated EventType = "call_updated"
	EventTypeCallDeleted EventType = "call_deleted"
)

func (t EventType) valid() bool {
	switch t {
	case EventTypeCallCreated, EventTypeCallUpdated, EventTypeCallDeleted:
		return true
	default:
		return false
	}
}
