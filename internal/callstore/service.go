package callstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"calldesk/internal/audit"
	"calldesk/internal/calls"
	"calldesk/internal/rbac"
)

// Service implements the record store operations.
//
// Rules:
// - Records are scoped to the calling agent's workspace and user id.
// - Supervisors may list another agent's records in their workspace; writes stay agent-scoped.
// - Every mutation appends an audit event and a change-stream message, both best-effort.
type Service struct {
	repo  Repository
	audit *audit.Service
	hub   *Hub
	log   *slog.Logger
	// clock and newID are injectable for deterministic tests.
	clock func() time.Time
	newID func() string
}

func NewService(repo Repository, auditSvc *audit.Service, hub *Hub, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		repo:  repo,
		audit: auditSvc,
		hub:   hub,
		log:   log.With("component", "callstore"),
		clock: time.Now,
		newID: newRecordID,
	}
}

func (s *Service) List(ctx context.Context, a Actor, agentID string) ([]calls.Document, error) {
	o := a.owner()
	if !o.valid() {
		return nil, ErrInvalidArgument
	}
	if agentID != "" && agentID != a.UserID {
		if !rbac.CanReadTeam(a.Role) {
			return nil, ErrForbidden
		}
		o.AgentID = agentID
	}
	rows, err := s.repo.List(ctx, o)
	if err != nil {
		return nil, err
	}
	out := make([]calls.Document, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Doc)
	}
	return out, nil
}

// Create stores d under a new server id. Any id sent by the client is ignored.
func (s *Service) Create(ctx context.Context, a Actor, d calls.Document) (calls.Document, error) {
	o := a.owner()
	if !o.valid() {
		return calls.Document{}, ErrInvalidArgument
	}
	d, err := normalize(d)
	if err != nil {
		return calls.Document{}, err
	}
	now := s.clock().UTC()
	d.ID = s.newID()
	d.CreatedAt = now
	d.UpdatedAt = now

	if err := s.repo.Insert(ctx, Call{WorkspaceID: o.WorkspaceID, AgentID: o.AgentID, Doc: d}); err != nil {
		return calls.Document{}, err
	}
	s.recordMutation(ctx, a, audit.EventTypeCallCreated, d)
	s.publish(o, Change{Type: ChangeCreated, ID: d.ID, Call: &d, At: now})
	return d, nil
}

// Update replaces the record addressed by id. Unknown or malformed ids are ErrNotFound.
func (s *Service) Update(ctx context.Context, a Actor, id string, d calls.Document) (calls.Document, error) {
	o := a.owner()
	if !o.valid() {
		return calls.Document{}, ErrInvalidArgument
	}
	if !calls.IsRemoteID(id) {
		return calls.Document{}, ErrNotFound
	}
	d, err := normalize(d)
	if err != nil {
		return calls.Document{}, err
	}
	now := s.clock().UTC()
	d.ID = id
	d.UpdatedAt = now

	stored, err := s.repo.Update(ctx, Call{WorkspaceID: o.WorkspaceID, AgentID: o.AgentID, Doc: d})
	if err != nil {
		return calls.Document{}, err
	}
	out := stored.Doc
	s.recordMutation(ctx, a, audit.EventTypeCallUpdated, out)
	s.publish(o, Change{Type: ChangeUpdated, ID: out.ID, Call: &out, At: now})
	return out, nil
}

func (s *Service) Delete(ctx context.Context, a Actor, id string) error {
	o := a.owner()
	if !o.valid() {
		return ErrInvalidArgument
	}
	if !calls.IsRemoteID(id) {
		return ErrNotFound
	}
	if err := s.repo.Delete(ctx, o, id); err != nil {
		return err
	}
	s.recordMutation(ctx, a, audit.EventTypeCallDeleted, calls.Document{ID: id})
	s.publish(o, Change{Type: ChangeDeleted, ID: id, At: s.clock().UTC()})
	return nil
}

func (s *Service) recordMutation(ctx context.Context, a Actor, t audit.EventType, d calls.Document) {
	if s.audit == nil {
		return
	}
	meta := ""
	if t != audit.EventTypeCallDeleted {
		b, err := json.Marshal(map[string]any{
			"callType":   d.CallType,
			"status":     d.Status,
			"durationMs": int64(d.Duration),
			"holdMs":     int64(d.TotalHoldDuration),
		})
		if err == nil {
			meta = string(b)
		}
	}
	if err := s.audit.LogCallMutation(ctx, t, a.WorkspaceID, a.UserID, a.Role, a.IP, d.ID, meta); err != nil {
		s.log.Warn("audit append failed", "type", string(t), "call_id", d.ID, "err", err)
	}
}

func (s *Service) publish(o Owner, c Change) {
	if s.hub == nil {
		return
	}
	if c.Call != nil {
		redacted := *c.Call
		redacted.SensitiveID = calls.MaskSensitive(redacted.SensitiveID)
		c.Call = &redacted
	}
	s.hub.Publish(o, c)
}
