package audit

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS audit_events (
	id            UUID        PRIMARY KEY,
	workspace_id  TEXT        NOT NULL,
	type          TEXT        NOT NULL,
	actor_user_id TEXT        NOT NULL DEFAULT '',
	actor_role    TEXT        NOT NULL DEFAULT '',
	ip_address    TEXT        NOT NULL DEFAULT '',
	call_id       TEXT        NOT NULL DEFAULT '',
	message       TEXT        NOT NULL DEFAULT '',
	metadata      JSONB,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_events_workspace_idx ON audit_events (workspace_id, created_at DESC);
`

// EnsureSchema creates the audit_events table when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("audit: ensure schema: %w", err)
	}
	return nil
}

// PostgresRepo is the INSERT-only production repository.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, workspace_id, type, actor_user_id, actor_role, ip_address, call_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
	var metadata any
	if e.Metadata != "" {
		metadata = e.Metadata
	}
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.WorkspaceID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress, e.CallID, e.Message, metadata, e.CreatedAt,
	)
	return err
}
