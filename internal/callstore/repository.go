package callstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"calldesk/internal/calls"
	"calldesk/pkg/utils"
)

// Repository is the persistence contract for call records.
// Update and Delete return ErrNotFound when no row matches the owner and id.
type Repository interface {
	List(ctx context.Context, o Owner) ([]Call, error)
	Get(ctx context.Context, o Owner, id string) (Call, error)
	Insert(ctx context.Context, c Call) error
	// Update replaces the mutable columns and returns the stored row.
	Update(ctx context.Context, c Call) (Call, error)
	Delete(ctx context.Context, o Owner, id string) error
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS call_records (
	id             CHAR(24)    PRIMARY KEY,
	workspace_id   TEXT        NOT NULL,
	agent_id       TEXT        NOT NULL,
	caller_name    TEXT        NOT NULL,
	caller_phone   TEXT        NOT NULL,
	call_type      TEXT        NOT NULL,
	status         TEXT        NOT NULL,
	start_time     TIMESTAMPTZ NOT NULL,
	end_time       TIMESTAMPTZ,
	duration_ms    BIGINT      NOT NULL DEFAULT 0,
	hold_ms        BIGINT      NOT NULL DEFAULT 0,
	notes          TEXT        NOT NULL DEFAULT '',
	custom_data    JSONB,
	account_number TEXT        NOT NULL DEFAULT '',
	sensitive_id   TEXT        NOT NULL DEFAULT '',
	contact_id     TEXT        NOT NULL DEFAULT '',
	contact_source TEXT        NOT NULL DEFAULT '',
	crm_id         TEXT        NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS call_records_owner_idx
	ON call_records (workspace_id, agent_id, start_time DESC);
`

// EnsureSchema creates the call_records table when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	return utils.WithTx(ctx, db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
			return fmt.Errorf("callstore: ensure schema: %w", err)
		}
		return nil
	})
}

// PostgresRepo stores records in Postgres through database/sql (pgx stdlib driver).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const selectColumns = `
id, workspace_id, agent_id, caller_name, caller_phone, call_type, status,
start_time, end_time, duration_ms, hold_ms, notes, custom_data,
account_number, sensitive_id, contact_id, contact_source, crm_id,
created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c       Call
		end     sql.NullTime
		dur     int64
		hold    int64
		custom  []byte
		callTyp string
		status  string
	)
	if err := row.Scan(
		&c.Doc.ID,
		&c.WorkspaceID,
		&c.AgentID,
		&c.Doc.CallerName,
		&c.Doc.CallerPhone,
		&callTyp,
		&status,
		&c.Doc.StartTime,
		&end,
		&dur,
		&hold,
		&c.Doc.Notes,
		&custom,
		&c.Doc.AccountNumber,
		&c.Doc.SensitiveID,
		&c.Doc.ContactID,
		&c.Doc.ContactSource,
		&c.Doc.CRMID,
		&c.Doc.CreatedAt,
		&c.Doc.UpdatedAt,
	); err != nil {
		return Call{}, err
	}
	c.Doc.CallType = calls.CallType(callTyp)
	c.Doc.Status = calls.Status(status)
	if end.Valid {
		c.Doc.EndTime = end.Time
	}
	c.Doc.Duration = calls.Millis(dur)
	c.Doc.TotalHoldDuration = calls.Millis(hold)
	if len(custom) > 0 {
		if err := json.Unmarshal(custom, &c.Doc.CustomData); err != nil {
			return Call{}, fmt.Errorf("callstore: decode custom_data for %s: %w", c.Doc.ID, err)
		}
	}
	return c, nil
}

func (r *PostgresRepo) List(ctx context.Context, o Owner) ([]Call, error) {
	q := `SELECT ` + selectColumns + `
FROM call_records
WHERE workspace_id = $1 AND agent_id = $2
ORDER BY start_time DESC, created_at DESC
`
	rows, err := r.db.QueryContext(ctx, q, o.WorkspaceID, o.AgentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, o Owner, id string) (Call, error) {
	q := `SELECT ` + selectColumns + `
FROM call_records
WHERE workspace_id = $1 AND agent_id = $2 AND id = $3
`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, o.WorkspaceID, o.AgentID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

func (r *PostgresRepo) Insert(ctx context.Context, c Call) error {
	const q = `
INSERT INTO call_records (
	id, workspace_id, agent_id, caller_name, caller_phone, call_type, status,
	start_time, end_time, duration_ms, hold_ms, notes, custom_data,
	account_number, sensitive_id, contact_id, contact_source, crm_id,
	created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
`
	custom, err := encodeCustom(c.Doc.CustomData)
	if err != nil {
		return err
	}
	d := c.Doc
	_, err = r.db.ExecContext(ctx, q,
		d.ID, c.WorkspaceID, c.AgentID, d.CallerName, d.CallerPhone, string(d.CallType), string(d.Status),
		d.StartTime, nullTime(d.EndTime), int64(d.Duration), int64(d.TotalHoldDuration), d.Notes, custom,
		d.AccountNumber, d.SensitiveID, d.ContactID, d.ContactSource, d.CRMID,
		d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Update(ctx context.Context, c Call) (Call, error) {
	q := `
UPDATE call_records SET
	caller_name = $4, caller_phone = $5, call_type = $6, status = $7,
	start_time = $8, end_time = $9, duration_ms = $10, hold_ms = $11,
	notes = $12, custom_data = $13, account_number = $14, sensitive_id = $15,
	contact_id = $16, contact_source = $17, crm_id = $18, updated_at = $19
WHERE workspace_id = $1 AND agent_id = $2 AND id = $3
RETURNING ` + selectColumns

	custom, err := encodeCustom(c.Doc.CustomData)
	if err != nil {
		return Call{}, err
	}
	d := c.Doc
	out, err := scanCall(r.db.QueryRowContext(ctx, q,
		c.WorkspaceID, c.AgentID, d.ID,
		d.CallerName, d.CallerPhone, string(d.CallType), string(d.Status),
		d.StartTime, nullTime(d.EndTime), int64(d.Duration), int64(d.TotalHoldDuration),
		d.Notes, custom, d.AccountNumber, d.SensitiveID,
		d.ContactID, d.ContactSource, d.CRMID, d.UpdatedAt,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return out, nil
}

func (r *PostgresRepo) Delete(ctx context.Context, o Owner, id string) error {
	const q = `DELETE FROM call_records WHERE workspace_id = $1 AND agent_id = $2 AND id = $3`
	res, err := r.db.ExecContext(ctx, q, o.WorkspaceID, o.AgentID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeCustom(f calls.CustomFields) ([]byte, error) {
	if f == nil {
		return nil, nil
	}
	return json.Marshal(f)
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
