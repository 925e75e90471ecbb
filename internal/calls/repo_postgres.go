package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"callflow/pkg/utils"
)

// PostgresRepo stores call records in the call_logs table.
//
// NOTE: This repository assumes migrations/001_init.sql has been applied, in particular:
// UNIQUE (tenant_id, conversation_id)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const recordColumns = `id, tenant_id, conversation_id, agent_id, agent_phone_number_id, customer_phone, agent_phone,
status, summary, transcript, callback_requested, callback_scheduled_at, callback_reason, callback_attempts,
callback_completed_at, lead_status, final_state, call_duration_seconds, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		r           Record
		transcript  []byte
		scheduledAt sql.NullTime
		completedAt sql.NullTime
		reason      sql.NullString
	)
	if err := row.Scan(
		&r.ID,
		&r.TenantID,
		&r.ConversationID,
		&r.AgentID,
		&r.AgentPhoneNumberID,
		&r.CustomerPhone,
		&r.AgentPhone,
		&r.Status,
		&r.Summary,
		&transcript,
		&r.CallbackRequested,
		&scheduledAt,
		&reason,
		&r.CallbackAttempts,
		&completedAt,
		&r.LeadStatus,
		&r.FinalState,
		&r.CallDurationSeconds,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return Record{}, err
	}
	if len(transcript) > 0 {
		r.Transcript = transcript
	}
	if scheduledAt.Valid {
		t := scheduledAt.Time.UTC()
		r.CallbackScheduledAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		r.CallbackCompletedAt = &t
	}
	if reason.Valid {
		s := reason.String
		r.CallbackReason = &s
	}
	return r, nil
}

func (p *PostgresRepo) Create(ctx context.Context, r Record) error {
	const q = `
INSERT INTO call_logs (` + recordColumns + `) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
)
`
	_, err := p.db.ExecContext(ctx, q,
		r.ID,
		r.TenantID,
		r.ConversationID,
		r.AgentID,
		r.AgentPhoneNumberID,
		r.CustomerPhone,
		r.AgentPhone,
		r.Status,
		r.Summary,
		nullableJSON(r.Transcript),
		r.CallbackRequested,
		nullableTime(r.CallbackScheduledAt),
		nullableString(r.CallbackReason),
		r.CallbackAttempts,
		nullableTime(r.CallbackCompletedAt),
		r.LeadStatus,
		r.FinalState,
		r.CallDurationSeconds,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if utils.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresRepo) Get(ctx context.Context, id string) (Record, error) {
	q := `SELECT ` + recordColumns + ` FROM call_logs WHERE id = $1`
	r, err := scanRecord(p.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (p *PostgresRepo) GetByConversation(ctx context.Context, tenantID, conversationID string) (Record, error) {
	q := `SELECT ` + recordColumns + ` FROM call_logs WHERE tenant_id = $1 AND conversation_id = $2`
	r, err := scanRecord(p.db.QueryRowContext(ctx, q, tenantID, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (p *PostgresRepo) Update(ctx context.Context, r Record) error {
	const q = `
UPDATE call_logs SET
  status = $2,
  summary = $3,
  callback_requested = $4,
  callback_scheduled_at = $5,
  callback_reason = $6,
  callback_attempts = $7,
  callback_completed_at = $8,
  updated_at = $9
WHERE id = $1
`
	res, err := p.db.ExecContext(ctx, q,
		r.ID,
		r.Status,
		r.Summary,
		r.CallbackRequested,
		nullableTime(r.CallbackScheduledAt),
		nullableString(r.CallbackReason),
		r.CallbackAttempts,
		nullableTime(r.CallbackCompletedAt),
		r.UpdatedAt,
	)
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

func (p *PostgresRepo) List(ctx context.Context, f ListFilter) ([]Record, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}

	q := `SELECT ` + recordColumns + ` FROM call_logs`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, f.limit(), f.Offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
