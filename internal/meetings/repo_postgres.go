package meetings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"callflow/pkg/utils"
)

// PostgresRepo stores meetings in the meetings table.
//
// NOTE: This repository assumes migrations/001_init.sql has been applied, in particular:
// UNIQUE (tenant_id, conversation_id) over PENDING and CONFIRMED rows that carry a conversation id
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const meetingColumns = `id, tenant_id, status, customer_name, customer_email, customer_phone, notes,
event_type_id, meeting_time, duration_minutes, timezone, language, conversation_id, agent_id,
provider_event_id, provider_response, meeting_link, warning, error_message, notification_sent,
notification_error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (Meeting, error) {
	var (
		m            Meeting
		providerResp []byte
		eventID      sql.NullString
		link         sql.NullString
		warning      sql.NullString
		errMsg       sql.NullString
		notifyErr    sql.NullString
	)
	if err := row.Scan(
		&m.ID,
		&m.TenantID,
		&m.Status,
		&m.CustomerName,
		&m.CustomerEmail,
		&m.CustomerPhone,
		&m.Notes,
		&m.EventTypeID,
		&m.MeetingTime,
		&m.DurationMinutes,
		&m.TimeZone,
		&m.Language,
		&m.ConversationID,
		&m.AgentID,
		&eventID,
		&providerResp,
		&link,
		&warning,
		&errMsg,
		&m.NotificationSent,
		&notifyErr,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return Meeting{}, err
	}
	if len(providerResp) > 0 {
		m.ProviderResponse = providerResp
	}
	m.MeetingTime = m.MeetingTime.UTC()
	m.ProviderEventID = fromNull(eventID)
	m.MeetingLink = fromNull(link)
	m.Warning = fromNull(warning)
	m.ErrorMessage = fromNull(errMsg)
	m.NotificationError = fromNull(notifyErr)
	return m, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Create inserts the meeting. The active-booking lookup and the insert share one
// transaction; a unique violation from a concurrent insert is resolved into a
// *DuplicateBookingError naming the winner.
func (p *PostgresRepo) Create(ctx context.Context, m Meeting) error {
	const q = `
INSERT INTO meetings (` + meetingColumns + `) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23
)
`
	err := utils.WithTx(ctx, p.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if m.ConversationID != "" {
			existing, err := findActive(ctx, tx, m.TenantID, m.ConversationID)
			if err == nil {
				return &DuplicateBookingError{ExistingID: existing.ID, ExistingStatus: existing.Status}
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, q,
			m.ID,
			m.TenantID,
			m.Status,
			m.CustomerName,
			m.CustomerEmail,
			m.CustomerPhone,
			m.Notes,
			m.EventTypeID,
			m.MeetingTime.UTC(),
			m.DurationMinutes,
			m.TimeZone,
			m.Language,
			m.ConversationID,
			m.AgentID,
			nullableString(m.ProviderEventID),
			nullableJSON(m.ProviderResponse),
			nullableString(m.MeetingLink),
			nullableString(m.Warning),
			nullableString(m.ErrorMessage),
			m.NotificationSent,
			nullableString(m.NotificationError),
			m.CreatedAt,
			m.UpdatedAt,
		)
		return err
	})
	if utils.IsUniqueViolation(err) {
		// The aborted transaction is gone; read the winner on a fresh connection.
		if m.ConversationID != "" {
			if existing, ferr := p.FindActiveByConversation(ctx, m.TenantID, m.ConversationID); ferr == nil {
				return &DuplicateBookingError{ExistingID: existing.ID, ExistingStatus: existing.Status}
			}
		}
		return ErrDuplicate
	}
	return err
}

func (p *PostgresRepo) Get(ctx context.Context, id string) (Meeting, error) {
	q := `SELECT ` + meetingColumns + ` FROM meetings WHERE id = $1`
	m, err := scanMeeting(p.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Meeting{}, ErrNotFound
	}
	return m, err
}

func (p *PostgresRepo) FindActiveByConversation(ctx context.Context, tenantID, conversationID string) (Meeting, error) {
	return findActive(ctx, p.db, tenantID, conversationID)
}

func findActive(ctx context.Context, db queryRower, tenantID, conversationID string) (Meeting, error) {
	q := `SELECT ` + meetingColumns + ` FROM meetings
WHERE tenant_id = $1 AND conversation_id = $2 AND status IN ('PENDING','CONFIRMED')
ORDER BY created_at DESC LIMIT 1`
	m, err := scanMeeting(db.QueryRowContext(ctx, q, tenantID, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return Meeting{}, ErrNotFound
	}
	return m, err
}

func (p *PostgresRepo) Update(ctx context.Context, m Meeting) error {
	const q = `
UPDATE meetings SET
  status = $2,
  provider_event_id = $3,
  provider_response = $4,
  meeting_link = $5,
  warning = $6,
  error_message = $7,
  notification_sent = $8,
  notification_error = $9,
  updated_at = $10
WHERE id = $1
`
	res, err := p.db.ExecContext(ctx, q,
		m.ID,
		m.Status,
		nullableString(m.ProviderEventID),
		nullableJSON(m.ProviderResponse),
		nullableString(m.MeetingLink),
		nullableString(m.Warning),
		nullableString(m.ErrorMessage),
		m.NotificationSent,
		nullableString(m.NotificationError),
		m.UpdatedAt,
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

func (p *PostgresRepo) List(ctx context.Context, f ListFilter) ([]Meeting, error) {
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

	q := `SELECT ` + meetingColumns + ` FROM meetings`
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

	out := []Meeting{}
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func fromNull(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
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
