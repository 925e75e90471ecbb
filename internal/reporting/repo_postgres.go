package reporting

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// PostgresRepo aggregates call_logs and meetings with GROUP BY queries.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func tenantWindow(tenantID string, from, to time.Time) (string, []any) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if !from.IsZero() {
		args = append(args, from)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !to.IsZero() {
		args = append(args, to)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}
	return strings.Join(conds, " AND "), args
}

func (p *PostgresRepo) CallBuckets(ctx context.Context, tenantID string, from, to time.Time) ([]CallBucket, error) {
	where, args := tenantWindow(tenantID, from, to)
	q := `SELECT status, callback_requested, COUNT(*), COALESCE(SUM(call_duration_seconds), 0)
FROM call_logs WHERE ` + where + ` GROUP BY status, callback_requested`

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []CallBucket{}
	for rows.Next() {
		var b CallBucket
		if err := rows.Scan(&b.Status, &b.CallbackRequested, &b.Count, &b.DurationSeconds); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (p *PostgresRepo) MeetingBuckets(ctx context.Context, tenantID string, from, to time.Time) ([]MeetingBucket, error) {
	where, args := tenantWindow(tenantID, from, to)
	q := `SELECT status, COUNT(*) FROM meetings WHERE ` + where + ` GROUP BY status`

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []MeetingBucket{}
	for rows.Next() {
		var b MeetingBucket
		if err := rows.Scan(&b.Status, &b.Count); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
