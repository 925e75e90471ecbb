package agents

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepo reads the agent_bots table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (p *PostgresRepo) GetByAgentID(ctx context.Context, agentID string) (Agent, error) {
	const q = `
SELECT id, tenant_id, agent_id, name, phone_number, phone_number_id, created_at
FROM agent_bots
WHERE agent_id = $1
`
	var a Agent
	if err := p.db.QueryRowContext(ctx, q, agentID).Scan(
		&a.ID,
		&a.TenantID,
		&a.AgentID,
		&a.Name,
		&a.PhoneNumber,
		&a.PhoneNumberID,
		&a.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, ErrUnknownAgent
		}
		return Agent{}, err
	}
	return a, nil
}

func (p *PostgresRepo) SetPhoneNumberID(ctx context.Context, agentID, phoneNumberID string) error {
	const q = `UPDATE agent_bots SET phone_number_id = $2 WHERE agent_id = $1`
	res, err := p.db.ExecContext(ctx, q, agentID, phoneNumberID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUnknownAgent
	}
	return nil
}
