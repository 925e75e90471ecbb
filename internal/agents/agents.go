package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"callflow/internal/telephony"
	"callflow/pkg/logger"
)

// Agent maps a provider voice agent to the tenant that owns it.
type Agent struct {
	ID            string    `json:"id" db:"id"`
	TenantID      string    `json:"tenant_id" db:"tenant_id"`
	AgentID       string    `json:"agent_id" db:"agent_id"`
	Name          string    `json:"name" db:"name"`
	PhoneNumber   string    `json:"phone_number,omitempty" db:"phone_number"`
	PhoneNumberID string    `json:"phone_number_id,omitempty" db:"phone_number_id"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

var (
	ErrUnknownAgent  = errors.New("agents: unknown agent")
	ErrNoPhoneNumber = errors.New("agents: no provider phone number available")
)

type Repository interface {
	GetByAgentID(ctx context.Context, agentID string) (Agent, error)
	SetPhoneNumberID(ctx context.Context, agentID, phoneNumberID string) error
}

// Directory resolves tenants and outbound caller ids for provider agents.
type Directory struct {
	repo    Repository
	numbers telephony.PhoneNumberLister
}

func NewDirectory(repo Repository, numbers telephony.PhoneNumberLister) *Directory {
	return &Directory{repo: repo, numbers: numbers}
}

// Resolve returns the agent registration, or ErrUnknownAgent.
func (d *Directory) Resolve(ctx context.Context, agentID string) (Agent, error) {
	if strings.TrimSpace(agentID) == "" {
		return Agent{}, ErrUnknownAgent
	}
	return d.repo.GetByAgentID(ctx, agentID)
}

// PhoneNumberID returns the provider phone-number reference to call from.
//
// Order: the agent's cached id, then the provider number matching agentPhone (cached on
// the agent), then the first provider number.
func (d *Directory) PhoneNumberID(ctx context.Context, agentID, agentPhone string) (string, error) {
	a, err := d.repo.GetByAgentID(ctx, agentID)
	switch {
	case err == nil && a.PhoneNumberID != "":
		return a.PhoneNumberID, nil
	case err != nil && !errors.Is(err, ErrUnknownAgent):
		return "", err
	}
	if agentPhone == "" {
		agentPhone = a.PhoneNumber
	}

	if d.numbers == nil {
		return "", ErrNoPhoneNumber
	}
	list, err := d.numbers.ListPhoneNumbers(ctx)
	if err != nil {
		return "", fmt.Errorf("list phone numbers: %w", err)
	}
	match, ok := telephony.MatchPhoneNumber(list, agentPhone)
	if !ok {
		return "", ErrNoPhoneNumber
	}
	if a.ID != "" && telephony.FormatPhoneNumber(match.Number) == telephony.FormatPhoneNumber(agentPhone) {
		if err := d.repo.SetPhoneNumberID(ctx, agentID, match.ID); err != nil {
			logger.From(ctx).Warn("cache phone number id failed", "agent_id", agentID, "err", err)
		}
	}
	return match.ID, nil
}

// MemoryRepo is an in-memory Repository useful for tests.
type MemoryRepo struct {
	mu     sync.Mutex
	agents map[string]Agent
}

func NewMemoryRepo(agents ...Agent) *MemoryRepo {
	m := &MemoryRepo{agents: map[string]Agent{}}
	for _, a := range agents {
		m.agents[a.AgentID] = a
	}
	return m
}

func (m *MemoryRepo) GetByAgentID(_ context.Context, agentID string) (Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return Agent{}, ErrUnknownAgent
	}
	return a, nil
}

func (m *MemoryRepo) SetPhoneNumberID(_ context.Context, agentID, phoneNumberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return ErrUnknownAgent
	}
	a.PhoneNumberID = phoneNumberID
	m.agents[agentID] = a
	return nil
}
