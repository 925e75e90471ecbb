package meetings

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
)

// Credentials are the per-tenant integration settings used by the booking workflow.
type Credentials struct {
	TenantID               string
	CalcomAPIKey           string
	NotificationWebhookURL string
}

// CredentialStore resolves tenant credentials. Get returns ErrNoCredentials when the
// tenant has no calendar API key.
type CredentialStore interface {
	Get(ctx context.Context, tenantID string) (Credentials, error)
}

type PostgresCredentialStore struct {
	db *sql.DB
}

func NewPostgresCredentialStore(db *sql.DB) *PostgresCredentialStore {
	return &PostgresCredentialStore{db: db}
}

func (s *PostgresCredentialStore) Get(ctx context.Context, tenantID string) (Credentials, error) {
	const q = `
SELECT tenant_id, calcom_api_key, COALESCE(notification_webhook_url, '')
FROM meeting_credentials
WHERE tenant_id = $1
`
	var c Credentials
	err := s.db.QueryRowContext(ctx, q, tenantID).Scan(&c.TenantID, &c.CalcomAPIKey, &c.NotificationWebhookURL)
	if errors.Is(err, sql.ErrNoRows) {
		return Credentials{}, ErrNoCredentials
	}
	if err != nil {
		return Credentials{}, err
	}
	if strings.TrimSpace(c.CalcomAPIKey) == "" {
		return Credentials{}, ErrNoCredentials
	}
	return c, nil
}

// MemoryCredentialStore is useful for tests.
type MemoryCredentialStore struct {
	mu    sync.Mutex
	creds map[string]Credentials
}

func NewMemoryCredentialStore(creds ...Credentials) *MemoryCredentialStore {
	s := &MemoryCredentialStore{creds: map[string]Credentials{}}
	for _, c := range creds {
		s.creds[c.TenantID] = c
	}
	return s
}

func (s *MemoryCredentialStore) Put(c Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[c.TenantID] = c
}

func (s *MemoryCredentialStore) Get(_ context.Context, tenantID string) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[tenantID]
	if !ok || strings.TrimSpace(c.CalcomAPIKey) == "" {
		return Credentials{}, ErrNoCredentials
	}
	return c, nil
}
