package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
)

// ElasticsearchConfig configures the memory index connection.
type ElasticsearchConfig struct {
	URL         string
	APIKey      string
	Username    string
	Password    string
	Index       string
	Dims        int
	PingTimeout time.Duration
}

// OpenElasticsearch creates a client and verifies the cluster answers a ping.
func OpenElasticsearch(ctx context.Context, cfg ElasticsearchConfig) (*es.Client, error) {
	url := cfg.URL
	if url == "" {
		url = "http://localhost:9200"
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}

	clientCfg := es.Config{Addresses: []string{url}, MaxRetries: 3}
	switch {
	case cfg.APIKey != "":
		clientCfg.APIKey = cfg.APIKey
	case cfg.Username != "" && cfg.Password != "":
		clientCfg.Username = cfg.Username
		clientCfg.Password = cfg.Password
	}

	client, err := es.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("memory: create elasticsearch client: %w", err)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := client.Ping(client.Ping.WithContext(pingCtx))
	if err != nil {
		return nil, fmt.Errorf("memory: elasticsearch ping: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("memory: elasticsearch ping: %s", res.Status())
	}
	return client, nil
}

// ElasticsearchStore implements VectorStore on an index with a dense_vector field.
type ElasticsearchStore struct {
	client *es.Client
	index  string
	dims   int
}

func NewElasticsearchStore(client *es.Client, index string, dims int) *ElasticsearchStore {
	return &ElasticsearchStore{client: client, index: index, dims: dims}
}

type esDocument struct {
	ConversationID string    `json:"conversation_id"`
	TenantID       string    `json:"tenant_id"`
	Phone          string    `json:"phone"`
	AgentID        string    `json:"agent_id,omitempty"`
	Summary        string    `json:"summary"`
	Timestamp      time.Time `json:"timestamp"`
	Embedding      []float32 `json:"embedding"`
}

func (s *ElasticsearchStore) mapping() map[string]any {
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"conversation_id": map[string]any{"type": "keyword"},
				"tenant_id":       map[string]any{"type": "keyword"},
				"phone":           map[string]any{"type": "keyword"},
				"agent_id":        map[string]any{"type": "keyword"},
				"summary":         map[string]any{"type": "text"},
				"timestamp":       map[string]any{"type": "date"},
				"embedding": map[string]any{
					"type":       "dense_vector",
					"dims":       s.dims,
					"index":      true,
					"similarity": "cosine",
				},
			},
		},
	}
}

// EnsureIndex creates the index with its mapping when missing.
func (s *ElasticsearchStore) EnsureIndex(ctx context.Context) error {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("memory: index exists: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("memory: index exists: %s", res.Status())
	}

	body, err := json.Marshal(s.mapping())
	if err != nil {
		return err
	}
	res, err = s.client.Indices.Create(s.index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return fmt.Errorf("memory: create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("memory: create index: %s: %s", res.Status(), readBody(res.Body))
	}
	return nil
}

func (s *ElasticsearchStore) Upsert(ctx context.Context, id string, vector []float32, md Metadata) error {
	if s.dims > 0 && len(vector) != s.dims {
		return fmt.Errorf("%w: vector has %d dims, index expects %d", ErrInvalidArgument, len(vector), s.dims)
	}
	doc := esDocument{
		ConversationID: id,
		TenantID:       md.TenantID,
		Phone:          md.Phone,
		AgentID:        md.AgentID,
		Summary:        md.Summary,
		Timestamp:      md.Timestamp.UTC(),
		Embedding:      vector,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	res, err := s.client.Index(s.index, bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(id),
	)
	if err != nil {
		return fmt.Errorf("memory: index document: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("memory: index document: %s: %s", res.Status(), readBody(res.Body))
	}
	return nil
}

type esSearchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string     `json:"_id"`
			Source esDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *ElasticsearchStore) Query(ctx context.Context, f Filter, topK int) ([]Match, error) {
	query := map[string]any{
		"size": topK,
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"term": map[string]any{"tenant_id": f.TenantID}},
					map[string]any{"term": map[string]any{"phone": f.Phone}},
				},
			},
		},
		"sort":    []any{map[string]any{"timestamp": map[string]any{"order": "desc"}}},
		"_source": []string{"conversation_id", "summary", "timestamp"},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("memory: search: %s: %s", res.Status(), readBody(res.Body))
	}

	var parsed esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("memory: decode search: %w", err)
	}
	out := make([]Match, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		id := h.Source.ConversationID
		if id == "" {
			id = h.ID
		}
		out = append(out, Match{ConversationID: id, Summary: h.Source.Summary, Timestamp: h.Source.Timestamp})
	}
	return out, nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return string(b)
}
