package memory

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_QueryIsTenantScopedAndNewestFirst(t *testing.T) {
	vs := NewMemoryVectorStore()
	s := NewStore(vs)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Upsert(ctx, "c1", []float32{1}, Metadata{TenantID: "t1", Phone: "+1 (555) 010-0000", Summary: "first", Timestamp: base}))
	require.NoError(t, s.Upsert(ctx, "c2", []float32{1}, Metadata{TenantID: "t1", Phone: "15550100000", Summary: "second", Timestamp: base.Add(time.Hour)}))
	require.NoError(t, s.Upsert(ctx, "c3", []float32{1}, Metadata{TenantID: "t2", Phone: "15550100000", Summary: "other tenant", Timestamp: base}))

	got := s.QueryByTenantAndPhone(ctx, "+15550100000", "t1", 3)
	require.Len(t, got, 2)
	assert.Equal(t, "c2", got[0].ConversationID)
	assert.Equal(t, "c1", got[1].ConversationID)
}

func TestStore_QueryFailureYieldsEmpty(t *testing.T) {
	vs := NewMemoryVectorStore()
	vs.QueryErr = errors.New("cluster red")

	got := NewStore(vs).QueryByTenantAndPhone(context.Background(), "+15550100000", "t1", 3)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_UpsertValidates(t *testing.T) {
	s := NewStore(NewMemoryVectorStore())
	assert.ErrorIs(t, s.Upsert(context.Background(), "", []float32{1}, Metadata{TenantID: "t"}), ErrInvalidArgument)
	assert.ErrorIs(t, s.Upsert(context.Background(), "c", nil, Metadata{TenantID: "t"}), ErrInvalidArgument)
	assert.ErrorIs(t, s.Upsert(context.Background(), "c", []float32{1}, Metadata{}), ErrInvalidArgument)
}

func newESServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, body string)) *es.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r, string(b))
	}))
	t.Cleanup(srv.Close)

	client, err := es.NewClient(es.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return client
}

func TestElasticsearchStore_UpsertIndexesByConversationID(t *testing.T) {
	var gotPath, gotBody string
	client := newESServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
		gotPath, gotBody = r.URL.Path, body
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})

	s := NewElasticsearchStore(client, "conversation-memory", 3)
	err := s.Upsert(context.Background(), "conv-1", []float32{0.1, 0.2, 0.3}, Metadata{
		TenantID: "t1", Phone: "15550100000", Summary: "asked for pricing", Timestamp: time.Unix(1700000000, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, "/conversation-memory/_doc/conv-1", gotPath)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(gotBody), &doc))
	assert.Equal(t, "t1", doc["tenant_id"])
	assert.Len(t, doc["embedding"], 3)
}

func TestElasticsearchStore_UpsertRejectsWrongDims(t *testing.T) {
	s := NewElasticsearchStore(nil, "idx", 1536)
	err := s.Upsert(context.Background(), "c", []float32{1, 2}, Metadata{TenantID: "t"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestElasticsearchStore_QueryFiltersAndDecodes(t *testing.T) {
	var gotBody string
	client := newESServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
		gotBody = body
		_, _ = w.Write([]byte(`{"hits":{"hits":[
			{"_id":"c9","_source":{"conversation_id":"c9","summary":"wants a demo","timestamp":"2025-01-01T10:00:00Z"}}
		]}}`))
	})

	got, err := NewElasticsearchStore(client, "conversation-memory", 3).Query(context.Background(), Filter{TenantID: "t1", Phone: "15550100000"}, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "wants a demo", got[0].Summary)
	assert.True(t, strings.Contains(gotBody, `"tenant_id":"t1"`))
	assert.True(t, strings.Contains(gotBody, `"phone":"15550100000"`))
}

func TestElasticsearchStore_EnsureIndexCreatesWhenMissing(t *testing.T) {
	var created bool
	client := newESServer(t, func(w http.ResponseWriter, r *http.Request, body string) {
		switch r.Method {
		case http.MethodHead:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			created = strings.Contains(body, `"dense_vector"`)
			_, _ = w.Write([]byte(`{"acknowledged":true}`))
		}
	})

	require.NoError(t, NewElasticsearchStore(client, "conversation-memory", 3).EnsureIndex(context.Background()))
	assert.True(t, created)
}
