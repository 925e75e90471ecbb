package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAIServer(t *testing.T, seen *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if seen != nil {
			*seen = body
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/chat/completions":
			_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
				"choices":[{"index":0,"message":{"role":"assistant","content":"` + "```json\\n{\\\"needed\\\":true}\\n```" + `"},"finish_reason":"stop"}]}`))
		case "/embeddings":
			_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small",
				"data":[{"object":"embedding","index":0,"embedding":[0.25,0.5,0.75]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestOpenAIClient_CompleteJSONStripsFencesAndUsesTierModel(t *testing.T) {
	var seen map[string]any
	srv := newOpenAIServer(t, &seen)
	defer srv.Close()

	c, err := NewOpenAIClient(Config{BaseURL: srv.URL}, "sk-test")
	require.NoError(t, err)

	out, err := c.CompleteJSON(context.Background(), CompletionRequest{
		System: "sys", Prompt: "transcript", Tier: TierDetection, Temperature: 0.1,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"needed":true}`, out)
	assert.Equal(t, "gpt-4o-mini", seen["model"])

	format, _ := seen["response_format"].(map[string]any)
	assert.Equal(t, "json_object", format["type"])
}

func TestOpenAIClient_Embed(t *testing.T) {
	var seen map[string]any
	srv := newOpenAIServer(t, &seen)
	defer srv.Close()

	c, err := NewOpenAIClient(Config{BaseURL: srv.URL, EmbeddingDims: 3}, "sk-test")
	require.NoError(t, err)

	vec, err := c.Embed(context.Background(), "summary text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 0.5, 0.75}, vec)
	assert.Equal(t, "text-embedding-3-small", seen["model"])
}

func TestNewClient_RejectsUnknownProviderAndMissingKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Provider: "bard"}, "k")
	assert.Error(t, err)

	_, err = NewOpenAIClient(Config{}, "")
	assert.Error(t, err)
}

func TestConfig_MergeKeepsDefaults(t *testing.T) {
	cfg := DefaultConfig(ProviderOpenAI).Merge(Config{SummaryModel: "gpt-4"})
	assert.Equal(t, "gpt-4", cfg.Model(TierSummary))
	assert.Equal(t, "gpt-4o-mini", cfg.Model(TierDetection))
	assert.Equal(t, 1536, cfg.EmbeddingDims)
}
