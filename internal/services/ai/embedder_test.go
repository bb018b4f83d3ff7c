package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/api/embeddings":
			assert.Equal(t, "hello", body["prompt"])
			w.Write([]byte(`{"embedding":[0.1,0.2]}`))
		case "/v1/embeddings":
			assert.Equal(t, "hello", body["input"])
			w.Write([]byte(`{"data":[{"embedding":[0.3,0.4,0.5]}],"usage":{"prompt_tokens":7}}`))
		case "/v1beta/models/text-embedding-004:embedContent":
			assert.Equal(t, "RETRIEVAL_QUERY", body["taskType"])
			assert.Equal(t, "g", r.Header.Get("X-Goog-Api-Key"))
			w.Write([]byte(`{"embedding":{"values":[1,0]}}`))
		case "/custom/embed":
			w.Write([]byte(`{"data":[{"embedding":[9]}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	e := NewEmbedder(testExecutor(srv), logger.Discard())
	ctx := context.Background()

	emb, err := e.EmbedText(ctx, "hello", "nomic-embed-text", models.ProviderSetting{APIType: models.APITypeOllama, BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, emb.Vector)
	assert.Equal(t, EstimateTokens("hello"), emb.TokenCount)

	emb, err = e.EmbedText(ctx, "hello", "text-embedding-3-small", models.ProviderSetting{APIType: models.APITypeOpenAI, BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)
	assert.Len(t, emb.Vector, 3)
	assert.Equal(t, 7, emb.TokenCount)

	emb, err = e.EmbedTextAs(ctx, "hello", "models/text-embedding-004", models.ProviderSetting{APIType: models.APITypeGoogle, BaseURL: srv.URL, APIKey: "g"}, TaskRetrievalQuery)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, emb.Vector)

	emb, err = e.EmbedText(ctx, "hello", "m", models.ProviderSetting{APIType: models.APITypeOpenAI, BaseURL: srv.URL, EmbeddingPath: "custom/embed"})
	require.NoError(t, err)
	assert.Equal(t, []float32{9}, emb.Vector)
}

func TestEmbedTextConfiguration(t *testing.T) {
	e := NewEmbedder(nil, logger.Discard())
	var cfgErr *ConfigurationError

	_, err := e.EmbedText(context.Background(), "x", "m", models.ProviderSetting{APIType: models.APITypeOpenAI})
	require.True(t, errors.As(err, &cfgErr))
	assert.ErrorIs(t, err, ErrMissingBaseURL)

	_, err = e.EmbedText(context.Background(), "x", "m", models.ProviderSetting{APIType: "cohere", BaseURL: "http://x"})
	assert.True(t, errors.As(err, &cfgErr))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 1, EstimateTokens("你好"))
}
