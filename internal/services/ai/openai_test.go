package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/transport"
	"github.com/multi-llm-chat-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testExecutor(srv *httptest.Server) *transport.Executor {
	return transport.NewExecutorWithClient(srv.Client(), logger.Discard())
}

func TestOpenAIListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":[{"id":"gpt-4o"},{"id":"text-embedding-3-small"},{"id":""}]}`))
	}))
	defer srv.Close()

	p := NewOpenAI(testExecutor(srv), logger.Discard())
	setting := models.ProviderSetting{BaseURL: srv.URL, APIKey: "sk-test"}

	t.Run("all models plus the image model", func(t *testing.T) {
		list, err := p.ListModels(context.Background(), setting, false)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "gpt-4o", list[0].ID)
		assert.True(t, list[1].Embedding)
		assert.Equal(t, defaultImageModel, list[2].ID)
		assert.True(t, list[2].ImageOutput)
	})

	t.Run("embedding only", func(t *testing.T) {
		list, err := p.ListModels(context.Background(), setting, true)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "text-embedding-3-small", list[0].ID)
	})

	t.Run("base URL with v1 suffix", func(t *testing.T) {
		list, err := p.ListModels(context.Background(), models.ProviderSetting{BaseURL: srv.URL + "/v1/", APIKey: "sk-test"}, true)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestListModelsFailsClosed(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
		},
		"missing data": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"models":[]}`))
		},
		"not json": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			p := NewMistral(testExecutor(srv), logger.Discard())
			list, err := p.ListModels(context.Background(), models.ProviderSetting{BaseURL: srv.URL, APIKey: "k"}, false)
			assert.Error(t, err)
			assert.NotNil(t, list)
			assert.Empty(t, list)
		})
	}

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		p := NewGroq(transport.NewExecutorWithClient(http.DefaultClient, logger.Discard()), logger.Discard())
		list, err := p.ListModels(context.Background(), models.ProviderSetting{BaseURL: url, APIKey: "k"}, false)
		var te *transport.Error
		require.True(t, errors.As(err, &te))
		assert.Equal(t, transport.KindUnreachable, te.Kind)
		assert.Empty(t, list)
	})
}

func TestTogetherBareArrayCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"meta-llama/Llama-3-8b","display_name":"Llama 3 8B","type":"chat"},{"id":"BAAI/bge-large","type":"embedding"}]`))
	}))
	defer srv.Close()

	p := NewTogether(testExecutor(srv), logger.Discard())
	list, err := p.ListModels(context.Background(), models.ProviderSetting{BaseURL: srv.URL, APIKey: "k"}, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Llama 3 8B", list[0].Name)
	assert.True(t, list[1].Embedding)
}

func TestOpenAIChatCompletions(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "multi-llm-chat", r.Header.Get("X-Title"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"id\":\"1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"}}]}\n\ndata: [DONE]\n\n"))
	}))
	defer srv.Close()

	p := NewOpenRouter(testExecutor(srv), logger.Discard())
	history := []models.ChatMessage{
		models.NewMessage(models.RoleUser, models.PartsContent(
			models.TextPartOf("what is this"),
			models.ImagePartOf(models.ImageData{Data: "AAAA", MimeType: "image/jpeg"}),
		)),
	}
	notice := models.NewMessage(models.RoleSystem, models.TextContent("failed"))
	notice.IsError = true
	history = append(history, notice)

	c, err := p.ChatCompletions(context.Background(), CompletionRequest{
		Model: "openai/gpt-4o", Messages: history, BaseURL: srv.URL, APIKey: "k",
	})
	require.NoError(t, err)
	defer c.Close()

	body, err := io.ReadAll(c.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"hi"`)

	assert.Equal(t, true, got["stream"])
	msgs := got["messages"].([]interface{})
	require.Len(t, msgs, 1)
	parts := msgs[0].(map[string]interface{})["content"].([]interface{})
	require.Len(t, parts, 2)
	image := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})
	assert.Equal(t, "data:image/jpeg;base64,AAAA", image["url"])
}

func TestChatCompletionsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	p := NewDeepSeek(testExecutor(srv), logger.Discard())
	c, err := p.ChatCompletions(context.Background(), CompletionRequest{Model: "deepseek-chat", BaseURL: srv.URL, APIKey: "bad"})

	var te *transport.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusUnauthorized, te.StatusCode)
	assert.Equal(t, "invalid api key", te.Message)

	require.NotNil(t, c)
	body, readErr := io.ReadAll(c.Body)
	require.NoError(t, readErr)
	assert.Empty(t, body)
}

func TestChatCompletionsRequiresModel(t *testing.T) {
	p := NewOpenAI(transport.NewExecutorWithClient(http.DefaultClient, logger.Discard()), logger.Discard())
	_, err := p.ChatCompletions(context.Background(), CompletionRequest{BaseURL: "http://127.0.0.1:1"})
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestOpenAIConvertResponse(t *testing.T) {
	p := NewOpenAI(nil, logger.Discard())

	t.Run("content", func(t *testing.T) {
		d, err := p.ConvertResponse([]byte(`{"id":"1","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`))
		require.NoError(t, err)
		first, ok := d.First()
		require.True(t, ok)
		assert.Equal(t, "assistant", first.Role)
		assert.Equal(t, "Hel", *first.Content)
		assert.Nil(t, first.Reasoning)
	})

	t.Run("reasoning content", func(t *testing.T) {
		d, err := p.ConvertResponse([]byte(`{"choices":[{"index":0,"delta":{"reasoning_content":"thinking"}}]}`))
		require.NoError(t, err)
		first, _ := d.First()
		assert.Nil(t, first.Content)
		assert.Equal(t, "thinking", *first.Reasoning)
	})

	t.Run("reasoning field", func(t *testing.T) {
		d, err := p.ConvertResponse([]byte(`{"choices":[{"index":0,"delta":{"reasoning":"hmm"}}]}`))
		require.NoError(t, err)
		first, _ := d.First()
		assert.Equal(t, "hmm", *first.Reasoning)
	})

	t.Run("content survives re-serialisation", func(t *testing.T) {
		d, err := p.ConvertResponse([]byte(`{"choices":[{"index":0,"delta":{"content":"a \"quoted\" é\n"}}]}`))
		require.NoError(t, err)
		data, err := json.Marshal(d)
		require.NoError(t, err)
		var back models.UniformDelta
		require.NoError(t, json.Unmarshal(data, &back))
		first, _ := back.First()
		assert.Equal(t, "a \"quoted\" é\n", *first.Content)
	})

	t.Run("in-band error", func(t *testing.T) {
		_, err := p.ConvertResponse([]byte(`{"error":{"message":"overloaded"}}`))
		assert.EqualError(t, err, "provider stream error: overloaded")
	})
}

func TestOpenAIGenerateImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images/generations", r.URL.Path)
		var req openAIImageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, defaultImageModel, req.Model)
		assert.Equal(t, "a cat", req.Prompt)
		w.Write([]byte(`{"data":[{"url":"https://img/1.png","revised_prompt":"a fluffy cat"}]}`))
	}))
	defer srv.Close()

	p := NewOpenAI(testExecutor(srv), logger.Discard())
	res, err := p.GenerateImage(context.Background(), ImageRequest{Prompt: "a cat", BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)
	assert.False(t, res.Error)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "a fluffy cat", res.Data[0].RevisedPrompt)
}

func TestGenerateImageUnsupported(t *testing.T) {
	for _, p := range []Provider{
		NewGroq(nil, logger.Discard()),
		NewGoogle(nil, logger.Discard()),
		NewOllama(nil, logger.Discard()),
	} {
		res, err := p.GenerateImage(context.Background(), ImageRequest{Prompt: "x"})
		assert.ErrorIs(t, err, ErrImageUnsupported, p.ID())
		assert.True(t, res.Error)
	}
}

func TestAnthropicHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-ant", r.Header.Get("X-Api-Key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("Anthropic-Version"))
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"data":[{"id":"claude-3-5-sonnet","display_name":"Claude 3.5 Sonnet","type":"model"}]}`))
	}))
	defer srv.Close()

	p := NewAnthropic(testExecutor(srv), logger.Discard())
	list, err := p.ListModels(context.Background(), models.ProviderSetting{BaseURL: srv.URL, APIKey: "sk-ant"}, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Claude 3.5 Sonnet", list[0].Name)

	embeddings, err := p.ListModels(context.Background(), models.ProviderSetting{BaseURL: srv.URL, APIKey: "sk-ant"}, true)
	require.NoError(t, err)
	assert.Empty(t, embeddings)
}
