package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/transport"
	"github.com/sirupsen/logrus"
)

// TaskType tells Google which side of a retrieval the embedding serves
type TaskType string

const (
	TaskRetrievalDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    TaskType = "RETRIEVAL_QUERY"
)

// Embedding is one embedded text
type Embedding struct {
	Vector     []float32
	TokenCount int
}

// Embedder calls the embedding endpoint matching a setting's api type
type Embedder struct {
	exec   *transport.Executor
	logger *logrus.Logger
}

// NewEmbedder creates an embedder
func NewEmbedder(exec *transport.Executor, logger *logrus.Logger) *Embedder {
	return &Embedder{exec: exec, logger: logger}
}

// EmbedText embeds text for storage
func (e *Embedder) EmbedText(ctx context.Context, text, model string, setting models.ProviderSetting) (Embedding, error) {
	return e.EmbedTextAs(ctx, text, model, setting, TaskRetrievalDocument)
}

// EmbedTextAs embeds text for the given retrieval task
func (e *Embedder) EmbedTextAs(ctx context.Context, text, model string, setting models.ProviderSetting, task TaskType) (Embedding, error) {
	if setting.BaseURL == "" {
		return Embedding{}, &ConfigurationError{Provider: setting.ProviderID, Err: ErrMissingBaseURL}
	}
	if model == "" {
		return Embedding{}, &ConfigurationError{Provider: setting.ProviderID, Err: fmt.Errorf("embedding model is required")}
	}

	var (
		emb Embedding
		err error
	)
	switch setting.APIType {
	case models.APITypeOllama:
		emb, err = e.embedOllama(ctx, text, model, setting)
	case models.APITypeOpenAI:
		emb, err = e.embedOpenAI(ctx, text, model, setting)
	case models.APITypeGoogle:
		emb, err = e.embedGoogle(ctx, text, model, setting, task)
	default:
		return Embedding{}, &ConfigurationError{Provider: setting.ProviderID, Err: fmt.Errorf("unsupported api type %q", setting.APIType)}
	}
	if err != nil {
		return Embedding{}, err
	}

	if len(emb.Vector) == 0 {
		return Embedding{}, fmt.Errorf("provider returned an empty embedding")
	}
	if emb.TokenCount == 0 {
		emb.TokenCount = EstimateTokens(text)
	}
	return emb, nil
}

// EstimateTokens approximates a token count at four characters per token
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

func embeddingURL(setting models.ProviderSetting, fallback string) string {
	path := setting.EmbeddingPath
	if path == "" {
		path = fallback
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return trimBaseURL(setting.BaseURL) + path
}

func (e *Embedder) embedOllama(ctx context.Context, text, model string, setting models.ProviderSetting) (Embedding, error) {
	var body struct {
		Embedding       []float32 `json:"embedding"`
		PromptEvalCount int       `json:"prompt_eval_count"`
	}
	err := e.post(ctx, transport.Request{
		URL:     embeddingURL(setting, "/api/embeddings"),
		APIKey:  setting.APIKey,
		Payload: map[string]string{"model": model, "prompt": text},
	}, &body)
	if err != nil {
		return Embedding{}, err
	}
	return Embedding{Vector: body.Embedding, TokenCount: body.PromptEvalCount}, nil
}

func (e *Embedder) embedOpenAI(ctx context.Context, text, model string, setting models.ProviderSetting) (Embedding, error) {
	var body struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
		Usage struct {
			PromptTokens int `json:"prompt_tokens"`
			TotalTokens  int `json:"total_tokens"`
		} `json:"usage"`
	}
	err := e.post(ctx, transport.Request{
		URL:     embeddingURL(setting, "/v1/embeddings"),
		APIKey:  setting.APIKey,
		Payload: map[string]string{"model": model, "input": text},
	}, &body)
	if err != nil {
		return Embedding{}, err
	}
	if len(body.Data) == 0 {
		return Embedding{}, fmt.Errorf("provider returned no embedding data")
	}
	tokens := body.Usage.PromptTokens
	if tokens == 0 {
		tokens = body.Usage.TotalTokens
	}
	return Embedding{Vector: body.Data[0].Embedding, TokenCount: tokens}, nil
}

type googleEmbedRequest struct {
	Content  googleContent `json:"content"`
	TaskType TaskType      `json:"taskType,omitempty"`
}

func (e *Embedder) embedGoogle(ctx context.Context, text, model string, setting models.ProviderSetting, task TaskType) (Embedding, error) {
	model = strings.TrimPrefix(model, "models/")
	var body struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	err := e.post(ctx, transport.Request{
		URL:     embeddingURL(setting, "/v1beta/models/"+url.PathEscape(model)+":embedContent"),
		Headers: googleHeaders(setting.APIKey),
		Payload: googleEmbedRequest{
			Content:  googleContent{Parts: []googlePart{{Text: text}}},
			TaskType: task,
		},
	}, &body)
	if err != nil {
		return Embedding{}, err
	}
	return Embedding{Vector: body.Embedding.Values}, nil
}

func (e *Embedder) post(ctx context.Context, req transport.Request, out interface{}) error {
	resp, err := e.exec.Execute(ctx, req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode embedding response: %w", err)
	}
	return nil
}
