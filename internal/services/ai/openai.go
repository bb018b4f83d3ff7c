package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/transport"
	"github.com/sirupsen/logrus"
)

const defaultImageModel = "dall-e-3"

// catalogEntry covers the model-list entry shapes of the OpenAI-compatible family
type catalogEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
	OwnedBy     string `json:"owned_by"`
}

func (e catalogEntry) displayName() string {
	switch {
	case e.DisplayName != "":
		return e.DisplayName
	case e.Name != "":
		return e.Name
	default:
		return e.ID
	}
}

type compatOption func(*OpenAICompatible)

// withHeaders sets provider-specific request headers
func withHeaders(fn func(apiKey string) http.Header) compatOption {
	return func(p *OpenAICompatible) { p.headers = fn }
}

// withEmbeddingRule overrides how catalog entries are classified as embedding models
func withEmbeddingRule(fn func(catalogEntry) bool) compatOption {
	return func(p *OpenAICompatible) { p.isEmbedding = fn }
}

// withImageGeneration enables the images endpoint and lists the default image model
func withImageGeneration() compatOption {
	return func(p *OpenAICompatible) { p.images = true }
}

// OpenAICompatible speaks the /v1/models and /v1/chat/completions dialect
type OpenAICompatible struct {
	handles

	id          ProviderID
	baseURL     string
	exec        *transport.Executor
	logger      *logrus.Logger
	headers     func(apiKey string) http.Header
	isEmbedding func(catalogEntry) bool
	images      bool
}

func newOpenAICompatible(id ProviderID, baseURL string, exec *transport.Executor, logger *logrus.Logger, opts ...compatOption) *OpenAICompatible {
	p := &OpenAICompatible{
		id:          id,
		baseURL:     baseURL,
		exec:        exec,
		logger:      logger,
		headers:     func(string) http.Header { return nil },
		isEmbedding: defaultEmbeddingRule,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOpenAI creates the OpenAI adapter, the only one with image generation
func NewOpenAI(exec *transport.Executor, logger *logrus.Logger) *OpenAICompatible {
	return newOpenAICompatible(ProviderOpenAI, "https://api.openai.com", exec, logger, withImageGeneration())
}

// NewTogether creates the Together adapter
func NewTogether(exec *transport.Executor, logger *logrus.Logger) *OpenAICompatible {
	return newOpenAICompatible(ProviderTogether, "https://api.together.xyz", exec, logger)
}

// NewMistral creates the Mistral adapter
func NewMistral(exec *transport.Executor, logger *logrus.Logger) *OpenAICompatible {
	return newOpenAICompatible(ProviderMistral, "https://api.mistral.ai", exec, logger)
}

// NewGroq creates the Groq adapter
func NewGroq(exec *transport.Executor, logger *logrus.Logger) *OpenAICompatible {
	return newOpenAICompatible(ProviderGroq, "https://api.groq.com/openai", exec, logger)
}

// NewDeepSeek creates the DeepSeek adapter
func NewDeepSeek(exec *transport.Executor, logger *logrus.Logger) *OpenAICompatible {
	return newOpenAICompatible(ProviderDeepSeek, "https://api.deepseek.com", exec, logger)
}

// NewOpenRouter creates the OpenRouter adapter
func NewOpenRouter(exec *transport.Executor, logger *logrus.Logger) *OpenAICompatible {
	return newOpenAICompatible(ProviderOpenRouter, "https://openrouter.ai/api", exec, logger,
		withHeaders(func(string) http.Header {
			h := http.Header{}
			h.Set("X-Title", "multi-llm-chat")
			return h
		}))
}

func (p *OpenAICompatible) ID() ProviderID         { return p.id }
func (p *OpenAICompatible) DefaultBaseURL() string { return p.baseURL }
func (p *OpenAICompatible) RequiresAPIKey() bool   { return true }

// endpoint joins base and path, accepting base URLs configured with or without /v1
func (p *OpenAICompatible) endpoint(base, path string) string {
	base = resolveBaseURL(base, p.baseURL)
	if strings.HasSuffix(base, "/v1") {
		return base + path
	}
	return base + "/v1" + path
}

// ListModels fetches the catalog
func (p *OpenAICompatible) ListModels(ctx context.Context, setting models.ProviderSetting, embeddingOnly bool) ([]models.ModelDescriptor, error) {
	resp, err := p.exec.Execute(ctx, transport.Request{
		URL:     p.endpoint(setting.BaseURL, "/models"),
		Method:  http.MethodGet,
		APIKey:  setting.APIKey,
		Headers: p.headers(setting.APIKey),
	})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		p.logger.WithField("provider", p.id).WithError(err).Warn("Failed to list models")
		return []models.ModelDescriptor{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return []models.ModelDescriptor{}, fmt.Errorf("failed to read model list: %w", err)
	}

	entries, err := decodeCatalog(data)
	if err != nil {
		p.logger.WithField("provider", p.id).WithError(err).Warn("Model list failed validation")
		return []models.ModelDescriptor{}, err
	}

	result := make([]models.ModelDescriptor, 0, len(entries)+1)
	seenImageModel := false
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		desc := models.ModelDescriptor{
			ID:          e.ID,
			Name:        e.displayName(),
			ProviderID:  string(p.id),
			Embedding:   p.isEmbedding(e),
			ImageOutput: isImageModel(e.ID),
		}
		if desc.ID == defaultImageModel {
			seenImageModel = true
		}
		if embeddingOnly && !desc.Embedding {
			continue
		}
		result = append(result, desc)
	}

	if p.images && !embeddingOnly && !seenImageModel {
		result = append(result, models.ModelDescriptor{
			ID:          defaultImageModel,
			Name:        "DALL·E 3",
			ProviderID:  string(p.id),
			ImageOutput: true,
		})
	}
	return result, nil
}

// decodeCatalog accepts {"data":[...]} and a bare array
func decodeCatalog(data []byte) ([]catalogEntry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []catalogEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("invalid model list: %w", err)
		}
		return entries, nil
	}

	var body struct {
		Data *[]catalogEntry `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &body); err != nil {
		return nil, fmt.Errorf("invalid model list: %w", err)
	}
	if body.Data == nil {
		return nil, fmt.Errorf("invalid model list: missing data field")
	}
	return *body.Data, nil
}

func defaultEmbeddingRule(e catalogEntry) bool {
	return e.Type == "embedding" || strings.Contains(strings.ToLower(e.ID), "embed")
}

func isImageModel(id string) bool {
	return strings.HasPrefix(id, "dall-e") || strings.HasPrefix(id, "gpt-image")
}

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// ChatCompletions starts a streamed completion
func (p *OpenAICompatible) ChatCompletions(ctx context.Context, req CompletionRequest) (*Completion, error) {
	ctx, handle := newStreamHandle(ctx)
	if req.Model == "" {
		return failedCompletion(p.id, req.Model, handle), &ConfigurationError{Provider: string(p.id), Err: fmt.Errorf("model is required")}
	}

	resp, err := p.exec.Execute(ctx, transport.Request{
		URL:    p.endpoint(req.BaseURL, "/chat/completions"),
		APIKey: req.APIKey,
		Payload: openAIChatRequest{
			Model:    req.Model,
			Messages: toOpenAIMessages(req.Messages),
			Stream:   true,
		},
		Headers: p.headers(req.APIKey),
	})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return failedCompletion(p.id, req.Model, handle), err
	}

	p.logger.WithFields(logrus.Fields{
		"provider": p.id,
		"model":    req.Model,
		"messages": len(req.Messages),
	}).Debug("Chat completion stream opened")

	return &Completion{Provider: p.id, Model: req.Model, Handle: handle, Body: resp.Body}, nil
}

type openAIChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role             string  `json:"role"`
			Content          *string `json:"content"`
			ReasoningContent *string `json:"reasoning_content"`
			Reasoning        *string `json:"reasoning"`
		} `json:"delta"`
	} `json:"choices"`
	Error json.RawMessage `json:"error"`
}

// ConvertResponse maps one chunk; reasoning_content and reasoning both feed Reasoning
func (p *OpenAICompatible) ConvertResponse(raw []byte) (models.UniformDelta, error) {
	return convertOpenAIChunk(raw)
}

func convertOpenAIChunk(raw []byte) (models.UniformDelta, error) {
	var chunk openAIChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return models.UniformDelta{}, fmt.Errorf("failed to decode chunk: %w", err)
	}
	if err := streamError(chunk.Error); err != nil {
		return models.UniformDelta{}, err
	}

	out := models.UniformDelta{Choices: make([]models.DeltaChoice, 0, len(chunk.Choices))}
	for _, c := range chunk.Choices {
		reasoning := c.Delta.ReasoningContent
		if reasoning == nil {
			reasoning = c.Delta.Reasoning
		}
		out.Choices = append(out.Choices, models.DeltaChoice{
			Index: c.Index,
			Delta: models.StreamDelta{
				Role:      c.Delta.Role,
				Content:   c.Delta.Content,
				Reasoning: reasoning,
			},
		})
	}
	return out, nil
}

// streamError reads an in-band error object or string
func streamError(raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var nested struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Message != "" {
		return fmt.Errorf("provider stream error: %s", nested.Message)
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil && text != "" {
		return fmt.Errorf("provider stream error: %s", text)
	}
	return fmt.Errorf("provider stream error: %s", string(raw))
}

type openAIImageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type openAIImageResponse struct {
	Data []models.GeneratedImage `json:"data"`
}

// GenerateImage calls /v1/images/generations when the adapter supports it
func (p *OpenAICompatible) GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error) {
	if !p.images {
		return unsupportedImages{}.GenerateImage(ctx, req)
	}

	model := req.Model
	if model == "" {
		model = defaultImageModel
	}

	resp, err := p.exec.Execute(ctx, transport.Request{
		URL:     p.endpoint(req.BaseURL, "/images/generations"),
		APIKey:  req.APIKey,
		Payload: openAIImageRequest{Model: model, Prompt: req.Prompt, N: 1, Size: "1024x1024"},
	})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return ImageResult{Error: true, Data: []models.GeneratedImage{}}, err
	}
	defer resp.Body.Close()

	var body openAIImageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ImageResult{Error: true, Data: []models.GeneratedImage{}}, fmt.Errorf("failed to decode image response: %w", err)
	}
	if len(body.Data) == 0 {
		return ImageResult{Error: true, Data: []models.GeneratedImage{}}, fmt.Errorf("provider returned no images")
	}
	return ImageResult{Data: body.Data}, nil
}
