package ai

import (
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

// embeddingFamily marks Ollama models usable for embeddings
const embeddingFamily = "bert"

// Ollama talks to a local Ollama server; no API key is needed
type Ollama struct {
	handles
	unsupportedImages

	exec   *transport.Executor
	logger *logrus.Logger
}

// NewOllama creates the Ollama adapter
func NewOllama(exec *transport.Executor, logger *logrus.Logger) *Ollama {
	return &Ollama{exec: exec, logger: logger}
}

func (o *Ollama) ID() ProviderID         { return ProviderOllama }
func (o *Ollama) DefaultBaseURL() string { return "http://localhost:11434" }
func (o *Ollama) RequiresAPIKey() bool   { return false }

type ollamaTag struct {
	Name    string `json:"name"`
	Model   string `json:"model"`
	Details struct {
		Family   string   `json:"family"`
		Families []string `json:"families"`
	} `json:"details"`
}

func (t ollamaTag) isEmbedding() bool {
	if strings.Contains(t.Details.Family, embeddingFamily) {
		return true
	}
	for _, f := range t.Details.Families {
		if strings.Contains(f, embeddingFamily) {
			return true
		}
	}
	return false
}

// ListModels reads /api/tags
func (o *Ollama) ListModels(ctx context.Context, setting models.ProviderSetting, embeddingOnly bool) ([]models.ModelDescriptor, error) {
	base := resolveBaseURL(setting.BaseURL, o.DefaultBaseURL())
	resp, err := o.exec.Execute(ctx, transport.Request{
		URL:    base + "/api/tags",
		Method: http.MethodGet,
		APIKey: setting.APIKey,
	})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		o.logger.WithField("provider", ProviderOllama).WithError(err).Warn("Failed to list models")
		return []models.ModelDescriptor{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return []models.ModelDescriptor{}, fmt.Errorf("failed to read model list: %w", err)
	}

	var body struct {
		Models *[]ollamaTag `json:"models"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Models == nil {
		if err == nil {
			err = fmt.Errorf("invalid model list: missing models field")
		}
		o.logger.WithField("provider", ProviderOllama).WithError(err).Warn("Model list failed validation")
		return []models.ModelDescriptor{}, err
	}

	result := make([]models.ModelDescriptor, 0, len(*body.Models))
	for _, t := range *body.Models {
		id := t.Model
		if id == "" {
			id = t.Name
		}
		if id == "" {
			continue
		}
		embedding := t.isEmbedding()
		if embeddingOnly && !embedding {
			continue
		}
		name := t.Name
		if name == "" {
			name = id
		}
		result = append(result, models.ModelDescriptor{
			ID:         id,
			Name:       name,
			ProviderID: string(ProviderOllama),
			Embedding:  embedding,
		})
	}
	return result, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// ChatCompletions opens an NDJSON /api/chat stream
func (o *Ollama) ChatCompletions(ctx context.Context, req CompletionRequest) (*Completion, error) {
	ctx, handle := newStreamHandle(ctx)
	if req.Model == "" {
		return failedCompletion(ProviderOllama, req.Model, handle), &ConfigurationError{Provider: string(ProviderOllama), Err: fmt.Errorf("model is required")}
	}

	resp, err := o.exec.Execute(ctx, transport.Request{
		URL:    resolveBaseURL(req.BaseURL, o.DefaultBaseURL()) + "/api/chat",
		APIKey: req.APIKey,
		Payload: ollamaChatRequest{
			Model:    req.Model,
			Messages: toOllamaMessages(req.Messages),
			Stream:   true,
		},
	})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return failedCompletion(ProviderOllama, req.Model, handle), err
	}
	return &Completion{Provider: ProviderOllama, Model: req.Model, Handle: handle, Body: resp.Body}, nil
}

type ollamaChunk struct {
	Model   string `json:"model"`
	Message *struct {
		Role     string `json:"role"`
		Content  string `json:"content"`
		Thinking string `json:"thinking"`
	} `json:"message"`
	Done  bool            `json:"done"`
	Error json.RawMessage `json:"error"`
}

// ConvertResponse maps one NDJSON line; message.thinking feeds Reasoning
func (o *Ollama) ConvertResponse(raw []byte) (models.UniformDelta, error) {
	var chunk ollamaChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return models.UniformDelta{}, fmt.Errorf("failed to decode chunk: %w", err)
	}
	if err := streamError(chunk.Error); err != nil {
		return models.UniformDelta{}, err
	}
	if chunk.Message == nil {
		return models.UniformDelta{Choices: []models.DeltaChoice{}}, nil
	}

	delta := models.StreamDelta{Role: chunk.Message.Role}
	content := chunk.Message.Content
	delta.Content = &content
	if chunk.Message.Thinking != "" {
		thinking := chunk.Message.Thinking
		delta.Reasoning = &thinking
	}
	return models.UniformDelta{Choices: []models.DeltaChoice{{Index: 0, Delta: delta}}}, nil
}
