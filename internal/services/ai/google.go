package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/transport"
	"github.com/sirupsen/logrus"
)

// Google speaks the Gemini generativelanguage v1beta API
type Google struct {
	handles
	unsupportedImages

	exec   *transport.Executor
	logger *logrus.Logger
}

// NewGoogle creates the Google adapter
func NewGoogle(exec *transport.Executor, logger *logrus.Logger) *Google {
	return &Google{exec: exec, logger: logger}
}

func (g *Google) ID() ProviderID         { return ProviderGoogle }
func (g *Google) DefaultBaseURL() string { return "https://generativelanguage.googleapis.com" }
func (g *Google) RequiresAPIKey() bool   { return true }

func googleHeaders(apiKey string) http.Header {
	h := http.Header{}
	h.Set("X-Goog-Api-Key", apiKey)
	return h
}

type googleModel struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

func (m googleModel) supports(method string) bool {
	for _, s := range m.SupportedGenerationMethods {
		if s == method {
			return true
		}
	}
	return false
}

// ListModels lists generateContent models, or embedContent models when embeddingOnly
func (g *Google) ListModels(ctx context.Context, setting models.ProviderSetting, embeddingOnly bool) ([]models.ModelDescriptor, error) {
	base := resolveBaseURL(setting.BaseURL, g.DefaultBaseURL())
	resp, err := g.exec.Execute(ctx, transport.Request{
		URL:     base + "/v1beta/models?pageSize=1000",
		Method:  http.MethodGet,
		Headers: googleHeaders(setting.APIKey),
	})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		g.logger.WithField("provider", ProviderGoogle).WithError(err).Warn("Failed to list models")
		return []models.ModelDescriptor{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return []models.ModelDescriptor{}, fmt.Errorf("failed to read model list: %w", err)
	}

	var body struct {
		Models *[]googleModel `json:"models"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Models == nil {
		if err == nil {
			err = fmt.Errorf("invalid model list: missing models field")
		}
		g.logger.WithField("provider", ProviderGoogle).WithError(err).Warn("Model list failed validation")
		return []models.ModelDescriptor{}, err
	}

	result := make([]models.ModelDescriptor, 0, len(*body.Models))
	for _, m := range *body.Models {
		id := strings.TrimPrefix(m.Name, "models/")
		if id == "" {
			continue
		}
		embedding := m.supports("embedContent")
		if embeddingOnly && !embedding {
			continue
		}
		if !embeddingOnly && !m.supports("generateContent") && !embedding {
			continue
		}
		name := m.DisplayName
		if name == "" {
			name = id
		}
		result = append(result, models.ModelDescriptor{
			ID:         id,
			Name:       name,
			ProviderID: string(ProviderGoogle),
			Embedding:  embedding,
		})
	}
	return result, nil
}

type googleChatRequest struct {
	Contents          []googleContent `json:"contents"`
	SystemInstruction *googleContent  `json:"systemInstruction,omitempty"`
}

// ChatCompletions opens a streamGenerateContent SSE stream
func (g *Google) ChatCompletions(ctx context.Context, req CompletionRequest) (*Completion, error) {
	ctx, handle := newStreamHandle(ctx)
	if req.Model == "" {
		return failedCompletion(ProviderGoogle, req.Model, handle), &ConfigurationError{Provider: string(ProviderGoogle), Err: fmt.Errorf("model is required")}
	}

	contents, system := toGoogleContents(req.Messages)
	base := resolveBaseURL(req.BaseURL, g.DefaultBaseURL())
	model := strings.TrimPrefix(req.Model, "models/")

	resp, err := g.exec.Execute(ctx, transport.Request{
		URL:     fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", base, url.PathEscape(model)),
		Payload: googleChatRequest{Contents: contents, SystemInstruction: system},
		Headers: googleHeaders(req.APIKey),
	})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return failedCompletion(ProviderGoogle, req.Model, handle), err
	}
	return &Completion{Provider: ProviderGoogle, Model: req.Model, Handle: handle, Body: resp.Body}, nil
}

type googleChunk struct {
	Candidates []struct {
		Index   int `json:"index"`
		Content struct {
			Role  string `json:"role"`
			Parts []struct {
				Text    string `json:"text"`
				Thought bool   `json:"thought"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error json.RawMessage `json:"error"`
}

// ConvertResponse maps candidates to choices; thought parts feed Reasoning
func (g *Google) ConvertResponse(raw []byte) (models.UniformDelta, error) {
	var chunk googleChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return models.UniformDelta{}, fmt.Errorf("failed to decode chunk: %w", err)
	}
	if err := streamError(chunk.Error); err != nil {
		return models.UniformDelta{}, err
	}

	out := models.UniformDelta{Choices: make([]models.DeltaChoice, 0, len(chunk.Candidates))}
	for _, c := range chunk.Candidates {
		var text, thought strings.Builder
		hasText, hasThought := false, false
		for _, part := range c.Content.Parts {
			if part.Thought {
				thought.WriteString(part.Text)
				hasThought = true
				continue
			}
			text.WriteString(part.Text)
			hasText = true
		}

		delta := models.StreamDelta{Role: string(models.RoleAssistant)}
		if hasText {
			s := text.String()
			delta.Content = &s
		}
		if hasThought {
			s := thought.String()
			delta.Reasoning = &s
		}
		out.Choices = append(out.Choices, models.DeltaChoice{Index: c.Index, Delta: delta})
	}
	return out, nil
}
