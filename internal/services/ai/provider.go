package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/transport"
)

// ProviderID identifies a backend adapter
type ProviderID string

const (
	ProviderOllama     ProviderID = "ollama"
	ProviderOpenAI     ProviderID = "openai"
	ProviderTogether   ProviderID = "together"
	ProviderMistral    ProviderID = "mistral"
	ProviderGroq       ProviderID = "groq"
	ProviderDeepSeek   ProviderID = "deepseek"
	ProviderOpenRouter ProviderID = "openrouter"
	ProviderAnthropic  ProviderID = "anthropic"
	ProviderGoogle     ProviderID = "google"
)

var (
	ErrNoMatchingProvider = errors.New("no matching provider")
	ErrImageUnsupported   = errors.New("image generation is not supported by this provider")
	ErrMissingBaseURL     = errors.New("provider base URL is not configured")
	ErrMissingAPIKey      = errors.New("provider API key is not configured")
	ErrMissingModel       = errors.New("no model selected")
)

// ConfigurationError is a programmer or setup error surfaced at dispatch; it is never retried
type ConfigurationError struct {
	Provider string
	Err      error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("provider %q: %v", e.Provider, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Provider is the capability set every backend adapter implements
type Provider interface {
	ID() ProviderID
	// DefaultBaseURL is used when the setting leaves BaseURL empty
	DefaultBaseURL() string
	RequiresAPIKey() bool
	// ListModels fails closed: transport or schema errors yield an empty list
	ListModels(ctx context.Context, setting models.ProviderSetting, embeddingOnly bool) ([]models.ModelDescriptor, error)
	// ChatCompletions always returns a Completion; its Body is empty when err is non-nil
	ChatCompletions(ctx context.Context, req CompletionRequest) (*Completion, error)
	Cancel(h *StreamHandle)
	// ConvertResponse is pure: one provider JSON object in, one uniform delta out
	ConvertResponse(raw []byte) (models.UniformDelta, error)
	GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error)
}

// CompletionRequest is the uniform chat-completion request
type CompletionRequest struct {
	Model    string
	Messages []models.ChatMessage
	BaseURL  string
	APIKey   string
}

// ImageRequest is the uniform image-generation request
type ImageRequest struct {
	Prompt  string
	Model   string
	BaseURL string
	APIKey  string
}

// ImageResult carries generated images; Error is set when nothing was produced
type ImageResult struct {
	Error bool                    `json:"error"`
	Data  []models.GeneratedImage `json:"data"`
}

// StreamHandle is the caller-owned abort controller of one in-flight completion
type StreamHandle struct {
	ID      string
	cancel  context.CancelFunc
	once    sync.Once
	aborted atomic.Bool
}

func newStreamHandle(parent context.Context) (context.Context, *StreamHandle) {
	ctx, cancel := context.WithCancel(parent)
	return ctx, &StreamHandle{ID: uuid.NewString(), cancel: cancel}
}

// Cancel aborts the request. It is idempotent and safe on a nil handle;
// it reports whether this call performed the abort.
func (h *StreamHandle) Cancel() bool {
	if h == nil {
		return false
	}
	did := false
	h.once.Do(func() {
		h.aborted.Store(true)
		h.cancel()
		did = true
	})
	return did
}

// Aborted reports whether Cancel ran before the stream was released
func (h *StreamHandle) Aborted() bool {
	return h != nil && h.aborted.Load()
}

// release frees the request context without marking the stream aborted
func (h *StreamHandle) release() {
	if h == nil {
		return
	}
	h.once.Do(h.cancel)
}

// Completion is an in-flight streamed response
type Completion struct {
	Provider ProviderID
	Model    string
	Handle   *StreamHandle
	Body     io.ReadCloser
}

// Close releases the body and the request context
func (c *Completion) Close() error {
	err := c.Body.Close()
	c.Handle.release()
	return err
}

// failedCompletion wraps an error path so callers can still read an empty stream
func failedCompletion(id ProviderID, model string, h *StreamHandle) *Completion {
	h.release()
	return &Completion{Provider: id, Model: model, Handle: h, Body: transport.EmptyBody()}
}

// handles gives adapters the shared Cancel implementation
type handles struct{}

func (handles) Cancel(h *StreamHandle) {
	h.Cancel()
}

// unsupportedImages gives adapters without image generation the shared fallback
type unsupportedImages struct{}

func (unsupportedImages) GenerateImage(ctx context.Context, req ImageRequest) (ImageResult, error) {
	return ImageResult{Error: true, Data: []models.GeneratedImage{}}, ErrImageUnsupported
}

// resolveBaseURL picks the configured base URL or the adapter default
func resolveBaseURL(configured, fallback string) string {
	if configured == "" {
		configured = fallback
	}
	return trimBaseURL(configured)
}

func trimBaseURL(u string) string {
	for len(u) > 0 && u[len(u)-1] == '/' {
		u = u[:len(u)-1]
	}
	return u
}
