package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the author of a chat message
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageKind distinguishes text turns from image-generation results
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
)

// ContextType annotates why a message was sent
type ContextType string

const (
	ContextDocument        ContextType = "document"
	ContextImageGeneration ContextType = "image-generation"
)

// ProviderRef identifies the backend and model that produced a message
type ProviderRef struct {
	ProviderID string `json:"provider_id,omitempty"`
	ModelID    string `json:"model_id,omitempty"`
}

// IsZero reports whether the message has not been dispatched to any provider
func (p ProviderRef) IsZero() bool {
	return p.ProviderID == "" && p.ModelID == ""
}

// MessageContext references a RAG document or image-generation mode
type MessageContext struct {
	Type     ContextType `json:"type"`
	Document string      `json:"document,omitempty"`
}

// GeneratedImage is the payload of a ChatImageMessage
type GeneratedImage struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// ChatMessage represents one conversational turn
type ChatMessage struct {
	ID             string          `json:"id"`
	Kind           MessageKind     `json:"kind"`
	Role           Role            `json:"role"`
	Content        Content         `json:"content"`
	Provider       ProviderRef     `json:"provider"`
	StreamComplete bool            `json:"stream_complete"`
	IsReasoning    bool            `json:"is_reasoning"`
	Reasoning      string          `json:"reasoning,omitempty"`
	Cancelled      bool            `json:"cancelled"`
	IsError        bool            `json:"is_error,omitempty"`
	DurationMs     int64           `json:"duration_ms"`
	Context        *MessageContext `json:"context,omitempty"`
	Image          *GeneratedImage `json:"image,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewMessage creates a text message with a fresh id
func NewMessage(role Role, content Content) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Kind:      KindText,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewImageMessage creates an assistant image-generation message placeholder
func NewImageMessage(ref ProviderRef) ChatMessage {
	msg := NewMessage(RoleAssistant, TextContent(""))
	msg.Kind = KindImage
	msg.Provider = ref
	msg.Context = &MessageContext{Type: ContextImageGeneration}
	return msg
}

// APIType selects the wire family used for models listing and embeddings
type APIType string

const (
	APITypeOllama APIType = "ollama"
	APITypeOpenAI APIType = "openai"
	APITypeGoogle APIType = "google"
)

// ProviderSetting holds per-provider connection details.
// APIKey is decrypted in memory only; use Redacted before logging.
type ProviderSetting struct {
	ProviderID          string  `json:"provider_id" mapstructure:"id"`
	APIType             APIType `json:"api_type" mapstructure:"api_type"`
	BaseURL             string  `json:"base_url" mapstructure:"base_url"`
	APIKey              string  `json:"-" mapstructure:"api_key"`
	HasEmbeddingSupport bool    `json:"has_embedding_support" mapstructure:"has_embedding_support"`
	EmbeddingPath       string  `json:"embedding_path,omitempty" mapstructure:"embedding_path"`
	LockedModelType     string  `json:"locked_model_type,omitempty" mapstructure:"locked_model_type"`
	DefaultModel        string  `json:"default_model,omitempty" mapstructure:"default_model"`
}

// Redacted returns log-safe fields for the setting
func (s ProviderSetting) Redacted() map[string]interface{} {
	return map[string]interface{}{
		"provider":      s.ProviderID,
		"api_type":      s.APIType,
		"base_url":      s.BaseURL,
		"has_api_key":   s.APIKey != "",
		"has_embedding": s.HasEmbeddingSupport,
	}
}

// ModelDescriptor describes one entry of a provider's model catalog
type ModelDescriptor struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ProviderID  string `json:"provider_id"`
	Embedding   bool   `json:"embedding"`
	ImageOutput bool   `json:"image_output,omitempty"`
}

// DocumentVector is one embedded chunk of a RAG document
type DocumentVector struct {
	Text       string    `json:"text"`
	SourceFile string    `json:"source_file"`
	ChunkIndex int       `json:"chunk_index"`
	ChunkTotal int       `json:"chunk_total"`
	Embedding  []float32 `json:"embedding"`
	TokenCount int       `json:"token_count"`
}

// DocumentChunk is a search hit returned by a vector store
type DocumentChunk struct {
	DocumentVector
	Score float32 `json:"score"`
}
