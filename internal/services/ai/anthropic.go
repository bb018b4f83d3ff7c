package ai

import (
	"net/http"

	"github.com/multi-llm-chat-go/internal/services/transport"
	"github.com/sirupsen/logrus"
)

const anthropicVersion = "2023-06-01"

// NewAnthropic creates the Anthropic adapter. Chat goes through Anthropic's
// OpenAI-compatible endpoint; auth uses x-api-key instead of a bearer token.
func NewAnthropic(exec *transport.Executor, logger *logrus.Logger) *OpenAICompatible {
	return newOpenAICompatible(ProviderAnthropic, "https://api.anthropic.com", exec, logger,
		withHeaders(anthropicHeaders),
		withEmbeddingRule(func(catalogEntry) bool { return false }),
	)
}

func anthropicHeaders(apiKey string) http.Header {
	h := http.Header{}
	if apiKey != "" {
		h.Set("X-Api-Key", apiKey)
	}
	h.Set("Anthropic-Version", anthropicVersion)
	return h
}
