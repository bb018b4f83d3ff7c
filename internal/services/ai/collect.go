package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/multi-llm-chat-go/internal/services/stream"
	"github.com/multi-llm-chat-go/internal/services/transport"
	"github.com/sirupsen/logrus"
)

// Collector runs a completion to the end and returns its full answer text.
// It is used for short side requests such as title generation.
type Collector struct {
	MaxRetries int
	// Backoff returns the wait before the given retry attempt
	Backoff func(attempt int) time.Duration
	logger  *logrus.Logger
}

// NewCollector creates a collector with exponential backoff: 2s, 4s, 8s
func NewCollector(logger *logrus.Logger) *Collector {
	return &Collector{
		MaxRetries: 3,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(2<<uint(attempt-1)) * time.Second
		},
		logger: logger,
	}
}

// Collect gets the answer with retry logic. Client errors and cancellations are not retried.
func (c *Collector) Collect(ctx context.Context, p Provider, req CompletionRequest) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= c.MaxRetries; attempt++ {
		text, err := c.collectOnce(ctx, p, req)
		if err == nil {
			return text, nil
		}

		lastErr = err
		if !retryable(err) {
			return "", err
		}
		c.logger.WithFields(logrus.Fields{
			"attempt":  attempt,
			"provider": p.ID(),
			"model":    req.Model,
		}).WithError(err).Warn("Completion request failed, retrying...")

		if attempt < c.MaxRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.Backoff(attempt)):
			}
		}
	}

	return "", fmt.Errorf("all retry attempts failed: %w", lastErr)
}

func (c *Collector) collectOnce(ctx context.Context, p Provider, req CompletionRequest) (string, error) {
	completion, err := p.ChatCompletions(ctx, req)
	if err != nil {
		return "", err
	}
	defer completion.Close()

	var answer strings.Builder
	r := stream.New(completion.Body, p, c.logger)
	for {
		delta, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if completion.Handle.Aborted() || ctx.Err() != nil {
				return "", &transport.Error{Kind: transport.KindAborted, Message: "request aborted", Err: context.Canceled}
			}
			return "", fmt.Errorf("failed to read response: %w", err)
		}
		if first, ok := delta.First(); ok && first.Content != nil {
			answer.WriteString(*first.Content)
		}
	}

	if answer.Len() == 0 {
		return "", fmt.Errorf("no response from provider")
	}
	return answer.String(), nil
}

func retryable(err error) bool {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) || transport.IsAborted(err) {
		return false
	}
	var te *transport.Error
	if errors.As(err, &te) && te.Kind == transport.KindStatus {
		// don't retry for client errors (4xx) except rate limiting
		return te.StatusCode >= 500 || te.StatusCode == 429
	}
	return true
}
