package chat

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/multi-llm-chat-go/internal/config"
	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/ai"
	"github.com/multi-llm-chat-go/pkg/markdown"
	"github.com/sirupsen/logrus"
)

// ErrEmptyTitle is returned when a model answers with nothing usable as a title
var ErrEmptyTitle = errors.New("empty title")

const messagePlaceholder = "{{message}}"

var (
	fenceMarker  = regexp.MustCompile("```[a-zA-Z0-9_-]*")
	titleLabel   = regexp.MustCompile(`(?i)^\s*"?title"?\s*:\s*`)
	whitespaceRe = regexp.MustCompile(`\s+`)

	// "undefined" glued to either end of the payload
	leadingUndefined  = regexp.MustCompile("^(?:undefined\\s*)+([{`]|$)")
	trailingUndefined = regexp.MustCompile("(^|[}`])(?:\\s*undefined)+$")
)

// TitleGenerator derives a short conversation title from the first user turn
type TitleGenerator struct {
	collector *ai.Collector
	prompt    string
	maxLength int
	logger    *logrus.Logger
}

// NewTitleGenerator creates a title generator
func NewTitleGenerator(cfg config.ChatConfig, collector *ai.Collector, logger *logrus.Logger) *TitleGenerator {
	prompt := cfg.TitlePrompt
	if prompt == "" {
		prompt = config.DefaultTitlePrompt
	}
	maxLength := cfg.TitleMaxLength
	if maxLength <= 0 {
		maxLength = 80
	}
	return &TitleGenerator{
		collector: collector,
		prompt:    prompt,
		maxLength: maxLength,
		logger:    logger,
	}
}

// Generate asks p for a title of the conversation opened by firstMessage.
// req carries the model and connection details; its messages are replaced.
func (g *TitleGenerator) Generate(ctx context.Context, p ai.Provider, req ai.CompletionRequest, firstMessage string) (string, error) {
	req.Messages = []models.ChatMessage{
		models.NewMessage(models.RoleUser, models.TextContent(g.instruction(firstMessage))),
	}

	raw, err := g.collector.Collect(ctx, p, req)
	if err != nil {
		return "", err
	}

	title := truncateRunes(ExtractTitle(raw), g.maxLength)
	if title == "" {
		g.logger.WithField("raw", raw).Debug("Title response had no usable text")
		return "", ErrEmptyTitle
	}
	return title, nil
}

func (g *TitleGenerator) instruction(firstMessage string) string {
	if strings.Contains(g.prompt, messagePlaceholder) {
		return strings.ReplaceAll(g.prompt, messagePlaceholder, firstMessage)
	}
	return g.prompt + "\n\n" + firstMessage
}

// ExtractTitle pulls the title out of a model answer. JSON of the form
// {"title": "..."} is preferred; anything else is cleaned and used as is.
func ExtractTitle(raw string) string {
	text := markdown.StripCodeFence(trimUndefined(raw))
	text = trimUndefined(text)

	if title, ok := parseTitleJSON(text); ok {
		return title
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		if title, ok := parseTitleJSON(text[start : end+1]); ok {
			return title
		}
	}
	return cleanTitle(text)
}

func trimUndefined(text string) string {
	text = strings.TrimSpace(text)
	text = leadingUndefined.ReplaceAllString(text, "$1")
	text = trailingUndefined.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

func parseTitleJSON(text string) (string, bool) {
	var payload struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return "", false
	}
	title := strings.TrimSpace(whitespaceRe.ReplaceAllString(payload.Title, " "))
	return title, title != ""
}

// cleanTitle is the fallback for answers that are not valid JSON
func cleanTitle(text string) string {
	text = fenceMarker.ReplaceAllString(text, "")
	text = strings.Trim(text, " \t\r\n{}")
	text = titleLabel.ReplaceAllString(text, "")
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		text = text[:i]
	}
	text = strings.NewReplacer("*", "", "#", "", "`", "").Replace(text)
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.Trim(text, " \"'.,:;")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}
