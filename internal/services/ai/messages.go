package ai

import (
	"strings"

	"github.com/multi-llm-chat-go/internal/models"
)

// outgoing filters history down to what is sent upstream: error notices and
// unfinished image placeholders stay local.
func outgoing(messages []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.IsError {
			continue
		}
		if m.Kind == models.KindImage {
			if m.Image == nil {
				continue
			}
			prompt := m.Image.RevisedPrompt
			if prompt == "" {
				prompt = "image generated"
			}
			m.Content = models.TextContent("[" + prompt + "]")
		}
		out = append(out, m)
	}
	return out
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

func toOpenAIMessages(messages []models.ChatMessage) []openAIMessage {
	src := outgoing(messages)
	out := make([]openAIMessage, 0, len(src))
	for _, m := range src {
		if m.Content.Kind != models.ContentParts {
			out = append(out, openAIMessage{Role: string(m.Role), Content: m.Content.Text})
			continue
		}
		parts := make([]openAIPart, 0, len(m.Content.Parts))
		for _, p := range m.Content.Parts {
			switch p.Type {
			case models.PartText:
				parts = append(parts, openAIPart{Type: "text", Text: p.Text})
			case models.PartImage:
				if p.Image == nil {
					continue
				}
				parts = append(parts, openAIPart{
					Type:     "image_url",
					ImageURL: &openAIImageURL{URL: p.Image.DataURL(), Detail: p.Image.Detail},
				})
			}
		}
		out = append(out, openAIMessage{Role: string(m.Role), Content: parts})
	}
	return out
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

func toOllamaMessages(messages []models.ChatMessage) []ollamaMessage {
	src := outgoing(messages)
	out := make([]ollamaMessage, 0, len(src))
	for _, m := range src {
		msg := ollamaMessage{Role: string(m.Role), Content: m.Content.PlainText()}
		for _, img := range m.Content.Images() {
			if img.Data != "" {
				msg.Images = append(msg.Images, img.Data)
			}
		}
		out = append(out, msg)
	}
	return out
}

type googleInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type googleFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri"`
}

type googlePart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *googleInlineData `json:"inlineData,omitempty"`
	FileData   *googleFileData   `json:"fileData,omitempty"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

// toGoogleContents splits out system turns into a single system instruction
func toGoogleContents(messages []models.ChatMessage) ([]googleContent, *googleContent) {
	var system []string
	contents := make([]googleContent, 0, len(messages))
	for _, m := range outgoing(messages) {
		if m.Role == models.RoleSystem {
			system = append(system, m.Content.PlainText())
			continue
		}
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "model"
		}
		contents = append(contents, googleContent{Role: role, Parts: googleParts(m.Content)})
	}

	if len(system) == 0 {
		return contents, nil
	}
	return contents, &googleContent{Parts: []googlePart{{Text: strings.Join(system, "\n\n")}}}
}

func googleParts(c models.Content) []googlePart {
	if c.Kind != models.ContentParts {
		return []googlePart{{Text: c.Text}}
	}
	parts := make([]googlePart, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch {
		case p.Type == models.PartText:
			parts = append(parts, googlePart{Text: p.Text})
		case p.Image != nil && p.Image.Data != "":
			mime := p.Image.MimeType
			if mime == "" {
				mime = "image/png"
			}
			parts = append(parts, googlePart{InlineData: &googleInlineData{MimeType: mime, Data: p.Image.Data}})
		case p.Image != nil:
			parts = append(parts, googlePart{FileData: &googleFileData{MimeType: p.Image.MimeType, FileURI: p.Image.URL}})
		}
	}
	return parts
}
