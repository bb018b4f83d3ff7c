package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ContentKind tags which shape a Content value holds
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentParts ContentKind = "parts"
)

// PartType tags a single content part
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ImageData is an image attached to a message, either by URL or as inline base64 data
type ImageData struct {
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// DataURL returns the image as a URL, building a data: URL for inline payloads
func (i ImageData) DataURL() string {
	if i.URL != "" {
		return i.URL
	}
	mime := i.MimeType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + i.Data
}

// ContentPart is one element of a multi-part message
type ContentPart struct {
	Type  PartType   `json:"type"`
	Text  string     `json:"text,omitempty"`
	Image *ImageData `json:"image,omitempty"`
}

// TextPartOf creates a text part
func TextPartOf(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePartOf creates an image part
func ImagePartOf(img ImageData) ContentPart {
	return ContentPart{Type: PartImage, Image: &img}
}

// Content is either plain text or an ordered list of typed parts, never both.
type Content struct {
	Kind  ContentKind
	Text  string
	Parts []ContentPart
}

// TextContent creates plain text content
func TextContent(text string) Content {
	return Content{Kind: ContentText, Text: text}
}

// PartsContent creates multi-part content
func PartsContent(parts ...ContentPart) Content {
	return Content{Kind: ContentParts, Parts: parts}
}

// PlainText flattens the content to its text, joining text parts with newlines
func (c Content) PlainText() string {
	if c.Kind != ContentParts {
		return c.Text
	}
	texts := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		if p.Type == PartText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Images returns the image parts of the content
func (c Content) Images() []ImageData {
	if c.Kind != ContentParts {
		return nil
	}
	var images []ImageData
	for _, p := range c.Parts {
		if p.Type == PartImage && p.Image != nil {
			images = append(images, *p.Image)
		}
	}
	return images
}

// MarshalJSON encodes text content as a JSON string and parts as an array
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Kind == ContentParts {
		parts := c.Parts
		if parts == nil {
			parts = []ContentPart{}
		}
		return json.Marshal(parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON dispatches on the JSON token kind
func (c *Content) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*c = TextContent("")
		return nil
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*c = TextContent(text)
		return nil
	case '[':
		var parts []ContentPart
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return err
		}
		for i, p := range parts {
			switch p.Type {
			case PartText:
			case PartImage:
				if p.Image == nil {
					return fmt.Errorf("content part %d: image part without image data", i)
				}
			default:
				return fmt.Errorf("content part %d: unknown type %q", i, p.Type)
			}
		}
		*c = PartsContent(parts...)
		return nil
	default:
		return fmt.Errorf("content must be a string or an array of parts")
	}
}
