package models

import "time"

// ChatHistory is the persisted record of one session
type ChatHistory struct {
	ID        string        `json:"id"`
	Title     string        `json:"title,omitempty"`
	Provider  ProviderRef   `json:"provider"`
	Messages  []ChatMessage `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// HistorySummary is a listing entry without the message bodies
type HistorySummary struct {
	ID        string      `json:"id"`
	Title     string      `json:"title,omitempty"`
	Provider  ProviderRef `json:"provider"`
	Messages  int         `json:"messages"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Summary builds the listing entry for h
func (h *ChatHistory) Summary() HistorySummary {
	return HistorySummary{
		ID:        h.ID,
		Title:     h.Title,
		Provider:  h.Provider,
		Messages:  len(h.Messages),
		UpdatedAt: h.UpdatedAt,
	}
}
