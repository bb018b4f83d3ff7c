package models

// StreamDelta is one incremental fragment of assistant output
type StreamDelta struct {
	Role      string  `json:"role,omitempty"`
	Content   *string `json:"content,omitempty"`
	Reasoning *string `json:"reasoning,omitempty"`
}

// DeltaChoice wraps a delta with its choice index
type DeltaChoice struct {
	Index int         `json:"index"`
	Delta StreamDelta `json:"delta"`
}

// UniformDelta is the normalized shape every adapter converts its chunks into
type UniformDelta struct {
	Choices []DeltaChoice `json:"choices"`
}

// NewContentDelta builds a single-choice delta carrying content
func NewContentDelta(role, content string) UniformDelta {
	return UniformDelta{Choices: []DeltaChoice{{
		Index: 0,
		Delta: StreamDelta{Role: role, Content: &content},
	}}}
}

// First returns the delta of the first choice, if any
func (u UniformDelta) First() (StreamDelta, bool) {
	if len(u.Choices) == 0 {
		return StreamDelta{}, false
	}
	return u.Choices[0].Delta, true
}
