package knowledge

import (
	"strings"
	"unicode"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 100
)

// Chunker splits text into overlapping windows of at most Size runes
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker creates a chunker, falling back to defaults for invalid sizes
func NewChunker(size, overlap int) Chunker {
	if size <= 0 {
		size = defaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
		if defaultChunkOverlap < size {
			overlap = defaultChunkOverlap
		}
	}
	return Chunker{Size: size, Overlap: overlap}
}

// Split returns the chunks of text. A window ends at the last line break in its
// second half, else at the last whitespace there, so words are rarely cut.
func (c Chunker) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := start + c.Size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = breakPoint(runes, start, end)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}

		next := end - c.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func breakPoint(runes []rune, start, end int) int {
	half := start + (end-start)/2
	for i := end; i > half; i-- {
		if runes[i-1] == '\n' {
			return i
		}
	}
	for i := end; i > half; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
