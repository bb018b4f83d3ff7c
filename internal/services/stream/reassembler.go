package stream

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/multi-llm-chat-go/internal/models"
	"github.com/sirupsen/logrus"
)

const readBufferSize = 32 * 1024

// Converter turns one provider JSON object into the uniform delta shape
type Converter interface {
	ConvertResponse(raw []byte) (models.UniformDelta, error)
}

// ConverterFunc adapts a function to Converter
type ConverterFunc func(raw []byte) (models.UniformDelta, error)

func (f ConverterFunc) ConvertResponse(raw []byte) (models.UniformDelta, error) {
	return f(raw)
}

// Stats counts what happened to the fragments of a stream
type Stats struct {
	Fragments     int
	Deltas        int
	Recovered     int
	Dropped       int
	ConvertErrors int
}

// Reassembler reads a provider body and yields validated deltas.
// Each raw read is processed on its own: no line buffering happens across reads,
// a split object is repaired only by FragmentRecovery.
type Reassembler struct {
	body      io.Reader
	converter Converter
	recovery  *FragmentRecovery
	logger    *logrus.Entry

	buf   []byte
	carry []byte
	queue []models.UniformDelta
	err   error
	stats Stats
}

// Option customizes a Reassembler
type Option func(*Reassembler)

// WithStartTokens overrides the leading tokens that mark a split object start
func WithStartTokens(tokens ...string) Option {
	return func(r *Reassembler) {
		r.recovery = NewFragmentRecovery(tokens)
	}
}

// WithBufferSize sets the raw read size
func WithBufferSize(n int) Option {
	return func(r *Reassembler) {
		if n > 0 {
			r.buf = make([]byte, n)
		}
	}
}

// New creates a reassembler over body
func New(body io.Reader, converter Converter, logger *logrus.Logger, opts ...Option) *Reassembler {
	r := &Reassembler{
		body:      body,
		converter: converter,
		recovery:  NewFragmentRecovery(nil),
		logger:    logger.WithField("component", "stream"),
		buf:       make([]byte, readBufferSize),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Next returns the next delta. io.EOF marks the normal end of the stream; any
// other error comes from the underlying reader. Consuming advances the reader.
func (r *Reassembler) Next() (models.UniformDelta, error) {
	for len(r.queue) == 0 {
		if r.err != nil {
			return models.UniformDelta{}, r.err
		}

		n, err := r.body.Read(r.buf)
		if n > 0 {
			r.processChunk(r.buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.finish()
				r.err = io.EOF
			} else {
				r.err = err
			}
		}
	}

	delta := r.queue[0]
	r.queue = r.queue[1:]
	return delta, nil
}

// Stats returns the fragment counters collected so far
func (r *Reassembler) Stats() Stats {
	return r.stats
}

func (r *Reassembler) processChunk(data []byte) {
	if len(r.carry) > 0 {
		data = append(r.carry, data...)
		r.carry = nil
	}

	complete, rest := splitIncompleteRune(data)
	if len(rest) > 0 {
		r.carry = append([]byte(nil), rest...)
	}

	text := strings.ToValidUTF8(string(complete), "\uFFFD")
	for _, fragment := range strings.Split(text, "\n") {
		r.processFragment(fragment)
	}
}

func (r *Reassembler) finish() {
	if len(r.carry) > 0 {
		carry := r.carry
		r.carry = nil
		text := strings.ToValidUTF8(string(carry), "\uFFFD")
		r.processFragment(text)
	}
	if r.recovery.Pending() {
		r.stats.Dropped++
		r.recovery.Reset()
		r.logger.Warn("Stream ended with an unfinished split fragment, dropping it")
	}
}

func (r *Reassembler) processFragment(fragment string) {
	fragment = strings.TrimSuffix(fragment, "\r")
	if strings.TrimSpace(fragment) == "" {
		return
	}

	// a held start means this fragment may be the tail of a split object, even if it starts with ':'
	if !r.recovery.Pending() && isSSEControl(fragment) {
		return
	}
	if strings.HasPrefix(fragment, "data:") {
		fragment = strings.TrimPrefix(fragment, "data:")
		fragment = strings.TrimPrefix(fragment, " ")
	}
	if strings.TrimSpace(fragment) == "[DONE]" {
		return
	}
	r.stats.Fragments++

	var raw json.RawMessage
	if err := json.Unmarshal([]byte(fragment), &raw); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			r.recoverFragment(fragment)
			return
		}
		r.stats.Dropped++
		r.logger.WithError(err).Warn("Failed to read stream fragment")
		return
	}

	if r.recovery.Pending() {
		r.recovery.Reset()
		r.stats.Dropped++
		r.logger.Warn("Split fragment start was never closed, dropping it")
	}
	r.emit(raw)
}

func (r *Reassembler) recoverFragment(fragment string) {
	hadPending := r.recovery.Pending()
	merged, outcome := r.recovery.Offer(fragment)

	switch outcome {
	case Buffered:
		if hadPending {
			r.stats.Dropped++
			r.logger.Warn("Replacing an unclosed split fragment")
		}
		r.logger.Debug("Buffered start of split stream object")
	case Merged:
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(merged), &raw); err != nil {
			r.stats.Dropped++
			r.logger.WithError(err).Warn("Merged split fragments are still invalid, dropping them")
			return
		}
		r.stats.Recovered++
		r.logger.Debug("Recovered split stream object")
		r.emit(raw)
	default:
		r.stats.Dropped++
		r.logger.WithField("fragment", truncate(fragment, 120)).Warn("Dropping unrecoverable stream fragment")
	}
}

func (r *Reassembler) emit(raw json.RawMessage) {
	delta, err := r.converter.ConvertResponse(raw)
	if err != nil {
		r.stats.ConvertErrors++
		r.logger.WithError(err).Warn("Failed to convert stream chunk")
		return
	}
	r.stats.Deltas++
	r.queue = append(r.queue, delta)
}

// isSSEControl matches SSE lines that carry no payload for us
func isSSEControl(fragment string) bool {
	return strings.HasPrefix(fragment, ":") ||
		strings.HasPrefix(fragment, "event:") ||
		strings.HasPrefix(fragment, "id:") ||
		strings.HasPrefix(fragment, "retry:")
}

// splitIncompleteRune separates a trailing partial UTF-8 sequence from b
func splitIncompleteRune(b []byte) ([]byte, []byte) {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		if utf8.RuneStart(b[start]) {
			if !utf8.FullRune(b[start:]) {
				return b[:start], b[start:]
			}
			return b, nil
		}
	}
	return b, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
