package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/multi-llm-chat-go/internal/i18n"
	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/ai"
	"github.com/multi-llm-chat-go/internal/services/stream"
	"github.com/multi-llm-chat-go/internal/services/transport"
	"github.com/multi-llm-chat-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

// ErrStreamInProgress is returned when a send is attempted while a response is streaming
var ErrStreamInProgress = errors.New("a response is already streaming")

// Stream outcomes reported to the Recorder
const (
	OutcomeComplete  = "complete"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

const (
	subscriberBuffer = 256
	persistTimeout   = 10 * time.Second
)

// EventType tags session events
type EventType string

const (
	EventMessage   EventType = "message"
	EventStreaming EventType = "streaming"
	EventNotice    EventType = "notice"
	EventTitle     EventType = "title"
	EventReset     EventType = "reset"
)

// Notice levels
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Event is one observable change of a session
type Event struct {
	Type        EventType           `json:"type"`
	Message     *models.ChatMessage `json:"message,omitempty"`
	Notice      string              `json:"notice,omitempty"`
	Level       string              `json:"level,omitempty"`
	Title       string              `json:"title,omitempty"`
	IsStreaming bool                `json:"is_streaming"`
}

// State is a point-in-time copy of a session
type State struct {
	ID          string               `json:"id"`
	HistoryID   string               `json:"history_id,omitempty"`
	Title       string               `json:"title,omitempty"`
	Messages    []models.ChatMessage `json:"messages"`
	IsStreaming bool                 `json:"is_streaming"`
}

// SendOption customizes a SendMessage call
type SendOption func(*sendOptions)

type sendOptions struct {
	document string
}

// WithDocument answers the message with retrieval context from a stored document
func WithDocument(name string) SendOption {
	return func(o *sendOptions) {
		o.document = name
	}
}

// target is a provider resolved and validated for one dispatch
type target struct {
	provider ai.Provider
	ref      models.ProviderRef
	baseURL  string
	apiKey   string
}

// Session owns one ordered conversation. All mutations are serialized by mu;
// at most one response streams at a time.
type Session struct {
	ID     string
	deps   Deps
	lang   string
	root   context.Context
	logger *logrus.Entry

	mu        sync.Mutex
	messages  []models.ChatMessage
	historyID string
	title     string
	createdAt time.Time
	lastRef   models.ProviderRef
	gen       int
	streaming bool
	active    ai.Provider
	handle    *ai.StreamHandle
	cancel    context.CancelFunc
	aborted   bool
	titling   bool

	// persistMu orders writes of this session's history
	persistMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int

	wg sync.WaitGroup
}

// NewSession creates an empty session. Streams run on root, not on the
// context of the call that started them.
func NewSession(root context.Context, deps Deps, lang string) *Session {
	deps = deps.withDefaults()
	id := uuid.NewString()
	if lang == "" {
		lang = deps.Config.Language
	}
	return &Session{
		ID:     id,
		deps:   deps,
		lang:   lang,
		root:   root,
		logger: logger.WithSession(deps.Logger, id),
		subs:   make(map[int]chan Event),
	}
}

// restore replaces the conversation with a persisted history
func (s *Session) restore(h *models.ChatHistory) {
	messages := cloneMessages(h.Messages)
	for i := range messages {
		// a message persisted mid-stream can no longer finish
		if !messages[i].StreamComplete {
			messages[i].StreamComplete = true
			messages[i].Cancelled = true
		}
	}

	s.mu.Lock()
	s.messages = messages
	s.historyID = h.ID
	s.title = h.Title
	s.createdAt = h.CreatedAt
	s.lastRef = h.Provider
	s.mu.Unlock()
}

// SendMessage appends a user turn and starts streaming the assistant answer.
// Configuration problems return an *ai.ConfigurationError before anything is appended;
// a failed dispatch returns the transport error and leaves only the user turn.
func (s *Session) SendMessage(ctx context.Context, ref models.ProviderRef, content models.Content, opts ...SendOption) error {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	gen, err := s.reserve()
	if err != nil {
		return err
	}
	t, err := s.prepare(ctx, ref)
	if err != nil {
		s.unreserve(gen)
		return err
	}

	user := models.NewMessage(models.RoleUser, content)
	user.StreamComplete = true
	user.Provider = t.ref
	if o.document != "" {
		user.Context = &models.MessageContext{Type: models.ContextDocument, Document: o.document}
	}

	streamCtx, cancel := context.WithCancel(s.root)
	s.mu.Lock()
	s.messages = append(s.messages, user)
	s.lastRef = t.ref
	s.cancel = cancel
	history := cloneMessages(s.messages)
	s.mu.Unlock()
	s.publish(Event{Type: EventMessage, Message: &user})
	s.publish(Event{Type: EventStreaming, IsStreaming: true})

	request := s.withRetrievalContext(ctx, history, o.document, content.PlainText())
	start := time.Now()
	completion, err := t.provider.ChatCompletions(streamCtx, ai.CompletionRequest{
		Model:    t.ref.ModelID,
		Messages: request,
		BaseURL:  t.baseURL,
		APIKey:   t.apiKey,
	})
	if err != nil {
		cancel()
		outcome := OutcomeFailed
		if transport.IsAborted(err) {
			outcome = OutcomeCancelled
		}
		s.deps.Recorder.RecordStream(t.ref.ProviderID, outcome, time.Since(start))
		s.logger.WithError(err).WithField("provider", t.ref.ProviderID).Warn("Chat completion dispatch failed")
		s.notifyDispatchError(t, err)
		if s.unreserve(gen) {
			s.publish(Event{Type: EventStreaming, IsStreaming: false})
			s.persist(gen)
		}
		return err
	}

	placeholder := models.NewMessage(models.RoleAssistant, models.TextContent(""))
	placeholder.Provider = t.ref

	s.mu.Lock()
	if s.gen != gen {
		// reset while the request was being dispatched
		s.mu.Unlock()
		cancel()
		completion.Close()
		return nil
	}
	s.messages = append(s.messages, placeholder)
	idx := len(s.messages) - 1
	s.active = t.provider
	s.handle = completion.Handle
	s.wg.Add(1)
	s.mu.Unlock()

	s.publish(Event{Type: EventMessage, Message: &placeholder})
	s.deps.Recorder.StreamStarted()
	go s.consume(streamCtx, gen, idx, t, completion, start)
	return nil
}

// SendImagePrompt appends a prompt and asks the provider to generate an image for it
func (s *Session) SendImagePrompt(ctx context.Context, ref models.ProviderRef, prompt string) error {
	gen, err := s.reserve()
	if err != nil {
		return err
	}
	t, err := s.prepare(ctx, ref)
	if err != nil {
		s.unreserve(gen)
		return err
	}

	user := models.NewMessage(models.RoleUser, models.TextContent(prompt))
	user.StreamComplete = true
	user.Provider = t.ref
	user.Context = &models.MessageContext{Type: models.ContextImageGeneration}
	placeholder := models.NewImageMessage(t.ref)

	imageCtx, cancel := context.WithCancel(s.root)
	s.mu.Lock()
	s.messages = append(s.messages, user, placeholder)
	idx := len(s.messages) - 1
	s.lastRef = t.ref
	s.cancel = cancel
	s.active = t.provider
	s.wg.Add(1)
	s.mu.Unlock()

	s.publish(Event{Type: EventMessage, Message: &user})
	s.publish(Event{Type: EventMessage, Message: &placeholder})
	s.publish(Event{Type: EventStreaming, IsStreaming: true})
	s.deps.Recorder.StreamStarted()
	go s.generateImage(imageCtx, gen, idx, t, prompt)
	return nil
}

// CancelActiveStream aborts the streaming response, if any, and reports whether one was running
func (s *Session) CancelActiveStream() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		return false
	}
	s.abortLocked()
	return true
}

// Reset aborts any stream and starts an empty conversation with no history id
func (s *Session) Reset() {
	s.mu.Lock()
	if s.streaming {
		s.abortLocked()
	}
	s.gen++
	s.messages = nil
	s.historyID = ""
	s.title = ""
	s.createdAt = time.Time{}
	s.lastRef = models.ProviderRef{}
	s.streaming = false
	s.active = nil
	s.handle = nil
	s.cancel = nil
	s.aborted = false
	s.titling = false
	s.mu.Unlock()

	s.publish(Event{Type: EventReset})
}

// Snapshot returns a copy of the current state
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:          s.ID,
		HistoryID:   s.historyID,
		Title:       s.title,
		Messages:    cloneMessages(s.messages),
		IsStreaming: s.streaming,
	}
}

// IsStreaming reports whether a response is in flight
func (s *Session) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Language is the language notices are rendered in
func (s *Session) Language() string {
	return s.lang
}

// Subscribe registers an observer. Events are dropped for a subscriber whose
// buffer is full; call the returned func to unsubscribe.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.subMu.Unlock()
		})
	}
}

// Wait blocks until running streams and title generations have finished
func (s *Session) Wait() {
	s.wg.Wait()
}

func (s *Session) reserve() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming {
		return 0, ErrStreamInProgress
	}
	s.streaming = true
	s.aborted = false
	return s.gen, nil
}

// unreserve clears the streaming flag unless the session was reset meanwhile
func (s *Session) unreserve(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.streaming = false
	s.active = nil
	s.handle = nil
	s.cancel = nil
	return true
}

func (s *Session) abortLocked() {
	s.aborted = true
	if s.active != nil && s.handle != nil {
		s.active.Cancel(s.handle)
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// prepare resolves the provider and checks its configuration
func (s *Session) prepare(ctx context.Context, ref models.ProviderRef) (target, error) {
	data := map[string]interface{}{"Provider": ref.ProviderID}

	p, err := s.deps.Providers.Get(ref.ProviderID)
	if err != nil {
		s.notice(LevelError, i18n.MsgUnknownProvider, data)
		return target{}, err
	}

	setting, err := s.deps.Settings.Resolve(ctx, ref.ProviderID)
	if err != nil {
		s.notice(LevelError, i18n.MsgProviderError, map[string]interface{}{"Provider": ref.ProviderID, "Error": err.Error()})
		return target{}, err
	}
	if ref.ModelID == "" {
		ref.ModelID = setting.DefaultModel
	}
	baseURL := setting.BaseURL
	if baseURL == "" {
		baseURL = p.DefaultBaseURL()
	}

	var missing error
	var messageID string
	switch {
	case baseURL == "":
		missing, messageID = ai.ErrMissingBaseURL, i18n.MsgMissingBaseURL
	case p.RequiresAPIKey() && setting.APIKey == "":
		missing, messageID = ai.ErrMissingAPIKey, i18n.MsgMissingAPIKey
	case ref.ModelID == "":
		missing, messageID = ai.ErrMissingModel, i18n.MsgMissingModel
	}
	if missing != nil {
		s.notice(LevelError, messageID, data)
		return target{}, &ai.ConfigurationError{Provider: ref.ProviderID, Err: missing}
	}

	return target{provider: p, ref: ref, baseURL: baseURL, apiKey: setting.APIKey}, nil
}

// withRetrievalContext inserts document context as a system turn before the
// current user turn. The stored conversation is not changed.
func (s *Session) withRetrievalContext(ctx context.Context, history []models.ChatMessage, document, query string) []models.ChatMessage {
	if document == "" || s.deps.Knowledge == nil || len(history) == 0 {
		return history
	}

	text, err := s.deps.Knowledge.BuildContext(ctx, document, query)
	if err != nil {
		s.logger.WithError(err).WithField("document", document).Warn("Failed to build document context")
		s.notice(LevelWarning, i18n.MsgDocumentFailed, map[string]interface{}{"Document": document, "Error": err.Error()})
		return history
	}
	if text == "" {
		return history
	}

	system := models.NewMessage(models.RoleSystem, models.TextContent(text))
	system.StreamComplete = true
	last := len(history) - 1
	out := make([]models.ChatMessage, 0, len(history)+1)
	out = append(out, history[:last]...)
	return append(out, system, history[last])
}

func (s *Session) consume(ctx context.Context, gen, idx int, t target, completion *ai.Completion, start time.Time) {
	defer s.wg.Done()
	defer s.deps.Recorder.StreamFinished()

	r := stream.New(completion.Body, t.provider, s.deps.Logger)
	leading := true
	var streamErr error
	for {
		delta, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			streamErr = err
			break
		}
		if d, ok := delta.First(); ok && !s.apply(gen, idx, d, &leading) {
			break
		}
	}

	aborted := s.abortRequested(gen) || completion.Handle.Aborted() || ctx.Err() != nil
	completion.Close()

	stats := r.Stats()
	s.deps.Recorder.RecordFragments(t.ref.ProviderID, stats.Recovered, stats.Dropped)
	s.logger.WithFields(logrus.Fields{
		"provider":  t.ref.ProviderID,
		"model":     t.ref.ModelID,
		"deltas":    stats.Deltas,
		"recovered": stats.Recovered,
		"dropped":   stats.Dropped,
	}).Debug("Stream finished")

	outcome := OutcomeComplete
	switch {
	case aborted || (streamErr != nil && transport.IsAborted(streamErr)):
		outcome = OutcomeCancelled
	case streamErr != nil:
		outcome = OutcomeFailed
	}
	s.finish(gen, idx, t, outcome, streamErr, time.Since(start))
}

func (s *Session) abortRequested(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.aborted
}

// apply appends one delta to the streaming message. It reports false once the
// stream was cancelled or reset; the content is then frozen.
func (s *Session) apply(gen, idx int, d models.StreamDelta, leading *bool) bool {
	s.mu.Lock()
	if s.gen != gen || s.aborted || idx >= len(s.messages) {
		s.mu.Unlock()
		return false
	}

	msg := &s.messages[idx]
	changed := false
	if d.Reasoning != nil && *d.Reasoning != "" {
		msg.Reasoning += *d.Reasoning
		if msg.Content.Text == "" {
			msg.IsReasoning = true
		}
		changed = true
	}
	if d.Content != nil {
		text := *d.Content
		if *leading {
			text = strings.TrimLeftFunc(text, unicode.IsSpace)
			*leading = text == ""
		}
		if text != "" {
			msg.Content.Text += text
			msg.IsReasoning = false
			changed = true
		}
	}
	updated := *msg
	s.mu.Unlock()

	if changed {
		s.publish(Event{Type: EventMessage, Message: &updated})
	}
	return true
}

// finish moves the streaming message to its terminal state, persists, and
// starts title generation after a completed answer
func (s *Session) finish(gen, idx int, t target, outcome string, streamErr error, elapsed time.Duration) {
	s.deps.Recorder.RecordStream(t.ref.ProviderID, outcome, elapsed)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	msg := &s.messages[idx]
	msg.StreamComplete = true
	msg.IsReasoning = false
	msg.DurationMs = elapsed.Milliseconds()
	switch outcome {
	case OutcomeComplete:
		msg.Content.Text = strings.TrimRightFunc(msg.Content.Text, unicode.IsSpace)
	case OutcomeCancelled:
		msg.Cancelled = true
	}
	final := *msg

	var errMsg *models.ChatMessage
	if outcome == OutcomeFailed {
		text := s.localize(i18n.MsgStreamFailed, map[string]interface{}{"Provider": t.ref.ProviderID, "Error": streamErr.Error()})
		m := models.NewMessage(models.RoleSystem, models.TextContent(text))
		m.StreamComplete = true
		m.IsError = true
		m.Provider = t.ref
		s.messages = append(s.messages, m)
		errMsg = &m
	}
	s.clearStreamLocked()
	s.mu.Unlock()

	s.publish(Event{Type: EventMessage, Message: &final})
	switch outcome {
	case OutcomeCancelled:
		s.notice(LevelInfo, i18n.MsgStreamCancelled, nil)
	case OutcomeFailed:
		s.logger.WithError(streamErr).WithField("provider", t.ref.ProviderID).Error("Stream failed")
		s.publish(Event{Type: EventMessage, Message: errMsg})
	}
	s.publish(Event{Type: EventStreaming, IsStreaming: false})

	s.persist(gen)
	if outcome == OutcomeComplete {
		s.maybeGenerateTitle(gen, t)
	}
}

func (s *Session) clearStreamLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	s.streaming = false
	s.aborted = false
	s.active = nil
	s.handle = nil
	s.cancel = nil
}

func (s *Session) generateImage(ctx context.Context, gen, idx int, t target, prompt string) {
	defer s.wg.Done()
	defer s.deps.Recorder.StreamFinished()

	start := time.Now()
	result, err := t.provider.GenerateImage(ctx, ai.ImageRequest{
		Prompt:  prompt,
		Model:   t.ref.ModelID,
		BaseURL: t.baseURL,
		APIKey:  t.apiKey,
	})
	elapsed := time.Since(start)

	outcome := OutcomeComplete
	var noticeID string
	var noticeData map[string]interface{}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	msg := &s.messages[idx]
	msg.StreamComplete = true
	msg.DurationMs = elapsed.Milliseconds()
	switch {
	case ctx.Err() != nil || transport.IsAborted(err):
		msg.Cancelled = true
		outcome = OutcomeCancelled
		noticeID = i18n.MsgStreamCancelled
	case errors.Is(err, ai.ErrImageUnsupported):
		outcome = OutcomeFailed
		noticeID, noticeData = i18n.MsgImageUnsupported, map[string]interface{}{"Provider": t.ref.ProviderID}
	case err != nil || result.Error || len(result.Data) == 0:
		outcome = OutcomeFailed
		reason := "no image returned"
		if err != nil {
			reason = err.Error()
		}
		noticeID, noticeData = i18n.MsgImageFailed, map[string]interface{}{"Error": reason}
	default:
		img := result.Data[0]
		msg.Image = &img
		msg.Content = models.TextContent(img.RevisedPrompt)
	}
	if outcome == OutcomeFailed {
		msg.IsError = true
		msg.Content = models.TextContent(s.localize(noticeID, noticeData))
	}
	final := *msg
	s.clearStreamLocked()
	s.mu.Unlock()

	s.deps.Recorder.RecordStream(t.ref.ProviderID, outcome, elapsed)
	if err != nil && outcome == OutcomeFailed {
		s.logger.WithError(err).WithField("provider", t.ref.ProviderID).Warn("Image generation failed")
	}
	s.publish(Event{Type: EventMessage, Message: &final})
	if noticeID != "" {
		level := LevelWarning
		if outcome == OutcomeCancelled {
			level = LevelInfo
		}
		s.notice(level, noticeID, noticeData)
	}
	s.publish(Event{Type: EventStreaming, IsStreaming: false})

	s.persist(gen)
	if outcome == OutcomeComplete {
		s.maybeGenerateTitle(gen, t)
	}
}

// persist upserts the whole conversation; the first call allocates the history id
func (s *Session) persist(gen int) {
	if s.deps.History == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	if s.historyID == "" {
		s.historyID = uuid.NewString()
		s.createdAt = now
	}
	history := &models.ChatHistory{
		ID:        s.historyID,
		Title:     s.title,
		Provider:  s.lastRef,
		Messages:  cloneMessages(s.messages),
		CreatedAt: s.createdAt,
		UpdatedAt: now,
	}
	s.mu.Unlock()

	ctx, cancel := s.storeContext()
	defer cancel()
	err := s.deps.History.SaveHistory(ctx, history)
	s.deps.Recorder.RecordStorageOperation("save_history", storageStatus(err), time.Since(now))
	if err != nil {
		s.logger.WithError(err).WithField("history", history.ID).Error("Failed to persist chat history")
		s.notice(LevelError, i18n.MsgPersistFailed, map[string]interface{}{"Error": err.Error()})
	}
}

// storeContext outlives cancellation of the root context, so the terminal
// state of a stream aborted at shutdown is still written
func (s *Session) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(s.root), persistTimeout)
}

// maybeGenerateTitle starts title generation unless a title exists or one is already being generated
func (s *Session) maybeGenerateTitle(gen int, t target) {
	s.mu.Lock()
	if s.gen != gen || s.title != "" || s.titling {
		s.mu.Unlock()
		return
	}
	first := s.firstUserTextLocked()
	if first == "" {
		s.mu.Unlock()
		return
	}
	s.titling = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.generateTitle(gen, t, first)
}

func (s *Session) generateTitle(gen int, t target, first string) {
	defer s.wg.Done()

	title, err := s.deps.Titles.Generate(s.root, t.provider, ai.CompletionRequest{
		Model:   t.ref.ModelID,
		BaseURL: t.baseURL,
		APIKey:  t.apiKey,
	}, first)

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.titling = false
	if err != nil {
		s.mu.Unlock()
		s.deps.Recorder.RecordTitle("failed")
		s.logger.WithError(err).Warn("Title generation failed")
		s.notice(LevelWarning, i18n.MsgTitleFailed, map[string]interface{}{"Error": err.Error()})
		return
	}
	s.title = title
	id := s.historyID
	s.mu.Unlock()

	s.deps.Recorder.RecordTitle("success")
	s.publish(Event{Type: EventTitle, Title: title})
	if s.deps.History == nil || id == "" {
		return
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	ctx, cancel := s.storeContext()
	defer cancel()
	start := time.Now()
	err = s.deps.History.SetTitle(ctx, id, title)
	s.deps.Recorder.RecordStorageOperation("set_title", storageStatus(err), time.Since(start))
	if err != nil {
		s.logger.WithError(err).WithField("history", id).Error("Failed to persist chat title")
		s.notice(LevelError, i18n.MsgPersistFailed, map[string]interface{}{"Error": err.Error()})
	}
}

func (s *Session) firstUserTextLocked() string {
	for _, m := range s.messages {
		if m.Role == models.RoleUser && m.StreamComplete {
			return strings.TrimSpace(m.Content.PlainText())
		}
	}
	return ""
}

func (s *Session) notifyDispatchError(t target, err error) {
	data := map[string]interface{}{"Provider": t.ref.ProviderID, "Error": err.Error()}

	var te *transport.Error
	switch {
	case transport.IsAborted(err):
		s.notice(LevelInfo, i18n.MsgStreamCancelled, nil)
	case errors.As(err, &te) && te.Kind == transport.KindUnreachable:
		s.notice(LevelError, i18n.MsgProviderUnreachable, data)
	case te != nil && te.Kind == transport.KindStatus:
		data["Error"] = te.Message
		s.notice(LevelError, i18n.MsgProviderError, data)
	default:
		s.notice(LevelError, i18n.MsgProviderError, data)
	}
}

func (s *Session) localize(messageID string, data map[string]interface{}) string {
	if s.deps.Localizer == nil {
		return messageID
	}
	return s.deps.Localizer.Get(s.lang, messageID, data)
}

func (s *Session) notice(level, messageID string, data map[string]interface{}) {
	s.publish(Event{Type: EventNotice, Level: level, Notice: s.localize(messageID, data)})
}

func (s *Session) publish(e Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func storageStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func cloneMessages(messages []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, len(messages))
	copy(out, messages)
	return out
}
