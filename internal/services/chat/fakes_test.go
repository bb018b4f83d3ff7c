package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/multi-llm-chat-go/internal/config"
	"github.com/multi-llm-chat-go/internal/i18n"
	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/ai"
	"github.com/multi-llm-chat-go/internal/services/storage"
	"github.com/multi-llm-chat-go/internal/services/transport"
	"github.com/multi-llm-chat-go/pkg/logger"
	"github.com/stretchr/testify/require"
)

const titlePrefix = "TITLE:"

// fakeProvider streams scripted OpenAI-shaped chunks
type fakeProvider struct {
	id         ai.ProviderID
	requireKey bool

	// reply returns the raw chunks for a chat request
	reply func(req ai.CompletionRequest) []string
	// block keeps the body open after the chunks until the request is cancelled
	block bool
	// readErr ends the body with an error instead of EOF
	readErr     error
	dispatchErr error
	// body replaces the scripted chunks when set
	body func(ctx context.Context) io.ReadCloser

	titleReply string
	titleErr   []error
	titleGate  chan struct{}

	image    ai.ImageResult
	imageErr error

	mu         sync.Mutex
	requests   []ai.CompletionRequest
	titleCalls int
}

func newFakeProvider(chunks ...string) *fakeProvider {
	return &fakeProvider{
		id:         "ollama",
		reply:      func(ai.CompletionRequest) []string { return chunks },
		titleReply: `{"title": "Greeting"}`,
	}
}

func (f *fakeProvider) ID() ai.ProviderID      { return f.id }
func (f *fakeProvider) DefaultBaseURL() string { return "http://fake.local" }
func (f *fakeProvider) RequiresAPIKey() bool   { return f.requireKey }

func (f *fakeProvider) ListModels(ctx context.Context, setting models.ProviderSetting, embeddingOnly bool) ([]models.ModelDescriptor, error) {
	return []models.ModelDescriptor{}, nil
}

func (f *fakeProvider) Cancel(h *ai.StreamHandle) {
	h.Cancel()
}

func (f *fakeProvider) ConvertResponse(raw []byte) (models.UniformDelta, error) {
	var delta models.UniformDelta
	err := json.Unmarshal(raw, &delta)
	return delta, err
}

func (f *fakeProvider) GenerateImage(ctx context.Context, req ai.ImageRequest) (ai.ImageResult, error) {
	return f.image, f.imageErr
}

func (f *fakeProvider) ChatCompletions(ctx context.Context, req ai.CompletionRequest) (*ai.Completion, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	isTitle := len(req.Messages) == 1 && strings.HasPrefix(req.Messages[0].Content.PlainText(), titlePrefix)
	var titleErr error
	if isTitle {
		f.titleCalls++
		if len(f.titleErr) > 0 {
			titleErr, f.titleErr = f.titleErr[0], f.titleErr[1:]
		}
	}
	f.mu.Unlock()

	failed := &ai.Completion{Provider: f.id, Model: req.Model, Body: transport.EmptyBody()}
	if isTitle {
		if f.titleGate != nil {
			<-f.titleGate
		}
		if titleErr != nil {
			return failed, titleErr
		}
		body := &chunkBody{ctx: ctx, chunks: []string{contentChunk(f.titleReply)}}
		return &ai.Completion{Provider: f.id, Model: req.Model, Body: body}, nil
	}

	if f.dispatchErr != nil {
		return failed, f.dispatchErr
	}
	if f.body != nil {
		return &ai.Completion{Provider: f.id, Model: req.Model, Body: f.body(ctx)}, nil
	}
	body := &chunkBody{ctx: ctx, chunks: f.reply(req), block: f.block, err: f.readErr}
	return &ai.Completion{Provider: f.id, Model: req.Model, Body: body}, nil
}

func (f *fakeProvider) chatRequests() []ai.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ai.CompletionRequest
	for _, r := range f.requests {
		if len(r.Messages) == 1 && strings.HasPrefix(r.Messages[0].Content.PlainText(), titlePrefix) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (f *fakeProvider) titles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.titleCalls
}

// chunkBody returns one chunk per Read
type chunkBody struct {
	ctx    context.Context
	chunks []string
	block  bool
	err    error
}

func (b *chunkBody) Read(p []byte) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	if len(b.chunks) > 0 {
		n := copy(p, b.chunks[0])
		b.chunks = b.chunks[1:]
		return n, nil
	}
	if b.block {
		<-b.ctx.Done()
		return 0, b.ctx.Err()
	}
	if b.err != nil {
		return 0, b.err
	}
	return 0, io.EOF
}

func (b *chunkBody) Close() error { return nil }

// scriptedBody runs one step per Read and ignores cancellation, like a
// transport that still hands out bytes it had already received
type scriptedBody struct {
	steps []func() string
}

func (b *scriptedBody) Read(p []byte) (int, error) {
	if len(b.steps) == 0 {
		return 0, io.EOF
	}
	step := b.steps[0]
	b.steps = b.steps[1:]
	return copy(p, step()), nil
}

func (b *scriptedBody) Close() error { return nil }

func sse(payload string) string {
	return "data: " + payload + "\n\n"
}

func contentChunk(text string) string {
	raw, _ := json.Marshal(models.NewContentDelta("assistant", text))
	return sse(string(raw))
}

func reasoningChunk(text string) string {
	return sse(fmt.Sprintf(`{"choices":[{"index":0,"delta":{"reasoning":%q}}]}`, text))
}

type staticSettings map[string]models.ProviderSetting

func (s staticSettings) Resolve(ctx context.Context, providerID string) (models.ProviderSetting, error) {
	setting, ok := s[providerID]
	if !ok {
		setting = models.ProviderSetting{ProviderID: providerID}
	}
	return setting, nil
}

// recordingStore counts persistence calls. Like the redis backend it fails on
// a cancelled context, and SetTitle rewrites the whole stored history.
type recordingStore struct {
	mu        sync.Mutex
	histories map[string]*models.ChatHistory
	saves     int
	titles    int
	saveErr   error

	// titleRead, when set, receives once SetTitle has read the history;
	// the write waits for titleWrite
	titleRead  chan struct{}
	titleWrite chan struct{}
}

func newRecordingStore() *recordingStore {
	return &recordingStore{histories: make(map[string]*models.ChatHistory)}
}

func (r *recordingStore) SaveHistory(ctx context.Context, h *models.ChatHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.saveErr != nil {
		return r.saveErr
	}
	copied := *h
	copied.Messages = cloneMessages(h.Messages)
	r.histories[h.ID] = &copied
	return nil
}

func (r *recordingStore) GetHistory(ctx context.Context, id string) (*models.ChatHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.histories[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *h
	return &copied, nil
}

func (r *recordingStore) SetTitle(ctx context.Context, id, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.titles++
	h, ok := r.histories[id]
	if !ok {
		r.mu.Unlock()
		return storage.ErrNotFound
	}
	copied := *h
	copied.Messages = cloneMessages(h.Messages)
	r.mu.Unlock()

	if r.titleRead != nil {
		r.titleRead <- struct{}{}
		<-r.titleWrite
	}

	copied.Title = title
	r.mu.Lock()
	r.histories[id] = &copied
	r.mu.Unlock()
	return nil
}

func (r *recordingStore) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves, r.titles
}

type knowledgeFunc func(ctx context.Context, document, query string) (string, error)

func (f knowledgeFunc) BuildContext(ctx context.Context, document, query string) (string, error) {
	return f(ctx, document, query)
}

func testDeps(t *testing.T, store *recordingStore, providers ...ai.Provider) Deps {
	t.Helper()
	log := logger.Discard()
	localizer, err := i18n.NewLocalizer(&config.I18nConfig{DefaultLanguage: "en", Languages: []string{"en"}})
	require.NoError(t, err)

	chatCfg := config.ChatConfig{TitlePrompt: titlePrefix + " {{message}}", TitleMaxLength: 40, Language: "en"}
	collector := ai.NewCollector(log)
	collector.Backoff = func(int) time.Duration { return 0 }

	deps := Deps{
		Providers: ai.NewRegistryOf(log, providers...),
		Settings:  staticSettings{},
		Titles:    NewTitleGenerator(chatCfg, collector, log),
		Localizer: localizer,
		Config:    chatCfg,
		Logger:    log,
	}
	if store != nil {
		deps.History = store
	}
	return deps
}

func drain(ch <-chan Event) []Event {
	var events []Event
	for {
		select {
		case e := <-ch:
			events = append(events, e)
		default:
			return events
		}
	}
}

func notices(events []Event) []string {
	var out []string
	for _, e := range events {
		if e.Type == EventNotice {
			out = append(out, e.Notice)
		}
	}
	return out
}
