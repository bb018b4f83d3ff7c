package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/ai"
	"github.com/multi-llm-chat-go/internal/services/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var llama3 = models.ProviderRef{ProviderID: "ollama", ModelID: "llama3"}

func newTestSession(t *testing.T, store *recordingStore, p *fakeProvider) *Session {
	t.Helper()
	return NewSession(context.Background(), testDeps(t, store, p), "en")
}

func lastMessage(st State) models.ChatMessage {
	return st.Messages[len(st.Messages)-1]
}

func TestSendMessageEndToEnd(t *testing.T) {
	store := newRecordingStore()
	p := newFakeProvider(
		sse(`{"choices":[{"index":0,"delta":{"content":"Hi"}}]}`),
		sse(`{"choices":[{"index":0,"delta":{"content":" there"}}]}`),
	)
	s := newTestSession(t, store, p)

	events, unsubscribe := s.Subscribe()
	maxOpen := make(chan int, 1)
	go func() {
		most := 0
		for e := range events {
			if e.Type != EventMessage {
				continue
			}
			open := 0
			for _, m := range s.Snapshot().Messages {
				if !m.StreamComplete {
					open++
				}
			}
			if open > most {
				most = open
			}
		}
		maxOpen <- most
	}()

	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("Hello")))
	s.Wait()
	unsubscribe()
	assert.LessOrEqual(t, <-maxOpen, 1, "at most one message is streaming at any time")

	st := s.Snapshot()
	require.Len(t, st.Messages, 2)
	assert.Equal(t, models.RoleUser, st.Messages[0].Role)
	assert.Equal(t, "Hello", st.Messages[0].Content.Text)

	answer := st.Messages[1]
	assert.Equal(t, models.RoleAssistant, answer.Role)
	assert.Equal(t, "Hi there", answer.Content.Text)
	assert.True(t, answer.StreamComplete)
	assert.False(t, answer.Cancelled)
	assert.Equal(t, llama3, answer.Provider)
	assert.False(t, st.IsStreaming)

	saves, titles := store.counts()
	assert.Equal(t, 1, saves, "history is persisted exactly once")
	assert.Equal(t, 1, titles)
	assert.NotEmpty(t, st.HistoryID)
	assert.Equal(t, "Greeting", st.Title)

	stored, err := store.GetHistory(context.Background(), st.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, "Greeting", stored.Title)
	require.Len(t, stored.Messages, 2)
	assert.Equal(t, "Hi there", stored.Messages[1].Content.Text)

	reqs := p.chatRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "llama3", reqs[0].Model)
	assert.Equal(t, "http://fake.local", reqs[0].BaseURL)
	require.Len(t, reqs[0].Messages, 1, "the placeholder is never sent upstream")
}

func TestSendMessageTrimsEdges(t *testing.T) {
	p := newFakeProvider(contentChunk("\n\n"), contentChunk("Hello"), contentChunk(" world \n"))
	s := newTestSession(t, nil, p)

	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("hi")))
	s.Wait()

	assert.Equal(t, "Hello world", lastMessage(s.Snapshot()).Content.Text)
}

func TestSendMessageKeepsInnerWhitespace(t *testing.T) {
	p := newFakeProvider(contentChunk("  Line one"), contentChunk("\n\n"), contentChunk("Line two"))
	s := newTestSession(t, nil, p)

	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("hi")))
	s.Wait()

	assert.Equal(t, "Line one\n\nLine two", lastMessage(s.Snapshot()).Content.Text)
}

func TestSendMessageReasoning(t *testing.T) {
	p := newFakeProvider(reasoningChunk("let me "), reasoningChunk("think"), contentChunk("42"))
	s := newTestSession(t, nil, p)

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("answer?")))
	s.Wait()

	answer := lastMessage(s.Snapshot())
	assert.Equal(t, "let me think", answer.Reasoning)
	assert.Equal(t, "42", answer.Content.Text)
	assert.False(t, answer.IsReasoning)

	sawReasoning := false
	for _, e := range drain(events) {
		if e.Type == EventMessage && e.Message.IsReasoning {
			sawReasoning = true
		}
	}
	assert.True(t, sawReasoning, "reasoning is flagged while no answer text has arrived")
}

func TestCancelActiveStream(t *testing.T) {
	store := newRecordingStore()
	p := newFakeProvider(contentChunk("Hi "))
	p.block = true
	s := newTestSession(t, store, p)

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("Hello")))
	require.Eventually(t, func() bool {
		return lastMessage(s.Snapshot()).Content.Text == "Hi "
	}, time.Second, 5*time.Millisecond)

	assert.True(t, s.CancelActiveStream())
	s.Wait()
	assert.False(t, s.CancelActiveStream(), "nothing left to cancel")

	st := s.Snapshot()
	require.Len(t, st.Messages, 2, "no marker message is appended")
	answer := st.Messages[1]
	assert.True(t, answer.Cancelled)
	assert.True(t, answer.StreamComplete)
	assert.Equal(t, "Hi ", answer.Content.Text, "partial content is kept untrimmed")
	assert.False(t, st.IsStreaming)

	saves, titles := store.counts()
	assert.Equal(t, 1, saves)
	assert.Equal(t, 0, titles, "cancelled answers do not start title generation")
	assert.Contains(t, notices(drain(events)), "Response stopped.")
}

func TestCancelFreezesContent(t *testing.T) {
	store := newRecordingStore()
	p := newFakeProvider()
	var s *Session
	p.body = func(ctx context.Context) io.ReadCloser {
		return &scriptedBody{steps: []func() string{
			func() string { return contentChunk("Hi ") },
			func() string {
				s.CancelActiveStream()
				return contentChunk("late") + contentChunk(" more")
			},
			func() string { return contentChunk(" and more") },
		}}
	}
	s = newTestSession(t, store, p)

	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("Hello")))
	s.Wait()

	answer := lastMessage(s.Snapshot())
	assert.True(t, answer.Cancelled)
	assert.True(t, answer.StreamComplete)
	assert.Equal(t, "Hi ", answer.Content.Text, "bytes read after cancel are discarded")

	stored, err := store.GetHistory(context.Background(), s.Snapshot().HistoryID)
	require.NoError(t, err)
	assert.Equal(t, "Hi ", stored.Messages[1].Content.Text)
}

func TestCancelledStreamPersistedAfterRootCancel(t *testing.T) {
	store := newRecordingStore()
	p := newFakeProvider(contentChunk("partial"))
	p.block = true

	root, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewSession(root, testDeps(t, store, p), "en")

	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("Hello")))
	require.Eventually(t, func() bool {
		return lastMessage(s.Snapshot()).Content.Text == "partial"
	}, time.Second, 5*time.Millisecond)

	// shutdown order: the root goes first, then streams are cancelled
	cancel()
	s.CancelActiveStream()
	s.Wait()

	st := s.Snapshot()
	require.NotEmpty(t, st.HistoryID)
	stored, err := store.GetHistory(context.Background(), st.HistoryID)
	require.NoError(t, err, "the cancelled turn reaches storage")
	require.Len(t, stored.Messages, 2)
	assert.True(t, stored.Messages[1].Cancelled)
	assert.Equal(t, "partial", stored.Messages[1].Content.Text)
}

func TestTitleWriteKeepsLaterTurns(t *testing.T) {
	store := newRecordingStore()
	store.titleRead = make(chan struct{})
	store.titleWrite = make(chan struct{})
	p := newFakeProvider(contentChunk("answer"))
	s := newTestSession(t, store, p)

	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("first")))
	select {
	case <-store.titleRead:
	case <-time.After(time.Second):
		t.Fatal("title was never written")
	}

	// second turn completes while the title write holds a two-message copy
	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("second")))
	require.Eventually(t, func() bool {
		st := s.Snapshot()
		return len(st.Messages) == 4 && !st.IsStreaming
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(store.titleWrite)
	s.Wait()

	st := s.Snapshot()
	stored, err := store.GetHistory(context.Background(), st.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, "Greeting", stored.Title)
	require.Len(t, stored.Messages, 4, "the title write does not roll back the second turn")
	assert.Equal(t, "second", stored.Messages[2].Content.Text)
}

func TestOneStreamAtATime(t *testing.T) {
	p := newFakeProvider(contentChunk("working"))
	p.block = true
	s := newTestSession(t, nil, p)

	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("first")))
	assert.True(t, s.IsStreaming())

	err := s.SendMessage(context.Background(), llama3, models.TextContent("second"))
	assert.ErrorIs(t, err, ErrStreamInProgress)
	err = s.SendImagePrompt(context.Background(), llama3, "a cat")
	assert.ErrorIs(t, err, ErrStreamInProgress)
	assert.Len(t, s.Snapshot().Messages, 2)

	s.CancelActiveStream()
	s.Wait()

	p.block = false
	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("third")))
	s.Wait()
	assert.Len(t, s.Snapshot().Messages, 4)
}

func TestConfigurationErrorsAppendNothing(t *testing.T) {
	p := newFakeProvider(contentChunk("never"))
	p.requireKey = true
	s := newTestSession(t, nil, p)

	err := s.SendMessage(context.Background(), models.ProviderRef{ProviderID: "nope", ModelID: "x"}, models.TextContent("hi"))
	var cfgErr *ai.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, ai.ErrNoMatchingProvider)

	err = s.SendMessage(context.Background(), llama3, models.TextContent("hi"))
	assert.ErrorIs(t, err, ai.ErrMissingAPIKey)

	p.requireKey = false
	err = s.SendMessage(context.Background(), models.ProviderRef{ProviderID: "ollama"}, models.TextContent("hi"))
	assert.ErrorIs(t, err, ai.ErrMissingModel)

	st := s.Snapshot()
	assert.Empty(t, st.Messages)
	assert.False(t, st.IsStreaming)
	assert.Empty(t, p.chatRequests())
}

func TestDefaultModelFromSettings(t *testing.T) {
	p := newFakeProvider(contentChunk("ok"))
	deps := testDeps(t, nil, p)
	deps.Settings = staticSettings{"ollama": {ProviderID: "ollama", BaseURL: "http://gpu:11434", DefaultModel: "qwen"}}
	s := NewSession(context.Background(), deps, "en")

	require.NoError(t, s.SendMessage(context.Background(), models.ProviderRef{ProviderID: "ollama"}, models.TextContent("hi")))
	s.Wait()

	reqs := p.chatRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "qwen", reqs[0].Model)
	assert.Equal(t, "http://gpu:11434", reqs[0].BaseURL)
	assert.Equal(t, "qwen", lastMessage(s.Snapshot()).Provider.ModelID)
}

func TestDispatchFailure(t *testing.T) {
	store := newRecordingStore()
	p := newFakeProvider()
	p.dispatchErr = &transport.Error{Kind: transport.KindUnreachable, Message: "could not reach http://fake.local"}
	s := newTestSession(t, store, p)

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	err := s.SendMessage(context.Background(), llama3, models.TextContent("Hello"))
	var te *transport.Error
	require.ErrorAs(t, err, &te)

	st := s.Snapshot()
	require.Len(t, st.Messages, 1, "no assistant placeholder after a failed dispatch")
	assert.False(t, st.IsStreaming)
	assert.Contains(t, notices(drain(events)), "Could not reach ollama. Check its base URL and your network connection.")

	s.Wait()
	saves, _ := store.counts()
	assert.Equal(t, 1, saves)
}

func TestStreamErrorAppendsSystemMessage(t *testing.T) {
	p := newFakeProvider(contentChunk("Partial"))
	p.readErr = io.ErrUnexpectedEOF
	s := newTestSession(t, nil, p)

	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("Hello")))
	s.Wait()

	st := s.Snapshot()
	require.Len(t, st.Messages, 3)
	answer := st.Messages[1]
	assert.True(t, answer.StreamComplete)
	assert.False(t, answer.Cancelled)
	assert.Equal(t, "Partial", answer.Content.Text)

	notice := st.Messages[2]
	assert.Equal(t, models.RoleSystem, notice.Role)
	assert.True(t, notice.IsError)
	assert.Contains(t, notice.Content.Text, "unexpected EOF")
	assert.Empty(t, st.Title, "failed answers do not start title generation")
}

func TestPersistFailureKeepsState(t *testing.T) {
	store := newRecordingStore()
	store.saveErr = errors.New("disk full")
	p := newFakeProvider(contentChunk("fine"))
	s := newTestSession(t, store, p)

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("Hello")))
	s.Wait()

	st := s.Snapshot()
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "fine", st.Messages[1].Content.Text)
	assert.Contains(t, notices(drain(events)), "Could not save the conversation: disk full")
}

func TestTitleGeneratedOnce(t *testing.T) {
	store := newRecordingStore()
	p := newFakeProvider(contentChunk("answer"))
	s := newTestSession(t, store, p)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent(fmt.Sprintf("turn %d", i))))
		s.Wait()
	}

	assert.Equal(t, 1, p.titles())
	assert.Equal(t, "Greeting", s.Snapshot().Title)

	saves, titles := store.counts()
	assert.Equal(t, 3, saves)
	assert.Equal(t, 1, titles)

	stored, err := store.GetHistory(context.Background(), s.Snapshot().HistoryID)
	require.NoError(t, err)
	assert.Equal(t, "Greeting", stored.Title, "later upserts keep the title")
}

func TestTitleGuardBlocksReentry(t *testing.T) {
	p := newFakeProvider(contentChunk("answer"))
	p.titleGate = make(chan struct{})
	s := newTestSession(t, nil, p)

	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("Hello")))
	require.Eventually(t, func() bool { return p.titles() == 1 }, time.Second, 5*time.Millisecond)

	tgt, err := s.prepare(context.Background(), llama3)
	require.NoError(t, err)
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	for i := 0; i < 5; i++ {
		s.maybeGenerateTitle(gen, tgt)
	}

	close(p.titleGate)
	s.Wait()
	assert.Equal(t, 1, p.titles())
	assert.Equal(t, "Greeting", s.Snapshot().Title)
}

func TestTitleFailureRearms(t *testing.T) {
	store := newRecordingStore()
	p := newFakeProvider(contentChunk("answer"))
	p.titleErr = []error{&transport.Error{Kind: transport.KindStatus, StatusCode: 400, Message: "bad request"}}
	s := newTestSession(t, store, p)

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("Hello")))
	s.Wait()
	assert.Empty(t, s.Snapshot().Title)
	assert.Contains(t, notices(drain(events)), "Could not name the conversation: bad request (status 400)")

	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("again")))
	s.Wait()
	assert.Equal(t, "Greeting", s.Snapshot().Title)
	assert.Equal(t, 2, p.titles())
}

func TestRetrievalContextIsNotStored(t *testing.T) {
	p := newFakeProvider(contentChunk("It says hi"))
	deps := testDeps(t, nil, p)
	var gotDoc, gotQuery string
	deps.Knowledge = knowledgeFunc(func(ctx context.Context, document, query string) (string, error) {
		gotDoc, gotQuery = document, query
		return "Relevant:\nhello world", nil
	})
	s := NewSession(context.Background(), deps, "en")

	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("What does it say?"), WithDocument("notes.md")))
	s.Wait()

	assert.Equal(t, "notes.md", gotDoc)
	assert.Equal(t, "What does it say?", gotQuery)

	reqs := p.chatRequests()
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Messages, 2)
	assert.Equal(t, models.RoleSystem, reqs[0].Messages[0].Role)
	assert.Equal(t, "Relevant:\nhello world", reqs[0].Messages[0].Content.Text)
	assert.Equal(t, models.RoleUser, reqs[0].Messages[1].Role)

	st := s.Snapshot()
	require.Len(t, st.Messages, 2)
	require.NotNil(t, st.Messages[0].Context)
	assert.Equal(t, "notes.md", st.Messages[0].Context.Document)
}

func TestSendImagePrompt(t *testing.T) {
	p := newFakeProvider()
	p.image = ai.ImageResult{Data: []models.GeneratedImage{{URL: "https://img.local/cat.png", RevisedPrompt: "a cat on a mat"}}}
	s := newTestSession(t, nil, p)

	require.NoError(t, s.SendImagePrompt(context.Background(), llama3, "a cat"))
	s.Wait()

	st := s.Snapshot()
	require.Len(t, st.Messages, 2)
	img := st.Messages[1]
	assert.Equal(t, models.KindImage, img.Kind)
	assert.True(t, img.StreamComplete)
	require.NotNil(t, img.Image)
	assert.Equal(t, "https://img.local/cat.png", img.Image.URL)
	assert.False(t, img.IsError)
}

func TestSendImagePromptUnsupported(t *testing.T) {
	p := newFakeProvider()
	p.image = ai.ImageResult{Error: true, Data: []models.GeneratedImage{}}
	p.imageErr = ai.ErrImageUnsupported
	s := newTestSession(t, nil, p)

	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	require.NoError(t, s.SendImagePrompt(context.Background(), llama3, "a cat"))
	s.Wait()

	img := lastMessage(s.Snapshot())
	assert.True(t, img.IsError)
	assert.True(t, img.StreamComplete)
	assert.Nil(t, img.Image)
	assert.Contains(t, notices(drain(events)), "ollama cannot generate images.")
}

func TestResetDuringStream(t *testing.T) {
	store := newRecordingStore()
	p := newFakeProvider(contentChunk("partial"))
	p.block = true
	s := newTestSession(t, store, p)

	require.NoError(t, s.SendMessage(context.Background(), llama3, models.TextContent("Hello")))
	require.Eventually(t, func() bool {
		return lastMessage(s.Snapshot()).Content.Text == "partial"
	}, time.Second, 5*time.Millisecond)

	s.Reset()
	s.Wait()

	st := s.Snapshot()
	assert.Empty(t, st.Messages)
	assert.Empty(t, st.HistoryID)
	assert.False(t, st.IsStreaming)
	saves, _ := store.counts()
	assert.Equal(t, 0, saves, "a stream aborted by reset is not persisted")
}

func TestSessionsAreIsolated(t *testing.T) {
	p := newFakeProvider()
	p.reply = func(req ai.CompletionRequest) []string {
		last := req.Messages[len(req.Messages)-1].Content.Text
		return []string{contentChunk("echo: "), contentChunk(last)}
	}
	m := NewManager(context.Background(), testDeps(t, newRecordingStore(), p))

	const n = 8
	sessions := make([]*Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		sessions[i] = m.Create("en")
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, sessions[i].SendMessage(context.Background(), llama3, models.TextContent(fmt.Sprintf("msg-%d", i))))
		}(i)
	}
	wg.Wait()
	for _, s := range sessions {
		s.Wait()
	}

	assert.Equal(t, n, m.Len())
	for i, s := range sessions {
		st := s.Snapshot()
		require.Len(t, st.Messages, 2)
		assert.Equal(t, fmt.Sprintf("echo: msg-%d", i), st.Messages[1].Content.Text)
	}
}
