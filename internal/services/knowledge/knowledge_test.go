package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/multi-llm-chat-go/internal/config"
	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/ai"
	"github.com/multi-llm-chat-go/internal/services/storage"
	"github.com/multi-llm-chat-go/internal/services/transport"
	"github.com/multi-llm-chat-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSettings map[string]models.ProviderSetting

func (s staticSettings) Resolve(ctx context.Context, providerID string) (models.ProviderSetting, error) {
	return s[providerID], nil
}

// topicServer embeds texts as a two-dimensional topic vector: cats vs dogs
func topicServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var prompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var body struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "nomic-embed-text", body.Model)

		mu.Lock()
		prompts = append(prompts, body.Prompt)
		mu.Unlock()

		text := strings.ToLower(body.Prompt)
		vector := []float32{0.1, 0.1}
		if strings.Contains(text, "cat") {
			vector[0] = 1
		}
		if strings.Contains(text, "dog") {
			vector[1] = 1
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"embedding": vector, "prompt_eval_count": 3})
	}))
	t.Cleanup(srv.Close)
	return srv, &prompts
}

func newTestService(t *testing.T, srv *httptest.Server, persist DocumentStore) (*Service, *MemoryVectorStore) {
	t.Helper()
	log := logger.Discard()
	exec := transport.NewExecutorWithClient(srv.Client(), log)
	store := NewMemoryVectorStore(persist, log)
	cfg := config.KnowledgeConfig{
		Enabled:           true,
		EmbeddingProvider: "ollama",
		EmbeddingModel:    "nomic-embed-text",
		ChunkSize:         40,
		ChunkOverlap:      0,
		SearchLimit:       2,
	}
	settings := staticSettings{"ollama": {ProviderID: "ollama", APIType: models.APITypeOllama, BaseURL: srv.URL}}
	return NewService(cfg, ai.NewEmbedder(exec, log), settings, nil, store, log), store
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const petNotes = "Cats sleep most of the day.\n\nDogs need a walk every morning.\n\nA cat purrs when happy."

func TestIngestAndBuildContext(t *testing.T) {
	srv, prompts := topicServer(t)
	svc, store := newTestService(t, srv, nil)
	path := writeFile(t, t.TempDir(), "pets.md", petNotes)

	n, err := svc.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	docs, err := svc.Documents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"pets.md"}, docs)

	hits, err := store.Search(context.Background(), "pets.md", []float32{1, 0}, 0)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "pets.md", hits[0].SourceFile)
	assert.Equal(t, 3, hits[0].ChunkTotal)
	assert.Equal(t, 3, hits[0].TokenCount)

	text, err := svc.BuildContext(context.Background(), "pets.md", "tell me about my cat")
	require.NoError(t, err)
	assert.Contains(t, text, `"pets.md"`)
	assert.Contains(t, text, "Cats sleep most of the day.")
	assert.Contains(t, text, "A cat purrs when happy.")
	assert.NotContains(t, text, "Dogs need a walk", "search limit keeps the two best chunks")
	assert.Equal(t, "tell me about my cat", (*prompts)[len(*prompts)-1])
}

func TestBuildContextUnknownDocument(t *testing.T) {
	srv, _ := topicServer(t)
	svc, _ := newTestService(t, srv, nil)

	_, err := svc.BuildContext(context.Background(), "missing.md", "cats")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIngestUnsupported(t *testing.T) {
	srv, prompts := topicServer(t)
	svc, _ := newTestService(t, srv, nil)
	path := writeFile(t, t.TempDir(), "scan.pdf", "%PDF-1.4")

	_, err := svc.Ingest(context.Background(), path)
	assert.ErrorIs(t, err, ErrUnsupportedDocument)
	assert.Empty(t, *prompts)
}

func TestEmbeddingNotConfigured(t *testing.T) {
	srv, _ := topicServer(t)
	svc, _ := newTestService(t, srv, nil)
	svc.cfg.EmbeddingModel = ""

	_, err := svc.IngestText(context.Background(), "a.txt", "cats")
	assert.ErrorIs(t, err, ErrEmbeddingNotConfigured)
	_, err = svc.BuildContext(context.Background(), "a.txt", "cats")
	assert.ErrorIs(t, err, ErrEmbeddingNotConfigured)
}

func TestEmbeddingFailureStoresNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()
	svc, store := newTestService(t, srv, nil)

	_, err := svc.IngestText(context.Background(), "a.txt", "cats and dogs")
	var te *transport.Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusNotFound, te.StatusCode)

	docs, err := store.Documents(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestIngestDirectorySkipsKnown(t *testing.T) {
	srv, _ := topicServer(t)
	persist := storage.NewMemoryStorage(&config.Config{}, logger.Discard())
	svc, _ := newTestService(t, srv, persist)

	dir := t.TempDir()
	writeFile(t, dir, "cats.txt", "A cat sat.")
	writeFile(t, dir, "dogs.md", "A dog ran.")
	writeFile(t, dir, "image.png", "not text")

	n, err := svc.IngestDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.IngestDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "stored documents are not embedded again")

	names, err := persist.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cats.txt", "dogs.md"}, names)
}
