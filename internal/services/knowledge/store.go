package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/storage"
	"github.com/sirupsen/logrus"
)

// DefaultSearchLimit is the number of chunks returned when a search names no limit
const DefaultSearchLimit = 5

// VectorStore keeps embedded document chunks and searches them by similarity
type VectorStore interface {
	Add(ctx context.Context, filename string, vectors []models.DocumentVector) error
	// Search ranks the chunks of filename, or of every document when filename is empty
	Search(ctx context.Context, filename string, vector []float32, limit int) ([]models.DocumentChunk, error)
	Delete(ctx context.Context, filename string) (bool, error)
	Documents(ctx context.Context) ([]string, error)
}

// DocumentStore persists document vectors; storage.Storage implements it
type DocumentStore interface {
	SaveDocument(ctx context.Context, name string, vectors []models.DocumentVector) error
	GetDocument(ctx context.Context, name string) ([]models.DocumentVector, error)
	ListDocuments(ctx context.Context) ([]string, error)
	DeleteDocument(ctx context.Context, name string) error
}

// MemoryVectorStore searches in memory with cosine similarity.
// With a DocumentStore, writes go through to it and Load restores them.
type MemoryVectorStore struct {
	mu        sync.RWMutex
	documents map[string][]models.DocumentVector
	persist   DocumentStore
	MinScore  float32
	logger    *logrus.Logger
}

// NewMemoryVectorStore creates a vector store; persist may be nil
func NewMemoryVectorStore(persist DocumentStore, logger *logrus.Logger) *MemoryVectorStore {
	return &MemoryVectorStore{
		documents: make(map[string][]models.DocumentVector),
		persist:   persist,
		logger:    logger,
	}
}

// Load reads every persisted document into memory
func (m *MemoryVectorStore) Load(ctx context.Context) error {
	if m.persist == nil {
		return nil
	}
	names, err := m.persist.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	loaded := make(map[string][]models.DocumentVector, len(names))
	for _, name := range names {
		vectors, err := m.persist.GetDocument(ctx, name)
		if err != nil {
			m.logger.WithError(err).WithField("document", name).Warn("Failed to load document vectors")
			continue
		}
		loaded[name] = vectors
	}

	m.mu.Lock()
	for name, vectors := range loaded {
		m.documents[name] = vectors
	}
	m.mu.Unlock()

	m.logger.WithField("documents", len(loaded)).Info("Document vectors loaded")
	return nil
}

// Add stores the vectors of filename, replacing any previous version
func (m *MemoryVectorStore) Add(ctx context.Context, filename string, vectors []models.DocumentVector) error {
	if m.persist != nil {
		if err := m.persist.SaveDocument(ctx, filename, vectors); err != nil {
			return fmt.Errorf("failed to save document %s: %w", filename, err)
		}
	}

	m.mu.Lock()
	m.documents[filename] = vectors
	m.mu.Unlock()
	return nil
}

// Search returns the chunks most similar to vector, best first
func (m *MemoryVectorStore) Search(ctx context.Context, filename string, vector []float32, limit int) ([]models.DocumentChunk, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	m.mu.RLock()
	var candidates []models.DocumentVector
	if filename == "" {
		for _, vectors := range m.documents {
			candidates = append(candidates, vectors...)
		}
	} else {
		vectors, ok := m.documents[filename]
		if !ok {
			m.mu.RUnlock()
			return nil, fmt.Errorf("document %s: %w", filename, storage.ErrNotFound)
		}
		candidates = vectors
	}
	m.mu.RUnlock()

	results := make([]models.DocumentChunk, 0, len(candidates))
	for _, v := range candidates {
		score := CosineSimilarity(vector, v.Embedding)
		if score > m.MinScore {
			results = append(results, models.DocumentChunk{DocumentVector: v, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes filename and reports whether it was stored
func (m *MemoryVectorStore) Delete(ctx context.Context, filename string) (bool, error) {
	m.mu.Lock()
	_, existed := m.documents[filename]
	delete(m.documents, filename)
	m.mu.Unlock()

	if m.persist != nil {
		if err := m.persist.DeleteDocument(ctx, filename); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return existed, fmt.Errorf("failed to delete document %s: %w", filename, err)
		}
	}
	return existed, nil
}

// Documents lists the stored document names
func (m *MemoryVectorStore) Documents(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.documents))
	for name := range m.documents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CosineSimilarity calculates cosine similarity between two vectors.
// Vectors of different dimensions score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}
