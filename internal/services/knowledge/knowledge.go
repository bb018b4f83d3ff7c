package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/multi-llm-chat-go/internal/config"
	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/ai"
	"github.com/sirupsen/logrus"
)

// ErrEmbeddingNotConfigured is returned when no embedding provider or model is set
var ErrEmbeddingNotConfigured = errors.New("embedding provider is not configured")

// Embedder embeds one text; *ai.Embedder implements it
type Embedder interface {
	EmbedTextAs(ctx context.Context, text, model string, setting models.ProviderSetting, task ai.TaskType) (ai.Embedding, error)
}

// SettingsResolver returns the effective setting of a provider
type SettingsResolver interface {
	Resolve(ctx context.Context, providerID string) (models.ProviderSetting, error)
}

// ProviderSource supplies default base URLs; *ai.Registry implements it
type ProviderSource interface {
	Get(id string) (ai.Provider, error)
}

// Service ingests documents and builds retrieval context for chat requests
type Service struct {
	cfg       config.KnowledgeConfig
	reader    *Reader
	chunker   Chunker
	embedder  Embedder
	settings  SettingsResolver
	providers ProviderSource
	store     VectorStore
	logger    *logrus.Logger
}

// NewService creates a new knowledge service
func NewService(cfg config.KnowledgeConfig, embedder Embedder, settings SettingsResolver, providers ProviderSource, store VectorStore, logger *logrus.Logger) *Service {
	return &Service{
		cfg:       cfg,
		reader:    NewReader(),
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder:  embedder,
		settings:  settings,
		providers: providers,
		store:     store,
		logger:    logger,
	}
}

// Reader returns the document reader so extra formats can be registered
func (s *Service) Reader() *Reader {
	return s.reader
}

// Ingest reads, chunks, and embeds the file at path and stores it under its base name.
// It returns the number of stored chunks.
func (s *Service) Ingest(ctx context.Context, path string) (int, error) {
	text, err := s.reader.ReadDocumentText(path)
	if err != nil {
		return 0, err
	}
	return s.IngestText(ctx, filepath.Base(path), text)
}

// IngestText chunks and embeds text and stores it under name
func (s *Service) IngestText(ctx context.Context, name, text string) (int, error) {
	setting, err := s.embeddingSetting(ctx)
	if err != nil {
		return 0, err
	}

	chunks := s.chunker.Split(text)
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document %s has no text", name)
	}

	vectors := make([]models.DocumentVector, 0, len(chunks))
	for i, chunk := range chunks {
		emb, err := s.embedder.EmbedTextAs(ctx, chunk, s.cfg.EmbeddingModel, setting, ai.TaskRetrievalDocument)
		if err != nil {
			return 0, fmt.Errorf("failed to embed chunk %d of %s: %w", i+1, name, err)
		}
		vectors = append(vectors, models.DocumentVector{
			Text:       chunk,
			SourceFile: name,
			ChunkIndex: i,
			ChunkTotal: len(chunks),
			Embedding:  emb.Vector,
			TokenCount: emb.TokenCount,
		})
	}

	if err := s.store.Add(ctx, name, vectors); err != nil {
		return 0, err
	}

	s.logger.WithFields(logrus.Fields{
		"document": name,
		"chunks":   len(vectors),
		"provider": setting.ProviderID,
		"model":    s.cfg.EmbeddingModel,
	}).Info("Document ingested")
	return len(vectors), nil
}

// IngestDirectory ingests every supported file under dir that is not stored yet
func (s *Service) IngestDirectory(ctx context.Context, dir string) (int, error) {
	s.logger.WithField("dir", dir).Info("Loading documents")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create upload directory: %w", err)
	}

	existing, err := s.store.Documents(ctx)
	if err != nil {
		return 0, err
	}
	known := make(map[string]bool, len(existing))
	for _, name := range existing {
		known[name] = true
	}

	ingested := 0
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !s.reader.Supports(path) || known[filepath.Base(path)] {
			return nil
		}

		if _, err := s.Ingest(ctx, path); err != nil {
			if errors.Is(err, ErrEmbeddingNotConfigured) {
				return err
			}
			s.logger.WithError(err).WithField("path", path).Warn("Failed to ingest document")
			return nil // Continue with other files
		}
		ingested++
		return nil
	})
	if err != nil {
		return ingested, fmt.Errorf("failed to walk upload directory: %w", err)
	}

	s.logger.WithField("count", ingested).Info("Documents loaded")
	return ingested, nil
}

// BuildContext embeds query and formats the best matching chunks of document.
// It returns an empty string when nothing matches.
func (s *Service) BuildContext(ctx context.Context, document, query string) (string, error) {
	setting, err := s.embeddingSetting(ctx)
	if err != nil {
		return "", err
	}

	emb, err := s.embedder.EmbedTextAs(ctx, query, s.cfg.EmbeddingModel, setting, ai.TaskRetrievalQuery)
	if err != nil {
		return "", fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.store.Search(ctx, document, emb.Vector, s.cfg.SearchLimit)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "", nil
	}

	s.logger.WithFields(logrus.Fields{
		"document": document,
		"hits":     len(hits),
		"best":     hits[0].Score,
	}).Debug("Document context built")
	return formatContext(document, hits), nil
}

// Delete removes a stored document
func (s *Service) Delete(ctx context.Context, name string) (bool, error) {
	return s.store.Delete(ctx, name)
}

// Documents lists the stored documents
func (s *Service) Documents(ctx context.Context) ([]string, error) {
	return s.store.Documents(ctx)
}

func (s *Service) embeddingSetting(ctx context.Context) (models.ProviderSetting, error) {
	if s.cfg.EmbeddingProvider == "" || s.cfg.EmbeddingModel == "" {
		return models.ProviderSetting{}, ErrEmbeddingNotConfigured
	}

	setting, err := s.settings.Resolve(ctx, s.cfg.EmbeddingProvider)
	if err != nil {
		return models.ProviderSetting{}, err
	}
	if setting.BaseURL == "" && s.providers != nil {
		if p, err := s.providers.Get(s.cfg.EmbeddingProvider); err == nil {
			setting.BaseURL = p.DefaultBaseURL()
		}
	}
	return setting, nil
}

func formatContext(document string, hits []models.DocumentChunk) string {
	var b strings.Builder
	if document != "" {
		fmt.Fprintf(&b, "The following excerpts come from the document %q.", document)
	} else {
		b.WriteString("The following excerpts come from the uploaded documents.")
	}
	b.WriteString(" Use them to answer the next question when they are relevant.\n")
	for i, hit := range hits {
		fmt.Fprintf(&b, "\n[%d] (%s, part %d of %d)\n%s\n", i+1, hit.SourceFile, hit.ChunkIndex+1, hit.ChunkTotal, hit.Text)
	}
	return b.String()
}
