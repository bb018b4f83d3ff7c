package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/multi-llm-chat-go/internal/config"
	"github.com/multi-llm-chat-go/internal/models"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// MemoryStorage implements storage using in-memory cache.
// Values are kept JSON-encoded so callers never share state with the store.
type MemoryStorage struct {
	histories *cache.Cache
	settings  *cache.Cache
	documents *cache.Cache
	logger    *logrus.Logger
}

func NewMemoryStorage(cfg *config.Config, logger *logrus.Logger) *MemoryStorage {
	return &MemoryStorage{
		histories: cache.New(cfg.Storage.Memory.DefaultExpiration, cfg.Storage.Memory.CleanupInterval),
		settings:  cache.New(cache.NoExpiration, cache.NoExpiration),
		documents: cache.New(cache.NoExpiration, cache.NoExpiration),
		logger:    logger,
	}
}

func (m *MemoryStorage) SaveHistory(ctx context.Context, history *models.ChatHistory) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}
	m.histories.SetDefault(historyKey(history.ID), data)
	return nil
}

func (m *MemoryStorage) GetHistory(ctx context.Context, id string) (*models.ChatHistory, error) {
	val, found := m.histories.Get(historyKey(id))
	if !found {
		return nil, ErrNotFound
	}

	var history models.ChatHistory
	if err := json.Unmarshal(val.([]byte), &history); err != nil {
		return nil, fmt.Errorf("failed to decode history %s: %w", id, err)
	}
	return &history, nil
}

func (m *MemoryStorage) ListHistories(ctx context.Context) ([]models.HistorySummary, error) {
	items := m.histories.Items()
	summaries := make([]models.HistorySummary, 0, len(items))
	for key := range items {
		history, err := m.GetHistory(ctx, strings.TrimPrefix(key, "history:"))
		if err != nil {
			continue
		}
		summaries = append(summaries, history.Summary())
	}
	sortSummaries(summaries)
	return summaries, nil
}

func (m *MemoryStorage) DeleteHistory(ctx context.Context, id string) error {
	m.histories.Delete(historyKey(id))
	return nil
}

func (m *MemoryStorage) GetProviderSetting(ctx context.Context, providerID string) (*StoredSetting, error) {
	val, found := m.settings.Get(settingKey(providerID))
	if !found {
		return nil, nil
	}

	var setting StoredSetting
	if err := json.Unmarshal(val.([]byte), &setting); err != nil {
		return nil, err
	}
	return &setting, nil
}

func (m *MemoryStorage) SaveProviderSetting(ctx context.Context, setting *StoredSetting) error {
	data, err := json.Marshal(setting)
	if err != nil {
		return err
	}
	m.settings.Set(settingKey(setting.ProviderID), data, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) ListProviderSettings(ctx context.Context) ([]StoredSetting, error) {
	items := m.settings.Items()
	ids := make([]string, 0, len(items))
	for key := range items {
		ids = append(ids, strings.TrimPrefix(key, "provider_settings:"))
	}
	sort.Strings(ids)

	settings := make([]StoredSetting, 0, len(ids))
	for _, id := range ids {
		setting, err := m.GetProviderSetting(ctx, id)
		if err != nil {
			return nil, err
		}
		if setting != nil {
			settings = append(settings, *setting)
		}
	}
	return settings, nil
}

func (m *MemoryStorage) SaveDocument(ctx context.Context, name string, vectors []models.DocumentVector) error {
	data, err := json.Marshal(vectors)
	if err != nil {
		return err
	}
	m.documents.Set(documentKey(name), data, cache.NoExpiration)
	return nil
}

func (m *MemoryStorage) GetDocument(ctx context.Context, name string) ([]models.DocumentVector, error) {
	val, found := m.documents.Get(documentKey(name))
	if !found {
		return nil, ErrNotFound
	}

	var vectors []models.DocumentVector
	if err := json.Unmarshal(val.([]byte), &vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (m *MemoryStorage) ListDocuments(ctx context.Context) ([]string, error) {
	items := m.documents.Items()
	names := make([]string, 0, len(items))
	for key := range items {
		names = append(names, strings.TrimPrefix(key, "document:"))
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStorage) DeleteDocument(ctx context.Context, name string) error {
	m.documents.Delete(documentKey(name))
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
