package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/multi-llm-chat-go/internal/config"
	"github.com/multi-llm-chat-go/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a history does not exist
var ErrNotFound = errors.New("not found")

// StoredSetting is a provider setting as persisted: the API key only in encrypted form
type StoredSetting struct {
	models.ProviderSetting
	EncryptedKey string `json:"encrypted_key,omitempty"`
}

// Storage interface defines storage operations
type Storage interface {
	// History operations; SaveHistory is an upsert keyed by history id
	SaveHistory(ctx context.Context, history *models.ChatHistory) error
	GetHistory(ctx context.Context, id string) (*models.ChatHistory, error)
	ListHistories(ctx context.Context) ([]models.HistorySummary, error)
	DeleteHistory(ctx context.Context, id string) error

	// Provider settings operations
	GetProviderSetting(ctx context.Context, providerID string) (*StoredSetting, error)
	SaveProviderSetting(ctx context.Context, setting *StoredSetting) error
	ListProviderSettings(ctx context.Context) ([]StoredSetting, error)

	// Document vector operations
	SaveDocument(ctx context.Context, name string, vectors []models.DocumentVector) error
	GetDocument(ctx context.Context, name string) ([]models.DocumentVector, error)
	ListDocuments(ctx context.Context) ([]string, error)
	DeleteDocument(ctx context.Context, name string) error

	Close() error
}

// Manager manages different storage backends
type Manager struct {
	Storage
	logger *logrus.Logger
}

// NewManager creates a new storage manager
func NewManager(cfg *config.Config, logger *logrus.Logger) (*Manager, error) {
	manager := &Manager{logger: logger}

	switch cfg.Storage.Type {
	case "redis":
		redisStorage, err := NewRedisStorage(cfg, logger)
		if err != nil {
			return nil, err
		}
		manager.Storage = redisStorage
	case "memory":
		manager.Storage = NewMemoryStorage(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	logger.WithField("type", cfg.Storage.Type).Info("Storage initialized")
	return manager, nil
}

// NewManagerWith wraps an existing backend
func NewManagerWith(s Storage, logger *logrus.Logger) *Manager {
	return &Manager{Storage: s, logger: logger}
}

// SetTitle updates only the title of an existing history
func (m *Manager) SetTitle(ctx context.Context, id, title string) error {
	history, err := m.GetHistory(ctx, id)
	if err != nil {
		return err
	}
	history.Title = title
	return m.SaveHistory(ctx, history)
}

func historyKey(id string) string {
	return fmt.Sprintf("history:%s", id)
}

func settingKey(providerID string) string {
	return fmt.Sprintf("provider_settings:%s", providerID)
}

func documentKey(name string) string {
	return fmt.Sprintf("document:%s", name)
}

const (
	historyIndexKey  = "histories"
	settingIndexKey  = "provider_settings"
	documentIndexKey = "documents"
)
