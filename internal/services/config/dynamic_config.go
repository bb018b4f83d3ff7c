package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/multi-llm-chat-go/internal/config"
	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/secrets"
	"github.com/multi-llm-chat-go/internal/services/storage"
	"github.com/sirupsen/logrus"
)

// ErrInvalidSettings is returned for an update with unsupported values
var ErrInvalidSettings = errors.New("invalid settings")

// SettingUpdate is a partial change to a provider setting; nil fields are kept
type SettingUpdate struct {
	APIType             *models.APIType `json:"api_type,omitempty"`
	BaseURL             *string         `json:"base_url,omitempty"`
	APIKey              *string         `json:"api_key,omitempty"`
	HasEmbeddingSupport *bool           `json:"has_embedding_support,omitempty"`
	EmbeddingPath       *string         `json:"embedding_path,omitempty"`
	LockedModelType     *string         `json:"locked_model_type,omitempty"`
	DefaultModel        *string         `json:"default_model,omitempty"`
}

// SettingsService merges yaml provider settings with runtime changes kept in storage.
// Settings are resolved on every dispatch so a change applies to the next request.
type SettingsService struct {
	store     storage.Storage
	cipher    *secrets.Cipher
	base      map[string]models.ProviderSetting
	logger    *logrus.Logger
	mu        sync.RWMutex
	listeners []func(providerID string)
}

// NewSettingsService creates a new settings service
func NewSettingsService(cfg *config.Config, store storage.Storage, cipher *secrets.Cipher, logger *logrus.Logger) *SettingsService {
	base := make(map[string]models.ProviderSetting, len(cfg.Providers))
	for _, p := range cfg.Providers {
		base[p.ProviderID] = p
	}
	return &SettingsService{
		store:  store,
		cipher: cipher,
		base:   base,
		logger: logger,
	}
}

// DefaultAPIType is the wire family of a built-in provider id
func DefaultAPIType(providerID string) models.APIType {
	switch providerID {
	case "ollama":
		return models.APITypeOllama
	case "google":
		return models.APITypeGoogle
	default:
		return models.APITypeOpenAI
	}
}

// Resolve returns the effective setting with the API key decrypted
func (s *SettingsService) Resolve(ctx context.Context, providerID string) (models.ProviderSetting, error) {
	s.mu.RLock()
	setting, ok := s.base[providerID]
	s.mu.RUnlock()
	if !ok {
		setting = models.ProviderSetting{ProviderID: providerID}
	}

	stored, err := s.store.GetProviderSetting(ctx, providerID)
	if err != nil {
		s.logger.WithError(err).WithField("provider", providerID).Warn("Failed to get stored settings, using base config")
	} else if stored != nil {
		key, err := s.cipher.Decrypt(ctx, stored.EncryptedKey)
		if err != nil {
			return models.ProviderSetting{}, fmt.Errorf("failed to decrypt api key for %s: %w", providerID, err)
		}
		setting = overlay(setting, stored.ProviderSetting, key)
	}

	if setting.APIType == "" {
		setting.APIType = DefaultAPIType(providerID)
	}
	return setting, nil
}

// overlay applies the non-empty stored fields over base
func overlay(base, stored models.ProviderSetting, apiKey string) models.ProviderSetting {
	if stored.APIType != "" {
		base.APIType = stored.APIType
	}
	if stored.BaseURL != "" {
		base.BaseURL = stored.BaseURL
	}
	if apiKey != "" {
		base.APIKey = apiKey
	}
	base.HasEmbeddingSupport = base.HasEmbeddingSupport || stored.HasEmbeddingSupport
	if stored.EmbeddingPath != "" {
		base.EmbeddingPath = stored.EmbeddingPath
	}
	if stored.LockedModelType != "" {
		base.LockedModelType = stored.LockedModelType
	}
	if stored.DefaultModel != "" {
		base.DefaultModel = stored.DefaultModel
	}
	return base
}

// Update stores a change and notifies listeners
func (s *SettingsService) Update(ctx context.Context, providerID string, update SettingUpdate) (models.ProviderSetting, error) {
	if err := validateUpdate(update); err != nil {
		return models.ProviderSetting{}, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}

	stored, err := s.store.GetProviderSetting(ctx, providerID)
	if err != nil {
		return models.ProviderSetting{}, err
	}
	if stored == nil {
		stored = &storage.StoredSetting{ProviderSetting: models.ProviderSetting{ProviderID: providerID}}
	}

	if update.APIType != nil {
		stored.APIType = *update.APIType
	}
	if update.BaseURL != nil {
		stored.BaseURL = *update.BaseURL
	}
	if update.HasEmbeddingSupport != nil {
		stored.HasEmbeddingSupport = *update.HasEmbeddingSupport
	}
	if update.EmbeddingPath != nil {
		stored.EmbeddingPath = *update.EmbeddingPath
	}
	if update.LockedModelType != nil {
		stored.LockedModelType = *update.LockedModelType
	}
	if update.DefaultModel != nil {
		stored.DefaultModel = *update.DefaultModel
	}
	if update.APIKey != nil {
		encrypted, err := s.cipher.Encrypt(ctx, *update.APIKey)
		if err != nil {
			return models.ProviderSetting{}, err
		}
		stored.EncryptedKey = encrypted
	}

	if err := s.store.SaveProviderSetting(ctx, stored); err != nil {
		return models.ProviderSetting{}, fmt.Errorf("failed to save settings: %w", err)
	}

	s.notifyChange(providerID)

	resolved, err := s.Resolve(ctx, providerID)
	if err != nil {
		return models.ProviderSetting{}, err
	}
	s.logger.WithFields(logrus.Fields(resolved.Redacted())).Info("Provider settings updated")
	return resolved, nil
}

// RegisterChangeListener registers a callback for settings changes
func (s *SettingsService) RegisterChangeListener(listener func(providerID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

func (s *SettingsService) notifyChange(providerID string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, listener := range s.listeners {
		listener(providerID)
	}
}

func validateUpdate(u SettingUpdate) error {
	if u.APIType != nil {
		switch *u.APIType {
		case models.APITypeOllama, models.APITypeOpenAI, models.APITypeGoogle:
		default:
			return fmt.Errorf("unsupported api_type %q", *u.APIType)
		}
	}
	if u.LockedModelType != nil {
		switch *u.LockedModelType {
		case "", "chat", "embedding":
		default:
			return fmt.Errorf("locked_model_type must be chat or embedding")
		}
	}
	return nil
}
