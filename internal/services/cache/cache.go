package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/multi-llm-chat-go/internal/config"
	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/ai"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// entry is one cached catalog
type entry struct {
	Models    []models.ModelDescriptor
	CreatedAt time.Time
}

// ModelCatalog caches provider model lists. Failed listings are never cached.
type ModelCatalog struct {
	enabled bool
	cache   *cache.Cache
	logger  *logrus.Logger
}

// NewModelCatalog creates a new catalog cache
func NewModelCatalog(cfg *config.Config, logger *logrus.Logger) *ModelCatalog {
	if !cfg.Cache.Enabled {
		return &ModelCatalog{enabled: false, logger: logger}
	}

	return &ModelCatalog{
		enabled: true,
		cache:   cache.New(cfg.Cache.TTL, cfg.Cache.TTL*2),
		logger:  logger,
	}
}

// List returns the provider's models, consulting the cache first.
// A setting locked to embedding models always lists embeddings only.
func (c *ModelCatalog) List(ctx context.Context, p ai.Provider, setting models.ProviderSetting, embeddingOnly bool) ([]models.ModelDescriptor, error) {
	if setting.LockedModelType == "embedding" {
		embeddingOnly = true
	}

	key := c.generateKey(setting, embeddingOnly)
	if c.enabled {
		if val, found := c.cache.Get(key); found {
			e := val.(*entry)
			c.logger.WithFields(logrus.Fields{
				"provider": setting.ProviderID,
				"age":      time.Since(e.CreatedAt),
			}).Debug("Cache hit")
			return e.Models, nil
		}
	}

	list, err := p.ListModels(ctx, setting, embeddingOnly)
	if err != nil {
		return list, err
	}

	if setting.LockedModelType == "chat" {
		filtered := list[:0:0]
		for _, m := range list {
			if !m.Embedding {
				filtered = append(filtered, m)
			}
		}
		list = filtered
	}

	if c.enabled {
		c.cache.SetDefault(key, &entry{Models: list, CreatedAt: time.Now()})
	}
	return list, nil
}

// Invalidate drops every cached catalog of a provider
func (c *ModelCatalog) Invalidate(providerID string) {
	if !c.enabled {
		return
	}
	prefix := providerID + ":"
	for key := range c.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Delete(key)
		}
	}
	c.logger.WithField("provider", providerID).Debug("Model catalog invalidated")
}

// generateKey scopes entries by provider and by a hash of the connection details
func (c *ModelCatalog) generateKey(setting models.ProviderSetting, embeddingOnly bool) string {
	data := fmt.Sprintf("%s:%s:%s:%t", setting.APIType, setting.BaseURL, setting.APIKey, embeddingOnly)
	hash := sha256.Sum256([]byte(data))
	return setting.ProviderID + ":" + hex.EncodeToString(hash[:])
}
