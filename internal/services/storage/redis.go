package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/multi-llm-chat-go/internal/config"
	"github.com/multi-llm-chat-go/internal/models"
	"github.com/sirupsen/logrus"
)

// RedisStorage implements storage using Redis
type RedisStorage struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewRedisStorage(cfg *config.Config, logger *logrus.Logger) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStorageWithClient(client, logger), nil
}

// NewRedisStorageWithClient wraps a connected client
func NewRedisStorageWithClient(client *redis.Client, logger *logrus.Logger) *RedisStorage {
	return &RedisStorage{client: client, logger: logger}
}

func (r *RedisStorage) SaveHistory(ctx context.Context, history *models.ChatHistory) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, historyKey(history.ID), data, 0)
		pipe.SAdd(ctx, historyIndexKey, history.ID)
		return nil
	})
	return err
}

func (r *RedisStorage) GetHistory(ctx context.Context, id string) (*models.ChatHistory, error) {
	data, err := r.client.Get(ctx, historyKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var history models.ChatHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to decode history %s: %w", id, err)
	}
	return &history, nil
}

func (r *RedisStorage) ListHistories(ctx context.Context) ([]models.HistorySummary, error) {
	ids, err := r.client.SMembers(ctx, historyIndexKey).Result()
	if err != nil {
		return nil, err
	}

	summaries := make([]models.HistorySummary, 0, len(ids))
	for _, id := range ids {
		history, err := r.GetHistory(ctx, id)
		if err == ErrNotFound {
			r.client.SRem(ctx, historyIndexKey, id)
			continue
		}
		if err != nil {
			r.logger.WithError(err).WithField("history_id", id).Warn("Skipping unreadable history")
			continue
		}
		summaries = append(summaries, history.Summary())
	}
	sortSummaries(summaries)
	return summaries, nil
}

func (r *RedisStorage) DeleteHistory(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, historyKey(id))
		pipe.SRem(ctx, historyIndexKey, id)
		return nil
	})
	return err
}

func (r *RedisStorage) GetProviderSetting(ctx context.Context, providerID string) (*StoredSetting, error) {
	data, err := r.client.Get(ctx, settingKey(providerID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var setting StoredSetting
	if err := json.Unmarshal(data, &setting); err != nil {
		return nil, err
	}
	return &setting, nil
}

func (r *RedisStorage) SaveProviderSetting(ctx context.Context, setting *StoredSetting) error {
	data, err := json.Marshal(setting)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, settingKey(setting.ProviderID), data, 0) // No expiration for settings
		pipe.SAdd(ctx, settingIndexKey, setting.ProviderID)
		return nil
	})
	return err
}

func (r *RedisStorage) ListProviderSettings(ctx context.Context) ([]StoredSetting, error) {
	ids, err := r.client.SMembers(ctx, settingIndexKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	settings := make([]StoredSetting, 0, len(ids))
	for _, id := range ids {
		setting, err := r.GetProviderSetting(ctx, id)
		if err != nil {
			return nil, err
		}
		if setting != nil {
			settings = append(settings, *setting)
		}
	}
	return settings, nil
}

func (r *RedisStorage) SaveDocument(ctx context.Context, name string, vectors []models.DocumentVector) error {
	data, err := json.Marshal(vectors)
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, documentKey(name), data, 0)
		pipe.SAdd(ctx, documentIndexKey, name)
		return nil
	})
	return err
}

func (r *RedisStorage) GetDocument(ctx context.Context, name string) ([]models.DocumentVector, error) {
	data, err := r.client.Get(ctx, documentKey(name)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var vectors []models.DocumentVector
	if err := json.Unmarshal(data, &vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (r *RedisStorage) ListDocuments(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, documentIndexKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (r *RedisStorage) DeleteDocument(ctx context.Context, name string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, documentKey(name))
		pipe.SRem(ctx, documentIndexKey, name)
		return nil
	})
	return err
}

func (r *RedisStorage) Close() error {
	return r.client.Close()
}

// sortSummaries orders most recently updated first
func sortSummaries(s []models.HistorySummary) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].UpdatedAt.Equal(s[j].UpdatedAt) {
			return s[i].ID < s[j].ID
		}
		return s[i].UpdatedAt.After(s[j].UpdatedAt)
	})
}
