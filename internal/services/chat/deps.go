package chat

import (
	"context"
	"time"

	"github.com/multi-llm-chat-go/internal/config"
	"github.com/multi-llm-chat-go/internal/models"
	"github.com/multi-llm-chat-go/internal/services/ai"
	"github.com/sirupsen/logrus"
)

// ProviderSource resolves provider ids to adapters; *ai.Registry implements it
type ProviderSource interface {
	Get(id string) (ai.Provider, error)
}

// SettingsResolver returns the effective, decrypted setting of a provider
type SettingsResolver interface {
	Resolve(ctx context.Context, providerID string) (models.ProviderSetting, error)
}

// HistoryStore persists sessions; *storage.Manager implements it
type HistoryStore interface {
	SaveHistory(ctx context.Context, history *models.ChatHistory) error
	GetHistory(ctx context.Context, id string) (*models.ChatHistory, error)
	SetTitle(ctx context.Context, id, title string) error
}

// ContextBuilder turns a document and a query into retrieval context for the model
type ContextBuilder interface {
	BuildContext(ctx context.Context, document, query string) (string, error)
}

// Localizer renders user-facing notices
type Localizer interface {
	Get(lang, messageID string, data map[string]interface{}) string
}

// Recorder receives session metrics; *middleware.Metrics implements it
type Recorder interface {
	RecordStream(provider, outcome string, duration time.Duration)
	RecordFragments(provider string, recovered, dropped int)
	StreamStarted()
	StreamFinished()
	RecordTitle(status string)
	RecordStorageOperation(operation, status string, duration time.Duration)
	SetActiveSessions(count float64)
}

// Deps are the collaborators shared by every session
type Deps struct {
	Providers ProviderSource
	Settings  SettingsResolver
	History   HistoryStore
	Titles    *TitleGenerator
	Knowledge ContextBuilder
	Localizer Localizer
	Recorder  Recorder
	Config    config.ChatConfig
	Logger    *logrus.Logger
}

type nopRecorder struct{}

func (nopRecorder) RecordStream(string, string, time.Duration) {}
func (nopRecorder) RecordFragments(string, int, int) {}
func (nopRecorder) StreamStarted() {}
func (nopRecorder) StreamFinished() {}
func (nopRecorder) RecordTitle(string) {}
func (nopRecorder) RecordStorageOperation(string, string, time.Duration) {}
func (nopRecorder) SetActiveSessions(float64) {}

func (d Deps) withDefaults() Deps {
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.Titles == nil {
		d.Titles = NewTitleGenerator(d.Config, ai.NewCollector(d.Logger), d.Logger)
	}
	return d
}
