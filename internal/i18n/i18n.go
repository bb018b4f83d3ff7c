package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/multi-llm-chat-go/internal/config"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var builtin embed.FS

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer. Built-in messages load first; files in
// cfg.Directory named <lang>.json override them.
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	languages := cfg.Languages
	if len(languages) == 0 {
		languages = []string{"en"}
	}

	for _, lang := range languages {
		path := fmt.Sprintf("locales/%s.json", lang)
		if _, err := builtin.Open(path); err == nil {
			if _, err := bundle.LoadMessageFileFS(builtin, path); err != nil {
				return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
			}
		}
		if cfg.Directory == "" {
			continue
		}
		override := filepath.Join(cfg.Directory, lang+".json")
		if _, err := os.Stat(override); err != nil {
			continue
		}
		if _, err := bundle.LoadMessageFile(override); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", override, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	defaultLanguage := cfg.DefaultLanguage
	if _, ok := localizers[defaultLanguage]; !ok {
		defaultLanguage = languages[0]
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: defaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// DefaultLanguage returns the language used when a request names none
func (l *Localizer) DefaultLanguage() string {
	return l.defaultLanguage
}

// Message IDs
const (
	MsgStreamCancelled        = "stream_cancelled"
	MsgStreamInProgress       = "stream_in_progress"
	MsgProviderUnreachable    = "provider_unreachable"
	MsgProviderError          = "provider_error"
	MsgStreamFailed           = "stream_failed"
	MsgUnknownProvider        = "unknown_provider"
	MsgMissingAPIKey          = "missing_api_key"
	MsgMissingBaseURL         = "missing_base_url"
	MsgMissingModel           = "missing_model"
	MsgImageUnsupported       = "image_unsupported"
	MsgImageFailed            = "image_failed"
	MsgRateLimitExceeded      = "rate_limit_exceeded"
	MsgMessageInvalid         = "message_invalid"
	MsgDocumentUnsupported    = "document_unsupported"
	MsgDocumentIngested       = "document_ingested"
	MsgDocumentFailed         = "document_failed"
	MsgEmbeddingNotConfigured = "embedding_not_configured"
	MsgPersistFailed          = "persist_failed"
	MsgTitleFailed            = "title_failed"
)
