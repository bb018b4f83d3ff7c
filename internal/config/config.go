package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/multi-llm-chat-go/internal/models"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig             `mapstructure:"server"`
	Providers  []models.ProviderSetting `mapstructure:"providers"`
	Defaults   DefaultsConfig           `mapstructure:"defaults"`
	Chat       ChatConfig               `mapstructure:"chat"`
	Transport  TransportConfig          `mapstructure:"transport"`
	Storage    StorageConfig            `mapstructure:"storage"`
	Cache      CacheConfig              `mapstructure:"cache"`
	RateLimit  RateLimitConfig          `mapstructure:"rate_limit"`
	Logging    LoggingConfig            `mapstructure:"logging"`
	Monitoring MonitoringConfig         `mapstructure:"monitoring"`
	I18n       I18nConfig               `mapstructure:"i18n"`
	Security   SecurityConfig           `mapstructure:"security"`
	Knowledge  KnowledgeConfig          `mapstructure:"knowledge"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	AllowOrigins []string      `mapstructure:"allow_origins"`
}

type DefaultsConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

type ChatConfig struct {
	MaxMessageLength int    `mapstructure:"max_message_length"`
	TitlePrompt      string `mapstructure:"title_prompt"`
	TitleMaxLength   int    `mapstructure:"title_max_length"`
	Language         string `mapstructure:"language"`
}

type TransportConfig struct {
	// ResponseHeaderTimeout bounds the wait for response headers; 0 waits forever.
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
	Directory       string   `mapstructure:"directory"`
}

type SecurityConfig struct {
	// EncryptionKey is a base64 encoded 32 byte key for API keys at rest
	EncryptionKey string `mapstructure:"encryption_key"`
}

type KnowledgeConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	EmbeddingProvider string `mapstructure:"embedding_provider"`
	EmbeddingModel    string `mapstructure:"embedding_model"`
	ChunkSize         int    `mapstructure:"chunk_size"`
	ChunkOverlap      int    `mapstructure:"chunk_overlap"`
	SearchLimit       int    `mapstructure:"search_limit"`
	UploadDirectory   string `mapstructure:"upload_directory"`
}

// DefaultTitlePrompt asks the model for a JSON-wrapped title; {{message}} is replaced by the first user turn.
const DefaultTitlePrompt = `Create a concise title of at most six words for a conversation that begins with the message below.
Respond only with JSON in the form {"title": "<title>"} and nothing else.

Message: {{message}}`

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("defaults.provider", "ollama")
	v.SetDefault("chat.max_message_length", 32000)
	v.SetDefault("chat.title_prompt", DefaultTitlePrompt)
	v.SetDefault("chat.title_max_length", 80)
	v.SetDefault("chat.language", "en")
	v.SetDefault("transport.response_header_timeout", 120*time.Second)
	v.SetDefault("transport.dial_timeout", 10*time.Second)
	v.SetDefault("storage.type", "memory")
	v.SetDefault("storage.memory.default_expiration", 0)
	v.SetDefault("storage.memory.cleanup_interval", 10*time.Minute)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 30)
	v.SetDefault("rate_limit.burst", 5)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("monitoring.metrics.port", 9090)
	v.SetDefault("monitoring.metrics.path", "/metrics")
	v.SetDefault("i18n.default_language", "en")
	v.SetDefault("i18n.languages", []string{"en", "zh"})
	v.SetDefault("knowledge.chunk_size", 1000)
	v.SetDefault("knowledge.chunk_overlap", 100)
	v.SetDefault("knowledge.search_limit", 5)
	v.SetDefault("knowledge.upload_directory", "data/uploads")
}

// LoadConfig loads configuration from file and environment variables.
// An empty path loads defaults and environment only.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.BindEnv("storage.redis.addr", "REDIS_ADDR")
	v.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	v.BindEnv("storage.redis.db", "REDIS_DB")
	v.BindEnv("security.encryption_key", "SECRET_KEY")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Provider API keys may come from <PROVIDER>_API_KEY so they stay out of the yaml file
	for i := range config.Providers {
		p := &config.Providers[i]
		envPrefix := strings.ToUpper(strings.ReplaceAll(p.ProviderID, "-", "_"))
		if apiKey := os.Getenv(envPrefix + "_API_KEY"); apiKey != "" {
			p.APIKey = apiKey
		}
		if baseURL := os.Getenv(envPrefix + "_BASE_URL"); baseURL != "" {
			p.BaseURL = baseURL
		}
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	seen := make(map[string]bool)
	for _, p := range cfg.Providers {
		if p.ProviderID == "" {
			return fmt.Errorf("provider id is required")
		}
		if seen[p.ProviderID] {
			return fmt.Errorf("duplicate provider %q", p.ProviderID)
		}
		seen[p.ProviderID] = true
		switch p.APIType {
		case "", models.APITypeOllama, models.APITypeOpenAI, models.APITypeGoogle:
		default:
			return fmt.Errorf("provider %q: unsupported api_type %q", p.ProviderID, p.APIType)
		}
	}
	switch cfg.Storage.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
	if cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
		return fmt.Errorf("knowledge.chunk_overlap must be smaller than knowledge.chunk_size")
	}
	return nil
}

// Provider returns the configured setting for a provider id
func (c *Config) Provider(id string) (models.ProviderSetting, bool) {
	for _, p := range c.Providers {
		if p.ProviderID == id {
			return p, true
		}
	}
	return models.ProviderSetting{}, false
}
