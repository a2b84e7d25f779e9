package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Storage    StorageConfig    `mapstructure:"storage"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Context    ContextConfig    `mapstructure:"context"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type BotConfig struct {
	Token          string        `mapstructure:"token"`
	Webhook        WebhookConfig `mapstructure:"webhook"`
	UpdateTimeout  int           `mapstructure:"update_timeout"`
	AllowedUserIDs []int64       `mapstructure:"allowed_user_ids"`
}

type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Port    int    `mapstructure:"port"`
}

type GeminiConfig struct {
	APIKey         string      `mapstructure:"api_key"`
	BaseURL        string      `mapstructure:"base_url"`
	DefaultModel   string      `mapstructure:"default_model"`
	Models         []ModelInfo `mapstructure:"models"`
	ImageModels    []string    `mapstructure:"image_models"`
	DocumentModels []string    `mapstructure:"document_models"`
	MaxRetries     int         `mapstructure:"max_retries"`
}

type ModelInfo struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
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

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type ContextConfig struct {
	HistoryLimit int           `mapstructure:"history_limit"`
	HistoryTTL   time.Duration `mapstructure:"history_ttl"`
}

type StreamConfig struct {
	EditInterval time.Duration `mapstructure:"edit_interval"`
	ChunkSize    int           `mapstructure:"chunk_size"`
	ChunkDelay   time.Duration `mapstructure:"chunk_delay"`
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
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Enable environment variable substitution
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Set environment variable overrides
	viper.BindEnv("bot.token", "BOT_TOKEN")
	viper.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	viper.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	viper.BindEnv("storage.redis.db", "REDIS_DB")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Handle Redis address special case
	if redisHost := viper.GetString("REDIS_HOST"); redisHost != "" {
		redisPort := viper.GetString("REDIS_PORT")
		if redisPort == "" {
			redisPort = "6379"
		}
		config.Storage.Redis.Addr = fmt.Sprintf("%s:%s", redisHost, redisPort)
	}

	// The allow-list usually arrives as a comma-separated env var
	if allowed := os.Getenv("ALLOWED_USER_IDS"); allowed != "" {
		ids, err := parseUserIDs(allowed)
		if err != nil {
			return nil, fmt.Errorf("invalid ALLOWED_USER_IDS: %w", err)
		}
		config.Bot.AllowedUserIDs = ids
	}

	setDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func parseUserIDs(s string) ([]int64, error) {
	var ids []int64
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("user id %q is not numeric", field)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func setDefaults(cfg *Config) {
	if cfg.Gemini.BaseURL == "" {
		cfg.Gemini.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Gemini.DefaultModel == "" {
		cfg.Gemini.DefaultModel = "gemini-1.5-flash"
	}
	if cfg.Gemini.MaxRetries == 0 {
		cfg.Gemini.MaxRetries = 3
	}
	if cfg.Context.HistoryLimit == 0 {
		cfg.Context.HistoryLimit = 10
	}
	if cfg.Context.HistoryTTL == 0 {
		cfg.Context.HistoryTTL = 7 * 24 * time.Hour
	}
	if cfg.Stream.EditInterval == 0 {
		cfg.Stream.EditInterval = 800 * time.Millisecond
	}
	if cfg.Stream.ChunkSize == 0 {
		cfg.Stream.ChunkSize = 4096
	}
	if cfg.Stream.ChunkDelay == 0 {
		cfg.Stream.ChunkDelay = 500 * time.Millisecond
	}
	if cfg.Bot.UpdateTimeout == 0 {
		cfg.Bot.UpdateTimeout = 60
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "redis"
	}
	if cfg.I18n.DefaultLanguage == "" {
		cfg.I18n.DefaultLanguage = "en"
	}
	if len(cfg.I18n.Languages) == 0 {
		cfg.I18n.Languages = []string{"en"}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Bot.Token == "" {
		return fmt.Errorf("bot token is required")
	}
	if cfg.Gemini.APIKey == "" {
		return fmt.Errorf("gemini api key is required")
	}
	if len(cfg.Bot.AllowedUserIDs) == 0 {
		return fmt.Errorf("at least one allowed user id is required")
	}
	if len(cfg.Gemini.Models) == 0 {
		return fmt.Errorf("at least one model is required")
	}
	return nil
}
