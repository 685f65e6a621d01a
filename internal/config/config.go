package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName      string `mapstructure:"app_name"`
	Env          string `mapstructure:"app_env"`
	LogLevel     string `mapstructure:"log_level"`
	SourcesFile  string `mapstructure:"sources_file"`
	SinksFile    string `mapstructure:"sinks_file"`
	CronSchedule string `mapstructure:"cron_schedule"`

	StorageType            string        `mapstructure:"storage_type"`
	BBoltPath              string        `mapstructure:"bbolt_path"`
	KnownIDTTLSeconds      int64         `mapstructure:"known_id_ttl_seconds"`
	DedupWindowSeconds     int64         `mapstructure:"dedup_window_seconds"`
	StorageCleanupSeconds  int64         `mapstructure:"storage_cleanup_interval_seconds"`
	KnownIDTTL             time.Duration `mapstructure:"-"`
	DedupWindow            time.Duration `mapstructure:"-"`
	StorageCleanupInterval time.Duration `mapstructure:"-"`

	MaxPastWindowSeconds int64         `mapstructure:"max_past_window_seconds"`
	MaxPastWindow        time.Duration `mapstructure:"-"`

	ExtractorBaseURL        string        `mapstructure:"extractor_base_url"`
	ExtractorAPIKey         string        `mapstructure:"extractor_api_key"`
	ExtractorModel          string        `mapstructure:"extractor_model"`
	ExtractorPromptFile     string        `mapstructure:"extractor_prompt_file"`
	ExtractorTimeoutSeconds int64         `mapstructure:"extractor_timeout_seconds"`
	ExtractorTimeout        time.Duration `mapstructure:"-"`

	RequestTimeoutSeconds int64         `mapstructure:"request_timeout_seconds"`
	RequestTimeout        time.Duration `mapstructure:"-"`
	RetryAttempts         int           `mapstructure:"retry_attempts"`
	RetryBaseDelayMs      int64         `mapstructure:"retry_base_delay_ms"`
	RetryBaseDelay        time.Duration `mapstructure:"-"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "afisha-ingest")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("sources_file", "./configs/sources.yaml")
	v.SetDefault("sinks_file", "./configs/sinks.yaml")
	v.SetDefault("cron_schedule", "@every 30m")
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/catalog.db")
	v.SetDefault("known_id_ttl_seconds", int64((180*24*time.Hour)/time.Second))
	v.SetDefault("dedup_window_seconds", int64((30*24*time.Hour)/time.Second))
	v.SetDefault("storage_cleanup_interval_seconds", int64((12*time.Hour)/time.Second))
	v.SetDefault("max_past_window_seconds", int64((24*time.Hour)/time.Second))
	v.SetDefault("extractor_base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("extractor_model", "")
	v.SetDefault("extractor_prompt_file", "./configs/extract_prompt.yaml")
	v.SetDefault("extractor_timeout_seconds", 60)
	v.SetDefault("request_timeout_seconds", 15)
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("retry_base_delay_ms", 500)

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	for _, check := range []struct {
		name  string
		value int64
	}{
		{"known_id_ttl_seconds", cfg.KnownIDTTLSeconds},
		{"dedup_window_seconds", cfg.DedupWindowSeconds},
		{"storage_cleanup_interval_seconds", cfg.StorageCleanupSeconds},
		{"max_past_window_seconds", cfg.MaxPastWindowSeconds},
		{"extractor_timeout_seconds", cfg.ExtractorTimeoutSeconds},
		{"request_timeout_seconds", cfg.RequestTimeoutSeconds},
	} {
		if check.value <= 0 {
			return nil, fmt.Errorf("invalid %s (must be positive seconds)", check.name)
		}
	}
	if cfg.RetryAttempts <= 0 {
		return nil, fmt.Errorf("invalid retry_attempts (must be positive)")
	}
	if cfg.RetryBaseDelayMs <= 0 {
		return nil, fmt.Errorf("invalid retry_base_delay_ms (must be positive)")
	}

	cfg.KnownIDTTL = time.Duration(cfg.KnownIDTTLSeconds) * time.Second
	cfg.DedupWindow = time.Duration(cfg.DedupWindowSeconds) * time.Second
	cfg.StorageCleanupInterval = time.Duration(cfg.StorageCleanupSeconds) * time.Second
	cfg.MaxPastWindow = time.Duration(cfg.MaxPastWindowSeconds) * time.Second
	cfg.ExtractorTimeout = time.Duration(cfg.ExtractorTimeoutSeconds) * time.Second
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	cfg.RetryBaseDelay = time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond

	return &cfg, nil
}
