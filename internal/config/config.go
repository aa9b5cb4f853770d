package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Scrape    ScrapeConfig    `yaml:"scrape" mapstructure:"scrape"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ScrapeConfig holds task-service settings: which actors implement each
// pipeline stage and how runs are sized.
type ScrapeConfig struct {
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	DiscoveryActor    string `yaml:"discovery_actor" mapstructure:"discovery_actor"`
	HarvestActor      string `yaml:"harvest_actor" mapstructure:"harvest_actor"`
	EnrichActor       string `yaml:"enrich_actor" mapstructure:"enrich_actor"`
	RunMemoryMB       int    `yaml:"run_memory_mb" mapstructure:"run_memory_mb"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// AnthropicConfig holds qualification adapter settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PipelineConfig configures orchestrator behavior.
type PipelineConfig struct {
	EnrichBatchSize  int `yaml:"enrich_batch_size" mapstructure:"enrich_batch_size"`
	PersistEvery     int `yaml:"persist_every" mapstructure:"persist_every"`
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	PollRetryLimit   int `yaml:"poll_retry_limit" mapstructure:"poll_retry_limit"`
	MaxRotations     int `yaml:"max_rotations" mapstructure:"max_rotations"`
}

// PollInterval returns the configured polling interval as a duration.
func (c PipelineConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

// NotifyConfig configures best-effort event delivery.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// ServerConfig configures the operator HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "leadharvest.db")
	v.SetDefault("scrape.base_url", "https://api.apify.com/v2")
	v.SetDefault("scrape.discovery_actor", "apify~instagram-post-scraper")
	v.SetDefault("scrape.harvest_actor", "apify~instagram-comment-scraper")
	v.SetDefault("scrape.enrich_actor", "apify~instagram-profile-scraper")
	v.SetDefault("scrape.run_memory_mb", 1024)
	v.SetDefault("scrape.requests_per_minute", 60)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 16)
	v.SetDefault("pipeline.enrich_batch_size", 50)
	v.SetDefault("pipeline.persist_every", 10)
	v.SetDefault("pipeline.poll_interval_secs", 5)
	v.SetDefault("pipeline.poll_retry_limit", 5)
	v.SetDefault("pipeline.max_rotations", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
