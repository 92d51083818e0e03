package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Taxonomy   TaxonomyConfig   `yaml:"taxonomy" mapstructure:"taxonomy"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Classify   ClassifyConfig   `yaml:"classify" mapstructure:"classify"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Cost       CostConfig       `yaml:"cost" mapstructure:"cost"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Dashboard  DashboardConfig  `yaml:"dashboard" mapstructure:"dashboard"`
	Kafka      KafkaConfig      `yaml:"kafka" mapstructure:"kafka"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // postgres, sqlite, mysql
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// TaxonomyConfig configures where categories come from and how long they are cached.
type TaxonomyConfig struct {
	Source           string `yaml:"source" mapstructure:"source"` // admin_api or file
	AdminBaseURL     string `yaml:"admin_base_url" mapstructure:"admin_base_url"`
	FilePath         string `yaml:"file_path" mapstructure:"file_path"`
	CacheTTLMinutes  int    `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
	FetchTimeoutSecs int    `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
}

// LLMConfig selects and tunes the model-call transport.
type LLMConfig struct {
	Provider          string  `yaml:"provider" mapstructure:"provider"` // anthropic, openai, gemini
	AnthropicKey      string  `yaml:"anthropic_key" mapstructure:"anthropic_key"`
	OpenAIKey         string  `yaml:"openai_key" mapstructure:"openai_key"`
	OpenAIBaseURL     string  `yaml:"openai_base_url" mapstructure:"openai_base_url"`
	GeminiKey         string  `yaml:"gemini_key" mapstructure:"gemini_key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature       float64 `yaml:"temperature" mapstructure:"temperature"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	RetryAttempts     int     `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	RetryBackoffMs    int     `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
	BreakerThreshold  int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// ClassifyConfig configures response parsing.
type ClassifyConfig struct {
	FallbackCategoryID string `yaml:"fallback_category_id" mapstructure:"fallback_category_id"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	DefaultSize int `yaml:"default_size" mapstructure:"default_size"`
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	LockTTLSecs int `yaml:"lock_ttl_secs" mapstructure:"lock_ttl_secs"`
}

// CostConfig configures the advisory spend projection.
type CostConfig struct {
	TokensPerRequest int     `yaml:"tokens_per_request" mapstructure:"tokens_per_request"`
	USDPer1KTokens   float64 `yaml:"usd_per_1k_tokens" mapstructure:"usd_per_1k_tokens"`
	KRWPerUSD        float64 `yaml:"krw_per_usd" mapstructure:"krw_per_usd"`
}

// PricingConfig holds per-model token pricing used to price actual usage.
type PricingConfig struct {
	Models map[string]ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// DashboardConfig configures the downstream dashboard sink.
type DashboardConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	QueueSize   int    `yaml:"queue_size" mapstructure:"queue_size"`
}

// KafkaConfig configures the optional Kafka sink.
type KafkaConfig struct {
	Brokers string `yaml:"brokers" mapstructure:"brokers"` // comma separated
	Topic   string `yaml:"topic" mapstructure:"topic"`
}

// RedisConfig configures the distributed batch lock.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// MonitoringConfig configures batch failure alerting.
type MonitoringConfig struct {
	SlackWebhookURL      string  `yaml:"slack_webhook_url" mapstructure:"slack_webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinItems             int     `yaml:"min_items" mapstructure:"min_items"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"` // per batch; 0 disables
	BacklogThreshold     int64   `yaml:"backlog_threshold" mapstructure:"backlog_threshold"`   // unprocessed records; 0 disables
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// ScheduleConfig configures the cron-driven batch runner.
type ScheduleConfig struct {
	Cron     string `yaml:"cron" mapstructure:"cron"`
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load reading path instead of ./config.yaml. Unlike the default
// location, an explicit path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("VOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("taxonomy.source", "admin_api")
	v.SetDefault("taxonomy.admin_base_url", "http://admin-service:8080")
	v.SetDefault("taxonomy.file_path", "testdata/categories.yaml")
	v.SetDefault("taxonomy.cache_ttl_minutes", 30)
	v.SetDefault("taxonomy.fetch_timeout_secs", 15)
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.openai_base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.timeout_secs", 60)
	v.SetDefault("llm.requests_per_second", 5.0)
	v.SetDefault("llm.retry_attempts", 2)
	v.SetDefault("llm.retry_backoff_ms", 1000)
	v.SetDefault("llm.breaker_threshold", 5)
	v.SetDefault("llm.breaker_reset_secs", 30)
	v.SetDefault("classify.fallback_category_id", "23515d46")
	v.SetDefault("batch.default_size", 100)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("batch.lock_ttl_secs", 300)
	v.SetDefault("cost.tokens_per_request", 2000)
	v.SetDefault("cost.usd_per_1k_tokens", 0.00015)
	v.SetDefault("cost.krw_per_usd", 1300.0)
	v.SetDefault("dashboard.timeout_secs", 10)
	v.SetDefault("dashboard.queue_size", 256)
	v.SetDefault("kafka.topic", "voc.normalized")
	v.SetDefault("monitoring.failure_rate_threshold", 0.3)
	v.SetDefault("monitoring.min_items", 5)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("schedule.timezone", "Asia/Seoul")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the keys required by the given mode are present and
// that numeric settings are in range. Modes: "batch", "classify", "store",
// "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	var needStore, needModel bool
	switch mode {
	case "batch", "serve":
		needStore, needModel = true, true
	case "classify":
		needModel = true
	case "store":
		needStore = true
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needStore {
		switch c.Store.Driver {
		case "postgres", "mysql":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required")
			}
		case "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
		}
	}

	if needModel {
		switch c.LLM.Provider {
		case "anthropic":
			if c.LLM.AnthropicKey == "" {
				errs = append(errs, "llm.anthropic_key is required")
			}
		case "openai":
			if c.LLM.OpenAIKey == "" {
				errs = append(errs, "llm.openai_key is required")
			}
		case "gemini":
			if c.LLM.GeminiKey == "" {
				errs = append(errs, "llm.gemini_key is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
		}

		switch c.Taxonomy.Source {
		case "admin_api":
			if c.Taxonomy.AdminBaseURL == "" {
				errs = append(errs, "taxonomy.admin_base_url is required")
			}
		case "file":
			if c.Taxonomy.FilePath == "" {
				errs = append(errs, "taxonomy.file_path is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("taxonomy.source %q is not supported", c.Taxonomy.Source))
		}

		if c.Classify.FallbackCategoryID == "" {
			errs = append(errs, "classify.fallback_category_id is required")
		}
		if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
			errs = append(errs, "llm.temperature must be between 0 and 2")
		}
		if c.LLM.MaxTokens <= 0 {
			errs = append(errs, "llm.max_tokens must be > 0")
		}
	}

	if c.Batch.Concurrency < 1 || c.Batch.Concurrency > 50 {
		errs = append(errs, "batch.concurrency must be between 1 and 50")
	}
	if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
		errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
	}
	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
