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
	Tenant     string           `yaml:"tenant" mapstructure:"tenant"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Crawl      CrawlConfig      `yaml:"crawl" mapstructure:"crawl"`
	Dedup      DedupConfig      `yaml:"dedup" mapstructure:"dedup"`
	Ensemble   EnsembleConfig   `yaml:"ensemble" mapstructure:"ensemble"`
	Lifecycle  LifecycleConfig  `yaml:"lifecycle" mapstructure:"lifecycle"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours    int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	ArticleBacklogLimit    int     `yaml:"article_backlog_limit" mapstructure:"article_backlog_limit"`
	ReviewBacklogLimit     int     `yaml:"review_backlog_limit" mapstructure:"review_backlog_limit"`
	CrawlFailureRate       float64 `yaml:"crawl_failure_rate" mapstructure:"crawl_failure_rate"`
	AlertOnSourceAttention bool    `yaml:"alert_on_source_attention" mapstructure:"alert_on_source_attention"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// CrawlConfig configures source fetching.
type CrawlConfig struct {
	UserAgent       string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxItemsPerFeed int     `yaml:"max_items_per_feed" mapstructure:"max_items_per_feed"`
	RatePerHost     float64 `yaml:"rate_per_host" mapstructure:"rate_per_host"`
	BatchSize       int     `yaml:"batch_size" mapstructure:"batch_size"`
}

// DedupConfig configures the layered duplicate detector.
type DedupConfig struct {
	WindowHours     int     `yaml:"window_hours" mapstructure:"window_hours"`
	TitleThreshold  float64 `yaml:"title_threshold" mapstructure:"title_threshold"`
	PhraseThreshold float64 `yaml:"phrase_threshold" mapstructure:"phrase_threshold"`
}

// Window returns the candidate lookback as a duration.
func (d DedupConfig) Window() time.Duration {
	return time.Duration(d.WindowHours) * time.Hour
}

// EnsembleConfig bounds one evaluation round.
type EnsembleConfig struct {
	AnalystTimeoutSecs int `yaml:"analyst_timeout_secs" mapstructure:"analyst_timeout_secs"`
	MinResponders      int `yaml:"min_responders" mapstructure:"min_responders"`
}

// LifecycleConfig gates prediction creation.
type LifecycleConfig struct {
	MinPredictors       int     `yaml:"min_predictors" mapstructure:"min_predictors"`
	MinCombinedStrength float64 `yaml:"min_combined_strength" mapstructure:"min_combined_strength"`
	MinConsensus        float64 `yaml:"min_consensus" mapstructure:"min_consensus"`
}

// WorkerConfig configures the claim-lease worker pools.
type WorkerConfig struct {
	Workers          int `yaml:"workers" mapstructure:"workers"`
	LeaseMins        int `yaml:"lease_mins" mapstructure:"lease_mins"`
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	ReapIntervalMins int `yaml:"reap_interval_mins" mapstructure:"reap_interval_mins"`
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// AnthropicConfig holds Anthropic API settings for the LLM analyst.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ServerConfig configures the ops HTTP server.
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
	v.SetEnvPrefix("FORESIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("tenant", "default")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "foresight.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawl.user_agent", "foresight/1.0")
	v.SetDefault("crawl.timeout_secs", 30)
	v.SetDefault("crawl.max_items_per_feed", 100)
	v.SetDefault("crawl.rate_per_host", 1.0)
	v.SetDefault("crawl.batch_size", 20)
	v.SetDefault("dedup.window_hours", 72)
	v.SetDefault("dedup.title_threshold", 0.85)
	v.SetDefault("dedup.phrase_threshold", 0.70)
	v.SetDefault("ensemble.analyst_timeout_secs", 30)
	v.SetDefault("ensemble.min_responders", 1)
	v.SetDefault("lifecycle.min_predictors", 3)
	v.SetDefault("lifecycle.min_combined_strength", 15)
	v.SetDefault("lifecycle.min_consensus", 0.70)
	v.SetDefault("worker.workers", 4)
	v.SetDefault("worker.lease_mins", 5)
	v.SetDefault("worker.poll_interval_secs", 2)
	v.SetDefault("worker.reap_interval_mins", 1)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.crawl_failure_rate", 0.5)
	v.SetDefault("monitoring.article_backlog_limit", 500)
	v.SetDefault("monitoring.review_backlog_limit", 50)
	v.SetDefault("monitoring.alert_on_source_attention", true)

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

// Validate checks that required settings for the given mode are present
// and in range. Modes map to command groups: "pipeline" covers crawl,
// evaluate, and sweep; "evaluate-llm" additionally needs Anthropic
// credentials; "serve" runs the ops endpoint.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	if c.Dedup.TitleThreshold < 0 || c.Dedup.TitleThreshold > 1 {
		problems = append(problems, "dedup.title_threshold must be in [0,1]")
	}
	if c.Dedup.PhraseThreshold < 0 || c.Dedup.PhraseThreshold > 1 {
		problems = append(problems, "dedup.phrase_threshold must be in [0,1]")
	}
	if c.Lifecycle.MinConsensus < 0 || c.Lifecycle.MinConsensus > 1 {
		problems = append(problems, "lifecycle.min_consensus must be in [0,1]")
	}
	if c.Worker.Workers < 1 || c.Worker.Workers > 64 {
		problems = append(problems, "worker.workers must be between 1 and 64")
	}

	switch mode {
	case "pipeline":
	case "evaluate-llm":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
