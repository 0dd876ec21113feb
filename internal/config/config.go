// Package config loads application configuration from file and environment
// and owns global logger initialization.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	Anomaly    AnomalyConfig    `yaml:"anomaly" mapstructure:"anomaly"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RegistryConfig points at the source registry definition file.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// AnomalyConfig points at the per-metric anomaly detection config file.
type AnomalyConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// EngineConfig tunes resolution, quality scoring, and review triage.
type EngineConfig struct {
	HistoryLimit          int     `yaml:"history_limit" mapstructure:"history_limit"`
	ReviewThreshold       float64 `yaml:"review_threshold" mapstructure:"review_threshold"`
	AccuracyStep          float64 `yaml:"accuracy_step" mapstructure:"accuracy_step"`
	FreshnessHalfLifeDays int     `yaml:"freshness_half_life_days" mapstructure:"freshness_half_life_days"`
	ExpectedSources       int     `yaml:"expected_sources" mapstructure:"expected_sources"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentUnits int `yaml:"max_concurrent_units" mapstructure:"max_concurrent_units"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port                int      `yaml:"port" mapstructure:"port"`
	RateLimitPerSec     float64  `yaml:"rate_limit_per_sec" mapstructure:"rate_limit_per_sec"`
	RateBurst           int      `yaml:"rate_burst" mapstructure:"rate_burst"`
	AllowedOrigins      []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeoutSecs int      `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// MonitoringConfig configures background health checks and alerting.
type MonitoringConfig struct {
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	SampleLimit       int     `yaml:"sample_limit" mapstructure:"sample_limit"`
	MinAvgConfidence  float64 `yaml:"min_avg_confidence" mapstructure:"min_avg_confidence"`
	MaxUrgentReviews  int     `yaml:"max_urgent_reviews" mapstructure:"max_urgent_reviews"`
	MaxDGradeShare    float64 `yaml:"max_d_grade_share" mapstructure:"max_d_grade_share"`
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
	v.SetEnvPrefix("RECONCILE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "reconcile.db")
	v.SetDefault("registry.path", "sources.yaml")
	v.SetDefault("anomaly.path", "anomaly.yaml")
	v.SetDefault("engine.history_limit", 12)
	v.SetDefault("engine.review_threshold", 0.6)
	v.SetDefault("engine.accuracy_step", 0.02)
	v.SetDefault("engine.freshness_half_life_days", 90)
	v.SetDefault("engine.expected_sources", 3)
	v.SetDefault("batch.max_concurrent_units", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_per_sec", 25)
	v.SetDefault("server.rate_burst", 50)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout_secs", 10)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.sample_limit", 1000)
	v.SetDefault("monitoring.min_avg_confidence", 0.5)
	v.SetDefault("monitoring.max_urgent_reviews", 25)
	v.SetDefault("monitoring.max_d_grade_share", 0.25)
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
