// Package config loads service configuration from defaults, an optional
// config file, a .env file and LENS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"lightning-lens/internal/domain"
)

// EnvPrefix is prepended to every environment override, e.g. LENS_API_ADDR.
const EnvPrefix = "LENS"

// Snapshot backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is the complete service configuration.
type Config struct {
	Learning  LearningConfig  `mapstructure:"learning"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	API       APIConfig       `mapstructure:"api"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
	Nodes     []domain.Node   `mapstructure:"nodes"`
}

// LearningConfig controls the online learner.
type LearningConfig struct {
	BufferSize              int     `mapstructure:"buffer_size"`
	MinSamplesForUpdate     int     `mapstructure:"min_samples_for_update"`
	UpdateInterval          int64   `mapstructure:"update_interval"`
	InitialLearningRate     float64 `mapstructure:"initial_learning_rate"`
	MinLearningRate         float64 `mapstructure:"min_learning_rate"`
	MaxLearningRate         float64 `mapstructure:"max_learning_rate"`
	RidgeAlpha              float64 `mapstructure:"ridge_alpha"`
	PerformanceHistoryLimit int     `mapstructure:"performance_history_limit"`
}

// RecommendConfig controls recommendation generation.
type RecommendConfig struct {
	Threshold float64 `mapstructure:"threshold"`
	TopK      int     `mapstructure:"top_k"`
	MinTx     int64   `mapstructure:"min_tx"`
	MaxTx     int64   `mapstructure:"max_tx"`
}

// SnapshotConfig controls model persistence.
type SnapshotConfig struct {
	Backend     string        `mapstructure:"backend"`
	Dir         string        `mapstructure:"dir"`
	Schedule    string        `mapstructure:"schedule"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	LoadOnStart bool          `mapstructure:"load_on_start"`
}

// StorageConfig holds database connections.
type StorageConfig struct {
	PostgresDSN      string `mapstructure:"postgres_dsn"`
	ClickhouseDSN    string `mapstructure:"clickhouse_dsn"`
	ArchiveTelemetry bool   `mapstructure:"archive_telemetry"`
}

// IngestConfig controls the telemetry feed.
type IngestConfig struct {
	WSURL             string        `mapstructure:"ws_url"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
}

// DeliveryConfig controls recommendation push.
type DeliveryConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	WebhookURL    string        `mapstructure:"webhook_url"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisChannel  string        `mapstructure:"redis_channel"`
	PushInterval  time.Duration `mapstructure:"push_interval"`
	PushOnRetrain bool          `mapstructure:"push_on_retrain"`
	FeedReplies   bool          `mapstructure:"feed_replies"`
}

// APIConfig controls the HTTP API.
type APIConfig struct {
	Addr           string  `mapstructure:"addr"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr      string `mapstructure:"addr"`
	Namespace string `mapstructure:"namespace"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Learning: LearningConfig{
			BufferSize:          1000,
			MinSamplesForUpdate: 20,
			UpdateInterval:      10,
			InitialLearningRate: 0.1,
			MinLearningRate:     0.01,
			MaxLearningRate:     0.5,
			RidgeAlpha:          1.0,
		},
		Recommend: RecommendConfig{
			Threshold: 0.1,
			TopK:      3,
			MinTx:     10_000,
			MaxTx:     1_000_000,
		},
		Snapshot: SnapshotConfig{
			Backend:     BackendFile,
			Dir:         "data/models",
			Schedule:    "@every 5m",
			MinInterval: 5 * time.Minute,
			LoadOnStart: true,
		},
		Ingest: IngestConfig{
			ReconnectDelay:    time.Second,
			MaxReconnectDelay: 30 * time.Second,
			ReadTimeout:       60 * time.Second,
		},
		Delivery: DeliveryConfig{
			Timeout:       5 * time.Second,
			RedisChannel:  "lightning_lens:recommendations",
			PushOnRetrain: true,
		},
		API: APIConfig{
			Addr:           ":8000",
			RateLimitRPS:   50,
			RateLimitBurst: 100,
		},
		Metrics: MetricsConfig{
			Addr:      ":9090",
			Namespace: "lightning_lens",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every default on v so env overrides resolve for
// keys that never appear in a config file.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("learning.buffer_size", d.Learning.BufferSize)
	v.SetDefault("learning.min_samples_for_update", d.Learning.MinSamplesForUpdate)
	v.SetDefault("learning.update_interval", d.Learning.UpdateInterval)
	v.SetDefault("learning.initial_learning_rate", d.Learning.InitialLearningRate)
	v.SetDefault("learning.min_learning_rate", d.Learning.MinLearningRate)
	v.SetDefault("learning.max_learning_rate", d.Learning.MaxLearningRate)
	v.SetDefault("learning.ridge_alpha", d.Learning.RidgeAlpha)
	v.SetDefault("learning.performance_history_limit", d.Learning.PerformanceHistoryLimit)

	v.SetDefault("recommend.threshold", d.Recommend.Threshold)
	v.SetDefault("recommend.top_k", d.Recommend.TopK)
	v.SetDefault("recommend.min_tx", d.Recommend.MinTx)
	v.SetDefault("recommend.max_tx", d.Recommend.MaxTx)

	v.SetDefault("snapshot.backend", d.Snapshot.Backend)
	v.SetDefault("snapshot.dir", d.Snapshot.Dir)
	v.SetDefault("snapshot.schedule", d.Snapshot.Schedule)
	v.SetDefault("snapshot.min_interval", d.Snapshot.MinInterval)
	v.SetDefault("snapshot.load_on_start", d.Snapshot.LoadOnStart)

	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.clickhouse_dsn", "")
	v.SetDefault("storage.archive_telemetry", false)

	v.SetDefault("ingest.ws_url", "")
	v.SetDefault("ingest.reconnect_delay", d.Ingest.ReconnectDelay)
	v.SetDefault("ingest.max_reconnect_delay", d.Ingest.MaxReconnectDelay)
	v.SetDefault("ingest.read_timeout", d.Ingest.ReadTimeout)

	v.SetDefault("delivery.timeout", d.Delivery.Timeout)
	v.SetDefault("delivery.webhook_url", "")
	v.SetDefault("delivery.redis_addr", "")
	v.SetDefault("delivery.redis_password", "")
	v.SetDefault("delivery.redis_channel", d.Delivery.RedisChannel)
	v.SetDefault("delivery.push_interval", d.Delivery.PushInterval)
	v.SetDefault("delivery.push_on_retrain", d.Delivery.PushOnRetrain)
	v.SetDefault("delivery.feed_replies", d.Delivery.FeedReplies)

	v.SetDefault("api.addr", d.API.Addr)
	v.SetDefault("api.rate_limit_rps", d.API.RateLimitRPS)
	v.SetDefault("api.rate_limit_burst", d.API.RateLimitBurst)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// ConfigFile is an explicit config path. Empty searches for lens.yaml
	// in the working directory and ./config.
	ConfigFile string
	// EnvFile is loaded before reading the environment. Missing files are
	// ignored unless the path was set explicitly.
	EnvFile string
	// Viper lets callers bind flags before loading. Optional.
	Viper *viper.Viper
}

// Load resolves the configuration and validates it.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	explicitEnv := envFile != ""
	if !explicitEnv {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && (explicitEnv || !errors.Is(err, os.ErrNotExist)) {
		return nil, fmt.Errorf("load env file %s: %w", envFile, err)
	}

	v := opts.Viper
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("lens")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
