package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime configuration for the monitor.
type Config struct {
	HTTP       HTTPConfig       `mapstructure:"http"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	History    HistoryConfig    `mapstructure:"history"`
	Log        LogConfig        `mapstructure:"log"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
}

// KafkaConfig configures the measurement consumer and the alert producer.
// Both are disabled unless Enabled is set.
type KafkaConfig struct {
	Enabled    bool           `mapstructure:"enabled"`
	Brokers    []string       `mapstructure:"brokers"`
	Topic      string         `mapstructure:"topic"`
	AlertTopic string         `mapstructure:"alert_topic"`
	GroupID    string         `mapstructure:"group_id"`
	Producer   ProducerConfig `mapstructure:"producer"`
}

// ProducerConfig tunes the alert producer's writer pool.
type ProducerConfig struct {
	PoolSize     int           `mapstructure:"pool_size"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
	Compression  string        `mapstructure:"compression"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// EvaluationConfig controls the periodic rule evaluation pass.
type EvaluationConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
}

// IngestConfig configures the ingestion pipeline and optional readers.
type IngestConfig struct {
	QueueSize    int           `mapstructure:"queue_size"`
	Workers      int           `mapstructure:"workers"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// Directory of .txt/.csv files loaded once at startup
	Dir string `mapstructure:"dir"`
	// Simulator stream endpoint, host:port
	TCPAddr string `mapstructure:"tcp_addr"`
}

// HistoryConfig configures the SQLite alert history sink. Empty DSN disables it.
type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// EnvPrefix is the prefix for environment overrides, e.g. VITALWATCH_HTTP_ADDR.
const EnvPrefix = "VITALWATCH"

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodySize:     10 * 1024 * 1024,
		},
		Kafka: KafkaConfig{
			Enabled:    false,
			Brokers:    []string{"localhost:9092"},
			Topic:      "vitalwatch.measurements",
			AlertTopic: "vitalwatch.alerts",
			GroupID:    "vitalwatch",
			Producer: ProducerConfig{
				PoolSize:     4,
				BatchSize:    100,
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: 1,
				Compression:  "snappy",
				MaxRetries:   3,
				RetryBackoff: 100 * time.Millisecond,
			},
		},
		Evaluation: EvaluationConfig{
			Interval:    10 * time.Second,
			Concurrency: 4,
		},
		Ingest: IngestConfig{
			QueueSize:    1000,
			Workers:      4,
			BatchSize:    100,
			BatchTimeout: 100 * time.Millisecond,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from an optional file and the environment on top
// of Default(). An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
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

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("http.addr", d.HTTP.Addr)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.idle_timeout", d.HTTP.IdleTimeout)
	v.SetDefault("http.shutdown_timeout", d.HTTP.ShutdownTimeout)
	v.SetDefault("http.max_body_size", d.HTTP.MaxBodySize)

	v.SetDefault("kafka.enabled", d.Kafka.Enabled)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("kafka.alert_topic", d.Kafka.AlertTopic)
	v.SetDefault("kafka.group_id", d.Kafka.GroupID)
	v.SetDefault("kafka.producer.pool_size", d.Kafka.Producer.PoolSize)
	v.SetDefault("kafka.producer.batch_size", d.Kafka.Producer.BatchSize)
	v.SetDefault("kafka.producer.batch_timeout", d.Kafka.Producer.BatchTimeout)
	v.SetDefault("kafka.producer.write_timeout", d.Kafka.Producer.WriteTimeout)
	v.SetDefault("kafka.producer.required_acks", d.Kafka.Producer.RequiredAcks)
	v.SetDefault("kafka.producer.compression", d.Kafka.Producer.Compression)
	v.SetDefault("kafka.producer.max_retries", d.Kafka.Producer.MaxRetries)
	v.SetDefault("kafka.producer.retry_backoff", d.Kafka.Producer.RetryBackoff)

	v.SetDefault("evaluation.interval", d.Evaluation.Interval)
	v.SetDefault("evaluation.concurrency", d.Evaluation.Concurrency)

	v.SetDefault("ingest.queue_size", d.Ingest.QueueSize)
	v.SetDefault("ingest.workers", d.Ingest.Workers)
	v.SetDefault("ingest.batch_size", d.Ingest.BatchSize)
	v.SetDefault("ingest.batch_timeout", d.Ingest.BatchTimeout)
	v.SetDefault("ingest.dir", d.Ingest.Dir)
	v.SetDefault("ingest.tcp_addr", d.Ingest.TCPAddr)

	v.SetDefault("history.dsn", d.History.DSN)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("log.compress", d.Log.Compress)
}

// Validation errors
var (
	ErrInvalidInterval = errors.New("evaluation interval must be positive")
	ErrNoBrokers       = errors.New("kafka enabled but no brokers configured")
	ErrNoTopic         = errors.New("kafka enabled but topic is empty")
	ErrInvalidQueue    = errors.New("ingest queue size must be positive")
)

// Validate checks the configuration for values the processor cannot run with.
func (c *Config) Validate() error {
	if c.Evaluation.Interval <= 0 {
		return ErrInvalidInterval
	}
	if c.Ingest.QueueSize <= 0 {
		return ErrInvalidQueue
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return ErrNoBrokers
		}
		if c.Kafka.Topic == "" || c.Kafka.AlertTopic == "" {
			return ErrNoTopic
		}
	}
	return nil
}
