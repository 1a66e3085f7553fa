// Package config loads hub settings from an optional TOML or YAML file and
// EVENTHUB_* environment variables. Environment variables win.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.yaml.in/yaml/v3"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Queue drivers.
const (
	QueueMemory    = "memory"
	QueueJetStream = "jetstream"
	QueueRabbitMQ  = "rabbitmq"
)

type Config struct {
	HTTPAddr  string `toml:"http_addr" yaml:"http_addr"`   // EVENTHUB_HTTP_ADDR (default ":8080")
	AuthToken string `toml:"auth_token" yaml:"auth_token"` // EVENTHUB_AUTH_TOKEN (optional, empty = auth disabled)
	LogLevel  string `toml:"log_level" yaml:"log_level"`   // EVENTHUB_LOG_LEVEL (default "info")
	LogFormat string `toml:"log_format" yaml:"log_format"` // EVENTHUB_LOG_FORMAT ("text" or "json")
	Namespace string `toml:"namespace" yaml:"namespace"`   // EVENTHUB_NAMESPACE (default "default")

	// Record store
	StoreDriver string `toml:"store" yaml:"store"`               // EVENTHUB_STORE (memory, postgres, sqlite)
	DatabaseURL string `toml:"database_url" yaml:"database_url"` // EVENTHUB_DATABASE_URL (postgres)
	SQLitePath  string `toml:"sqlite_path" yaml:"sqlite_path"`   // EVENTHUB_SQLITE_PATH (default "eventhub.db")

	// Delivery queue
	QueueDriver      string        `toml:"queue" yaml:"queue"`                           // EVENTHUB_QUEUE (memory, jetstream, rabbitmq)
	AMQPURL          string        `toml:"amqp_url" yaml:"amqp_url"`                     // EVENTHUB_AMQP_URL (rabbitmq)
	QueueMaxAttempts int           `toml:"queue_max_attempts" yaml:"queue_max_attempts"` // EVENTHUB_QUEUE_MAX_ATTEMPTS (default 5)
	QueueBaseDelay   time.Duration `toml:"queue_base_delay" yaml:"queue_base_delay"`     // EVENTHUB_QUEUE_BASE_DELAY (default 1s)
	QueueMaxDelay    time.Duration `toml:"queue_max_delay" yaml:"queue_max_delay"`       // EVENTHUB_QUEUE_MAX_DELAY (default 5m)

	// NATS relay and JetStream
	NATSURL    string `toml:"nats_url" yaml:"nats_url"`       // EVENTHUB_NATS_URL (optional, empty = single instance)
	InstanceID string `toml:"instance_id" yaml:"instance_id"` // EVENTHUB_INSTANCE_ID (default hostname)

	// Idempotency keys
	RedisAddr      string        `toml:"redis_addr" yaml:"redis_addr"`           // EVENTHUB_REDIS_ADDR (optional, empty = in-memory)
	IdempotencyTTL time.Duration `toml:"idempotency_ttl" yaml:"idempotency_ttl"` // EVENTHUB_IDEMPOTENCY_TTL (default 24h)

	// Telemetry sinks
	KafkaBrokers string `toml:"kafka_brokers" yaml:"kafka_brokers"` // EVENTHUB_KAFKA_BROKERS (comma separated, optional)
	KafkaTopic   string `toml:"kafka_topic" yaml:"kafka_topic"`     // EVENTHUB_KAFKA_TOPIC (default "eventhub.telemetry")
	LogSamples   bool   `toml:"log_samples" yaml:"log_samples"`     // EVENTHUB_LOG_SAMPLES

	// Dispatcher
	DispatchConcurrency int           `toml:"dispatch_concurrency" yaml:"dispatch_concurrency"` // EVENTHUB_DISPATCH_CONCURRENCY (default 8)
	DispatchRate        float64       `toml:"dispatch_rate" yaml:"dispatch_rate"`               // EVENTHUB_DISPATCH_RATE (requests/s, 0 = unlimited)
	DispatchBurst       int           `toml:"dispatch_burst" yaml:"dispatch_burst"`             // EVENTHUB_DISPATCH_BURST (default 10)
	DispatchTimeout     time.Duration `toml:"dispatch_timeout" yaml:"dispatch_timeout"`         // EVENTHUB_DISPATCH_TIMEOUT (default 10s)

	// Live stream
	KeepAlive  time.Duration `toml:"keepalive" yaml:"keepalive"`     // EVENTHUB_KEEPALIVE (default 30s)
	BufferSize int           `toml:"buffer_size" yaml:"buffer_size"` // EVENTHUB_BUFFER_SIZE (default 64)

	// Archive settings
	ArchiveInterval   time.Duration `toml:"archive_interval" yaml:"archive_interval"`       // EVENTHUB_ARCHIVE_INTERVAL (default 0 = disabled)
	ArchiveLimit      int           `toml:"archive_limit" yaml:"archive_limit"`             // EVENTHUB_ARCHIVE_LIMIT (default 1000)
	ArchiveS3Bucket   string        `toml:"archive_s3_bucket" yaml:"archive_s3_bucket"`     // EVENTHUB_ARCHIVE_S3_BUCKET
	ArchiveS3Endpoint string        `toml:"archive_s3_endpoint" yaml:"archive_s3_endpoint"` // EVENTHUB_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        `toml:"archive_s3_region" yaml:"archive_s3_region"`     // EVENTHUB_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Key      string        `toml:"archive_s3_key" yaml:"archive_s3_key"`           // EVENTHUB_ARCHIVE_S3_KEY (default "eventhub/events.jsonl")

	// Tracing
	OTLPEndpoint string  `toml:"otlp_endpoint" yaml:"otlp_endpoint"` // EVENTHUB_OTLP_ENDPOINT (optional, empty = tracing disabled)
	ServiceName  string  `toml:"service_name" yaml:"service_name"`   // EVENTHUB_SERVICE_NAME (default "eventhub")
	SampleRatio  float64 `toml:"sample_ratio" yaml:"sample_ratio"`   // EVENTHUB_TRACE_SAMPLE_RATIO (default 1)
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	host, _ := os.Hostname()
	return &Config{
		HTTPAddr:            ":8080",
		LogLevel:            "info",
		LogFormat:           "text",
		Namespace:           "default",
		StoreDriver:         StoreMemory,
		SQLitePath:          "eventhub.db",
		QueueDriver:         QueueMemory,
		QueueMaxAttempts:    5,
		QueueBaseDelay:      time.Second,
		QueueMaxDelay:       5 * time.Minute,
		InstanceID:          host,
		IdempotencyTTL:      24 * time.Hour,
		KafkaTopic:          "eventhub.telemetry",
		DispatchConcurrency: 8,
		DispatchBurst:       10,
		DispatchTimeout:     10 * time.Second,
		KeepAlive:           30 * time.Second,
		BufferSize:          64,
		ArchiveLimit:        1000,
		ArchiveS3Region:     "us-east-1",
		ArchiveS3Key:        "eventhub/events.jsonl",
		ServiceName:         "eventhub",
		SampleRatio:         1,
	}
}

// Load builds the configuration from defaults, the file named by
// EVENTHUB_CONFIG (if any) and the environment, then validates it.
func Load() (*Config, error) {
	c := Defaults()
	if path := os.Getenv("EVENTHUB_CONFIG"); path != "" {
		if err := c.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFile overlays the settings in path onto c. The format is chosen by
// extension: .toml, .yaml or .yml.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config %s: unsupported extension %q", path, ext)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.HTTPAddr = envOrDefault("EVENTHUB_HTTP_ADDR", c.HTTPAddr)
	c.AuthToken = envOrDefault("EVENTHUB_AUTH_TOKEN", c.AuthToken)
	c.LogLevel = envOrDefault("EVENTHUB_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("EVENTHUB_LOG_FORMAT", c.LogFormat)
	c.Namespace = envOrDefault("EVENTHUB_NAMESPACE", c.Namespace)
	c.StoreDriver = envOrDefault("EVENTHUB_STORE", c.StoreDriver)
	c.DatabaseURL = envOrDefault("EVENTHUB_DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = envOrDefault("EVENTHUB_SQLITE_PATH", c.SQLitePath)
	c.QueueDriver = envOrDefault("EVENTHUB_QUEUE", c.QueueDriver)
	c.AMQPURL = envOrDefault("EVENTHUB_AMQP_URL", c.AMQPURL)
	c.NATSURL = envOrDefault("EVENTHUB_NATS_URL", c.NATSURL)
	c.InstanceID = envOrDefault("EVENTHUB_INSTANCE_ID", c.InstanceID)
	c.RedisAddr = envOrDefault("EVENTHUB_REDIS_ADDR", c.RedisAddr)
	c.KafkaBrokers = envOrDefault("EVENTHUB_KAFKA_BROKERS", c.KafkaBrokers)
	c.KafkaTopic = envOrDefault("EVENTHUB_KAFKA_TOPIC", c.KafkaTopic)
	c.ArchiveS3Bucket = envOrDefault("EVENTHUB_ARCHIVE_S3_BUCKET", c.ArchiveS3Bucket)
	c.ArchiveS3Endpoint = envOrDefault("EVENTHUB_ARCHIVE_S3_ENDPOINT", c.ArchiveS3Endpoint)
	c.ArchiveS3Region = envOrDefault("EVENTHUB_ARCHIVE_S3_REGION", c.ArchiveS3Region)
	c.ArchiveS3Key = envOrDefault("EVENTHUB_ARCHIVE_S3_KEY", c.ArchiveS3Key)
	c.OTLPEndpoint = envOrDefault("EVENTHUB_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.ServiceName = envOrDefault("EVENTHUB_SERVICE_NAME", c.ServiceName)

	var err error
	if c.LogSamples, err = envBool("EVENTHUB_LOG_SAMPLES", c.LogSamples); err != nil {
		return err
	}
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{"EVENTHUB_QUEUE_BASE_DELAY", &c.QueueBaseDelay},
		{"EVENTHUB_QUEUE_MAX_DELAY", &c.QueueMaxDelay},
		{"EVENTHUB_IDEMPOTENCY_TTL", &c.IdempotencyTTL},
		{"EVENTHUB_DISPATCH_TIMEOUT", &c.DispatchTimeout},
		{"EVENTHUB_KEEPALIVE", &c.KeepAlive},
		{"EVENTHUB_ARCHIVE_INTERVAL", &c.ArchiveInterval},
	} {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}
	for _, n := range []struct {
		key string
		dst *int
	}{
		{"EVENTHUB_QUEUE_MAX_ATTEMPTS", &c.QueueMaxAttempts},
		{"EVENTHUB_DISPATCH_CONCURRENCY", &c.DispatchConcurrency},
		{"EVENTHUB_DISPATCH_BURST", &c.DispatchBurst},
		{"EVENTHUB_BUFFER_SIZE", &c.BufferSize},
		{"EVENTHUB_ARCHIVE_LIMIT", &c.ArchiveLimit},
	} {
		if v := os.Getenv(n.key); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", n.key, err)
			}
			*n.dst = parsed
		}
	}
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"EVENTHUB_DISPATCH_RATE", &c.DispatchRate},
		{"EVENTHUB_TRACE_SAMPLE_RATIO", &c.SampleRatio},
	} {
		if v := os.Getenv(f.key); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = parsed
		}
	}
	return nil
}

// Validate checks driver names and the settings each driver needs.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("EVENTHUB_DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.StoreDriver)
	}
	switch c.QueueDriver {
	case QueueMemory:
	case QueueJetStream:
		if c.NATSURL == "" {
			return fmt.Errorf("EVENTHUB_NATS_URL is required for the jetstream queue")
		}
	case QueueRabbitMQ:
		if c.AMQPURL == "" {
			return fmt.Errorf("EVENTHUB_AMQP_URL is required for the rabbitmq queue")
		}
	default:
		return fmt.Errorf("unknown queue %q", c.QueueDriver)
	}
	if c.ArchiveInterval > 0 && c.ArchiveS3Bucket == "" {
		return fmt.Errorf("EVENTHUB_ARCHIVE_S3_BUCKET is required when archiving is enabled")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("EVENTHUB_LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Logger returns an slog logger writing to w in the configured format and
// level. Unknown levels fall back to info.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}
