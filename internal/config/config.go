// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Registry backends.
const (
	RegistryStatic   = "static"
	RegistryStore    = "store"
	RegistryPostgres = "postgres"
)

// Blob backends.
const (
	BlobMemory = "memory"
	BlobLocal  = "local"
	BlobGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Registry RegistryConfig `mapstructure:"registry"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// StoreConfig selects the shared store.
type StoreConfig struct {
	Backend   string `mapstructure:"backend"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// WorkerConfig governs the worker fleet of one process.
type WorkerConfig struct {
	Threads      int           `mapstructure:"threads"`
	IdleSleep    time.Duration `mapstructure:"idle_sleep"`
	FaultBackoff time.Duration `mapstructure:"fault_backoff"`
	// HostIP overrides the detected outbound address.
	HostIP       string `mapstructure:"host_ip"`
	ThreadPrefix string `mapstructure:"thread_prefix"`
}

// RegistryConfig selects where running instance ids come from.
type RegistryConfig struct {
	Backend string   `mapstructure:"backend"`
	IDs     []string `mapstructure:"ids"`
	DSN     string   `mapstructure:"dsn"`
	Table   string   `mapstructure:"table"`
}

// FetchConfig configures the bundled fetch_page handler.
type FetchConfig struct {
	UserAgent      string     `mapstructure:"user_agent"`
	TimeoutSeconds int        `mapstructure:"timeout_seconds"`
	HostRPS        float64    `mapstructure:"host_rps"`
	HostBurst      int        `mapstructure:"host_burst"`
	Blob           BlobConfig `mapstructure:"blob"`
}

// BlobConfig sets where fetched pages are archived.
type BlobConfig struct {
	Backend     string `mapstructure:"backend"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// NotifyConfig holds the Pub/Sub topic that receives worker faults.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether fault notifications are configured.
func (n NotifyConfig) Enabled() bool {
	return n.ProjectID != "" && n.TopicName != ""
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig toggles OpenTelemetry spans around task phases.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	// Exporter is none, stdout or otlp.
	Exporter string `mapstructure:"exporter"`
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.backend", StoreRedis)
	v.SetDefault("store.addr", "localhost:6379")
	v.SetDefault("store.password", "")
	v.SetDefault("store.db", 0)
	v.SetDefault("store.key_prefix", "pipeline")
	v.SetDefault("worker.threads", 4)
	v.SetDefault("worker.idle_sleep", time.Second)
	v.SetDefault("worker.fault_backoff", time.Minute)
	v.SetDefault("worker.host_ip", "")
	v.SetDefault("worker.thread_prefix", "")
	v.SetDefault("registry.backend", RegistryStore)
	v.SetDefault("registry.ids", []string{})
	v.SetDefault("registry.dsn", "")
	v.SetDefault("registry.table", "instances")
	v.SetDefault("fetch.user_agent", "crawl-pipeline/0.1")
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.host_rps", 0)
	v.SetDefault("fetch.host_burst", 1)
	v.SetDefault("fetch.blob.backend", BlobMemory)
	v.SetDefault("fetch.blob.base_dir", "pages")
	v.SetDefault("fetch.blob.gcs_bucket", "")
	v.SetDefault("fetch.blob.prefix", "pages")
	v.SetDefault("fetch.blob.content_type", "text/html; charset=utf-8")
	v.SetDefault("notify.project_id", "")
	v.SetDefault("notify.topic_name", "")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "crawl-pipeline")
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case StoreRedis:
		if c.Store.Addr == "" {
			return fmt.Errorf("store.addr must be set for the redis backend")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("store.backend %q is not one of redis, memory", c.Store.Backend)
	}
	if c.Worker.Threads <= 0 {
		return fmt.Errorf("worker.threads must be > 0")
	}
	if c.Worker.IdleSleep <= 0 || c.Worker.FaultBackoff <= 0 {
		return fmt.Errorf("worker.idle_sleep and worker.fault_backoff must be > 0")
	}
	switch c.Registry.Backend {
	case RegistryStatic, RegistryStore:
	case RegistryPostgres:
		if c.Registry.DSN == "" {
			return fmt.Errorf("registry.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("registry.backend %q is not one of static, store, postgres", c.Registry.Backend)
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.HostRPS < 0 {
		return fmt.Errorf("fetch.host_rps must be >= 0")
	}
	switch c.Fetch.Blob.Backend {
	case BlobMemory:
	case BlobLocal:
		if c.Fetch.Blob.BaseDir == "" {
			return fmt.Errorf("fetch.blob.base_dir must be set for the local backend")
		}
	case BlobGCS:
		if c.Fetch.Blob.GCSBucket == "" {
			return fmt.Errorf("fetch.blob.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("fetch.blob.backend %q is not one of memory, local, gcs", c.Fetch.Blob.Backend)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Tracing.Enabled && (c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1) {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "none", "stdout":
		case "otlp":
			if c.Tracing.Endpoint == "" {
				return fmt.Errorf("tracing.endpoint must be set for the otlp exporter")
			}
		default:
			return fmt.Errorf("tracing.exporter %q is not one of none, stdout, otlp", c.Tracing.Exporter)
		}
	}
	return nil
}

// FetchTimeout converts the fetch timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}
