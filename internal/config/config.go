// Package config loads service configuration from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tomlkit-schema-service/internal/cache"
	"tomlkit-schema-service/internal/catalog"
	"tomlkit-schema-service/internal/fetch"
)

// Validator modes.
const (
	ValidatorBuiltin = "builtin"
	ValidatorMock    = "mock"
)

// Config holds all service configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Catalog       CatalogConfig       `yaml:"catalog"`
	Cache         CacheConfig         `yaml:"cache"`
	Documents     DocumentsConfig     `yaml:"documents"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`

	// Associations are user-supplied catalog entries consulted before the
	// remote catalog.
	Associations []catalog.Entry `yaml:"associations"`
}

// ServiceConfig holds service identity and listener ports.
type ServiceConfig struct {
	Principal string `yaml:"principal"`
	GRPCPort  string `yaml:"grpcPort"`
	HTTPPort  string `yaml:"httpPort"`
	// Validator selects the validator implementation: builtin or mock.
	Validator string `yaml:"validator"`
}

// CatalogConfig holds catalog and network settings.
type CatalogConfig struct {
	URL           string        `yaml:"url"`
	UserAgent     string        `yaml:"userAgent"`
	FetchTimeout  time.Duration `yaml:"fetchTimeout"`
	RetryCooldown time.Duration `yaml:"retryCooldown"`
}

// CacheConfig holds schema cache settings.
type CacheConfig struct {
	Dir string `yaml:"dir"`
	// MaxAge is the age at which the sweep evicts an entry; 0 disables the sweep.
	MaxAge        time.Duration `yaml:"maxAge"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// DocumentsConfig defines which documents are validated.
type DocumentsConfig struct {
	LanguageIDs []string      `yaml:"languageIds"`
	Extensions  []string      `yaml:"extensions"`
	TaskTimeout time.Duration `yaml:"taskTimeout"`
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Brokers          []string `yaml:"brokers"`
	TopicDiagnostics string   `yaml:"topicDiagnostics"`
	Principal        string   `yaml:"principal"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
	MetricsPort string `yaml:"metricsPort"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Principal: "svc-tomlkit-schema",
			GRPCPort:  "50051",
			HTTPPort:  "8080",
			Validator: ValidatorBuiltin,
		},
		Catalog: CatalogConfig{
			URL:           catalog.DefaultURL,
			UserAgent:     fetch.DefaultUserAgent,
			FetchTimeout:  fetch.DefaultTimeout,
			RetryCooldown: catalog.DefaultRetryCooldown,
		},
		Cache: CacheConfig{
			Dir:           cache.DefaultDir(),
			MaxAge:        30 * 24 * time.Hour,
			SweepInterval: 6 * time.Hour,
		},
		Documents: DocumentsConfig{
			LanguageIDs: []string{"toml"},
			Extensions:  []string{".toml"},
			TaskTimeout: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:          false,
			Brokers:          []string{"localhost:9092"},
			TopicDiagnostics: "editor.diagnostics.published",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: "9090",
		},
	}
}

// Load builds the configuration. A file named by CONFIG_FILE that cannot be
// read or parsed is an error; invalid environment values keep the prior value.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	cfg.overlayEnv()
	return cfg, nil
}

// MustLoad is Load for entry points; it panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	for i, a := range c.Associations {
		if a.URL == "" || len(a.FileMatch) == 0 {
			return fmt.Errorf("config file %s: association %d needs url and fileMatch", path, i)
		}
	}
	return nil
}

func (c *Config) overlayEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.GRPCPort = envOrDefault("GRPC_PORT", c.Service.GRPCPort)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)
	c.Service.Validator = strings.ToLower(envOrDefault("VALIDATOR", c.Service.Validator))

	c.Catalog.URL = envOrDefault("CATALOG_URL", c.Catalog.URL)
	c.Catalog.UserAgent = envOrDefault("USER_AGENT", c.Catalog.UserAgent)
	c.Catalog.FetchTimeout = envOrDefaultDuration("FETCH_TIMEOUT", c.Catalog.FetchTimeout)
	c.Catalog.RetryCooldown = envOrDefaultDuration("CATALOG_RETRY_COOLDOWN", c.Catalog.RetryCooldown)

	c.Cache.Dir = envOrDefault("SCHEMA_CACHE_DIR", c.Cache.Dir)
	c.Cache.MaxAge = envOrDefaultDuration("CACHE_MAX_AGE", c.Cache.MaxAge)
	c.Cache.SweepInterval = envOrDefaultDuration("CACHE_SWEEP_INTERVAL", c.Cache.SweepInterval)

	c.Documents.LanguageIDs = envOrDefaultList("LANGUAGE_IDS", c.Documents.LanguageIDs)
	c.Documents.Extensions = envOrDefaultList("FILE_EXTENSIONS", c.Documents.Extensions)
	c.Documents.TaskTimeout = envOrDefaultDuration("TASK_TIMEOUT", c.Documents.TaskTimeout)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.TopicDiagnostics = envOrDefault("KAFKA_TOPIC_DIAGNOSTICS", c.Kafka.TopicDiagnostics)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsPort = envOrDefault("METRICS_PORT", c.Observability.MetricsPort)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping empty items.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
