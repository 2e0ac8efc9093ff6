// Package config loads robinrag configuration from a YAML file, a .env file
// and the environment, in increasing precedence. Command-line flags are
// applied by the binaries on top.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/engine/ingest"
	"github.com/robin-ai/robinrag/engine/realtime"
	"github.com/robin-ai/robinrag/engine/semantic"
	"github.com/robin-ai/robinrag/pkg/ollama"
	"github.com/robin-ai/robinrag/pkg/resilience"
)

// OllamaConfig configures the embedding provider.
type OllamaConfig struct {
	URL       string        `yaml:"url"`
	Model     string        `yaml:"model"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
	// BreakerThreshold is the consecutive failures that open the circuit;
	// 0 disables the breaker.
	BreakerThreshold int `yaml:"breaker_threshold"`
}

// QdrantConfig configures the vector index.
type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	APIKey     string `yaml:"api_key"`
	Collection string `yaml:"collection"`
	Capacity   uint64 `yaml:"capacity"`
	Region     string `yaml:"region"`
	BatchSize  int    `yaml:"batch_size"`
}

// PipelineConfig is the ingestion pipeline's parameter set plus the index
// pacing interval.
type PipelineConfig struct {
	ingest.Options `yaml:",inline"`
	BatchInterval  time.Duration `yaml:"batch_interval"`
}

// NATSConfig configures the optional ingestion consumer.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// Neo4jConfig configures the optional tag graph.
type Neo4jConfig struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// LedgerConfig configures the SQLite run ledger.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig configures the metrics listener; port 0 disables it.
type MetricsConfig struct {
	Port int `yaml:"port"`
}

// WatchConfig configures the directory-watching ingestion daemon.
type WatchConfig struct {
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
	Workers  int           `yaml:"workers"`
}

// Config is the root configuration.
type Config struct {
	LogLevel string           `yaml:"log_level"`
	Ollama   OllamaConfig     `yaml:"ollama"`
	Qdrant   QdrantConfig     `yaml:"qdrant"`
	Pipeline PipelineConfig   `yaml:"pipeline"`
	Realtime realtime.Options `yaml:"realtime"`
	NATS     NATSConfig       `yaml:"nats"`
	Neo4j    Neo4jConfig      `yaml:"neo4j"`
	Ledger   LedgerConfig     `yaml:"ledger"`
	Metrics  MetricsConfig    `yaml:"metrics"`
	Watch    WatchConfig      `yaml:"watch"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Ollama: OllamaConfig{
			URL:              ollama.DefaultBaseURL,
			Model:            ollama.DefaultModel,
			Dimension:        ollama.DefaultDimension,
			Timeout:          ollama.DefaultTimeout,
			BreakerThreshold: resilience.DefaultBreakerOpts.FailThreshold,
		},
		Qdrant: QdrantConfig{
			Addr:       "localhost:6334",
			Collection: semantic.DefaultCollection,
			BatchSize:  semantic.DefaultBatchSize,
		},
		Pipeline: PipelineConfig{
			Options:       ingest.DefaultOptions(),
			BatchInterval: semantic.DefaultBatchInterval,
		},
		Realtime: realtime.DefaultOptions(),
		Ledger:   LedgerConfig{Path: "robinrag.db"},
		Metrics:  MetricsConfig{Port: 9090},
		Watch: WatchConfig{
			Dir:      "./inbox",
			Interval: 30 * time.Second,
			Workers:  2,
		},
	}
}

// Load builds a Config from defaults, the YAML file at path, the .env file
// in the working directory and the environment. A missing file at path is
// not an error; an empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides fields from environment variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, domain.NewConfigError(key, v, "not an integer"))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, domain.NewConfigError(key, v, "not a duration"))
				return
			}
			*dst = d
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("OLLAMA_URL", &c.Ollama.URL)
	str("OLLAMA_MODEL", &c.Ollama.Model)
	num("EMBED_DIMENSION", &c.Ollama.Dimension)
	dur("OLLAMA_TIMEOUT", &c.Ollama.Timeout)
	str("QDRANT_URL", &c.Qdrant.Addr)
	str("QDRANT_API_KEY", &c.Qdrant.APIKey)
	str("QDRANT_COLLECTION", &c.Qdrant.Collection)
	str("QDRANT_REGION", &c.Qdrant.Region)
	if v, ok := lookup("QDRANT_CAPACITY"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, domain.NewConfigError("QDRANT_CAPACITY", v, "not an unsigned integer"))
		} else {
			c.Qdrant.Capacity = n
		}
	}
	num("PIPELINE_BATCH_SIZE", &c.Pipeline.BatchSize)
	num("PIPELINE_MAX_RETRIES", &c.Pipeline.MaxRetries)
	num("PIPELINE_CHUNK_SIZE", &c.Pipeline.ChunkSize)
	num("PIPELINE_OVERLAP", &c.Pipeline.Overlap)
	dur("PIPELINE_TIMEOUT", &c.Pipeline.Timeout)
	dur("PIPELINE_BATCH_INTERVAL", &c.Pipeline.BatchInterval)
	str("NATS_URL", &c.NATS.URL)
	str("NEO4J_URL", &c.Neo4j.URL)
	str("NEO4J_USER", &c.Neo4j.User)
	str("NEO4J_PASS", &c.Neo4j.Password)
	str("LEDGER_PATH", &c.Ledger.Path)
	num("METRICS_PORT", &c.Metrics.Port)
	str("WATCH_DIR", &c.Watch.Dir)
	return errors.Join(errs...)
}

// Validate reports every invalid setting, joined. Each error unwraps to
// domain.ErrInvalidConfiguration; missing credentials also unwrap to
// domain.ErrMissingCredentials.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, value, reason string) {
		errs = append(errs, domain.NewConfigError(field, value, reason))
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		bad("log_level", c.LogLevel, "must be debug, info, warn or error")
	}
	if u, err := url.Parse(c.Ollama.URL); err != nil || u.Scheme == "" || u.Host == "" {
		bad("ollama.url", c.Ollama.URL, "must be an absolute URL")
	}
	if c.Ollama.Model == "" {
		bad("ollama.model", "", "must not be empty")
	}
	if c.Ollama.Dimension <= 0 {
		bad("ollama.dimension", fmt.Sprint(c.Ollama.Dimension), "must be positive")
	}
	if c.Ollama.Timeout <= 0 {
		bad("ollama.timeout", fmt.Sprint(c.Ollama.Timeout), "must be positive")
	}
	if c.Ollama.BreakerThreshold < 0 {
		bad("ollama.breaker_threshold", fmt.Sprint(c.Ollama.BreakerThreshold), "must not be negative")
	}
	if c.Qdrant.Addr == "" {
		bad("qdrant.addr", "", "must not be empty")
	}
	if c.Qdrant.Collection == "" {
		bad("qdrant.collection", "", "must not be empty")
	}
	if c.Qdrant.BatchSize <= 0 {
		bad("qdrant.batch_size", fmt.Sprint(c.Qdrant.BatchSize), "must be positive")
	}
	if err := c.Pipeline.Options.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}
	if c.Pipeline.BatchInterval < 0 {
		bad("pipeline.batch_interval", fmt.Sprint(c.Pipeline.BatchInterval), "must not be negative")
	}
	if err := c.Realtime.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("realtime: %w", err))
	}
	if c.Neo4j.URL != "" && (c.Neo4j.User == "" || c.Neo4j.Password == "") {
		errs = append(errs, fmt.Errorf("%w: %w",
			domain.NewConfigError("neo4j.password", "", "user and password are required when neo4j.url is set"),
			domain.ErrMissingCredentials))
	}
	if c.Ledger.Path == "" {
		bad("ledger.path", "", "must not be empty")
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		bad("metrics.port", fmt.Sprint(c.Metrics.Port), "must be between 0 and 65535")
	}
	if c.Watch.Interval <= 0 {
		bad("watch.interval", fmt.Sprint(c.Watch.Interval), "must be positive")
	}
	if c.Watch.Workers <= 0 {
		bad("watch.workers", fmt.Sprint(c.Watch.Workers), "must be positive")
	}
	return errors.Join(errs...)
}

// EmbedConfig returns the embedding client configuration, with the
// pipeline's retry and timeout settings applied.
func (c *Config) EmbedConfig(log *slog.Logger) ollama.Config {
	base := ollama.Config{
		BaseURL:   c.Ollama.URL,
		Model:     c.Ollama.Model,
		Dimension: c.Ollama.Dimension,
		Logger:    log,
	}
	if c.Ollama.BreakerThreshold > 0 {
		base.Breaker = resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: c.Ollama.BreakerThreshold})
	}
	cfg := c.Pipeline.EmbedConfig(base)
	if c.Ollama.Timeout < cfg.Timeout {
		cfg.Timeout = c.Ollama.Timeout
	}
	return cfg
}

// IndexOptions returns the vector index options.
func (c *Config) IndexOptions(log *slog.Logger) semantic.Options {
	return semantic.Options{
		Collection:    c.Qdrant.Collection,
		Dimension:     c.Ollama.Dimension,
		BatchSize:     c.Qdrant.BatchSize,
		BatchInterval: c.Pipeline.BatchInterval,
		Capacity:      c.Qdrant.Capacity,
		APIKey:        c.Qdrant.APIKey,
		Region:        c.Qdrant.Region,
		Logger:        log,
	}
}

// Logger returns a JSON slog logger at the configured level.
func (c *Config) Logger() *slog.Logger {
	level, _ := parseLevel(c.LogLevel)
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	err := l.UnmarshalText([]byte(s))
	return l, err
}
