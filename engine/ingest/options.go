package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/robin-ai/robinrag/engine/chunk"
	"github.com/robin-ai/robinrag/engine/classify"
	"github.com/robin-ai/robinrag/engine/domain"
	"github.com/robin-ai/robinrag/pkg/ollama"
)

// Options is the single parameter set of a pipeline.
type Options struct {
	// BatchSize is the number of records accumulated before an upsert.
	BatchSize int `yaml:"batch_size"`
	// MaxRetries is the total number of embedding attempts per chunk.
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	// Timeout bounds each external call.
	Timeout       time.Duration `yaml:"timeout"`
	ChunkSize     int           `yaml:"chunk_size"`
	Overlap       int           `yaml:"overlap"`
	ContextWindow int           `yaml:"context_window"`
	// Source overrides the source recorded for every document.
	Source string `yaml:"source"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		BatchSize:     100,
		MaxRetries:    ollama.DefaultMaxRetries,
		BackoffBase:   ollama.DefaultBackoffBase,
		Timeout:       ollama.DefaultTimeout,
		ChunkSize:     chunk.DefaultMaxLen,
		Overlap:       chunk.DefaultOverlap,
		ContextWindow: classify.DefaultWindow,
	}
}

// Validate reports every invalid field, joined. Each error is a
// *domain.ConfigError.
func (o Options) Validate() error {
	var errs []error
	if o.BatchSize <= 0 {
		errs = append(errs, domain.NewConfigError("batch_size", fmt.Sprint(o.BatchSize), "must be positive"))
	}
	if o.MaxRetries <= 0 {
		errs = append(errs, domain.NewConfigError("max_retries", fmt.Sprint(o.MaxRetries), "must be at least 1"))
	}
	if o.BackoffBase < 0 {
		errs = append(errs, domain.NewConfigError("backoff_base", fmt.Sprint(o.BackoffBase), "must not be negative"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, domain.NewConfigError("timeout", fmt.Sprint(o.Timeout), "must be positive"))
	}
	if _, err := chunk.New(o.ChunkSize, o.Overlap); err != nil {
		errs = append(errs, err)
	}
	if o.ContextWindow < 0 {
		errs = append(errs, domain.NewConfigError("context_window", fmt.Sprint(o.ContextWindow), "must not be negative"))
	}
	return errors.Join(errs...)
}

// EmbedConfig applies the retry and timeout settings to an embedding client
// configuration.
func (o Options) EmbedConfig(base ollama.Config) ollama.Config {
	base.MaxRetries = o.MaxRetries
	base.BackoffBase = o.BackoffBase
	base.Timeout = o.Timeout
	return base
}
