package realtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/robin-ai/robinrag/engine/domain"
)

// DefaultMaxRecords caps the records vectorized per group.
const DefaultMaxRecords = 300

// Options configures a realtime Pipeline.
type Options struct {
	// MaxRecords caps a group; extra records are dropped before embedding.
	MaxRecords int `yaml:"max_records"`
	// Workers bounds concurrent embedding calls.
	Workers int `yaml:"workers"`
	// Timeout bounds the stats snapshots.
	Timeout time.Duration `yaml:"timeout"`
	// CleanupTimeout bounds the delete that follows consume.
	CleanupTimeout time.Duration `yaml:"cleanup_timeout"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxRecords:     DefaultMaxRecords,
		Workers:        4,
		Timeout:        30 * time.Second,
		CleanupTimeout: 30 * time.Second,
	}
}

// Validate reports every invalid field, joined.
func (o Options) Validate() error {
	var errs []error
	if o.MaxRecords <= 0 {
		errs = append(errs, domain.NewConfigError("max_records", fmt.Sprint(o.MaxRecords), "must be positive"))
	}
	if o.Workers <= 0 {
		errs = append(errs, domain.NewConfigError("workers", fmt.Sprint(o.Workers), "must be positive"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, domain.NewConfigError("timeout", fmt.Sprint(o.Timeout), "must be positive"))
	}
	if o.CleanupTimeout <= 0 {
		errs = append(errs, domain.NewConfigError("cleanup_timeout", fmt.Sprint(o.CleanupTimeout), "must be positive"))
	}
	return errors.Join(errs...)
}
