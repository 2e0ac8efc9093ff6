package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the engine.
var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingCredentials   = errors.New("missing credentials")
	ErrProviderUnavailable  = errors.New("provider unavailable")
	ErrEmbeddingUnavailable = fmt.Errorf("embedding unavailable: %w", ErrProviderUnavailable)
	ErrDimensionMismatch    = errors.New("dimension mismatch")
	ErrPartialBatchFailure  = errors.New("partial batch failure")
	ErrIndexUnavailable     = fmt.Errorf("vector index unavailable: %w", ErrProviderUnavailable)
	ErrEmptyDocument        = errors.New("empty document")
	ErrEmptyFilter          = errors.New("empty filter")
)

// ConfigError wraps ErrInvalidConfiguration with the offending field.
type ConfigError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s (value=%q)", e.Field, e.Reason, e.Value)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfiguration }

// NewConfigError creates a ConfigError.
func NewConfigError(field, value, reason string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Reason: reason}
}

// DimensionMismatchError reports a vector whose length differs from the index.
type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: want %d, got %d", e.Want, e.Got)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// CheckDimension returns a DimensionMismatchError when len(v) != want.
func CheckDimension(v EmbeddingVector, want int) error {
	if want > 0 && len(v) != want {
		return &DimensionMismatchError{Want: want, Got: len(v)}
	}
	return nil
}
