// Package core defines sentinel errors.
package core

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is.
var (
	// Configuration errors
	ErrConfigInvalid = errors.New("floodgate: invalid configuration")

	// Classifier errors
	ErrClassifierUnavailable = errors.New("floodgate: classifier unavailable")
	ErrUnknownClassifier     = errors.New("floodgate: unknown classifier")

	// Delivery errors
	ErrSinkClosed       = errors.New("floodgate: sink closed")
	ErrSinkFull         = errors.New("floodgate: sink buffer full")
	ErrDispatcherClosed = errors.New("floodgate: dispatcher closed")
)

// ConfigError reports a single invalid configuration value.
// It always matches ErrConfigInvalid under errors.Is.
type ConfigError struct {
	Field  string
	Reason string
}

// NewConfigError builds a ConfigError for field.
func NewConfigError(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrConfigInvalid.Error(), e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrConfigInvalid) succeed.
func (e *ConfigError) Unwrap() error {
	return ErrConfigInvalid
}
