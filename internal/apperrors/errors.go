// Package apperrors holds error types shared across the reader packages.
package apperrors

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid setup value. It is returned at
// construction time and must never be papered over with a default.
type ConfigurationError struct {
	Component string
	Field     string
	Message   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", e.Component, e.Field, e.Message)
}

// NewConfigurationError builds a ConfigurationError.
func NewConfigurationError(component, field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		Component: component,
		Field:     field,
		Message:   fmt.Sprintf(format, args...),
	}
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// Wrap prefixes err with context, returning nil for a nil err.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf is Wrap with a formatted context.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
