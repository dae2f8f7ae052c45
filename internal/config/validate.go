package config

import "fmt"

// ValidationError reports one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func required(field, value string) error {
	if value == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

func validPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return &ValidationError{Field: field, Message: "must be between 1 and 65535"}
	}
	return nil
}

func positive[N ~int | ~int64 | ~float64](field string, n N) error {
	if n <= 0 {
		return &ValidationError{Field: field, Message: "must be positive"}
	}
	return nil
}

func validLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "warning", "error", "fatal":
		return nil
	}
	return &ValidationError{Field: "logging.level", Message: "must be one of: debug, info, warn, error, fatal"}
}
