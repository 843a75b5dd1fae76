package domain

import "fmt"

// ConfigError represents an invalid or absent scoring configuration.
// It is fatal to a ranking run: the engine aborts before any scoring
// and never retries on its own.
type ConfigError struct {
	Reason string
	Err    error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// Unwrap returns the underlying sentinel error, if any
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ValidationError represents an out-of-range or malformed input value.
// Inputs are rejected, never silently clamped.
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewConfigError creates a new ConfigError wrapping an optional sentinel
func NewConfigError(reason string, err error) *ConfigError {
	return &ConfigError{
		Reason: reason,
		Err:    err,
	}
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
