package config

import "fmt"

// ConfigurationError reports a missing, malformed or inconsistent configuration value.
// Configuration errors are detected during startup and abort it.
type ConfigurationError struct {
	Key     string // property key, empty when the error is not tied to one key
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Key == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Key, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Errorf builds a ConfigurationError for key with a formatted message.
func Errorf(key, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Key: key, Message: fmt.Sprintf(format, args...)}
}
