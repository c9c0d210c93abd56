package config

import (
	"errors"
	"fmt"
)

// ConfigError marks a fatal startup error: the daemon exits with code 1
// before any loop starts rather than running in a half-configured state.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func errConfig(format string, args ...any) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
