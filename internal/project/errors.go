package project

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid or missing configuration value. It is
// raised while loading a workspace or building a chain, never while a
// session is running.
type ConfigError struct {
	Project string
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Project != "" {
		return fmt.Sprintf("config: %s: %s: %s", e.Project, e.Field, e.Message)
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsConfigError reports whether err wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
