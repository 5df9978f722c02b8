package troop

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("invalid troop config")

// ConfigError identifies the definition field that failed validation.
// Agent is -1 for troop-wide fields.
type ConfigError struct {
	Agent  int
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Agent < 0 {
		return fmt.Sprintf("troop: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("agent %d: %s: %s", e.Agent, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

func configErr(agent int, field, format string, args ...any) error {
	return &ConfigError{Agent: agent, Field: field, Reason: fmt.Sprintf(format, args...)}
}
