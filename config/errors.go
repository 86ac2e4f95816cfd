package config

import (
	"errors"
	"fmt"
	"strings"
)

// Category classifies a ConfigError.
type Category string

const (
	CategoryMissing       Category = "missing"
	CategoryInvalid       Category = "invalid"
	CategoryNotConfigured Category = "not_configured"
)

// Sentinels matched by errors.Is against any ConfigError of the same category.
var (
	ErrMissing       = errors.New("missing configuration")
	ErrInvalid       = errors.New("invalid configuration")
	ErrNotConfigured = errors.New("not configured")
)

// ConfigError reports a configuration problem keyed by its dotted path and,
// where possible, what to change. Messages are lowercase.
//
//nolint:revive // ConfigError reads better than Error at call sites
type ConfigError struct {
	Category Category
	Field    string // dotted path, e.g. "transaction.isolation"
	Message  string
	Action   string
}

func (e *ConfigError) Error() string {
	parts := make([]string, 0, 4)
	if e.Category != "" {
		parts = append(parts, "config_"+string(e.Category)+":")
	}
	for _, s := range []string{e.Field, e.Message, e.Action} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Unwrap exposes the category sentinel.
func (e *ConfigError) Unwrap() error {
	switch e.Category {
	case CategoryMissing:
		return ErrMissing
	case CategoryInvalid:
		return ErrInvalid
	case CategoryNotConfigured:
		return ErrNotConfigured
	}
	return nil
}

// EnvVar returns the environment variable that sets the dotted key field.
func EnvVar(field string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(field, ".", "_"))
}

// NewMissingFieldError reports a required field left empty.
func NewMissingFieldError(field string) *ConfigError {
	return &ConfigError{
		Category: CategoryMissing,
		Field:    field,
		Message:  "required",
		Action:   fmt.Sprintf("set %s env var or add %s to config.yaml", EnvVar(field), field),
	}
}

// NewInvalidFieldError reports a value outside the accepted set.
func NewInvalidFieldError(field, message string, validOptions []string) *ConfigError {
	err := &ConfigError{
		Category: CategoryInvalid,
		Field:    field,
		Message:  message,
	}
	if len(validOptions) > 0 {
		err.Action = "must be one of: " + strings.Join(validOptions, ", ")
	}
	return err
}

// NewValidationError reports a field that failed a rule other than membership.
func NewValidationError(field, message string) *ConfigError {
	return &ConfigError{
		Category: CategoryInvalid,
		Field:    field,
		Message:  message,
	}
}

// NewNotConfiguredError reports an optional section that was left out.
// It is informational rather than a misconfiguration.
func NewNotConfiguredError(section, key string) *ConfigError {
	return &ConfigError{
		Category: CategoryNotConfigured,
		Field:    section,
		Message:  "(optional)",
		Action:   fmt.Sprintf("to enable: set %s env var or add %s to config.yaml", EnvVar(key), key),
	}
}

// IsNotConfigured reports whether err means an optional section was left out.
func IsNotConfigured(err error) bool {
	return errors.Is(err, ErrNotConfigured)
}
