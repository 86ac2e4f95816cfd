package config

import (
	"errors"
	"time"
)

var errNotLoaded = errors.New("configuration not loaded")

// GetString returns the value at key, or def when the key is absent.
func (c *Config) GetString(key string, def ...string) string {
	if !c.Exists(key) {
		return fallback("", def)
	}
	return c.k.String(key)
}

// GetDuration returns the duration at key ("250ms", "5s"), or def when the
// key is absent.
func (c *Config) GetDuration(key string, def ...time.Duration) time.Duration {
	if !c.Exists(key) {
		return fallback(time.Duration(0), def)
	}
	return c.k.Duration(key)
}

// GetRequiredString is GetString for keys that must be set. An absent or
// empty key yields a ConfigError in the missing category.
func (c *Config) GetRequiredString(key string) (string, error) {
	if c == nil || c.k == nil {
		return "", errNotLoaded
	}
	if v := c.k.String(key); v != "" {
		return v, nil
	}
	return "", NewMissingFieldError(key)
}

// Unmarshal decodes the section under key into out. Sections owned by other
// packages, such as observability, are read this way so config does not
// import them.
func (c *Config) Unmarshal(key string, out any) error {
	if c == nil || c.k == nil {
		return errNotLoaded
	}
	return c.k.Unmarshal(key, out)
}

// Exists reports whether key is set. A nil Config has no keys.
func (c *Config) Exists(key string) bool {
	return c != nil && c.k != nil && c.k.Exists(key)
}

func fallback[T any](zero T, def []T) T {
	if len(def) > 0 {
		return def[0]
	}
	return zero
}
