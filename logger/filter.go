package logger

import (
	"net/url"
	"strings"
)

// DefaultMaskValue replaces sensitive values in log output.
const DefaultMaskValue = "***"

// FilterConfig names the fields whose values never reach the log. A field
// is sensitive when its lowercased key contains any entry, so "db_password"
// matches "password".
type FilterConfig struct {
	SensitiveFields []string
	MaskValue       string
}

// DefaultFilterConfig covers the credentials that show up in database
// configuration and connection strings.
func DefaultFilterConfig() *FilterConfig {
	return &FilterConfig{
		SensitiveFields: []string{
			"password", "passwd", "pwd", "secret", "token", "credential",
			"dsn", "connectionstring", "connection_string", "uri",
		},
		MaskValue: DefaultMaskValue,
	}
}

// SensitiveDataFilter masks values attached to log events.
type SensitiveDataFilter struct {
	keys []string
	mask string
}

// NewSensitiveDataFilter builds a filter from cfg, or from
// DefaultFilterConfig when cfg is nil.
func NewSensitiveDataFilter(cfg *FilterConfig) *SensitiveDataFilter {
	if cfg == nil {
		cfg = DefaultFilterConfig()
	}
	f := &SensitiveDataFilter{mask: cfg.MaskValue}
	if f.mask == "" {
		f.mask = DefaultMaskValue
	}
	for _, k := range cfg.SensitiveFields {
		f.keys = append(f.keys, strings.ToLower(k))
	}
	return f
}

// FilterString masks value when key is sensitive. Connection URLs keep
// everything but the password. DSNs made of key=value pairs, separated by
// spaces (libpq) or semicolons (ADO style), lose only the sensitive pairs.
func (f *SensitiveDataFilter) FilterString(key, value string) string {
	switch {
	case value == "" || !f.sensitive(key):
		return value
	case strings.Contains(value, "://"):
		return f.maskURL(value)
	case strings.Contains(value, "="):
		return f.maskPairs(value)
	}
	return f.mask
}

// FilterValue is FilterString for arbitrary values. Nested string maps are
// filtered key by key.
func (f *SensitiveDataFilter) FilterValue(key string, value any) any {
	switch v := value.(type) {
	case string:
		return f.FilterString(key, v)
	case map[string]any:
		if !f.sensitive(key) {
			return f.FilterFields(v)
		}
	}
	if f.sensitive(key) {
		return f.mask
	}
	return value
}

// FilterFields returns a masked copy of fields.
func (f *SensitiveDataFilter) FilterFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = f.FilterValue(k, v)
	}
	return out
}

func (f *SensitiveDataFilter) sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, k := range f.keys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}

// maskURL swaps the userinfo in place. url.UserPassword would escape the
// mask, so the raw string is edited instead of re-encoding the URL.
func (f *SensitiveDataFilter) maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return f.mask
	}
	if u.User == nil {
		return raw
	}
	if _, ok := u.User.Password(); !ok {
		return raw
	}
	userinfo := u.User.String() + "@"
	if !strings.Contains(raw, userinfo) {
		return f.mask
	}
	return strings.Replace(raw, userinfo, u.User.Username()+":"+f.mask+"@", 1)
}

func (f *SensitiveDataFilter) maskPairs(raw string) string {
	sep := " "
	if strings.Contains(raw, ";") {
		sep = ";"
	}
	pairs := strings.Split(raw, sep)
	masked := false
	for i, p := range pairs {
		k, _, ok := strings.Cut(p, "=")
		if ok && f.sensitive(strings.TrimSpace(k)) {
			pairs[i] = k + "=" + f.mask
			masked = true
		}
	}
	if !masked && len(pairs) == 1 {
		// not a DSN after all, e.g. a padded base64 secret
		return f.mask
	}
	return strings.Join(pairs, sep)
}
