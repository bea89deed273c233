package logging

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// RedactedText is the replacement text for sensitive data
const RedactedText = "[REDACTED]"

var (
	// Pattern to match credentials in key=value connection strings
	// Matches: password=xxx, pwd=xxx, pass=xxx, client_secret=xxx (until next delimiter)
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass|secret)=[^;&\s]+`)

	// Pattern to match potential API or access keys
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`)

	// Pattern to match connection string credentials (user:pass@host format)
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)

	// Datasource config keys whose values are never logged
	sensitiveKeyParts = []string{"password", "pwd", "secret", "token", "credential"}
)

// SanitizeConnectionString removes sensitive data from connection strings
// Use this before logging any connection string
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}

	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	sanitized = connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)

	return sanitized
}

// SanitizeError sanitizes error messages that might contain sensitive data.
// Drivers echo DSNs in connection errors, so use this before logging or
// reporting any datasource error.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	sanitized := SanitizeConnectionString(err.Error())
	sanitized = apiKeyPattern.ReplaceAllString(sanitized, "${1}="+RedactedText)

	return sanitized
}

// IsSensitiveKey reports whether a configuration key names a secret.
func IsSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

// SanitizeConfig returns a copy of a datasource config map with secret values
// redacted and string values scrubbed of embedded credentials.
func SanitizeConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return nil
	}
	out := make(map[string]any, len(cfg))
	for k, v := range cfg {
		switch {
		case IsSensitiveKey(k):
			out[k] = RedactedText
		case isString(v):
			out[k] = SanitizeConnectionString(v.(string))
		default:
			out[k] = v
		}
	}
	return out
}

// ConfigField is a zap field carrying a sanitized datasource config.
func ConfigField(key string, cfg map[string]any) zap.Field {
	sanitized := SanitizeConfig(cfg)
	keys := make([]string, 0, len(sanitized))
	for k := range sanitized {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return zap.Object(key, sortedMap{keys: keys, values: sanitized})
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}
