package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys whose string values never reach a log sink. Matching is by substring on
// the lower-cased key so "database_dsn" and "jwtSecret" are both caught.
var sensitiveFragments = map[string]struct{}{
	"dsn":        {},
	"password":   {},
	"passphrase": {},
	"secret":     {},
	"signature":  {},
	"token":      {},
	"private":    {},
}

// IsSensitive reports whether values logged under key are masked.
func IsSensitive(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	for fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

// SensitiveFragments returns the masked key fragments, sorted.
func SensitiveFragments() []string {
	keys := make([]string, 0, len(sensitiveFragments))
	for key := range sensitiveFragments {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue returns the placeholder for non-empty values.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField keeps key and masks value unless it is empty.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}
