package logger

import (
	"log/slog"
	"strings"
)

// Attribute names that carry key material.
var sensitiveKeys = map[string]struct{}{
	"key":         {},
	"private_key": {},
	"secret":      {},
	"token":       {},
	"wrapped":     {},
	"password":    {},
}

// Substrings of attribute names that carry key material.
var sensitiveKeyPatterns = []string{
	"private",
	"secret",
	"token",
	"wrapped",
	"password",
	"master_key",
}

// Value prefixes of encoded keys: PEM blocks and base64 DER sequences.
var sensitiveValuePrefixes = []string{
	"-----BEGIN",
	"MII",
}

// minEncodedKeyLength is the shortest base64 DER value treated as a key.
const minEncodedKeyLength = 128

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// redactSensitive checks if an attribute contains sensitive data
// and redacts it if necessary.
func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindGroup:
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}

	case slog.KindString:
		strVal := a.Value.String()
		if strVal == "" {
			return a
		}
		if IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
		if IsSensitiveValue(strVal) {
			return slog.String(a.Key, RedactString(strVal))
		}

	case slog.KindAny:
		if a.Value.Any() != nil && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	}
	return a
}

// maskValue keeps the first and last three characters of a long value.
func maskValue(value string) string {
	if len(value) <= 12 {
		return "***"
	}
	return value[:3] + "..." + value[len(value)-3:]
}

// RedactString manually redacts a string value.
// Use this when you need to redact a value before logging.
func RedactString(value string) string {
	if IsSensitiveValue(value) {
		return maskValue(value)
	}
	return value
}

// IsSensitiveKey checks if a key name suggests sensitive content.
// Names such as key_id and key_set are not sensitive.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	if _, ok := sensitiveKeys[keyLower]; ok {
		return true
	}
	if strings.HasSuffix(keyLower, "_key") && keyLower != "public_key" {
		return true
	}
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}

// IsSensitiveValue checks if a value looks like an encoded key.
func IsSensitiveValue(value string) bool {
	if strings.HasPrefix(value, sensitiveValuePrefixes[0]) {
		return true
	}
	return strings.HasPrefix(value, sensitiveValuePrefixes[1]) &&
		len(value) >= minEncodedKeyLength &&
		!strings.ContainsAny(value, " \t\n")
}
