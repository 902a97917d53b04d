package config

import "strings"

// Sanitize returns a copy of the config with sensitive fields masked.
//
// This is used for logging configuration without exposing secrets.
func Sanitize(cfg *ServerConfig) *ServerConfig {
	sanitized := *cfg
	sanitized.HTTP.AdminAllowList = append([]string(nil), cfg.HTTP.AdminAllowList...)
	sanitized.Cluster.Seeds = append([]string(nil), cfg.Cluster.Seeds...)

	if sanitized.Cluster.Secret != "" {
		sanitized.Cluster.Secret = maskSecret(sanitized.Cluster.Secret)
	}
	if sanitized.Crypto.PublicKey != "" {
		sanitized.Crypto.PublicKey = maskSecret(sanitized.Crypto.PublicKey)
	}
	return &sanitized
}

// maskSecret masks a secret value for safe logging.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
