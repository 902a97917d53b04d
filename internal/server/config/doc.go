// Package config provides the cloudlock-server configuration.
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default values
//   - verify.go: validation (addresses, cluster mode, crypto settings)
//   - sanitize.go: masking of secrets before logging
//   - cluster.go: derived cluster values (node id, key file paths)
//
// Configuration is loaded via internal/infra/confloader from a YAML file,
// CLOUDLOCK_ environment variables and command line overrides.
package config
