// Package config holds the cloudlock-cli configuration.
//
// The file lives at ~/.cloudlock/cli.yaml and names connection profiles:
//
//	default_server: localhost:5080
//	default_output: table
//	timeout: 30s
//	current_profile: prod
//	profiles:
//	  prod:
//	    server: https://cloudlock.internal:5080
//	    ca_file: /etc/cloudlock/ca.pem
//
// Load reads it through confloader, so CLOUDLOCK_CLI_* variables override
// file values. Resolve then applies command-line flags, which win over
// the selected profile.
package config
