// Package command defines the cloudlock-cli commands on urfave/cli/v2.
//
//   - root.go: the application, global flags and connection settings
//   - keygen.go: local cluster key pair generation
//   - key.go: cluster key initialization and status
//   - indices.go, document.go: index and document administration
//   - snapshot.go: index snapshots and restores
//   - system.go: health, readiness and version
//   - config.go: the CLI configuration file and profiles
//   - shell.go: the interactive shell
//
// Run without arguments, cloudlock-cli starts the shell. Every command
// resolves its server from --server, then --profile, then the current
// profile of ~/.cloudlock/cli.yaml.
package command
