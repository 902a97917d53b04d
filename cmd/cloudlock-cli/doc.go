// Package main provides the entry point for cloudlock-cli.
//
// The CLI administers a CloudLock cluster over its admin API:
//
//   - Cluster key pair generation and key initialization
//   - Index and document administration
//   - Snapshots and restores
//   - Health and readiness checks
//   - Local configuration and connection profiles
//
// Usage:
//
//	cloudlock-cli keygen --out-dir ./keys
//	cloudlock-cli -s https://node-1:5080 key init --private-key-file ./keys/cluster.key
//	cloudlock-cli -o json indices list
//
// Without a command the CLI starts an interactive shell.
package main
