// Package logger provides structured logging for cloudlock.
//
//   - logger.go: slog handler setup, global default and level control
//   - context.go: Context-aware logging with request and trace IDs
//   - redact.go: Redaction of key material
//
// Request IDs are assigned by the admin HTTP API. Trace IDs follow a request
// across cluster RPCs so the logs of every node it reaches can be joined.
package logger
