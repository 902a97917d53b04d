// Package httpserver provides the admin HTTP server of a cloudlock node.
//
// Routes are served by a chi router with the middleware chain
// Recover -> RequestID -> AccessLog -> RateLimit -> NetworkACL. The
// /metrics endpoint exposes the Prometheus registry.
package httpserver
