// Package metric provides Prometheus metrics for cloudlock.
//
// Metrics include:
//
//   - key lifecycle counters (minted, opened, by mode)
//   - authentication failures by component
//   - key distribution results per node
//   - translog key cache hits and misses
//   - encrypted blob and file bytes
//   - admin API request counts and latency
//
// Metrics are exposed at /metrics in Prometheus format. Every method is safe
// to call on a nil *Registry, so components can run without metrics.
package metric
