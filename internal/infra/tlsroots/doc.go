// Package tlsroots builds the TLS configurations of cloudlock-server.
//
//   - roots.go: CA bundles and the admin and cluster TLS configs
//   - watcher.go: certificate hot-reload via fsnotify
//
// Node to node traffic uses mutual TLS against the cluster CA when
// cluster.tls_* is configured. The admin API serves a reloading server
// certificate.
package tlsroots
