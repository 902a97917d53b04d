package metric

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cloudlock"

// Component labels for authentication failures.
const (
	ComponentFile     = "file"
	ComponentBlob     = "blob"
	ComponentTranslog = "translog"
	ComponentKey      = "key"
)

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	KeysMinted        *prometheus.CounterVec
	KeysOpened        *prometheus.CounterVec
	AuthFailures      *prometheus.CounterVec
	DistributionNodes *prometheus.CounterVec
	KeyReady          prometheus.Gauge

	TranslogCacheHits   prometheus.Counter
	TranslogCacheMisses prometheus.Counter
	TranslogFields      *prometheus.CounterVec

	BlobBytesWritten prometheus.Counter
	FileBytesWritten prometheus.Counter
	BlockedShards    prometheus.Gauge
	DocumentOps      *prometheus.CounterVec

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewRegistry creates a registry with all cloudlock metrics plus the Go and
// process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		registry: reg,
		KeysMinted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "keys", Name: "minted_total",
			Help: "Data keys minted under the master key, by mode.",
		}, []string{"mode"}),
		KeysOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "keys", Name: "opened_total",
			Help: "Wrapped data keys opened, by mode.",
		}, []string{"mode"}),
		AuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "authentication_failures_total",
			Help: "Ciphertexts that failed to authenticate, by component.",
		}, []string{"component"}),
		DistributionNodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "distribution", Name: "node_results_total",
			Help: "Per-node outcomes of key distribution broadcasts.",
		}, []string{"result"}),
		KeyReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "keys", Name: "hierarchy_ready",
			Help: "1 once this node holds the cluster key hierarchy.",
		}),
		TranslogCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "translog", Name: "key_cache_hits_total",
			Help: "Per-shard translog key cache hits.",
		}),
		TranslogCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "translog", Name: "key_cache_misses_total",
			Help: "Per-shard translog key cache misses.",
		}),
		TranslogFields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "translog", Name: "fields_total",
			Help: "Translog source fields processed, by direction.",
		}, []string{"direction"}),
		BlobBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "blob", Name: "plaintext_bytes_written_total",
			Help: "Plaintext bytes encrypted into blob stores.",
		}),
		FileBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "file", Name: "plaintext_bytes_written_total",
			Help: "Plaintext bytes encrypted into directory files.",
		}),
		BlockedShards: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "allocation", Name: "blocked_shards",
			Help: "Shards waiting for the cluster key.",
		}),
		DocumentOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "documents", Name: "operations_total",
			Help: "Document operations logged to shard translogs, by type.",
		}, []string{"op"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Admin API requests, by route and status.",
		}, []string{"route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "Admin API request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		r.KeysMinted, r.KeysOpened, r.AuthFailures, r.DistributionNodes, r.KeyReady,
		r.TranslogCacheHits, r.TranslogCacheMisses, r.TranslogFields,
		r.BlobBytesWritten, r.FileBytesWritten, r.BlockedShards, r.DocumentOps,
		r.RequestsTotal, r.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry, creating it on first use.
func Global() *Registry {
	globalOnce.Do(func() { global = NewRegistry() })
	return global
}

// Handler returns an HTTP handler for the /metrics endpoint of the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// Handler returns an HTTP handler serving r.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Prometheus returns the underlying registry so other packages can register collectors.
func (r *Registry) Prometheus() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// KeyMinted counts a minted key.
func (r *Registry) KeyMinted(mode string) {
	if r != nil {
		r.KeysMinted.WithLabelValues(mode).Inc()
	}
}

// KeyOpened counts an opened key.
func (r *Registry) KeyOpened(mode string) {
	if r != nil {
		r.KeysOpened.WithLabelValues(mode).Inc()
	}
}

// AuthFailure counts a ciphertext that failed to authenticate.
func (r *Registry) AuthFailure(component string) {
	if r != nil {
		r.AuthFailures.WithLabelValues(component).Inc()
	}
}

// NodeResult counts one node outcome of a distribution broadcast.
func (r *Registry) NodeResult(ok bool) {
	if r == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	r.DistributionNodes.WithLabelValues(result).Inc()
}

// SetKeyReady records that the hierarchy is established.
func (r *Registry) SetKeyReady() {
	if r != nil {
		r.KeyReady.Set(1)
	}
}

// TranslogCache counts a translog key cache lookup.
func (r *Registry) TranslogCache(hit bool) {
	if r == nil {
		return
	}
	if hit {
		r.TranslogCacheHits.Inc()
	} else {
		r.TranslogCacheMisses.Inc()
	}
}

// TranslogField counts an encrypted or decrypted translog field.
func (r *Registry) TranslogField(direction string) {
	if r != nil {
		r.TranslogFields.WithLabelValues(direction).Inc()
	}
}

// BlobWritten adds plaintext bytes encrypted into a blob.
func (r *Registry) BlobWritten(n int64) {
	if r != nil && n > 0 {
		r.BlobBytesWritten.Add(float64(n))
	}
}

// FileWritten adds plaintext bytes encrypted into a directory file.
func (r *Registry) FileWritten(n int64) {
	if r != nil && n > 0 {
		r.FileBytesWritten.Add(float64(n))
	}
}

// SetBlockedShards records the number of shards waiting for the key.
func (r *Registry) SetBlockedShards(n int) {
	if r != nil {
		r.BlockedShards.Set(float64(n))
	}
}

// DocumentOp counts one logged document operation.
func (r *Registry) DocumentOp(op string) {
	if r != nil {
		r.DocumentOps.WithLabelValues(op).Inc()
	}
}

// ObserveRequest records one admin API request.
func (r *Registry) ObserveRequest(route, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.RequestsTotal.WithLabelValues(route, status).Inc()
	r.RequestDuration.WithLabelValues(route).Observe(d.Seconds())
}
