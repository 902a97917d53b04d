package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
)

// BadgerConfig contains Badger tuning parameters.
type BadgerConfig struct {
	// GCInterval is the interval between value log GC runs. Default: 10m
	GCInterval time.Duration

	// GCThreshold is the discard ratio that triggers a value log rewrite. Default: 0.5
	GCThreshold float64

	// CacheSize is the block cache size in bytes. Default: 64MB
	CacheSize int64

	// SyncWrites fsyncs after each write. Default: true, snapshots must be durable.
	SyncWrites bool

	// InMemory keeps everything in memory. Dir must be empty.
	InMemory bool
}

// DefaultBadgerConfig returns the default Badger configuration.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{
		GCInterval:  10 * time.Minute,
		GCThreshold: 0.5,
		CacheSize:   64 << 20,
		SyncWrites:  true,
	}
}

const blobPrefix = "blob/"

// BadgerStore keeps blobs as values of an embedded Badger database.
// Blobs are read whole into memory, so it suits small repositories.
type BadgerStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger

	lastGCTime atomic.Int64 // Unix milliseconds

	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsLastGCTime   prometheus.Gauge

	closeOnce sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewBadgerStore opens a Badger database in dir.
func NewBadgerStore(dir string, cfg BadgerConfig, logger *slog.Logger) (*BadgerStore, error) {
	if dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("blobstore: badger dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultBadgerConfig()
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = defaults.GCInterval
	}
	if cfg.GCThreshold <= 0 || cfg.GCThreshold >= 1 {
		cfg.GCThreshold = defaults.GCThreshold
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaults.CacheSize
	}

	opts := badger.DefaultOptions(dir).
		WithInMemory(cfg.InMemory).
		WithLogger(&badgerLogger{logger: logger}).
		WithBlockCacheSize(cfg.CacheSize).
		WithSyncWrites(cfg.SyncWrites)
	if cfg.InMemory {
		opts = opts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open badger: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.gcLoop()

	logger.Info("badger blob store started", "dir", dir, "in_memory", cfg.InMemory, "gc_interval", cfg.GCInterval)
	return s, nil
}

// Container returns the container at path.
func (s *BadgerStore) Container(path string) Container {
	return &badgerContainer{store: s, path: cleanPath(path)}
}

// GC rewrites value log files until Badger reports nothing left to reclaim.
func (s *BadgerStore) GC(ctx context.Context) (int, error) {
	if s.cfg.InMemory {
		return 0, nil
	}
	runs := 0
	for ctx.Err() == nil {
		err := s.db.RunValueLogGC(s.cfg.GCThreshold)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			break
		}
		if err != nil {
			return runs, fmt.Errorf("blobstore: gc: %w", err)
		}
		runs++
	}
	s.lastGCTime.Store(time.Now().UnixMilli())
	return runs, nil
}

// Close stops background GC and closes the database.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		if cerr := s.db.Close(); cerr != nil {
			err = fmt.Errorf("blobstore: close badger: %w", cerr)
		}
		s.logger.Info("badger blob store closed")
	})
	return err
}

// RegisterMetrics registers size and GC gauges and starts updating them.
func (s *BadgerStore) RegisterMetrics(registry *prometheus.Registry) *BadgerStore {
	if registry == nil {
		return s
	}
	s.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cloudlock", Subsystem: "badger", Name: "lsm_size_bytes",
		Help: "Badger LSM tree size in bytes",
	})
	s.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cloudlock", Subsystem: "badger", Name: "value_log_size_bytes",
		Help: "Badger value log size in bytes",
	})
	s.metricsLastGCTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cloudlock", Subsystem: "badger", Name: "last_gc_timestamp_seconds",
		Help: "Unix timestamp of the last Badger GC run",
	})
	registry.MustRegister(s.metricsLSMSize, s.metricsValueLogSize, s.metricsLastGCTime)
	go s.metricsUpdateLoop()
	return s
}

func (s *BadgerStore) metricsUpdateLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			lsm, vlog := s.db.Size()
			s.metricsLSMSize.Set(float64(lsm))
			s.metricsValueLogSize.Set(float64(vlog))
			if t := s.lastGCTime.Load(); t > 0 {
				s.metricsLastGCTime.Set(float64(t) / 1000.0)
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *BadgerStore) gcLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := s.GC(ctx); err != nil {
				s.logger.Error("badger gc failed", "error", err)
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

type badgerContainer struct {
	store *BadgerStore
	path  string
}

func (c *badgerContainer) Path() string { return c.path }

func (c *badgerContainer) prefix() []byte {
	return []byte(blobPrefix + c.path + "/")
}

func (c *badgerContainer) key(name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return append(c.prefix(), name...), nil
}

func (c *badgerContainer) get(name string) ([]byte, error) {
	k, err := c.key(name)
	if err != nil {
		return nil, err
	}
	var value []byte
	err = c.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	if errors.Is(err, badger.ErrDBClosed) {
		return nil, ErrClosed
	}
	return value, err
}

func (c *badgerContainer) Exists(_ context.Context, name string) (bool, error) {
	_, err := c.get(name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (c *badgerContainer) Read(_ context.Context, name string) (io.ReadCloser, error) {
	b, err := c.get(name)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (c *badgerContainer) ReadRange(_ context.Context, name string, offset, length int64) (io.ReadCloser, error) {
	b, err := c.get(name)
	if err != nil {
		return nil, err
	}
	start, end, err := rangeBounds(int64(len(b)), offset, length)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(b[start:end])), nil
}

func (c *badgerContainer) Write(ctx context.Context, name string, r io.Reader, size int64, failIfExists bool) error {
	k, err := c.key(name)
	if err != nil {
		return err
	}
	value, err := readExactly(r, size)
	if err != nil {
		return fmt.Errorf("blobstore: write %s: %w", k, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err = c.store.db.Update(func(txn *badger.Txn) error {
		if failIfExists {
			if _, err := txn.Get(k); err == nil {
				return fmt.Errorf("%w: %s", ErrAlreadyExists, k)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		return txn.Set(k, value)
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	return err
}

func (c *badgerContainer) Delete(_ context.Context, names ...string) error {
	return c.store.db.Update(func(txn *badger.Txn) error {
		for _, name := range names {
			k, err := c.key(name)
			if err != nil {
				return err
			}
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *badgerContainer) List(_ context.Context, prefix string) (map[string]int64, error) {
	out := make(map[string]int64)
	base := c.prefix()
	err := c.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = append(append([]byte(nil), base...), prefix...)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(base):])
			if bytes.IndexByte([]byte(name), '/') >= 0 {
				continue
			}
			out[name] = item.ValueSize()
		}
		return nil
	})
	return out, err
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
