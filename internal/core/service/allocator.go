package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/keydist"
	"github.com/yndnr/cloudlock-go/internal/keystore"
	"github.com/yndnr/cloudlock-go/internal/storage/ceff"
	"github.com/yndnr/cloudlock-go/internal/storage/translog"
	"github.com/yndnr/cloudlock-go/internal/telemetry/metric"
)

// Directory names inside a shard path.
const (
	shardIndexDir    = "index"
	shardTranslogDir = "translog"
)

// AllocatorConfig configures an Allocator.
type AllocatorConfig struct {
	// DataDir is the root of the shard directories.
	DataDir string

	Registry *keystore.Registry

	// KeyCache resolves the translog keys of encrypted shards. When nil the
	// allocator creates one on Registry and closes it with the allocator.
	KeyCache *translog.KeyCache

	// DirectoryOptions are applied to every opened directory.
	DirectoryOptions []ceff.Option

	// TranslogSyncMode overrides the sync mode of shard translogs.
	TranslogSyncMode translog.SyncMode

	Metrics *metric.Registry
	Logger  *slog.Logger
}

// Allocator opens shards. An encrypted shard requested while this node has
// no cluster key is blocked and retried on Reroute.
type Allocator struct {
	cfg       AllocatorConfig
	ownsCache bool

	mu      sync.Mutex
	open    map[domain.ShardID]*Shard
	blocked map[domain.ShardID]struct{}
	failed  map[domain.ShardID]error
	// encrypted remembers how each requested shard must be opened.
	encrypted map[domain.ShardID]bool
}

var (
	_ keydist.Rerouter = (*Allocator)(nil)
	_ ShardOpener      = (*Allocator)(nil)
)

// NewAllocator creates an Allocator.
func NewAllocator(cfg AllocatorConfig) (*Allocator, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("service: allocator data dir is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("service: allocator key registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	a := &Allocator{
		cfg:       cfg,
		open:      make(map[domain.ShardID]*Shard),
		blocked:   make(map[domain.ShardID]struct{}),
		failed:    make(map[domain.ShardID]error),
		encrypted: make(map[domain.ShardID]bool),
	}
	if a.cfg.KeyCache == nil {
		a.cfg.KeyCache = translog.NewKeyCache(cfg.Registry, translog.WithCacheMetrics(cfg.Metrics))
		a.ownsCache = true
	}
	return a, nil
}

// ShardPath returns the directory that holds one shard.
func (a *Allocator) ShardPath(shard domain.ShardID) string {
	return filepath.Join(a.cfg.DataDir, shard.IndexUUID, strconv.Itoa(shard.Shard))
}

// TranslogPath returns the translog directory of a shard.
func (a *Allocator) TranslogPath(shard domain.ShardID) string {
	return filepath.Join(a.ShardPath(shard), shardTranslogDir)
}

// OpenShard opens shard. An encrypted shard gets an encrypted directory and
// a field-encrypted translog; without a cluster key it is blocked and
// domain.ErrKeyNotReady is returned.
func (a *Allocator) OpenShard(ctx context.Context, shard domain.ShardID, encrypted bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.encrypted[shard] = encrypted
	return a.openLocked(ctx, shard)
}

// Acquire returns the open shard, opening it first when this node has not
// allocated it yet.
func (a *Allocator) Acquire(ctx context.Context, shard domain.ShardID, encrypted bool) (*Shard, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.open[shard]; ok {
		return s, nil
	}
	a.encrypted[shard] = encrypted
	if err := a.openLocked(ctx, shard); err != nil {
		return nil, err
	}
	return a.open[shard], nil
}

func (a *Allocator) openLocked(ctx context.Context, shard domain.ShardID) error {
	if _, ok := a.open[shard]; ok {
		return nil
	}
	s, err := a.openShard(ctx, shard, a.encrypted[shard])
	if errors.Is(err, domain.ErrKeyNotReady) {
		a.blocked[shard] = struct{}{}
		a.updateBlocked()
		return err
	}
	if err != nil {
		delete(a.blocked, shard)
		a.failed[shard] = err
		a.updateBlocked()
		return fmt.Errorf("service: open shard %s: %w", shard, err)
	}

	a.open[shard] = s
	delete(a.blocked, shard)
	delete(a.failed, shard)
	a.updateBlocked()
	a.cfg.Logger.Info("shard opened",
		"shard", shard.String(),
		"encrypted", s.Encrypted,
		"recovered_ops", s.recovered)
	return nil
}

func (a *Allocator) openShard(ctx context.Context, shard domain.ShardID, encrypted bool) (*Shard, error) {
	path := a.ShardPath(shard)
	s := &Shard{ID: shard, Encrypted: encrypted, logDir: a.TranslogPath(shard)}

	if encrypted {
		h, err := a.cfg.Registry.Hierarchy()
		if err != nil {
			return nil, err
		}
		dir := filepath.Join(path, shardIndexDir)
		store, err := ceff.NewFSStore(dir)
		if err != nil {
			return nil, err
		}
		d, err := ceff.OpenDirectory(ctx, store, ceff.KeyPath(dir), h, a.cfg.DirectoryOptions...)
		if err != nil {
			return nil, err
		}
		s.dir = d
		s.interceptor = translog.NewFieldEncryptor(a.cfg.KeyCache, shard, s.logDir, a.cfg.Metrics)
	}

	if err := s.recover(ctx); err != nil {
		s.closeDirectory()
		return nil, err
	}

	tcfg := translog.DefaultConfig(s.logDir)
	tcfg.Interceptor = s.interceptor
	if a.cfg.TranslogSyncMode != "" {
		tcfg.SyncMode = a.cfg.TranslogSyncMode
	}
	w, err := translog.NewWriter(tcfg)
	if err != nil {
		s.closeDirectory()
		return nil, err
	}
	s.log = w
	return s, nil
}

func (a *Allocator) updateBlocked() {
	a.cfg.Metrics.SetBlockedShards(len(a.blocked))
}

// Shard returns the open shard.
func (a *Allocator) Shard(shard domain.ShardID) (*Shard, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.open[shard]; ok {
		return s, nil
	}
	if _, ok := a.blocked[shard]; ok {
		return nil, domain.ErrKeyNotReady.WithDetails(shard.String())
	}
	if err, ok := a.failed[shard]; ok {
		return nil, err
	}
	return nil, domain.ErrIndexNotFound.WithDetails(shard.String())
}

// Directory returns the encrypted directory of an open shard.
func (a *Allocator) Directory(shard domain.ShardID) (*ceff.Directory, error) {
	s, err := a.Shard(shard)
	if err != nil {
		return nil, err
	}
	if s.dir == nil {
		return nil, domain.ErrInvalidArgument.WithDetails(shard.String() + " is not encrypted")
	}
	return s.dir, nil
}

// BlockedShards returns the shards waiting for the cluster key.
func (a *Allocator) BlockedShards() []domain.ShardID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return sortedShards(a.blocked)
}

func sortedShards[V any](m map[domain.ShardID]V) []domain.ShardID {
	out := make([]domain.ShardID, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IndexUUID != out[j].IndexUUID {
			return out[i].IndexUUID < out[j].IndexUUID
		}
		return out[i].Shard < out[j].Shard
	})
	return out
}

// Reroute retries the blocked shards, and the failed ones when retryFailed
// is set. It returns the first error other than domain.ErrKeyNotReady.
func (a *Allocator) Reroute(ctx context.Context, retryFailed bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	pending := sortedShards(a.blocked)
	if retryFailed {
		pending = append(pending, sortedShards(a.failed)...)
	}
	if len(pending) == 0 {
		return nil
	}
	a.cfg.Logger.Info("rerouting shards", "count", len(pending), "retry_failed", retryFailed)

	var first error
	for _, shard := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := a.openLocked(ctx, shard)
		if err != nil && !errors.Is(err, domain.ErrKeyNotReady) && first == nil {
			first = err
		}
	}
	return first
}

// Run reroutes once the cluster key becomes available. It returns when the
// reroute finishes or ctx ends.
func (a *Allocator) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-a.cfg.Registry.Ready():
	}
	if err := a.Reroute(ctx, false); err != nil {
		a.cfg.Logger.Warn("reroute after key arrival failed", "error", err)
	}
}

// Close closes every open shard.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var errs []error
	for id, s := range a.open {
		if err := s.close(); err != nil {
			errs = append(errs, fmt.Errorf("close shard %s: %w", id, err))
		}
		delete(a.open, id)
	}
	if a.ownsCache {
		a.cfg.KeyCache.Close()
	}
	return errors.Join(errs...)
}

// Shard is an allocated shard: its translog and, when the index is
// encrypted, its encrypted directory.
type Shard struct {
	ID        domain.ShardID
	Encrypted bool

	dir         *ceff.Directory
	log         *translog.Writer
	logDir      string
	interceptor translog.Interceptor

	mu        sync.Mutex
	seq       uint64
	committed uint64
	recovered int
}

// recover reads the commit point of an encrypted shard and replays the
// existing log to find the last sequence number. A commit point or log that
// cannot be decrypted fails the open.
func (s *Shard) recover(ctx context.Context) error {
	if s.dir != nil {
		cp, err := readCheckpoint(s.dir)
		if err != nil {
			return err
		}
		if cp != nil {
			s.committed, s.seq = cp.Seq, cp.Seq
		}
	}
	n, err := translog.NewReader(s.logDir, s.interceptor).Replay(ctx, func(op *translog.Operation) error {
		if op.Seq > s.seq {
			s.seq = op.Seq
		}
		return nil
	})
	s.recovered = n
	return err
}

// commitLocked syncs the log and, for an encrypted shard, records the last
// sequence number as the commit point in the shard directory.
func (s *Shard) commitLocked() error {
	if err := s.log.Flush(); err != nil {
		return err
	}
	if err := s.log.Sync(); err != nil {
		return err
	}
	if s.dir == nil || s.committed == s.seq {
		return nil
	}
	err := writeCheckpoint(s.dir, checkpoint{
		Shard:       s.ID.String(),
		Seq:         s.seq,
		HierarchyID: s.dir.HierarchyID(),
		Committed:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	s.committed = s.seq
	return nil
}

// Commit makes every logged operation durable.
func (s *Shard) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked()
}

// CommittedSeq returns the sequence number of the last commit point.
func (s *Shard) CommittedSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}

// Append assigns the next sequence number to op and logs it as a primary
// operation.
func (s *Shard) Append(ctx context.Context, op *translog.Operation) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op.Seq = s.seq + 1
	op.Origin = translog.OriginPrimary
	if err := s.log.Append(ctx, op); err != nil {
		return 0, err
	}
	s.seq = op.Seq
	return op.Seq, nil
}

// Replay flushes the log and calls fn for every operation in order with its
// source in plaintext.
func (s *Shard) Replay(ctx context.Context, fn func(*translog.Operation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.log.Flush(); err != nil {
		return err
	}
	_, err := translog.NewReader(s.logDir, s.interceptor).Replay(ctx, fn)
	return err
}

// Sync forces the log to disk.
func (s *Shard) Sync() error {
	return s.log.Sync()
}

// Snapshot commits the shard, then calls fn with the log directory and the
// last sequence number. Appends wait until fn returns.
func (s *Shard) Snapshot(fn func(dir string, seq uint64) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.commitLocked(); err != nil {
		return err
	}
	return fn(s.logDir, s.seq)
}

// Directory returns the encrypted directory, nil for a plain shard.
func (s *Shard) Directory() *ceff.Directory { return s.dir }

// Seq returns the last assigned sequence number.
func (s *Shard) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

func (s *Shard) closeDirectory() error {
	if s.dir == nil {
		return nil
	}
	return s.dir.Close()
}

func (s *Shard) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.log != nil {
		errs = append(errs, s.commitLocked(), s.log.Close())
	}
	errs = append(errs, s.closeDirectory())
	return errors.Join(errs...)
}
