package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/storage/snapshot"
)

// SnapshotShards is the shard access a SnapshotService needs. Allocator
// implements it.
type SnapshotShards interface {
	ShardProvider
	ShardOpener
	TranslogPath(shard domain.ShardID) string
}

var _ SnapshotShards = (*Allocator)(nil)

// SnapshotService copies index translogs to a blob repository and restores
// them as new indices.
type SnapshotService struct {
	registry IndexRegistry
	shards   SnapshotShards
	manager  *snapshot.Manager
	logger   *slog.Logger
}

// NewSnapshotService creates a SnapshotService. A nil manager disables
// snapshots; every call then fails with domain.ErrSnapshotsDisabled.
func NewSnapshotService(registry IndexRegistry, shards SnapshotShards, manager *snapshot.Manager, logger *slog.Logger) *SnapshotService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotService{registry: registry, shards: shards, manager: manager, logger: logger}
}

func (s *SnapshotService) index(ctx context.Context, name string) (*domain.Index, error) {
	if s.manager == nil {
		return nil, domain.ErrSnapshotsDisabled
	}
	if err := domain.ValidateIndexName(name); err != nil {
		return nil, err
	}
	return s.registry.Get(ctx, name)
}

func snapshotError(id string, err error) error {
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		return domain.ErrSnapshotNotFound.WithDetails(id)
	case errors.Is(err, snapshot.ErrChecksumMismatch):
		return domain.ErrSnapshotCorrupted.WithDetails(id).WithCause(err)
	}
	return err
}

// CreateSnapshot snapshots every shard of an index, then prunes snapshots
// beyond the retention count. Each shard is copied to a staging directory
// while its appends are held, so the snapshot never contains a torn frame.
func (s *SnapshotService) CreateSnapshot(ctx context.Context, index string) (*snapshot.Manifest, error) {
	idx, err := s.index(ctx, index)
	if err != nil {
		return nil, err
	}

	staging, err := os.MkdirTemp("", "cloudlock-snapshot-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(staging)

	sources := make([]snapshot.ShardSource, 0, idx.Shards)
	for n := range idx.Shards {
		sh, err := s.shards.Acquire(ctx, domain.ShardID{IndexUUID: idx.UUID, Shard: n}, idx.Encrypted)
		if err != nil {
			return nil, err
		}
		src := snapshot.ShardSource{Shard: n, Dir: filepath.Join(staging, fmt.Sprint(n))}
		err = sh.Snapshot(func(dir string, seq uint64) error {
			src.Seq = seq
			return copyDir(dir, src.Dir)
		})
		if err != nil {
			return nil, fmt.Errorf("service: stage shard %s: %w", sh.ID, err)
		}
		sources = append(sources, src)
	}

	man, err := s.manager.Create(ctx, idx, sources)
	if err != nil {
		return nil, err
	}
	if removed, err := s.manager.Prune(ctx, idx.UUID); err != nil {
		s.logger.Warn("snapshot prune failed", "index", idx.Name, "error", err)
	} else if removed > 0 {
		s.logger.Info("old snapshots pruned", "index", idx.Name, "removed", removed)
	}
	return man, nil
}

// ListSnapshots returns the snapshots of an index, oldest first.
func (s *SnapshotService) ListSnapshots(ctx context.Context, index string) ([]*snapshot.Manifest, error) {
	idx, err := s.index(ctx, index)
	if err != nil {
		return nil, err
	}
	return s.manager.List(ctx, idx.UUID)
}

// GetSnapshot returns one snapshot. With verify set every file is read back
// and checked against the manifest.
func (s *SnapshotService) GetSnapshot(ctx context.Context, index, id string, verify bool) (*snapshot.Manifest, error) {
	idx, err := s.index(ctx, index)
	if err != nil {
		return nil, err
	}
	man, err := s.manager.Get(ctx, idx.UUID, id)
	if err != nil {
		return nil, snapshotError(id, err)
	}
	if verify {
		if err := s.manager.Verify(ctx, man); err != nil {
			return nil, snapshotError(id, err)
		}
	}
	return man, nil
}

// DeleteSnapshot removes one snapshot.
func (s *SnapshotService) DeleteSnapshot(ctx context.Context, index, id string) error {
	idx, err := s.index(ctx, index)
	if err != nil {
		return err
	}
	return snapshotError(id, s.manager.Delete(ctx, idx.UUID, id))
}

// RestoreSnapshot restores snapshot id of index as a new index named target
// with the settings the snapshotted index had. The shards of an encrypted
// index stay blocked until this node holds the cluster key.
func (s *SnapshotService) RestoreSnapshot(ctx context.Context, index, id, target string) (*domain.Index, error) {
	idx, err := s.index(ctx, index)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateIndexName(target); err != nil {
		return nil, err
	}
	if _, err := s.registry.Get(ctx, target); err == nil {
		return nil, domain.ErrIndexExists.WithDetails(target)
	} else if !errors.Is(err, domain.ErrIndexNotFound) {
		return nil, err
	}

	man, err := s.manager.Get(ctx, idx.UUID, id)
	if err != nil {
		return nil, snapshotError(id, err)
	}
	restored, err := domain.NewIndex(target, domain.IndexSettings{
		Shards:            man.Index.Shards,
		Encrypted:         man.Index.Encrypted,
		StoreTypeOriginal: man.Index.StoreTypeOriginal,
	})
	if err != nil {
		return nil, err
	}

	var written []string
	cleanup := func() {
		for _, dir := range written {
			os.RemoveAll(dir)
		}
	}
	for _, entry := range man.Shards {
		dir := s.shards.TranslogPath(domain.ShardID{IndexUUID: restored.UUID, Shard: entry.Shard})
		written = append(written, dir)
		if err := s.manager.Restore(ctx, man, entry.Shard, dir); err != nil {
			cleanup()
			return nil, snapshotError(id, err)
		}
	}
	if err := s.registry.Create(ctx, restored); err != nil {
		cleanup()
		return nil, err
	}
	s.logger.Info("snapshot restored",
		"snapshot", id,
		"source", idx.Name,
		"index", restored.Name,
		"uuid", restored.UUID)

	for n := range restored.Shards {
		shard := domain.ShardID{IndexUUID: restored.UUID, Shard: n}
		err := s.shards.OpenShard(ctx, shard, restored.Encrypted)
		if err != nil && !errors.Is(err, domain.ErrKeyNotReady) {
			return restored, err
		}
	}
	return restored, nil
}

// copyDir copies the regular files of src into dst. A missing src yields an
// empty dst.
func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0o700); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
