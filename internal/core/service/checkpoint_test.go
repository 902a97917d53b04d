package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/keystore"
	"github.com/yndnr/cloudlock-go/internal/storage/translog"
)

func openAllocator(t *testing.T, dataDir string, reg *keystore.Registry) *Allocator {
	t.Helper()
	a, err := NewAllocator(AllocatorConfig{DataDir: dataDir, Registry: reg, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("NewAllocator() error = %v", err)
	}
	return a
}

func TestShard_CheckpointIsEncrypted(t *testing.T) {
	ctx := context.Background()
	dataDir := t.TempDir()
	reg := keystore.New()
	reg.TrySet(testHierarchy(t))
	shard := domain.ShardID{IndexUUID: "01hckp", Shard: 0}

	alloc := openAllocator(t, dataDir, reg)
	s, err := alloc.Acquire(ctx, shard, true)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Append(ctx, &translog.Operation{Type: translog.OpIndex, DocID: id, Source: []byte(`{"v":1}`)}); err != nil {
			t.Fatal(err)
		}
	}
	if s.CommittedSeq() != 0 {
		t.Errorf("CommittedSeq() before commit = %d", s.CommittedSeq())
	}
	if err := s.Snapshot(func(string, uint64) error { return nil }); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if s.CommittedSeq() != 3 {
		t.Errorf("CommittedSeq() = %d, want 3", s.CommittedSeq())
	}

	names, err := s.Directory().List()
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range names {
		if n == pendingCheckpointFile {
			t.Errorf("pending checkpoint left behind: %v", names)
		}
	}
	path := filepath.Join(alloc.ShardPath(shard), shardIndexDir, checkpointFile)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("checkpoint not written: %v", err)
	}
	if bytes.Contains(raw, []byte("hierarchy_id")) || bytes.Contains(raw, []byte(shard.String())) {
		t.Error("checkpoint stored in plaintext")
	}

	// One more operation is committed when the shard closes.
	if _, err := s.Append(ctx, &translog.Operation{Type: translog.OpDelete, DocID: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := alloc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := openAllocator(t, dataDir, reg)
	s, err = reopened.Acquire(ctx, shard, true)
	if err != nil {
		t.Fatalf("Acquire() after reopen error = %v", err)
	}
	if s.CommittedSeq() != 4 || s.Seq() != 4 {
		t.Errorf("reopened committed %d seq %d, want 4 and 4", s.CommittedSeq(), s.Seq())
	}
	if err := reopened.Close(); err != nil {
		t.Fatal(err)
	}

	raw, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0xff
	if err := os.WriteFile(path, raw, 0o640); err != nil {
		t.Fatal(err)
	}
	tampered := openAllocator(t, dataDir, reg)
	defer tampered.Close()
	if _, err := tampered.Acquire(ctx, shard, true); !errors.Is(err, domain.ErrAuthentication) {
		t.Errorf("Acquire() with a tampered checkpoint error = %v, want ErrAuthentication", err)
	}
}

func TestShard_PlainShardHasNoCheckpoint(t *testing.T) {
	ctx := context.Background()
	reg := keystore.New()
	alloc := newTestAllocator(t, reg, nil)
	shard := domain.ShardID{IndexUUID: "01hplain", Shard: 0}

	s, err := alloc.Acquire(ctx, shard, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append(ctx, &translog.Operation{Type: translog.OpIndex, DocID: "a", Source: []byte(`{}`)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if s.CommittedSeq() != 0 {
		t.Errorf("CommittedSeq() on a plain shard = %d", s.CommittedSeq())
	}
	if _, err := os.Stat(filepath.Join(alloc.ShardPath(shard), shardIndexDir)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("plain shard has an index directory: %v", err)
	}
}
