package service

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/crypto/kek"
	"github.com/yndnr/cloudlock-go/internal/keydist"
	"github.com/yndnr/cloudlock-go/internal/keystore"
	"github.com/yndnr/cloudlock-go/internal/storage/ceff"
	"github.com/yndnr/cloudlock-go/internal/storage/keyfile"
	"github.com/yndnr/cloudlock-go/internal/telemetry/metric"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHierarchy(t *testing.T) *kek.Hierarchy {
	t.Helper()
	master := make([]byte, 32)
	if _, err := rand.Read(master); err != nil {
		t.Fatal(err)
	}
	h, err := kek.New(master, []byte("rsa-wrapped-bootstrap"))
	if err != nil {
		t.Fatalf("kek.New() error = %v", err)
	}
	return h
}

func newTestAllocator(t *testing.T, reg *keystore.Registry, m *metric.Registry) *Allocator {
	t.Helper()
	a, err := NewAllocator(AllocatorConfig{
		DataDir:  t.TempDir(),
		Registry: reg,
		Metrics:  m,
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("NewAllocator() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestMemoryIndexRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryIndexRegistry()
	idx, _ := domain.NewIndex("b", domain.IndexSettings{})

	if err := r.Create(ctx, idx); err != nil {
		t.Fatal(err)
	}
	if err := r.Create(ctx, idx); !errors.Is(err, domain.ErrIndexExists) {
		t.Errorf("duplicate Create() error = %v", err)
	}
	a, _ := domain.NewIndex("a", domain.IndexSettings{})
	r.Create(ctx, a)

	list, _ := r.List(ctx)
	if len(list) != 2 || list[0].Name != "a" {
		t.Errorf("List() = %v", list)
	}
	if err := r.Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(ctx, "a"); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Errorf("Get(deleted) error = %v", err)
	}
	if err := r.Delete(ctx, "a"); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Errorf("Delete(deleted) error = %v", err)
	}
}

func TestFileIndexRegistry(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "indices.json")

	r, err := OpenFileIndexRegistry(path)
	if err != nil {
		t.Fatalf("OpenFileIndexRegistry(missing) error = %v", err)
	}
	for _, name := range []string{"orders", "audit", "tmp"} {
		idx, _ := domain.NewIndex(name, domain.IndexSettings{Encrypted: name != "tmp", Shards: 2})
		if err := r.Create(ctx, idx); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Delete(ctx, "tmp"); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenFileIndexRegistry(path)
	if err != nil {
		t.Fatalf("OpenFileIndexRegistry() error = %v", err)
	}
	list, _ := reopened.List(ctx)
	if len(list) != 2 || list[0].Name != "audit" || list[1].Name != "orders" {
		t.Fatalf("reopened List() = %v", list)
	}
	if !list[1].Encrypted || list[1].Shards != 2 || list[1].UUID == "" {
		t.Errorf("reopened index = %+v", list[1])
	}

	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFileIndexRegistry(path); err == nil {
		t.Error("OpenFileIndexRegistry(corrupt) succeeded")
	}
}

func TestIndexService_ListEncryptedIndices(t *testing.T) {
	ctx := context.Background()
	svc := NewIndexService(NewMemoryIndexRegistry(), nil, discardLogger())

	enc, err := svc.CreateIndex(ctx, "secure", domain.IndexSettings{Encrypted: true})
	if err != nil {
		t.Fatalf("CreateIndex() error = %v", err)
	}
	if _, err := svc.CreateIndex(ctx, "plain", domain.IndexSettings{}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateIndex(ctx, "nio", domain.IndexSettings{Encrypted: true, StoreTypeOriginal: "niofs"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateIndex(ctx, "Bad Name", domain.IndexSettings{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("CreateIndex(bad name) error = %v", err)
	}

	got, err := svc.ListEncryptedIndices(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []EncryptedIndex{
		{Name: "nio", StoreTypeOriginal: "niofs"},
		{UUID: enc.UUID, Name: "secure", StoreTypeOriginal: "fs"},
	}
	if len(got) != len(want) {
		t.Fatalf("ListEncryptedIndices() = %+v", got)
	}
	for i := range want {
		if got[i].Name != want[i].Name || got[i].StoreTypeOriginal != want[i].StoreTypeOriginal {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if got[1].UUID != enc.UUID {
		t.Errorf("uuid = %s, want %s", got[1].UUID, enc.UUID)
	}

	idx, err := svc.GetIndex(ctx, "secure")
	if err != nil || idx.StoreType() != domain.EncryptedStoreType {
		t.Errorf("GetIndex() = %+v, %v", idx, err)
	}
}

func TestAllocator_BlocksUntilKeyArrives(t *testing.T) {
	ctx := context.Background()
	reg := keystore.New()
	m := metric.NewRegistry()
	alloc := newTestAllocator(t, reg, m)
	svc := NewIndexService(NewMemoryIndexRegistry(), alloc, discardLogger())

	idx, err := svc.CreateIndex(ctx, "secure", domain.IndexSettings{Encrypted: true, Shards: 2})
	if err != nil {
		t.Fatalf("CreateIndex() without key error = %v", err)
	}
	shard := domain.ShardID{IndexUUID: idx.UUID, Shard: 1}

	if blocked := alloc.BlockedShards(); len(blocked) != 2 {
		t.Fatalf("BlockedShards() = %v", blocked)
	}
	if _, err := alloc.Directory(shard); !errors.Is(err, domain.ErrKeyNotReady) {
		t.Errorf("Directory(blocked) error = %v, want ErrKeyNotReady", err)
	}
	if err := alloc.Reroute(ctx, false); err != nil {
		t.Errorf("Reroute() without key error = %v", err)
	}
	if len(alloc.BlockedShards()) != 2 {
		t.Error("shards unblocked without a key")
	}

	done := make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		alloc.Run(runCtx)
		close(done)
	}()

	reg.TrySet(testHierarchy(t))
	<-done

	if blocked := alloc.BlockedShards(); len(blocked) != 0 {
		t.Fatalf("BlockedShards() after key = %v", blocked)
	}
	d, err := alloc.Directory(shard)
	if err != nil {
		t.Fatalf("Directory() error = %v", err)
	}
	if d.State() != ceff.StateOpen {
		t.Errorf("directory state = %s", d.State())
	}
	keyPath := filepath.Join(alloc.ShardPath(shard), keyfile.ShardKeyName)
	if _, err := os.Stat(keyPath); err != nil {
		t.Errorf("shard key file missing: %v", err)
	}

	out, err := d.Create("_0.cfs")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := out.Write([]byte("encrypted shard content that is longer than a header")); err != nil {
		t.Fatal(err)
	}
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestAllocator_RetryFailed(t *testing.T) {
	ctx := context.Background()
	reg := keystore.New()
	reg.TrySet(testHierarchy(t))
	alloc := newTestAllocator(t, reg, nil)

	shard := domain.ShardID{IndexUUID: "01hzzz", Shard: 0}
	// A file where the shard directory belongs makes the open fail.
	if err := os.MkdirAll(filepath.Dir(alloc.ShardPath(shard)), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(alloc.ShardPath(shard), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := alloc.OpenShard(ctx, shard, true); err == nil || errors.Is(err, domain.ErrKeyNotReady) {
		t.Fatalf("OpenShard() error = %v, want a filesystem error", err)
	}
	if _, err := alloc.Directory(shard); err == nil {
		t.Error("Directory(failed) succeeded")
	}

	if err := alloc.Reroute(ctx, false); err != nil {
		t.Errorf("Reroute(false) error = %v, failed shards must be skipped", err)
	}

	if err := os.Remove(alloc.ShardPath(shard)); err != nil {
		t.Fatal(err)
	}
	if err := alloc.Reroute(ctx, true); err != nil {
		t.Fatalf("Reroute(true) error = %v", err)
	}
	if _, err := alloc.Directory(shard); err != nil {
		t.Errorf("Directory() after retry error = %v", err)
	}
}

type stubInitializer struct {
	got string
}

func (s *stubInitializer) Initialize(_ context.Context, key string) (*keydist.InitializeResult, error) {
	s.got = key
	return &keydist.InitializeResult{KeyID: "abc", Created: true}, nil
}

func TestKeyService(t *testing.T) {
	ctx := context.Background()
	reg := keystore.New()
	initr := &stubInitializer{}
	svc := NewKeyService(initr, keydist.SingleNode{Node: keydist.Node{ID: "n1", Name: "node-1"}}, reg)

	if _, err := svc.Initialize(ctx, "   "); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Initialize(blank) error = %v", err)
	}
	res, err := svc.Initialize(ctx, " key\n")
	if err != nil || res.KeyID != "abc" || initr.got != "key" {
		t.Errorf("Initialize() = %+v, %v, forwarded %q", res, err, initr.got)
	}

	st := svc.Status(ctx)
	if st.NodeID != "n1" || st.NodeName != "node-1" || !st.IsLeader || st.KeySet || st.PublicKeyConfigured {
		t.Errorf("Status() before key = %+v", st)
	}

	h := testHierarchy(t)
	reg.TrySet(h)
	st = svc.Status(ctx)
	if !st.KeySet || st.KeyID != h.ID() {
		t.Errorf("Status() after key = %+v", st)
	}
}
