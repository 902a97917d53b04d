package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/keystore"
	"github.com/yndnr/cloudlock-go/internal/storage/translog"
	"github.com/yndnr/cloudlock-go/internal/telemetry/metric"
)

func TestRouteShard(t *testing.T) {
	if got := RouteShard("doc-1", 1); got != 0 {
		t.Errorf("RouteShard(1 shard) = %d, want 0", got)
	}
	if got := RouteShard("doc-1", 0); got != 0 {
		t.Errorf("RouteShard(0 shards) = %d, want 0", got)
	}

	seen := make(map[int]bool)
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		n := RouteShard(id, 4)
		if n < 0 || n >= 4 {
			t.Fatalf("RouteShard(%q, 4) = %d out of range", id, n)
		}
		if again := RouteShard(id, 4); again != n {
			t.Errorf("RouteShard(%q) not stable: %d then %d", id, n, again)
		}
		seen[n] = true
	}
	if len(seen) < 2 {
		t.Errorf("twelve ids routed to %d shard(s)", len(seen))
	}
}

type docFixture struct {
	indices  *IndexService
	docs     *DocumentService
	alloc    *Allocator
	reg      *keystore.Registry
	registry *MemoryIndexRegistry
}

func newDocFixture(t *testing.T, withKey bool) *docFixture {
	t.Helper()
	reg := keystore.New()
	if withKey {
		reg.TrySet(testHierarchy(t))
	}
	m := metric.NewRegistry()
	alloc := newTestAllocator(t, reg, m)
	registry := NewMemoryIndexRegistry()
	return &docFixture{
		indices:  NewIndexService(registry, alloc, discardLogger()),
		docs:     NewDocumentService(registry, alloc, m, discardLogger()),
		alloc:    alloc,
		reg:      reg,
		registry: registry,
	}
}

func TestDocumentService_Lifecycle(t *testing.T) {
	for _, encrypted := range []bool{false, true} {
		name := "plain"
		if encrypted {
			name = "secure"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newDocFixture(t, true)
			idx, err := f.indices.CreateIndex(ctx, name, domain.IndexSettings{Encrypted: encrypted, Shards: 3})
			if err != nil {
				t.Fatalf("CreateIndex() error = %v", err)
			}

			doc, err := f.docs.IndexDocument(ctx, name, "user-1", []byte(`{"name":"alice","ssn":"078-05-1120"}`))
			if err != nil {
				t.Fatalf("IndexDocument() error = %v", err)
			}
			if doc.Result != ResultCreated || doc.Seq != 1 || doc.Shard != RouteShard("user-1", 3) {
				t.Errorf("IndexDocument() = %+v", doc)
			}

			doc, err = f.docs.IndexDocument(ctx, name, "user-1", []byte(`{"name":"alice","ssn":"219-09-9999"}`))
			if err != nil {
				t.Fatal(err)
			}
			if doc.Result != ResultUpdated || doc.Seq != 2 {
				t.Errorf("second IndexDocument() = %+v", doc)
			}

			got, err := f.docs.GetDocument(ctx, name, "user-1")
			if err != nil {
				t.Fatalf("GetDocument() error = %v", err)
			}
			if string(got.Source) != `{"name":"alice","ssn":"219-09-9999"}` || got.Seq != 2 {
				t.Errorf("GetDocument() = %s seq %d", got.Source, got.Seq)
			}

			shard, err := f.alloc.Shard(domain.ShardID{IndexUUID: idx.UUID, Shard: doc.Shard})
			if err != nil {
				t.Fatal(err)
			}
			if err := shard.Sync(); err != nil {
				t.Fatal(err)
			}
			logDir := filepath.Join(f.alloc.ShardPath(shard.ID), shardTranslogDir)
			if leaked := logContains(t, logDir, "219-09-9999"); leaked == encrypted {
				t.Errorf("plaintext in log = %v, encrypted = %v", leaked, encrypted)
			}

			if _, err := f.docs.DeleteDocument(ctx, name, "user-1"); err != nil {
				t.Fatalf("DeleteDocument() error = %v", err)
			}
			if _, err := f.docs.GetDocument(ctx, name, "user-1"); !errors.Is(err, domain.ErrDocumentNotFound) {
				t.Errorf("GetDocument(deleted) error = %v, want ErrDocumentNotFound", err)
			}
			if _, err := f.docs.DeleteDocument(ctx, name, "user-1"); !errors.Is(err, domain.ErrDocumentNotFound) {
				t.Errorf("DeleteDocument(deleted) error = %v, want ErrDocumentNotFound", err)
			}
		})
	}
}

func logContains(t *testing.T, dir, needle string) bool {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), translog.FileExtension) {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		if bytes.Contains(b, []byte(needle)) {
			return true
		}
	}
	return false
}

func TestDocumentService_Validation(t *testing.T) {
	ctx := context.Background()
	f := newDocFixture(t, true)
	if _, err := f.indices.CreateIndex(ctx, "docs", domain.IndexSettings{}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		index   string
		id      string
		source  string
		wantErr error
	}{
		{"empty id", "docs", "", `{}`, domain.ErrInvalidArgument},
		{"long id", "docs", strings.Repeat("x", MaxDocumentIDLength+1), `{}`, domain.ErrInvalidArgument},
		{"not json", "docs", "1", `{"a":`, domain.ErrInvalidArgument},
		{"array source", "docs", "1", `[1,2]`, domain.ErrInvalidArgument},
		{"empty source", "docs", "1", ``, domain.ErrInvalidArgument},
		{"bad index name", "Docs", "1", `{}`, domain.ErrInvalidArgument},
		{"unknown index", "missing", "1", `{}`, domain.ErrIndexNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.docs.IndexDocument(ctx, tt.index, tt.id, []byte(tt.source)); !errors.Is(err, tt.wantErr) {
				t.Errorf("IndexDocument() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := f.docs.GetDocument(ctx, "docs", "never"); !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("GetDocument(never indexed) error = %v", err)
	}
}

func TestDocumentService_KeyNotReady(t *testing.T) {
	ctx := context.Background()
	f := newDocFixture(t, false)
	if _, err := f.indices.CreateIndex(ctx, "secure", domain.IndexSettings{Encrypted: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.indices.CreateIndex(ctx, "plain", domain.IndexSettings{}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.docs.IndexDocument(ctx, "secure", "1", []byte(`{"a":1}`)); !errors.Is(err, domain.ErrKeyNotReady) {
		t.Errorf("IndexDocument(encrypted, no key) error = %v, want ErrKeyNotReady", err)
	}
	if _, err := f.docs.IndexDocument(ctx, "plain", "1", []byte(`{"a":1}`)); err != nil {
		t.Errorf("IndexDocument(plain, no key) error = %v", err)
	}

	f.reg.TrySet(testHierarchy(t))
	if err := f.alloc.Reroute(ctx, false); err != nil {
		t.Fatal(err)
	}
	if _, err := f.docs.IndexDocument(ctx, "secure", "1", []byte(`{"a":1}`)); err != nil {
		t.Errorf("IndexDocument() after key error = %v", err)
	}
}

func TestAllocator_RecoversTranslog(t *testing.T) {
	ctx := context.Background()
	reg := keystore.New()
	reg.TrySet(testHierarchy(t))
	dataDir := t.TempDir()
	shard := domain.ShardID{IndexUUID: "01hrecover", Shard: 0}

	open := func() *Allocator {
		a, err := NewAllocator(AllocatorConfig{DataDir: dataDir, Registry: reg, Logger: discardLogger()})
		if err != nil {
			t.Fatal(err)
		}
		return a
	}

	a := open()
	s, err := a.Acquire(ctx, shard, true)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Append(ctx, &translog.Operation{Type: translog.OpIndex, DocID: id, Source: []byte(`{"v":1}`)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	b := open()
	defer b.Close()
	s, err = b.Acquire(ctx, shard, true)
	if err != nil {
		t.Fatalf("Acquire() after restart error = %v", err)
	}
	if s.Seq() != 3 {
		t.Errorf("Seq() after restart = %d, want 3", s.Seq())
	}
	seq, err := s.Append(ctx, &translog.Operation{Type: translog.OpDelete, DocID: "a"})
	if err != nil || seq != 4 {
		t.Errorf("Append() = %d, %v, want 4", seq, err)
	}

	// Another hierarchy cannot open the shard key.
	other := keystore.New()
	other.TrySet(testHierarchy(t))
	c, err := NewAllocator(AllocatorConfig{DataDir: dataDir, Registry: other, Logger: discardLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Acquire(ctx, domain.ShardID{IndexUUID: "01hrecover", Shard: 0}, true); err == nil {
		t.Error("Acquire() with a foreign hierarchy succeeded")
	}
}

func TestAllocator_PlainShard(t *testing.T) {
	ctx := context.Background()
	alloc := newTestAllocator(t, keystore.New(), nil)
	shard := domain.ShardID{IndexUUID: "01hplain", Shard: 0}

	if err := alloc.OpenShard(ctx, shard, false); err != nil {
		t.Fatalf("OpenShard(plain) without key error = %v", err)
	}
	if len(alloc.BlockedShards()) != 0 {
		t.Error("plain shard blocked")
	}
	s, err := alloc.Shard(shard)
	if err != nil || s.Encrypted || s.Directory() != nil {
		t.Errorf("Shard() = %+v, %v", s, err)
	}
	if _, err := alloc.Directory(shard); err == nil {
		t.Error("Directory(plain) succeeded")
	}
	if _, err := alloc.Shard(domain.ShardID{IndexUUID: "unknown"}); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Errorf("Shard(unknown) error = %v", err)
	}
}

func TestIndexService_OpenIndices(t *testing.T) {
	ctx := context.Background()
	reg := keystore.New()
	registry := NewMemoryIndexRegistry()
	for _, settings := range []domain.IndexSettings{{Encrypted: true, Shards: 2}, {Shards: 1}} {
		name := "plain"
		if settings.Encrypted {
			name = "secure"
		}
		idx, err := domain.NewIndex(name, settings)
		if err != nil {
			t.Fatal(err)
		}
		if err := registry.Create(ctx, idx); err != nil {
			t.Fatal(err)
		}
	}

	alloc := newTestAllocator(t, reg, nil)
	svc := NewIndexService(registry, alloc, discardLogger())
	if err := svc.OpenIndices(ctx); err != nil {
		t.Fatalf("OpenIndices() error = %v", err)
	}
	if got := len(alloc.BlockedShards()); got != 2 {
		t.Errorf("BlockedShards() = %d, want 2", got)
	}
	plain, _ := registry.Get(ctx, "plain")
	if _, err := alloc.Shard(domain.ShardID{IndexUUID: plain.UUID}); err != nil {
		t.Errorf("plain shard not opened: %v", err)
	}
}
