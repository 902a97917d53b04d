package clusterserver

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/hashicorp/raft"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
)

func mustIndex(t *testing.T, name string, encrypted bool) *domain.Index {
	t.Helper()
	idx, err := domain.NewIndex(name, domain.IndexSettings{Encrypted: encrypted})
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func applyEntry(t *testing.T, f *FSM, typ LogEntryType, payload any) any {
	t.Helper()
	data, err := EncodeLogEntry(typ, payload)
	if err != nil {
		t.Fatal(err)
	}
	return f.Apply(&raft.Log{Index: 1, Data: data})
}

func TestFSM_IndexLifecycle(t *testing.T) {
	f := NewFSM(discardLogger())
	logs := mustIndex(t, "logs", true)

	if resp := applyEntry(t, f, LogEntryIndexCreate, logs); resp != nil {
		t.Fatalf("create response = %v", resp)
	}
	got, ok := f.Index("logs")
	if !ok || got.UUID != logs.UUID || !got.Encrypted || got.StoreTypeOriginal != domain.DefaultStoreType {
		t.Errorf("Index(logs) = %+v, %v", got, ok)
	}

	resp := applyEntry(t, f, LogEntryIndexCreate, mustIndex(t, "logs", false))
	if err, _ := resp.(error); !errors.Is(err, domain.ErrIndexExists) {
		t.Errorf("duplicate create response = %v, want ErrIndexExists", resp)
	}

	applyEntry(t, f, LogEntryIndexCreate, mustIndex(t, "alpha", false))
	list := f.Indices()
	if len(list) != 2 || list[0].Name != "alpha" || list[1].Name != "logs" {
		t.Errorf("Indices() = %v", list)
	}

	if resp := applyEntry(t, f, LogEntryIndexDelete, IndexDeletePayload{Name: "logs"}); resp != nil {
		t.Fatalf("delete response = %v", resp)
	}
	resp = applyEntry(t, f, LogEntryIndexDelete, IndexDeletePayload{Name: "logs"})
	if err, _ := resp.(error); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Errorf("second delete response = %v, want ErrIndexNotFound", resp)
	}
}

func TestFSM_IndexReturnsCopy(t *testing.T) {
	f := NewFSM(nil)
	applyEntry(t, f, LogEntryIndexCreate, mustIndex(t, "a", false))
	got, _ := f.Index("a")
	got.Encrypted = true
	again, _ := f.Index("a")
	if again.Encrypted {
		t.Error("FSM state changed through a returned index")
	}
}

func TestFSM_ApplyPanicsOnCorruptEntry(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("garbage")},
		{"unknown type", []byte(`{"type":99,"payload":{}}`)},
		{"bad payload", []byte(`{"type":1,"payload":"x"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("Apply() did not panic")
				}
			}()
			NewFSM(discardLogger()).Apply(&raft.Log{Data: tt.data})
		})
	}
}

type memorySink struct {
	bytes.Buffer
	cancelled bool
	closed    bool
}

func (s *memorySink) ID() string    { return "test" }
func (s *memorySink) Cancel() error { s.cancelled = true; return nil }
func (s *memorySink) Close() error  { s.closed = true; return nil }

func TestFSM_SnapshotRestore(t *testing.T) {
	src := NewFSM(discardLogger())
	applyEntry(t, src, LogEntryIndexCreate, mustIndex(t, "one", true))
	applyEntry(t, src, LogEntryIndexCreate, mustIndex(t, "two", false))

	snap, err := src.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	sink := &memorySink{}
	if err := snap.Persist(sink); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	snap.Release()
	if !sink.closed || sink.cancelled {
		t.Errorf("sink closed %v cancelled %v", sink.closed, sink.cancelled)
	}

	dst := NewFSM(discardLogger())
	applyEntry(t, dst, LogEntryIndexCreate, mustIndex(t, "stale", false))
	if err := dst.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	list := dst.Indices()
	if len(list) != 2 || list[0].Name != "one" || !list[0].Encrypted || list[1].Name != "two" {
		t.Errorf("restored Indices() = %v", list)
	}

	if err := dst.Restore(io.NopCloser(bytes.NewReader([]byte("not gzip")))); err == nil {
		t.Error("Restore() of garbage succeeded")
	}
}
