package clusterserver

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
)

// LogEntryType defines the type of Raft log entry.
type LogEntryType uint8

const (
	// LogEntryIndexCreate registers a new index.
	LogEntryIndexCreate LogEntryType = 1

	// LogEntryIndexDelete removes an index.
	LogEntryIndexDelete LogEntryType = 2
)

// LogEntry represents a Raft log entry.
type LogEntry struct {
	Type    LogEntryType    `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// IndexDeletePayload is the payload of LogEntryIndexDelete.
type IndexDeletePayload struct {
	Name string `json:"name"`
}

// EncodeLogEntry marshals a typed payload into a Raft log entry.
func EncodeLogEntry(t LogEntryType, payload any) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return json.Marshal(LogEntry{Type: t, Payload: p})
}

// FSM replicates the index registry: every index with its encryption flag
// and original store type.
//
// Apply must be deterministic. Entries that cannot be decoded mean the log
// is corrupt or written by an incompatible version, and Apply panics.
// Rejected operations, such as creating an index that exists, are returned
// as the apply response.
type FSM struct {
	mu      sync.RWMutex
	indices map[string]*domain.Index // name -> index
	logger  *slog.Logger
}

// NewFSM creates a new Raft FSM.
func NewFSM(logger *slog.Logger) *FSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSM{
		indices: make(map[string]*domain.Index),
		logger:  logger,
	}
}

// Apply applies a committed Raft log entry.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var entry LogEntry
	if err := json.Unmarshal(log.Data, &entry); err != nil {
		f.logger.Error("FATAL: failed to unmarshal log entry",
			"error", err,
			"log_index", log.Index,
			"log_term", log.Term)
		panic(fmt.Sprintf("FSM.Apply: unmarshal failed at index=%d: %v", log.Index, err))
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch entry.Type {
	case LogEntryIndexCreate:
		return f.applyIndexCreate(entry.Payload)
	case LogEntryIndexDelete:
		return f.applyIndexDelete(entry.Payload)
	default:
		f.logger.Error("FATAL: unknown log entry type",
			"type", entry.Type,
			"log_index", log.Index)
		panic(fmt.Sprintf("FSM.Apply: unknown log type %d at index=%d", entry.Type, log.Index))
	}
}

func (f *FSM) applyIndexCreate(payload json.RawMessage) error {
	var idx domain.Index
	if err := json.Unmarshal(payload, &idx); err != nil {
		panic(fmt.Sprintf("applyIndexCreate: unmarshal failed: %v", err))
	}
	if _, ok := f.indices[idx.Name]; ok {
		return domain.ErrIndexExists.WithDetails(idx.Name)
	}
	f.indices[idx.Name] = &idx

	f.logger.Info("index registered",
		"index", idx.Name,
		"uuid", idx.UUID,
		"encrypted", idx.Encrypted)
	return nil
}

func (f *FSM) applyIndexDelete(payload json.RawMessage) error {
	var del IndexDeletePayload
	if err := json.Unmarshal(payload, &del); err != nil {
		panic(fmt.Sprintf("applyIndexDelete: unmarshal failed: %v", err))
	}
	if _, ok := f.indices[del.Name]; !ok {
		return domain.ErrIndexNotFound.WithDetails(del.Name)
	}
	delete(f.indices, del.Name)
	f.logger.Info("index removed", "index", del.Name)
	return nil
}

// Index returns a copy of the named index.
func (f *FSM) Index(name string) (*domain.Index, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	idx, ok := f.indices[name]
	if !ok {
		return nil, false
	}
	c := *idx
	return &c, true
}

// Indices returns copies of all indices ordered by name.
func (f *FSM) Indices() []*domain.Index {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return sortedIndices(f.indices)
}

func sortedIndices(m map[string]*domain.Index) []*domain.Index {
	out := make([]*domain.Index, 0, len(m))
	for _, idx := range m {
		c := *idx
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type fsmState struct {
	Indices []*domain.Index `json:"indices"`
}

// Snapshot captures the registry for log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return &fsmSnapshot{state: fsmState{Indices: sortedIndices(f.indices)}}, nil
}

// Restore replaces the registry with a gzip compressed snapshot.
func (f *FSM) Restore(r io.ReadCloser) error {
	defer r.Close()

	gz, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	var state fsmState
	if err := json.NewDecoder(gz).Decode(&state); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	indices := make(map[string]*domain.Index, len(state.Indices))
	for _, idx := range state.Indices {
		indices[idx.Name] = idx
	}

	f.mu.Lock()
	f.indices = indices
	f.mu.Unlock()

	f.logger.Info("fsm state restored from snapshot", "index_count", len(indices))
	return nil
}

// fsmSnapshot implements raft.FSMSnapshot.
type fsmSnapshot struct {
	state fsmState
}

// Persist writes the gzip compressed snapshot to the sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		gz := gzip.NewWriter(sink)
		if err := json.NewEncoder(gz).Encode(s.state); err != nil {
			gz.Close()
			return fmt.Errorf("encode snapshot: %w", err)
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("close gzip writer: %w", err)
		}
		return nil
	}()
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

// Release is called when the snapshot is no longer needed.
func (s *fsmSnapshot) Release() {}
