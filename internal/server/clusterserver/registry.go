package clusterserver

import (
	"context"
	"time"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
)

// applier is the part of RaftNode the registry writes through.
type applier interface {
	Apply(data []byte, timeout time.Duration) error
	IsLeader() bool
	Leader() string
}

// IndexRegistry is the replicated index registry. Writes go through Raft
// and must be issued on the leader; reads are served from the local FSM.
type IndexRegistry struct {
	node    applier
	fsm     *FSM
	timeout time.Duration
}

// NewIndexRegistry returns the registry backed by node and fsm.
func NewIndexRegistry(node applier, fsm *FSM) *IndexRegistry {
	return &IndexRegistry{node: node, fsm: fsm, timeout: DefaultApplyTimeout}
}

func (r *IndexRegistry) apply(ctx context.Context, t LogEntryType, payload any) error {
	if !r.node.IsLeader() {
		return domain.ErrNotLeader.WithDetails("leader is " + r.node.Leader())
	}
	data, err := EncodeLogEntry(t, payload)
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	timeout := r.timeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(dl))
	}
	return r.node.Apply(data, timeout)
}

// Create registers idx cluster-wide.
func (r *IndexRegistry) Create(ctx context.Context, idx *domain.Index) error {
	return r.apply(ctx, LogEntryIndexCreate, idx)
}

// Delete removes the named index cluster-wide.
func (r *IndexRegistry) Delete(ctx context.Context, name string) error {
	return r.apply(ctx, LogEntryIndexDelete, IndexDeletePayload{Name: name})
}

// Get returns the named index.
func (r *IndexRegistry) Get(_ context.Context, name string) (*domain.Index, error) {
	idx, ok := r.fsm.Index(name)
	if !ok {
		return nil, domain.ErrIndexNotFound.WithDetails(name)
	}
	return idx, nil
}

// List returns all indices ordered by name.
func (r *IndexRegistry) List(context.Context) ([]*domain.Index, error) {
	return r.fsm.Indices(), nil
}
