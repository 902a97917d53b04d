// Package keydist establishes the cluster key hierarchy once, on the leader,
// and distributes it to every member.
//
// The operator hands the bootstrap private key to the leader. The leader
// recovers or mints the hierarchy, seals it for transport and fans it out
// to all members, itself included. Each member stores it set-once and
// tries to persist the bootstrap file locally. Per-node failures are
// collected and reported without stopping delivery to the rest.
package keydist

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/yndnr/cloudlock-go/internal/crypto/kek"
)

// Node identifies a cluster member and the address its key service listens on.
type Node struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Addr string `json:"addr"`
}

// Cluster is the membership and leadership view this package consumes.
type Cluster interface {
	LocalNode() Node
	IsLeader() bool
	Members() []Node
}

// NodeClient delivers a key update to a remote member.
type NodeClient interface {
	UpdateKey(ctx context.Context, node Node, req *UpdateKeyRequest) (*NodeResponse, error)
}

// Rerouter retries shard allocations that were blocked on the missing key.
type Rerouter interface {
	Reroute(ctx context.Context, retryFailed bool) error
}

// UpdateKeyRequest carries a sealed hierarchy from the leader to a member.
type UpdateKeyRequest struct {
	LeaderID string      `json:"leader_id"`
	Sealed   *kek.Sealed `json:"sealed"`
}

// NodeResponse is what a member reports after applying an update.
type NodeResponse struct {
	NodeID       string `json:"node_id"`
	NodeName     string `json:"node_name"`
	IsLeader     bool   `json:"is_leader"`
	KeySet       bool   `json:"key_set"`
	KeyPersisted bool   `json:"key_persisted"`
}

// NodeFailure records a member that could not apply the update.
type NodeFailure struct {
	NodeID string `json:"node_id"`
	Reason string `json:"reason"`
}

// BroadcastResult aggregates the responses of one distribution round.
type BroadcastResult struct {
	Nodes    map[string]NodeResponse
	Failures []NodeFailure
}

// OK reports whether every member applied the update.
func (r *BroadcastResult) OK() bool {
	return r != nil && len(r.Failures) == 0
}

type nodeEntry struct {
	NodeName     string `json:"node_name"`
	IsLeader     bool   `json:"is_leader"`
	KeySet       bool   `json:"key_set"`
	KeyPersisted bool   `json:"key_persisted"`
}

type broadcastDocument struct {
	Nodes    map[string]nodeEntry `json:"nodes"`
	Failures []NodeFailure        `json:"failures"`
	OK       bool                 `json:"ok"`
}

func (r *BroadcastResult) document() broadcastDocument {
	doc := broadcastDocument{Nodes: map[string]nodeEntry{}, Failures: []NodeFailure{}}
	if r == nil {
		return doc
	}
	for id, n := range r.Nodes {
		doc.Nodes[id] = nodeEntry{
			NodeName:     n.NodeName,
			IsLeader:     n.IsLeader,
			KeySet:       n.KeySet,
			KeyPersisted: n.KeyPersisted,
		}
	}
	doc.Failures = append(doc.Failures, r.Failures...)
	sort.Slice(doc.Failures, func(i, j int) bool { return doc.Failures[i].NodeID < doc.Failures[j].NodeID })
	doc.OK = r.OK()
	return doc
}

// MarshalJSON renders the status document with one entry per node.
func (r *BroadcastResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.document())
}

// UnmarshalJSON parses the status document.
func (r *BroadcastResult) UnmarshalJSON(b []byte) error {
	var doc broadcastDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	r.Nodes = make(map[string]NodeResponse, len(doc.Nodes))
	for id, n := range doc.Nodes {
		r.Nodes[id] = NodeResponse{
			NodeID:       id,
			NodeName:     n.NodeName,
			IsLeader:     n.IsLeader,
			KeySet:       n.KeySet,
			KeyPersisted: n.KeyPersisted,
		}
	}
	r.Failures = doc.Failures
	return nil
}

// InitializeResult is the outcome of an operator initialize request.
type InitializeResult struct {
	// KeyID identifies the distributed hierarchy.
	KeyID string

	// Created reports whether the leader minted a new bootstrap file.
	Created bool

	// Rerouted reports whether blocked allocations were retried.
	Rerouted bool

	Distribution *BroadcastResult
}

// OK reports whether the distribution reached every member.
func (r *InitializeResult) OK() bool {
	return r != nil && r.Distribution.OK()
}

// MarshalJSON renders the distribution document with the key details added.
func (r *InitializeResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		KeyID    string `json:"key_id"`
		Created  bool   `json:"created"`
		Rerouted bool   `json:"rerouted"`
		broadcastDocument
	}{
		KeyID:             r.KeyID,
		Created:           r.Created,
		Rerouted:          r.Rerouted,
		broadcastDocument: r.Distribution.document(),
	})
}
