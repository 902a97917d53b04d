package clusterserver

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/yndnr/cloudlock-go/internal/keydist"
)

// DefaultJoinWindow groups join events that arrive close together into one
// redistribution.
const DefaultJoinWindow = 500 * time.Millisecond

// leadership is the part of RaftNode Membership needs.
type leadership interface {
	IsLeader() bool
	AddVoter(nodeID, addr string, timeout time.Duration) error
}

// memberSource is the part of Discovery Membership needs.
type memberSource interface {
	Members() []NodeInfo
}

// JoinHandler receives the members that joined since the last call.
type JoinHandler func(ctx context.Context, nodes []keydist.Node) error

// Membership combines Raft leadership with gossip membership into the
// cluster view used by key distribution.
type Membership struct {
	local   keydist.Node
	raft    leadership
	members memberSource
	window  time.Duration
	logger  *slog.Logger

	joins chan keydist.Node
}

var _ keydist.Cluster = (*Membership)(nil)

// NewMembership creates a Membership for the local node.
func NewMembership(local keydist.Node, raft leadership, members memberSource, logger *slog.Logger) *Membership {
	if logger == nil {
		logger = slog.Default()
	}
	return &Membership{
		local:   local,
		raft:    raft,
		members: members,
		window:  DefaultJoinWindow,
		logger:  logger,
		joins:   make(chan keydist.Node, 64),
	}
}

// SetJoinWindow changes how long join events are collected before a
// redistribution. Call it before Run.
func (m *Membership) SetJoinWindow(d time.Duration) {
	if d > 0 {
		m.window = d
	}
}

// LocalNode returns this node.
func (m *Membership) LocalNode() keydist.Node { return m.local }

// IsLeader reports Raft leadership.
func (m *Membership) IsLeader() bool { return m.raft.IsLeader() }

// Members returns every alive member ordered by id. The local node is
// always included.
func (m *Membership) Members() []keydist.Node {
	seen := map[string]keydist.Node{m.local.ID: m.local}
	for _, info := range m.members.Members() {
		if _, ok := seen[info.ID]; ok {
			continue
		}
		seen[info.ID] = toNode(info)
	}
	out := make([]keydist.Node, 0, len(seen))
	for _, n := range seen {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func toNode(info NodeInfo) keydist.Node {
	return keydist.Node{ID: info.ID, Name: info.ID, Addr: info.Meta.RPCAddr}
}

// HandleJoin is the Discovery join callback. On the leader it adds the new
// member as a Raft voter, and it queues the member for redistribution.
func (m *Membership) HandleJoin(info NodeInfo) {
	if info.ID == m.local.ID {
		return
	}
	if m.raft.IsLeader() && info.Meta.RaftAddr != "" {
		go func() {
			if err := m.raft.AddVoter(info.ID, info.Meta.RaftAddr, DefaultApplyTimeout); err != nil {
				m.logger.Warn("add raft voter failed", "node_id", info.ID, "error", err)
			}
		}()
	}
	select {
	case m.joins <- toNode(info):
	default:
		m.logger.Warn("join queue full, dropping join event", "node_id", info.ID)
	}
}

// Run delivers batched join events to fn until ctx ends.
func (m *Membership) Run(ctx context.Context, fn JoinHandler) {
	var (
		pending []keydist.Node
		timer   *time.Timer
		fire    <-chan time.Time
		wg      sync.WaitGroup
	)
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case n := <-m.joins:
			pending = append(pending, n)
			if timer == nil {
				timer = time.NewTimer(m.window)
				fire = timer.C
			}
		case <-fire:
			batch := pending
			pending, timer, fire = nil, nil, nil
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := fn(ctx, batch); err != nil {
					m.logger.Warn("handling joined members failed", "count", len(batch), "error", err)
				}
			}()
		}
	}
}
