package clusterserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/keydist"
)

func startSingleRaft(t *testing.T) *RaftNode {
	t.Helper()
	node, err := NewRaftNode(RaftConfig{
		NodeID:    "node-1",
		BindAddr:  "127.0.0.1:0",
		DataDir:   t.TempDir(),
		Bootstrap: true,
		Logger:    discardLogger(),
	}, NewFSM(discardLogger()))
	if err != nil {
		t.Fatalf("NewRaftNode() error = %v", err)
	}
	t.Cleanup(func() { node.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := node.WaitForLeader(ctx); err != nil {
		t.Fatalf("WaitForLeader() error = %v", err)
	}
	deadline := time.Now().Add(10 * time.Second)
	for !node.IsLeader() {
		if time.Now().After(deadline) {
			t.Fatal("single node did not become leader")
		}
		time.Sleep(20 * time.Millisecond)
	}
	return node
}

func TestNewRaftNode_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  RaftConfig
	}{
		{"missing node id", RaftConfig{DataDir: t.TempDir(), BindAddr: "127.0.0.1:0"}},
		{"missing data dir", RaftConfig{NodeID: "n", BindAddr: "127.0.0.1:0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRaftNode(tt.cfg, NewFSM(nil)); err == nil {
				t.Error("NewRaftNode() succeeded")
			}
		})
	}
}

func TestIndexRegistry_Raft(t *testing.T) {
	node := startSingleRaft(t)
	reg := NewIndexRegistry(node, node.FSM())
	ctx := context.Background()

	if node.LeaderID() != "node-1" || node.Leader() != node.Addr() {
		t.Errorf("leader = %s@%s, addr %s", node.LeaderID(), node.Leader(), node.Addr())
	}

	idx := mustIndex(t, "secure-logs", true)
	if err := reg.Create(ctx, idx); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := reg.Create(ctx, mustIndex(t, "secure-logs", false)); !errors.Is(err, domain.ErrIndexExists) {
		t.Errorf("duplicate Create() error = %v, want ErrIndexExists", err)
	}
	if err := reg.Create(ctx, mustIndex(t, "plain", false)); err != nil {
		t.Fatalf("Create(plain) error = %v", err)
	}

	got, err := reg.Get(ctx, "secure-logs")
	if err != nil || got.UUID != idx.UUID || !got.Encrypted {
		t.Errorf("Get() = %+v, %v", got, err)
	}
	list, _ := reg.List(ctx)
	if len(list) != 2 || list[0].Name != "plain" {
		t.Errorf("List() = %v", list)
	}

	if err := reg.Delete(ctx, "plain"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := reg.Get(ctx, "plain"); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Errorf("Get(deleted) error = %v, want ErrIndexNotFound", err)
	}
	if err := reg.Delete(ctx, "plain"); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Errorf("Delete(deleted) error = %v, want ErrIndexNotFound", err)
	}
}

// followerNode is a Raft node that never leads. It counts voter changes so
// tests can assert that none were attempted.
type followerNode struct {
	addVoters atomic.Int32
}

func (*followerNode) Apply([]byte, time.Duration) error { return errors.New("unexpected apply") }
func (*followerNode) IsLeader() bool                    { return false }
func (*followerNode) Leader() string                    { return "10.0.0.1:7000" }

func (f *followerNode) AddVoter(string, string, time.Duration) error {
	f.addVoters.Add(1)
	return errors.New("unexpected add voter")
}

func TestIndexRegistry_NotLeader(t *testing.T) {
	reg := NewIndexRegistry(&followerNode{}, NewFSM(nil))
	err := reg.Create(context.Background(), mustIndex(t, "x", false))
	if !errors.Is(err, domain.ErrNotLeader) {
		t.Errorf("Create() on follower error = %v, want ErrNotLeader", err)
	}
}

func TestMembership_FollowerDoesNotAddVoters(t *testing.T) {
	f := &followerNode{}
	m := NewMembership(keydist.Node{ID: "self"}, f, staticMembers{}, discardLogger())

	m.HandleJoin(NodeInfo{ID: "peer", Meta: NodeMeta{RaftAddr: "10.0.0.2:7000", RPCAddr: "10.0.0.2:7443"}})

	select {
	case n := <-m.joins:
		if n.ID != "peer" || n.Addr != "10.0.0.2:7443" {
			t.Errorf("queued join = %+v", n)
		}
	default:
		t.Fatal("join was not queued for redistribution")
	}
	if m.IsLeader() {
		t.Error("IsLeader() = true on a follower")
	}
	if n := f.addVoters.Load(); n != 0 {
		t.Errorf("AddVoter called %d times on a follower", n)
	}
}

func TestHCLogger(t *testing.T) {
	l := newHCLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})), "raft")

	if l.IsDebug() || l.IsInfo() || !l.IsWarn() || !l.IsError() {
		t.Error("level checks do not follow the slog handler")
	}
	if l.GetLevel() != hclog.Warn {
		t.Errorf("GetLevel() = %v, want Warn", l.GetLevel())
	}

	named := l.Named("transport")
	if named.Name() != "raft.transport" {
		t.Errorf("Named() name = %q", named.Name())
	}
	with := named.With("peer", "n2")
	if args := with.ImpliedArgs(); len(args) != 2 || args[1] != "n2" {
		t.Errorf("ImpliedArgs() = %v", args)
	}
	if l.ResetNamed("snap").Name() != "snap" {
		t.Error("ResetNamed() did not replace the name")
	}
	if l.StandardLogger(nil) == nil || l.StandardWriter(nil) == nil {
		t.Error("standard logger adapters are nil")
	}
}
