package clusterserver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/cloudlock-go/internal/keydist"
)

type fakeLeadership struct {
	mu     sync.Mutex
	leader bool
	voters map[string]string
}

func (f *fakeLeadership) IsLeader() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leader
}

func (f *fakeLeadership) AddVoter(id, addr string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.voters == nil {
		f.voters = map[string]string{}
	}
	f.voters[id] = addr
	return nil
}

func (f *fakeLeadership) voter(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.voters[id]
	return a, ok
}

type staticMembers []NodeInfo

func (s staticMembers) Members() []NodeInfo { return s }

func TestMembership_Members(t *testing.T) {
	local := keydist.Node{ID: "b", Name: "b", Addr: "b:1"}
	m := NewMembership(local, &fakeLeadership{leader: true}, staticMembers{
		{ID: "c", Meta: NodeMeta{RPCAddr: "c:1"}},
		{ID: "b", Meta: NodeMeta{RPCAddr: "ignored"}},
		{ID: "a", Meta: NodeMeta{RPCAddr: "a:1"}},
	}, discardLogger())

	got := m.Members()
	want := []keydist.Node{{ID: "a", Name: "a", Addr: "a:1"}, local, {ID: "c", Name: "c", Addr: "c:1"}}
	if len(got) != len(want) {
		t.Fatalf("Members() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Members()[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if !m.IsLeader() || m.LocalNode() != local {
		t.Error("LocalNode or IsLeader mismatch")
	}
}

func TestMembership_JoinBatching(t *testing.T) {
	lead := &fakeLeadership{leader: true}
	m := NewMembership(keydist.Node{ID: "self"}, lead, staticMembers{}, discardLogger())
	m.SetJoinWindow(50 * time.Millisecond)

	batches := make(chan []keydist.Node, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, func(_ context.Context, nodes []keydist.Node) error {
			batches <- nodes
			return nil
		})
		close(done)
	}()

	m.HandleJoin(NodeInfo{ID: "self"})
	m.HandleJoin(NodeInfo{ID: "n1", Meta: NodeMeta{RPCAddr: "n1:7443", RaftAddr: "n1:7000"}})
	m.HandleJoin(NodeInfo{ID: "n2", Meta: NodeMeta{RPCAddr: "n2:7443"}})

	select {
	case b := <-batches:
		if len(b) != 2 || b[0].ID != "n1" || b[1].ID != "n2" || b[0].Addr != "n1:7443" {
			t.Errorf("batch = %+v", b)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no join batch delivered")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if addr, ok := lead.voter("n1"); ok {
			if addr != "n1:7000" {
				t.Errorf("voter addr = %s", addr)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("n1 was not added as a voter")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := lead.voter("n2"); ok {
		t.Error("n2 without raft address added as voter")
	}

	cancel()
	<-done
}
