package clusterserver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/hashicorp/memberlist"
)

// NodeMeta is gossiped with every member.
type NodeMeta struct {
	RPCAddr  string `json:"rpc_addr"`
	RaftAddr string `json:"raft_addr"`
}

// NodeInfo is a discovered member.
type NodeInfo struct {
	ID         string
	GossipAddr string
	Meta       NodeMeta
}

func nodeInfo(n *memberlist.Node) NodeInfo {
	info := NodeInfo{
		ID:         n.Name,
		GossipAddr: net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))),
	}
	_ = json.Unmarshal(n.Meta, &info.Meta)
	return info
}

// Discovery handles node discovery and membership using the gossip protocol.
type Discovery struct {
	memberList *memberlist.Memberlist
	logger     *slog.Logger
	stopOnce   sync.Once

	mu      sync.RWMutex
	onJoin  func(NodeInfo)
	onLeave func(NodeInfo)
}

// DiscoveryConfig configures the discovery mechanism.
type DiscoveryConfig struct {
	// NodeID is the unique node identifier.
	NodeID string

	// BindAddr and BindPort are the gossip listen address.
	BindAddr string
	BindPort int

	// AdvertiseAddr and AdvertisePort override the address peers dial.
	AdvertiseAddr string
	AdvertisePort int

	// Meta is published to the other members.
	Meta NodeMeta

	// SeedNodes are the initial nodes to join.
	SeedNodes []string

	Logger *slog.Logger
}

// NewDiscovery starts gossip and joins the seed nodes.
func NewDiscovery(cfg DiscoveryConfig) (*Discovery, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	meta, err := json.Marshal(cfg.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode node metadata: %w", err)
	}
	if len(meta) > memberlist.MetaMaxSize {
		return nil, fmt.Errorf("node metadata is %d bytes, limit %d", len(meta), memberlist.MetaMaxSize)
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	if cfg.AdvertiseAddr != "" {
		mlConfig.AdvertiseAddr = cfg.AdvertiseAddr
		mlConfig.AdvertisePort = cfg.AdvertisePort
	}
	mlConfig.Delegate = &metadataDelegate{meta: meta}
	mlConfig.LogOutput = &slogWriter{logger: cfg.Logger.With("component", "memberlist")}

	d := &Discovery{logger: cfg.Logger}
	mlConfig.Events = &eventDelegate{discovery: d}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	d.memberList = ml

	if len(cfg.SeedNodes) > 0 {
		n, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			ml.Shutdown()
			return nil, fmt.Errorf("join seed nodes: %w", err)
		}
		cfg.Logger.Info("joined cluster",
			"node_id", cfg.NodeID,
			"seed_nodes", cfg.SeedNodes,
			"joined_count", n)
	} else {
		cfg.Logger.Info("started discovery (bootstrap mode)", "node_id", cfg.NodeID)
	}
	return d, nil
}

// Members returns the current members.
func (d *Discovery) Members() []NodeInfo {
	nodes := d.memberList.Members()
	out := make([]NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeInfo(n))
	}
	return out
}

// LocalNode returns the local member.
func (d *Discovery) LocalNode() NodeInfo {
	return nodeInfo(d.memberList.LocalNode())
}

// OnJoin registers the callback for node join events.
func (d *Discovery) OnJoin(fn func(NodeInfo)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onJoin = fn
}

// OnLeave registers the callback for node leave events.
func (d *Discovery) OnLeave(fn func(NodeInfo)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onLeave = fn
}

// Leave announces departure to the other members.
func (d *Discovery) Leave() error {
	if err := d.memberList.Leave(0); err != nil {
		d.logger.Error("failed to leave cluster", "error", err)
		return err
	}
	d.logger.Info("left cluster")
	return nil
}

// Shutdown stops gossip. It is safe to call more than once.
func (d *Discovery) Shutdown() error {
	var err error
	d.stopOnce.Do(func() {
		if e := d.memberList.Shutdown(); e != nil {
			err = fmt.Errorf("shutdown memberlist: %w", e)
			return
		}
		d.logger.Info("discovery shutdown complete")
	})
	return err
}

// eventDelegate implements memberlist.EventDelegate.
type eventDelegate struct {
	discovery *Discovery
}

func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	info := nodeInfo(node)
	e.discovery.logger.Info("node joined",
		"node_id", info.ID,
		"gossip_addr", info.GossipAddr,
		"rpc_addr", info.Meta.RPCAddr)

	e.discovery.mu.RLock()
	fn := e.discovery.onJoin
	e.discovery.mu.RUnlock()
	if fn != nil {
		fn(info)
	}
}

func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	info := nodeInfo(node)
	e.discovery.logger.Info("node left", "node_id", info.ID)

	e.discovery.mu.RLock()
	fn := e.discovery.onLeave
	e.discovery.mu.RUnlock()
	if fn != nil {
		fn(info)
	}
}

func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	e.discovery.logger.Debug("node updated", "node_id", node.Name)
}

// slogWriter adapts slog.Logger to io.Writer for memberlist and raft.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.logger.Debug(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// metadataDelegate publishes the node metadata to memberlist.
type metadataDelegate struct {
	meta []byte
}

func (m *metadataDelegate) NodeMeta(limit int) []byte {
	if len(m.meta) > limit {
		return nil
	}
	return m.meta
}

func (m *metadataDelegate) NotifyMsg([]byte)                           {}
func (m *metadataDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (m *metadataDelegate) LocalState(join bool) []byte                { return nil }
func (m *metadataDelegate) MergeRemoteState(buf []byte, join bool)     {}
