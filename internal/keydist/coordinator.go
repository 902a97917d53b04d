package keydist

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/crypto/kek"
	"github.com/yndnr/cloudlock-go/internal/keystore"
	"github.com/yndnr/cloudlock-go/internal/storage/keyfile"
	"github.com/yndnr/cloudlock-go/internal/telemetry/metric"
)

// DefaultConcurrency bounds the number of in-flight node updates.
const DefaultConcurrency = 8

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	Cluster  Cluster
	Client   NodeClient
	Applier  *Applier
	Rerouter Rerouter
	Registry *keystore.Registry
	Sealer   *kek.TransportSealer

	// BootstrapPath is the leader's bootstrap key file.
	BootstrapPath string

	// Concurrency bounds the fan-out. Zero means DefaultConcurrency.
	Concurrency int

	// HierarchyOptions are applied to recovered and minted hierarchies.
	HierarchyOptions []kek.Option

	Metrics *metric.Registry
	Logger  *slog.Logger
}

// Coordinator runs the bootstrap and distribution protocol on the leader.
type Coordinator struct {
	cfg CoordinatorConfig

	// initMu serialises operator initialize requests on this node.
	initMu sync.Mutex
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Cluster == nil || cfg.Applier == nil || cfg.Registry == nil || cfg.Sealer == nil {
		return nil, errors.New("keydist: coordinator needs cluster, applier, registry and sealer")
	}
	if cfg.BootstrapPath == "" {
		return nil, errors.New("keydist: bootstrap path is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Coordinator{cfg: cfg}, nil
}

// Initialize establishes the hierarchy from the operator supplied private
// key and distributes it. All preconditions are checked before any state
// changes: the node must lead, a public key must be configured and the
// private key must belong to it.
func (c *Coordinator) Initialize(ctx context.Context, privateKey string) (*InitializeResult, error) {
	if !c.cfg.Cluster.IsLeader() {
		return nil, domain.ErrNotLeader
	}
	pub, err := c.cfg.Registry.PublicKey()
	if err != nil {
		return nil, err
	}
	priv, err := kek.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	if !kek.IsKeyPair(pub, priv) {
		return nil, domain.ErrKeyPairMismatch
	}

	c.initMu.Lock()
	defer c.initMu.Unlock()

	h, created, err := c.loadOrMint(pub, priv)
	if err != nil {
		return nil, err
	}
	c.cfg.Logger.Info("cluster key ready for distribution", "hierarchy_id", h.ID(), "created", created)

	res, err := c.broadcast(ctx, h, created)
	if err != nil {
		return nil, err
	}
	out := &InitializeResult{KeyID: h.ID(), Created: created, Distribution: res}
	if res.OK() {
		out.Rerouted = c.reroute(ctx)
	}
	return out, nil
}

// loadOrMint recovers the hierarchy from the bootstrap file, minting and
// exclusively creating the file when it does not exist yet.
func (c *Coordinator) loadOrMint(pub *rsa.PublicKey, priv *rsa.PrivateKey) (*kek.Hierarchy, bool, error) {
	ok, err := keyfile.Exists(c.cfg.BootstrapPath)
	if err != nil {
		return nil, false, fmt.Errorf("keydist: stat bootstrap key: %w", err)
	}
	if !ok {
		h, err := kek.Mint(pub, c.cfg.HierarchyOptions...)
		if err != nil {
			return nil, false, err
		}
		err = keyfile.CreateExclusive(c.cfg.BootstrapPath, h.RSAWrapped())
		if err == nil {
			c.cfg.Metrics.KeyMinted("bootstrap")
			return h, true, nil
		}
		if !errors.Is(err, domain.ErrKeyAlreadyExists) {
			return nil, false, fmt.Errorf("keydist: persist bootstrap key: %w", err)
		}
	}

	wrapped, err := keyfile.Read(c.cfg.BootstrapPath)
	if err != nil {
		return nil, false, fmt.Errorf("keydist: read bootstrap key: %w", err)
	}
	h, err := kek.FromBootstrap(priv, wrapped, c.cfg.HierarchyOptions...)
	if err != nil {
		if errors.Is(err, domain.ErrAuthentication) {
			c.cfg.Metrics.AuthFailure(metric.ComponentKey)
		}
		return nil, false, err
	}
	return h, false, nil
}

// Broadcast seals h and delivers it to every member. The local node is
// applied in-process. Failures are collected per node; cancelling ctx
// cancels every outstanding request.
func (c *Coordinator) Broadcast(ctx context.Context, h *kek.Hierarchy) (*BroadcastResult, error) {
	return c.broadcast(ctx, h, false)
}

// broadcast is Broadcast for a caller that may have just written the local
// bootstrap file itself. The local node then reports the key as persisted
// even though its own exclusive create finds the file present.
func (c *Coordinator) broadcast(ctx context.Context, h *kek.Hierarchy, mintedLocally bool) (*BroadcastResult, error) {
	sealed, err := c.cfg.Sealer.Seal(ctx, h)
	if err != nil {
		return nil, err
	}
	local := c.cfg.Cluster.LocalNode()
	req := &UpdateKeyRequest{LeaderID: local.ID, Sealed: sealed}

	members := c.cfg.Cluster.Members()
	res := &BroadcastResult{Nodes: make(map[string]NodeResponse, len(members))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for _, node := range members {
		g.Go(func() error {
			resp, err := c.deliver(gctx, local, node, req)
			if err == nil && node.ID == local.ID && mintedLocally {
				resp.KeyPersisted = true
			}

			mu.Lock()
			defer mu.Unlock()
			c.cfg.Metrics.NodeResult(err == nil)
			if err != nil {
				c.cfg.Logger.Warn("key distribution to node failed", "node_id", node.ID, "error", err)
				res.Failures = append(res.Failures, NodeFailure{NodeID: node.ID, Reason: err.Error()})
				return nil
			}
			res.Nodes[node.ID] = *resp
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return res, err
	}
	c.cfg.Logger.Info("key distribution finished",
		"hierarchy_id", h.ID(),
		"nodes", len(res.Nodes),
		"failures", len(res.Failures))
	return res, nil
}

func (c *Coordinator) deliver(ctx context.Context, local, node Node, req *UpdateKeyRequest) (*NodeResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if node.ID == local.ID {
		return c.cfg.Applier.Apply(ctx, req)
	}
	if c.cfg.Client == nil {
		return nil, fmt.Errorf("keydist: no client to reach node %s", node.ID)
	}
	resp, err := c.cfg.Client.UpdateKey(ctx, node, req)
	if err != nil {
		return nil, err
	}
	if resp.NodeID == "" {
		resp.NodeID = node.ID
	}
	return resp, nil
}

// OnMembersJoined re-distributes the held hierarchy to the whole membership
// when this node leads. Nodes that joined are only used for logging; the
// broadcast always targets every member.
func (c *Coordinator) OnMembersJoined(ctx context.Context, nodes []Node) error {
	if !c.cfg.Cluster.IsLeader() || !c.cfg.Registry.IsSet() {
		return nil
	}
	h, err := c.cfg.Registry.Hierarchy()
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	c.cfg.Logger.Info("members joined, redistributing cluster key", "joined", ids)

	res, err := c.Broadcast(ctx, h)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("keydist: redistribution failed on %d node(s)", len(res.Failures))
	}
	c.reroute(ctx)
	return nil
}

func (c *Coordinator) reroute(ctx context.Context) bool {
	if c.cfg.Rerouter == nil {
		return false
	}
	if err := c.cfg.Rerouter.Reroute(ctx, true); err != nil {
		c.cfg.Logger.Warn("reroute after key distribution failed", "error", err)
		return false
	}
	return true
}
