package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"fmt"

	"github.com/yndnr/cloudlock-go/internal/core/service"
	"github.com/yndnr/cloudlock-go/internal/crypto/kek"
	"github.com/yndnr/cloudlock-go/internal/infra/tlsroots"
	"github.com/yndnr/cloudlock-go/internal/keydist"
	"github.com/yndnr/cloudlock-go/internal/server/clusterserver"
)

// standaloneSecretLength is the size of the random transport secret of a
// standalone node.
const standaloneSecretLength = 32

func randomSecret() ([]byte, error) {
	secret := make([]byte, standaloneSecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate transport secret: %w", err)
	}
	return secret, nil
}

// startCluster joins or bootstraps the cluster: Raft replicates the index
// registry, gossip finds members and the key service carries sealed keys
// between nodes.
func (n *node) startCluster(ctx context.Context, alloc *service.Allocator, opts []kek.Option) (keyPlane, error) {
	cfg := &n.cfg.Cluster
	secret := []byte(cfg.Secret)

	sealer, err := kek.NewTransportSealer(secret, opts...)
	if err != nil {
		return keyPlane{}, err
	}

	fsm := clusterserver.NewFSM(n.logger.With("component", "fsm"))
	raftNode, err := clusterserver.NewRaftNode(clusterserver.RaftConfig{
		NodeID:    n.id,
		BindAddr:  cfg.RaftAddr,
		DataDir:   n.cfg.RaftDataDir(),
		Bootstrap: cfg.Bootstrap,
		Logger:    n.logger.With("component", "raft"),
	}, fsm)
	if err != nil {
		return keyPlane{}, fmt.Errorf("start raft: %w", err)
	}
	n.onStop("raft", func(context.Context) error { return raftNode.Close() })

	discovery, err := clusterserver.NewDiscovery(clusterserver.DiscoveryConfig{
		NodeID:   n.id,
		BindAddr: cfg.GossipAddr,
		BindPort: cfg.GossipPort,
		Meta: clusterserver.NodeMeta{
			RPCAddr:  cfg.AdvertisedRPCAddr(),
			RaftAddr: raftNode.Addr(),
		},
		SeedNodes: cfg.Seeds,
		Logger:    n.logger.With("component", "gossip"),
	})
	if err != nil {
		return keyPlane{}, fmt.Errorf("start discovery: %w", err)
	}
	n.onStop("gossip", func(context.Context) error {
		if err := discovery.Leave(); err != nil {
			n.logger.Warn("leaving the cluster failed", "error", err)
		}
		return discovery.Shutdown()
	})

	local := keydist.Node{
		ID:   n.id,
		Name: cfg.NodeNameOr(n.id),
		Addr: cfg.AdvertisedRPCAddr(),
	}
	membership := clusterserver.NewMembership(local, raftNode, discovery, n.logger.With("component", "membership"))
	membership.SetJoinWindow(cfg.JoinWindow)
	discovery.OnJoin(membership.HandleJoin)

	serverTLS, clientTLS, err := n.clusterTLS()
	if err != nil {
		return keyPlane{}, err
	}
	client, err := clusterserver.NewClient(clusterserver.ClientConfig{
		Secret:  secret,
		TLS:     clientTLS,
		Timeout: cfg.RequestTimeout,
		Logger:  n.logger.With("component", "cluster-client"),
	})
	if err != nil {
		return keyPlane{}, err
	}

	applier, coord, err := n.keyDistribution(membership, client, sealer, alloc, opts)
	if err != nil {
		return keyPlane{}, err
	}
	keys := service.NewKeyService(coord, membership, n.keys)

	status := func() clusterserver.NodeStatus {
		return clusterserver.NodeStatus(keys.Status(ctx))
	}
	rpc, err := clusterserver.NewServer(clusterserver.ServerConfig{
		Addr:   cfg.RPCAddr,
		Secret: secret,
		TLS:    serverTLS,
		Logger: n.logger.With("component", "cluster-server"),
	}, clusterserver.NewHandler(applier, status, n.logger.With("component", "key-service")))
	if err != nil {
		return keyPlane{}, err
	}
	if err := rpc.Start(); err != nil {
		return keyPlane{}, fmt.Errorf("start key service: %w", err)
	}
	n.onStop("key service", rpc.Shutdown)

	go membership.Run(ctx, coord.OnMembersJoined)

	opened := make(chan struct{})
	go func() {
		if err := raftNode.WaitForLeader(ctx); err != nil {
			return
		}
		n.logger.Info("raft leader known", "leader", raftNode.LeaderID(), "is_leader", raftNode.IsLeader())
		close(opened)
	}()

	n.logger.Info("cluster node started",
		"node_name", local.Name,
		"rpc_addr", rpc.Addr(),
		"raft_addr", raftNode.Addr(),
		"bootstrap", cfg.Bootstrap,
		"seeds", cfg.Seeds,
		"tls", serverTLS != nil)
	return keyPlane{
		indices: clusterserver.NewIndexRegistry(raftNode, fsm),
		keys:    keys,
		opened:  opened,
	}, nil
}

// clusterTLS returns the mutual TLS configs of the key service, or nils
// when no cluster certificate is configured.
func (n *node) clusterTLS() (server, client *tls.Config, err error) {
	cfg := &n.cfg.Cluster
	if cfg.TLSCertFile == "" {
		return nil, nil, nil
	}
	w, err := n.certWatcher("cluster", cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return nil, nil, err
	}
	var ca *tlsroots.Pool
	if cfg.TLSCAFile != "" {
		if ca, err = tlsroots.LoadCA(cfg.TLSCAFile); err != nil {
			return nil, nil, fmt.Errorf("load cluster CA: %w", err)
		}
	}
	return tlsroots.ClusterConfigs(w, ca)
}
