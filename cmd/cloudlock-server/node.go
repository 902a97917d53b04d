package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"

	"github.com/yndnr/cloudlock-go/internal/core/service"
	"github.com/yndnr/cloudlock-go/internal/crypto/kek"
	"github.com/yndnr/cloudlock-go/internal/infra/shutdown"
	"github.com/yndnr/cloudlock-go/internal/infra/tlsroots"
	"github.com/yndnr/cloudlock-go/internal/keydist"
	"github.com/yndnr/cloudlock-go/internal/keystore"
	"github.com/yndnr/cloudlock-go/internal/server/config"
	"github.com/yndnr/cloudlock-go/internal/server/httpserver"
	"github.com/yndnr/cloudlock-go/internal/server/httpserver/handler"
	"github.com/yndnr/cloudlock-go/internal/server/localserver"
	"github.com/yndnr/cloudlock-go/internal/storage/blobcrypt"
	"github.com/yndnr/cloudlock-go/internal/storage/blobstore"
	"github.com/yndnr/cloudlock-go/internal/storage/ceff"
	"github.com/yndnr/cloudlock-go/internal/storage/snapshot"
	"github.com/yndnr/cloudlock-go/internal/storage/translog"
	"github.com/yndnr/cloudlock-go/internal/telemetry/metric"
	"github.com/yndnr/cloudlock-go/pkg/crypto/adaptive"
)

type hook struct {
	name string
	fn   shutdown.Hook
}

// node is a started cloudlock-server. hooks stop what was started, in
// startup order.
type node struct {
	cfg     *config.ServerConfig
	id      string
	logger  *slog.Logger
	metrics *metric.Registry
	keys    *keystore.Registry
	fail    func(reason string)

	http  *httpserver.Server
	hooks []hook
}

// keyPlane is what the cluster and standalone wiring hand to the services.
type keyPlane struct {
	indices service.IndexRegistry
	keys    *service.KeyService
	// opened reports when the registry holds its replicated state, so the
	// registered indices can be opened.
	opened <-chan struct{}
}

// newNode starts every component of a node. On failure whatever was
// started is stopped again. fail is called when a background server dies.
func newNode(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger, fail func(reason string)) (*node, error) {
	n := &node{
		cfg:     cfg,
		logger:  logger,
		metrics: metric.NewRegistry(),
		keys:    keystore.New(),
		fail:    fail,
	}
	if err := n.start(ctx); err != nil {
		n.stop(context.Background())
		return nil, err
	}
	return n, nil
}

func (n *node) onStop(name string, fn shutdown.Hook) {
	n.hooks = append(n.hooks, hook{name: name, fn: fn})
}

// stop runs the hooks in reverse order.
func (n *node) stop(ctx context.Context) {
	for i := len(n.hooks) - 1; i >= 0; i-- {
		if err := n.hooks[i].fn(ctx); err != nil {
			n.logger.Warn("stop failed", "component", n.hooks[i].name, "error", err)
		}
	}
	n.hooks = nil
}

func (n *node) httpAddr() string {
	if n.http == nil {
		return ""
	}
	return n.http.Addr()
}

func (n *node) start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	n.onStop("background tasks", func(context.Context) error {
		cancel()
		return nil
	})

	id, err := config.ResolveNodeID(n.cfg, n.logger)
	if err != nil {
		return err
	}
	n.id = id
	n.logger = n.logger.With("node_id", id)

	pub, err := n.cfg.Crypto.LoadPublicKey()
	if err != nil {
		return fmt.Errorf("load public key: %w", err)
	}
	if pub != nil {
		n.keys.SetPublicKey(pub)
	}

	cipher, err := adaptive.ParseCipherType(n.cfg.Crypto.Cipher)
	if err != nil {
		return err
	}
	hierarchyOpts := []kek.Option{kek.WithDefaultCipher(cipher)}
	n.logger.Info("encryption configured", "cipher", cipher, "public_key", pub != nil)

	cache := translog.NewKeyCache(n.keys,
		translog.WithCapacity(n.cfg.Translog.CacheCapacity),
		translog.WithTTL(n.cfg.Translog.CacheTTL),
		translog.WithCacheMetrics(n.metrics))
	n.onStop("translog key cache", func(context.Context) error {
		cache.Close()
		return nil
	})

	alloc, err := service.NewAllocator(service.AllocatorConfig{
		DataDir:  n.cfg.ShardDataDir(),
		Registry: n.keys,
		KeyCache: cache,
		DirectoryOptions: []ceff.Option{
			ceff.WithChunkLength(n.cfg.Crypto.ChunkLength),
			ceff.WithCipher(cipher),
			ceff.WithStrict(n.cfg.Crypto.Strict),
			ceff.WithMetrics(n.metrics),
		},
		TranslogSyncMode: translog.SyncMode(n.cfg.Translog.SyncMode),
		Metrics:          n.metrics,
		Logger:           n.logger.With("component", "allocator"),
	})
	if err != nil {
		return fmt.Errorf("init allocator: %w", err)
	}
	n.onStop("shards", func(context.Context) error { return alloc.Close() })
	go alloc.Run(ctx)

	var plane keyPlane
	if n.cfg.Cluster.Enabled {
		plane, err = n.startCluster(ctx, alloc, hierarchyOpts)
	} else {
		plane, err = n.startStandalone(alloc, hierarchyOpts)
	}
	if err != nil {
		return err
	}

	snapshots, err := n.openRepository()
	if err != nil {
		return fmt.Errorf("init snapshot repository: %w", err)
	}

	indexSvc := service.NewIndexService(plane.indices, alloc, n.logger.With("component", "indices"))
	docSvc := service.NewDocumentService(plane.indices, alloc, n.metrics, n.logger.With("component", "documents"))
	snapSvc := service.NewSnapshotService(plane.indices, alloc, snapshots, n.logger.With("component", "snapshots"))

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-plane.opened:
		}
		if err := indexSvc.OpenIndices(ctx); err != nil {
			n.logger.Warn("opening registered indices failed", "error", err)
		}
	}()

	return n.startHTTP(handler.New(plane.keys, indexSvc, docSvc, snapSvc, n.keys.IsSet, n.logger.With("component", "api")))
}

// startStandalone wires a single node that is always its own leader. The
// transport sealer only ever seals for this node, so its secret is random.
func (n *node) startStandalone(alloc *service.Allocator, opts []kek.Option) (keyPlane, error) {
	local := keydist.Node{
		ID:   n.id,
		Name: n.cfg.Cluster.NodeNameOr(n.id),
		Addr: n.cfg.Cluster.AdvertisedRPCAddr(),
	}
	cluster := keydist.SingleNode{Node: local}

	secret, err := randomSecret()
	if err != nil {
		return keyPlane{}, err
	}
	sealer, err := kek.NewTransportSealer(secret, opts...)
	if err != nil {
		return keyPlane{}, err
	}
	_, coord, err := n.keyDistribution(cluster, nil, sealer, alloc, opts)
	if err != nil {
		return keyPlane{}, err
	}

	registry, err := service.OpenFileIndexRegistry(n.cfg.IndexRegistryPath())
	if err != nil {
		return keyPlane{}, err
	}

	opened := make(chan struct{})
	close(opened)
	n.logger.Info("running standalone", "node_name", local.Name)
	return keyPlane{
		indices: registry,
		keys:    service.NewKeyService(coord, cluster, n.keys),
		opened:  opened,
	}, nil
}

// keyDistribution creates the Applier and Coordinator of this node. A nil
// client limits distribution to the local node.
func (n *node) keyDistribution(cluster keydist.Cluster, client keydist.NodeClient, sealer *kek.TransportSealer, alloc *service.Allocator, opts []kek.Option) (*keydist.Applier, *keydist.Coordinator, error) {
	applier, err := keydist.NewApplier(keydist.ApplierConfig{
		Cluster:       cluster,
		Registry:      n.keys,
		Sealer:        sealer,
		BootstrapPath: n.cfg.BootstrapKeyPath(),
		Metrics:       n.metrics,
		Logger:        n.logger.With("component", "key-applier"),
	})
	if err != nil {
		return nil, nil, err
	}
	coord, err := keydist.NewCoordinator(keydist.CoordinatorConfig{
		Cluster:          cluster,
		Client:           client,
		Applier:          applier,
		Rerouter:         alloc,
		Registry:         n.keys,
		Sealer:           sealer,
		BootstrapPath:    n.cfg.BootstrapKeyPath(),
		Concurrency:      n.cfg.Cluster.DistributionConcurrency,
		HierarchyOptions: opts,
		Metrics:          n.metrics,
		Logger:           n.logger.With("component", "key-coordinator"),
	})
	if err != nil {
		return nil, nil, err
	}
	return applier, coord, nil
}

// openRepository opens the snapshot blob repository. An encrypted
// repository wraps the delegate backend, which is registered under its own
// type name.
func (n *node) openRepository() (*snapshot.Manager, error) {
	blob := n.cfg.Storage.Blob
	repos := blobstore.NewRegistry()
	n.onStop("blob repositories", func(context.Context) error { return repos.Close() })

	backend := blob.Type
	if backend == blobcrypt.RepositoryType {
		backend = blob.Delegate
	}
	badgerCfg := blobstore.DefaultBadgerConfig()
	badgerCfg.GCInterval = blob.BadgerGCInterval
	badgerCfg.CacheSize = blob.BadgerCacheSize

	store, err := blobstore.Open(blobstore.Config{
		Type:   backend,
		Dir:    n.cfg.BlobDir(),
		Badger: badgerCfg,
	}, n.logger.With("component", "blobstore"))
	if err != nil {
		return nil, err
	}
	if b, ok := store.(*blobstore.BadgerStore); ok {
		b.RegisterMetrics(n.metrics.Prometheus())
	}
	if err := repos.Register(backend, store); err != nil {
		store.Close()
		return nil, err
	}

	if blob.Type == blobcrypt.RepositoryType {
		enc, err := blobcrypt.NewRepository(repos, backend, n.keys, n.metrics)
		if err != nil {
			return nil, err
		}
		if err := repos.Register(blobcrypt.RepositoryType, enc); err != nil {
			return nil, err
		}
	}

	repo, err := repos.Get(blob.Type)
	if err != nil {
		return nil, err
	}
	n.logger.Info("snapshot repository opened", "type", blob.Type, "backend", backend, "dir", n.cfg.BlobDir())
	return snapshot.NewManager(repo, snapshot.Config{
		RetentionCount: blob.SnapshotRetention,
		NodeID:         n.id,
		Logger:         n.logger.With("component", "snapshots"),
	})
}

func (n *node) startHTTP(h *handler.Handler) error {
	router := httpserver.NewRouter(httpserver.RouterConfig{
		Handler:        h,
		Metrics:        n.metrics,
		Logger:         n.logger.With("component", "http"),
		RateLimit:      n.cfg.HTTP.RateLimit,
		RateBurst:      n.cfg.HTTP.RateBurst,
		AdminAllowList: n.cfg.HTTP.AdminAllowList,
	})

	var tlsConfig *tls.Config
	if n.cfg.HTTP.TLSCertFile != "" {
		w, err := n.certWatcher("http", n.cfg.HTTP.TLSCertFile, n.cfg.HTTP.TLSKeyFile)
		if err != nil {
			return err
		}
		tlsConfig = tlsroots.ServerConfig(w)
	}

	if path := n.cfg.HTTP.SocketPath; path != "" {
		local := localserver.New(path, httpserver.NewRouter(httpserver.RouterConfig{
			Handler: h,
			Metrics: n.metrics,
			Logger:  n.logger.With("component", "local-admin"),
		}), n.logger.With("component", "local-admin"))
		if err := local.Start(); err != nil {
			return err
		}
		n.onStop("local admin socket", local.Shutdown)
	}

	srv := httpserver.New(n.cfg.HTTP.Addr, router, tlsConfig, n.logger.With("component", "http"))
	srv.OnFailure(func(err error) {
		if n.fail != nil {
			n.fail("admin http server failed: " + err.Error())
		}
	})
	if err := srv.Start(); err != nil {
		return err
	}
	n.http = srv
	n.onStop("http server", srv.Shutdown)
	return nil
}

// certWatcher loads a certificate pair and reloads it when the files change.
func (n *node) certWatcher(name, certFile, keyFile string) (*tlsroots.Watcher, error) {
	w, err := tlsroots.NewWatcher(certFile, keyFile, tlsroots.WithLogger(n.logger.With("component", name+"-tls")))
	if err != nil {
		return nil, fmt.Errorf("load %s certificate: %w", name, err)
	}
	w.StartAsync()
	n.onStop(name+" certificate watcher", func(context.Context) error {
		w.Stop()
		return nil
	})
	return w, nil
}
