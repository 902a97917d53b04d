package keydist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/crypto/kek"
	"github.com/yndnr/cloudlock-go/internal/keystore"
	"github.com/yndnr/cloudlock-go/internal/storage/keyfile"
	"github.com/yndnr/cloudlock-go/internal/telemetry/metric"
)

// Applier installs a distributed hierarchy on the local node.
type Applier struct {
	cluster       Cluster
	registry      *keystore.Registry
	sealer        *kek.TransportSealer
	bootstrapPath string
	metrics       *metric.Registry
	logger        *slog.Logger
}

// ApplierConfig configures an Applier.
type ApplierConfig struct {
	Cluster  Cluster
	Registry *keystore.Registry
	Sealer   *kek.TransportSealer

	// BootstrapPath is the local bootstrap key file.
	BootstrapPath string

	Metrics *metric.Registry
	Logger  *slog.Logger
}

// NewApplier creates an Applier.
func NewApplier(cfg ApplierConfig) (*Applier, error) {
	if cfg.Cluster == nil || cfg.Registry == nil || cfg.Sealer == nil {
		return nil, errors.New("keydist: applier needs cluster, registry and sealer")
	}
	if cfg.BootstrapPath == "" {
		return nil, errors.New("keydist: bootstrap path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Applier{
		cluster:       cfg.Cluster,
		registry:      cfg.Registry,
		sealer:        cfg.Sealer,
		bootstrapPath: cfg.BootstrapPath,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}, nil
}

// Apply opens the sealed hierarchy, stores it set-once and persists the
// bootstrap file unless one already exists.
func (a *Applier) Apply(ctx context.Context, req *UpdateKeyRequest) (*NodeResponse, error) {
	if req == nil || req.Sealed == nil {
		return nil, domain.ErrInvalidArgument.WithDetails("update key request without hierarchy")
	}
	h, err := a.sealer.Open(ctx, req.Sealed)
	if err != nil {
		if errors.Is(err, domain.ErrAuthentication) {
			a.metrics.AuthFailure(metric.ComponentKey)
		}
		return nil, err
	}

	actual, stored := a.registry.SetOrGet(h)
	if stored {
		a.metrics.SetKeyReady()
		a.logger.Info("cluster key set", "hierarchy_id", h.ID(), "leader", req.LeaderID)
	} else if actual.ID() != h.ID() {
		a.logger.Warn("cluster key already set to a different hierarchy",
			"current_id", actual.ID(),
			"received_id", h.ID(),
			"leader", req.LeaderID)
	}

	persisted := true
	if err := keyfile.CreateExclusive(a.bootstrapPath, h.RSAWrapped()); err != nil {
		if !errors.Is(err, domain.ErrKeyAlreadyExists) {
			return nil, fmt.Errorf("keydist: persist bootstrap key: %w", err)
		}
		persisted = false
	}

	local := a.cluster.LocalNode()
	return &NodeResponse{
		NodeID:       local.ID,
		NodeName:     local.Name,
		IsLeader:     a.cluster.IsLeader(),
		KeySet:       stored,
		KeyPersisted: persisted,
	}, nil
}
