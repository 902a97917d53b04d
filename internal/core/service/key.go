package service

import (
	"context"
	"strings"

	"github.com/yndnr/cloudlock-go/internal/core/domain"
	"github.com/yndnr/cloudlock-go/internal/keydist"
	"github.com/yndnr/cloudlock-go/internal/keystore"
)

// Initializer establishes and distributes the cluster key.
type Initializer interface {
	Initialize(ctx context.Context, privateKey string) (*keydist.InitializeResult, error)
}

// KeyStatus is the key state of one node.
type KeyStatus struct {
	NodeID              string `json:"node_id"`
	NodeName            string `json:"node_name"`
	IsLeader            bool   `json:"is_leader"`
	KeySet              bool   `json:"key_set"`
	KeyID               string `json:"key_id,omitempty"`
	PublicKeyConfigured bool   `json:"public_key_configured"`
}

// KeyService serves the key operations of the admin API.
type KeyService struct {
	initializer Initializer
	cluster     keydist.Cluster
	registry    *keystore.Registry
}

// NewKeyService creates a KeyService.
func NewKeyService(initializer Initializer, cluster keydist.Cluster, registry *keystore.Registry) *KeyService {
	return &KeyService{initializer: initializer, cluster: cluster, registry: registry}
}

// Initialize runs key initialization with the operator's private key.
func (s *KeyService) Initialize(ctx context.Context, privateKey string) (*keydist.InitializeResult, error) {
	privateKey = strings.TrimSpace(privateKey)
	if privateKey == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("key is required")
	}
	return s.initializer.Initialize(ctx, privateKey)
}

// Status reports the key state of this node.
func (s *KeyService) Status(context.Context) KeyStatus {
	local := s.cluster.LocalNode()
	st := KeyStatus{
		NodeID:   local.ID,
		NodeName: local.Name,
		IsLeader: s.cluster.IsLeader(),
	}
	if h, err := s.registry.Hierarchy(); err == nil {
		st.KeySet = true
		st.KeyID = h.ID()
	}
	if _, err := s.registry.PublicKey(); err == nil {
		st.PublicKeyConfigured = true
	}
	return st
}
