package config

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/yndnr/cloudlock-go/internal/crypto/kek"
	"github.com/yndnr/cloudlock-go/internal/storage/keyfile"
)

// NodeIDFile keeps a generated node id stable across restarts.
const NodeIDFile = "node_id"

// ResolveNodeID returns cluster.node_id, or the id persisted in the data
// directory, generating and persisting one on first start.
func ResolveNodeID(cfg *ServerConfig, logger *slog.Logger) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("server config is nil")
	}
	if cfg.Cluster.NodeID != "" {
		return cfg.Cluster.NodeID, nil
	}

	path := filepath.Join(cfg.Storage.DataDir, NodeIDFile)
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read node ID: %w", err)
	}

	id, err := generateNodeID()
	if err != nil {
		return "", fmt.Errorf("generate node ID: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o750); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o640); err != nil {
		return "", fmt.Errorf("persist node ID: %w", err)
	}
	if logger != nil {
		logger.Info("generated cluster node ID", "node_id", id)
	}
	return id, nil
}

// NodeNameOr returns the display name of the node.
func (c *ClusterSection) NodeNameOr(nodeID string) string {
	if c.NodeName != "" {
		return c.NodeName
	}
	return nodeID
}

// AdvertisedRPCAddr returns the key service address other nodes dial.
func (c *ClusterSection) AdvertisedRPCAddr() string {
	if c.AdvertiseRPCAddr != "" {
		return c.AdvertiseRPCAddr
	}
	return c.RPCAddr
}

// RaftDataDir returns the directory of the raft log and snapshots.
func (cfg *ServerConfig) RaftDataDir() string {
	if cfg.Cluster.DataDir != "" {
		return cfg.Cluster.DataDir
	}
	return filepath.Join(cfg.Storage.DataDir, "raft")
}

// ShardDataDir returns the root of the shard directories.
func (cfg *ServerConfig) ShardDataDir() string {
	return filepath.Join(cfg.Storage.DataDir, "indices")
}

// IndexRegistryPath returns the index registry file of a standalone node.
func (cfg *ServerConfig) IndexRegistryPath() string {
	return filepath.Join(cfg.Storage.DataDir, "indices.json")
}

// BootstrapKeyPath returns the path of the RSA-wrapped master key file.
func (cfg *ServerConfig) BootstrapKeyPath() string {
	return filepath.Join(cfg.Storage.DataDir, keyfile.ClusterKeyName)
}

// BlobDir returns the root of the blob repository.
func (cfg *ServerConfig) BlobDir() string {
	if cfg.Storage.Blob.Dir != "" {
		return cfg.Storage.Blob.Dir
	}
	return filepath.Join(cfg.Storage.DataDir, "blobs")
}

// LoadPublicKey returns the configured cluster public key, or nil when
// none is configured.
func (c *CryptoSection) LoadPublicKey() (*rsa.PublicKey, error) {
	s := c.PublicKey
	if s == "" && c.PublicKeyFile != "" {
		b, err := os.ReadFile(c.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read public key file: %w", err)
		}
		s = strings.TrimSpace(string(b))
	}
	if s == "" {
		return nil, nil
	}
	return kek.ParsePublicKey(s)
}

// generateNodeID generates a unique node identifier.
//
// Format: clnode-<16 hex chars> (e.g., "clnode-a1b2c3d4e5f67890")
func generateNodeID() (string, error) {
	buf := make([]byte, 8) // 8 bytes = 16 hex chars
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return "clnode-" + hex.EncodeToString(buf), nil
}
