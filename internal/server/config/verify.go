package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/yndnr/cloudlock-go/internal/crypto/kek"
	"github.com/yndnr/cloudlock-go/internal/storage/blobcrypt"
	"github.com/yndnr/cloudlock-go/internal/storage/blobstore"
	"github.com/yndnr/cloudlock-go/internal/storage/ceff"
	"github.com/yndnr/cloudlock-go/internal/telemetry/logger"
	"github.com/yndnr/cloudlock-go/pkg/crypto/adaptive"
)

// MinSecretLength is the minimum length of cluster.secret.
const MinSecretLength = 16

// Verify validates the configuration.
func Verify(cfg *ServerConfig) error {
	if err := verifyHTTP(&cfg.HTTP); err != nil {
		return err
	}
	if err := verifyCluster(&cfg.Cluster); err != nil {
		return err
	}
	if err := verifyCrypto(&cfg.Crypto); err != nil {
		return err
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyTranslog(&cfg.Translog); err != nil {
		return err
	}
	return verifyLog(&cfg.Log)
}

func verifyHTTP(cfg *HTTPSection) error {
	if err := verifyAddr("http.addr", cfg.Addr); err != nil {
		return err
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return errors.New("http.tls_cert_file and http.tls_key_file must be set together")
	}
	if cfg.RateLimit < 0 {
		return errors.New("http.rate_limit must not be negative")
	}
	if cfg.RateLimit > 0 && cfg.RateBurst < 1 {
		return errors.New("http.rate_burst must be at least 1 when rate limiting is on")
	}
	if cfg.SocketPath != "" && !filepath.IsAbs(cfg.SocketPath) {
		return errors.New("http.socket_path must be an absolute path")
	}
	for _, entry := range cfg.AdminAllowList {
		if _, err := netip.ParsePrefix(entry); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(entry); err != nil {
			return fmt.Errorf("http.admin_allow_list: %q is not an address or CIDR", entry)
		}
	}
	return nil
}

func verifyCluster(cfg *ClusterSection) error {
	if cfg.Secret != "" && len(cfg.Secret) < MinSecretLength {
		return fmt.Errorf("cluster.secret must be at least %d characters", MinSecretLength)
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return errors.New("cluster.tls_cert_file and cluster.tls_key_file must be set together")
	}
	if cfg.TLSCAFile != "" && cfg.TLSCertFile == "" {
		return errors.New("cluster.tls_ca_file requires cluster.tls_cert_file")
	}
	if cfg.DistributionConcurrency < 1 {
		return errors.New("cluster.distribution_concurrency must be at least 1")
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New("cluster.request_timeout must be positive")
	}
	if !cfg.Enabled {
		return nil
	}

	if cfg.Secret == "" {
		return errors.New("cluster.secret is required in cluster mode")
	}
	if cfg.Bootstrap && len(cfg.Seeds) > 0 {
		return errors.New("cluster.bootstrap and cluster.seeds are mutually exclusive")
	}
	for _, addr := range []struct{ name, value string }{
		{"cluster.rpc_addr", cfg.RPCAddr},
		{"cluster.raft_addr", cfg.RaftAddr},
	} {
		if err := verifyAddr(addr.name, addr.value); err != nil {
			return err
		}
	}
	if cfg.GossipPort < 0 || cfg.GossipPort > 65535 {
		return fmt.Errorf("cluster.gossip_port %d out of range", cfg.GossipPort)
	}
	if cfg.JoinWindow < 0 {
		return errors.New("cluster.join_window must not be negative")
	}
	return nil
}

func verifyCrypto(cfg *CryptoSection) error {
	if _, err := adaptive.ParseCipherType(cfg.Cipher); err != nil {
		return fmt.Errorf("crypto.cipher: %w", err)
	}
	if cfg.ChunkLength < ceff.MinChunkLength || cfg.ChunkLength > ceff.MaxChunkLength {
		return fmt.Errorf("crypto.chunk_length must be between %d and %d", ceff.MinChunkLength, ceff.MaxChunkLength)
	}
	if cfg.PublicKey != "" && cfg.PublicKeyFile != "" {
		return errors.New("crypto.public_key and crypto.public_key_file are mutually exclusive")
	}
	if cfg.PublicKey != "" {
		if _, err := kek.ParsePublicKey(cfg.PublicKey); err != nil {
			return fmt.Errorf("crypto.public_key: %w", err)
		}
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}

	// Check if data directory exists or can be created
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}

	switch cfg.Blob.Type {
	case blobstore.TypeFS, blobstore.TypeBadger, blobstore.TypeMemory:
	case blobcrypt.RepositoryType:
		switch cfg.Blob.Delegate {
		case blobstore.TypeFS, blobstore.TypeBadger, blobstore.TypeMemory:
		case "":
			return errors.New("storage.blob.delegate is required for encrypted repositories")
		default:
			return fmt.Errorf("storage.blob.delegate: unknown type %q", cfg.Blob.Delegate)
		}
	default:
		return fmt.Errorf("storage.blob.type: unknown type %q", cfg.Blob.Type)
	}
	if cfg.Blob.SnapshotRetention < 1 {
		return errors.New("storage.blob.snapshot_retention must be at least 1")
	}
	return nil
}

func verifyTranslog(cfg *TranslogSection) error {
	switch cfg.SyncMode {
	case "sync", "batch":
	default:
		return fmt.Errorf("translog.sync_mode: unknown mode %q", cfg.SyncMode)
	}
	if cfg.CacheCapacity < 1 {
		return errors.New("translog.cache_capacity must be at least 1")
	}
	if cfg.CacheTTL <= 0 {
		return errors.New("translog.cache_ttl must be positive")
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	if _, err := logger.ParseLevel(cfg.Level); err != nil {
		return fmt.Errorf("log.level: unknown level %q", cfg.Level)
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
	return nil
}

func verifyAddr(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", name)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}
