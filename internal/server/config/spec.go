package config

import "time"

// ServerConfig is the root configuration for cloudlock-server.
type ServerConfig struct {
	HTTP     HTTPSection     `koanf:"http"`
	Cluster  ClusterSection  `koanf:"cluster"`
	Crypto   CryptoSection   `koanf:"crypto"`
	Storage  StorageSection  `koanf:"storage"`
	Translog TranslogSection `koanf:"translog"`
	Log      LogSection      `koanf:"log"`
}

// HTTPSection configures the admin REST API.
type HTTPSection struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`

	// RateLimit is the per client request rate in requests per second.
	// Zero disables rate limiting.
	RateLimit int `koanf:"rate_limit"`
	RateBurst int `koanf:"rate_burst"`

	// AdminAllowList restricts the /_cloudlock/api and /indices routes to
	// these CIDRs or addresses. Empty allows every client.
	AdminAllowList []string `koanf:"admin_allow_list"`

	// SocketPath also serves the admin API on a Unix socket for clients on
	// the same host. The allow list and rate limit do not apply to it.
	// Empty disables the socket.
	SocketPath string `koanf:"socket_path"`
}

// ClusterSection configures the cluster node.
type ClusterSection struct {
	// Enabled runs raft and gossip. A disabled cluster is a single
	// standalone node that is always its own leader.
	Enabled bool `koanf:"enabled"`

	// NodeID is the unique identifier for this node.
	// If empty, a random ID is generated at startup.
	NodeID string `koanf:"node_id"`

	// NodeName is the display name reported in distribution results.
	// Defaults to the node id.
	NodeName string `koanf:"node_name"`

	// RPCAddr is the bind address of the node to node key service.
	RPCAddr string `koanf:"rpc_addr"`

	// AdvertiseRPCAddr is the key service address other nodes dial.
	// Defaults to RPCAddr.
	AdvertiseRPCAddr string `koanf:"advertise_rpc_addr"`

	// RaftAddr is the Raft TCP bind address (e.g., "192.168.1.10:5343").
	RaftAddr string `koanf:"raft_addr"`

	// GossipAddr and GossipPort are the memberlist bind address.
	GossipAddr string `koanf:"gossip_addr"`
	GossipPort int    `koanf:"gossip_port"`

	// Bootstrap indicates if this node bootstraps a new cluster.
	// Mutually exclusive with Seeds.
	Bootstrap bool `koanf:"bootstrap"`

	// Seeds is the list of gossip addresses to join an existing cluster.
	// Format: ["192.168.1.10:5344", "192.168.1.11:5344"]
	Seeds []string `koanf:"seeds"`

	// DataDir is the directory for Raft log and snapshot storage.
	DataDir string `koanf:"data_dir"`

	// Secret authenticates node to node requests and seals distributed keys.
	Secret string `koanf:"secret"`

	// TLSCAFile, TLSCertFile and TLSKeyFile enable mutual TLS between nodes.
	TLSCAFile   string `koanf:"tls_ca_file"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`

	// RequestTimeout bounds one node to node request.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// DistributionConcurrency bounds parallel key deliveries.
	DistributionConcurrency int `koanf:"distribution_concurrency"`

	// JoinWindow groups node joins into one re-broadcast.
	JoinWindow time.Duration `koanf:"join_window"`
}

// CryptoSection configures encryption at rest.
type CryptoSection struct {
	// Cipher is the AEAD family of new encrypted files: aes-gcm or
	// chacha20-poly1305. Empty picks the faster one for this CPU.
	Cipher string `koanf:"cipher"`

	// PublicKey is the base64 X.509 RSA public key of the cluster operator.
	PublicKey string `koanf:"public_key"`

	// PublicKeyFile is read when PublicKey is empty.
	PublicKeyFile string `koanf:"public_key_file"`

	// ChunkLength is the plaintext chunk size of encrypted files.
	ChunkLength int `koanf:"chunk_length"`

	// Strict refuses to read files of encrypted directories that were
	// written without encryption.
	Strict bool `koanf:"strict"`
}

// StorageSection configures shard directories and blob repositories.
type StorageSection struct {
	DataDir string      `koanf:"data_dir"`
	Blob    BlobSection `koanf:"blob"`
}

// BlobSection configures the snapshot blob repository.
type BlobSection struct {
	// Type is fs, badger, memory or encrypted.
	Type string `koanf:"type"`

	// Dir is the repository root. Defaults to <storage.data_dir>/blobs.
	Dir string `koanf:"dir"`

	// Delegate is the backend an encrypted repository writes to.
	Delegate string `koanf:"delegate"`

	BadgerGCInterval time.Duration `koanf:"badger_gc_interval"`
	BadgerCacheSize  int64         `koanf:"badger_cache_size"`

	// SnapshotRetention is the number of snapshots kept per index.
	SnapshotRetention int `koanf:"snapshot_retention"`
}

// TranslogSection configures shard transaction logs and their key cache.
type TranslogSection struct {
	// SyncMode is sync (fsync every append) or batch (fsync on an interval).
	SyncMode string `koanf:"sync_mode"`

	CacheCapacity uint64        `koanf:"cache_capacity"`
	CacheTTL      time.Duration `koanf:"cache_ttl"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
