package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr  = "127.0.0.1:5080"
	DefaultRateLimit = 100
	DefaultRateBurst = 200

	DefaultRPCAddr    = "127.0.0.1:5343"
	DefaultRaftAddr   = "127.0.0.1:5344"
	DefaultGossipAddr = "127.0.0.1"
	DefaultGossipPort = 5345

	DefaultRequestTimeout          = 30 * time.Second
	DefaultDistributionConcurrency = 8
	DefaultJoinWindow              = 500 * time.Millisecond

	DefaultChunkLength = 16 * 1024

	DefaultDataDir  = "/var/lib/cloudlock-server/data"
	DefaultBlobType = "fs"

	DefaultBadgerGCInterval = 10 * time.Minute
	DefaultBadgerCacheSize  = 64 << 20

	DefaultSnapshotRetention = 5

	DefaultTranslogSyncMode = "batch"
	DefaultCacheCapacity    = 1000
	DefaultCacheTTL         = 60 * time.Minute

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		HTTP: HTTPSection{
			Addr:      DefaultHTTPAddr,
			RateLimit: DefaultRateLimit,
			RateBurst: DefaultRateBurst,
		},
		Cluster: ClusterSection{
			RPCAddr:                 DefaultRPCAddr,
			RaftAddr:                DefaultRaftAddr,
			GossipAddr:              DefaultGossipAddr,
			GossipPort:              DefaultGossipPort,
			RequestTimeout:          DefaultRequestTimeout,
			DistributionConcurrency: DefaultDistributionConcurrency,
			JoinWindow:              DefaultJoinWindow,
		},
		Crypto: CryptoSection{
			ChunkLength: DefaultChunkLength,
		},
		Storage: StorageSection{
			DataDir: DefaultDataDir,
			Blob: BlobSection{
				Type:              DefaultBlobType,
				BadgerGCInterval:  DefaultBadgerGCInterval,
				BadgerCacheSize:   DefaultBadgerCacheSize,
				SnapshotRetention: DefaultSnapshotRetention,
			},
		},
		Translog: TranslogSection{
			SyncMode:      DefaultTranslogSyncMode,
			CacheCapacity: DefaultCacheCapacity,
			CacheTTL:      DefaultCacheTTL,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
