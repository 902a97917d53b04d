// Package clusterserver provides node-to-node communication for cloudlock.
//
// This package carries the cluster key distribution between nodes:
//
//   - KeyService RPC handlers and a per-peer client (Connect, JSON codec)
//   - Raft consensus for leadership and the replicated index registry
//   - Gossip membership whose join events trigger key redistribution
//
// Requests between nodes are authenticated with an HMAC token derived from
// the shared cluster secret and may additionally run over mutual TLS.
package clusterserver
