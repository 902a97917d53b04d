// Package service provides the domain services of a cloudlock node.
//
// Services orchestrate the domain model and the storage and distribution
// layers. They define interfaces for their dependencies so that the
// cluster and standalone wiring can supply different implementations.
//
// This package contains:
//
//   - IndexService: the index registry and the encryption status query
//   - Allocator: opening encrypted shard directories, and retrying the
//     shards that were blocked while no cluster key was set
//   - KeyService: key initialization and the key status of this node
//
// Services are safe for concurrent use.
package service
