// Package domain defines the core domain models for cloudlock.
//
// Domain models are plain value objects without IO dependencies:
//
//   - Index: a storage unit whose files may be encrypted at rest
//   - ShardID: the (index, shard) address used for per-shard keys
//   - Errors: the error taxonomy shared by every component
package domain
