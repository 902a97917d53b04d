// Package snapshot copies shard translogs into a blob repository and back.
//
// A snapshot of an index is one manifest blob plus one container per shard:
//
//	<index uuid>                      snap-<timestamp>-<seq>.json
//	<index uuid>/<snapshot id>/<n>    translog segments and the translog key file
//
// The manifest records the size and SHA-256 of every file, so Verify and
// Restore detect a repository that lost or altered a blob. Encrypted
// indices keep their translog sources sealed and their key file wrapped in
// the snapshot; restoring them needs the same cluster key.
package snapshot
