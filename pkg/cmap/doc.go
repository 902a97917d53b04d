// Package cmap provides a string keyed map split into independently
// locked shards.
//
// Keys are spread over the shards with murmur3, the same hash that routes
// documents to index shards, so blob paths of one container do not pile up
// behind one lock:
//
//	m := cmap.New[[]byte](cmap.DefaultShardCount)
//	m.Set("snapshots/orders/manifest", data)
//	if m.SetIfAbsent(key, data) { ... }
//	m.RangePrefix("snapshots/orders/", func(k string, v []byte) bool { ... })
//
// All methods are safe for concurrent use. Range and RangePrefix lock one
// shard at a time, so they do not see a single point in time.
package cmap
