// Package cache provides Memory, a bounded in-process LRU cache for billing
// snapshots. It is the cache backend when Redis is not configured, and a
// drop-in fake in tests.
//
//	c := cache.NewMemory(cache.WithCapacity(1000), cache.WithTTL(time.Hour))
//	syncer := billing.NewSyncer(store, provider, c)
//
// Entries live only as long as the process; a restart simply sends reads
// through the sync path again.
package cache
