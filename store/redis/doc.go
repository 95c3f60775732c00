// Package redis provides a Redis-backed checkpoint store.
//
// The per-thread head is a plain string key; Save runs a small Lua script so
// the compare-and-swap against the head and the checkpoint write happen
// atomically. An optional TTL expires idle workflow threads.
//
// Basic usage:
//
//	s := redis.NewRedisCheckpointStore(redis.RedisOptions{
//		Addr:   "localhost:6379",
//		Prefix: "scriptflow:",
//		TTL:    24 * time.Hour,
//	})
//	defer s.Close()
package redis
