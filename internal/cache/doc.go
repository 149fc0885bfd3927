// Package cache provides the key/value backends that hold authorizer
// results for live connections.
//
// Two backends are available:
//
//   - memory: an in-process LRU map with per-entry expiry
//   - redis: a go-redis client, so several gateway instances can share
//     authorization state
//
// # Example Usage
//
//	c, err := cache.New(&cfg.Spec.AuthorizerCache, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	err = c.Set(ctx, connectionID, payload, time.Hour)
//	value, err := c.Get(ctx, connectionID)
//
// # Thread Safety
//
// All cache implementations are safe for concurrent use.
package cache
