// Package redisstore provides a Redis-backed store.DedupStore. Claims are
// SET NX keys that expire on their own once the retention horizon has
// passed, so several notifier replicas can share one dedup namespace without
// a database table.
package redisstore
