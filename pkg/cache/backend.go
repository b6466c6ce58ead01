// Package cache provides the gateway's disposable projections of credential
// store data: the configuration cache (validated function definitions), the
// permission cache (authorization decisions and role permission sets) and
// the identity cache (credential fingerprint to client id).
//
// Every cache is a typed [Cache] over a tag-aware [Backend]. Tags are the
// fan-out mechanism: the [Coordinator] invalidates by tag, so clearing one
// client, role or function touches only the entries derived from it.
//
// A backend failure never fails a request. Reads degrade to a miss and
// writes are skipped; the store is always consulted again.
package cache

import (
	"context"
	"time"
)

// Backend stores opaque values with a per-entry TTL and an optional set of
// tags. Implementations must be safe for concurrent use.
type Backend interface {
	// Get returns the value for key. An expired or absent key is a miss
	// (found == false, err == nil).
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key for ttl and associates it with tags.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error

	// Delete removes keys. Absent keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// InvalidateTag removes every key associated with tag and returns how
	// many were removed.
	InvalidateTag(ctx context.Context, tag string) (int, error)

	// Flush removes every entry.
	Flush(ctx context.Context) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
