// Package ephemeral provides the shared, TTL-capable key/value store backing
// presence and typing state. Entries are leases: they expire unless renewed,
// so a crashed process never leaves stale state behind longer than one TTL.
package ephemeral

import (
	"context"
	"time"
)

// Store is a minimal lease-oriented key/value contract. Values are opaque
// strings; expiry is owned by the store, not the caller.
type Store interface {
	// SetEx writes key=value with a fresh TTL, renewing any existing lease.
	SetEx(ctx context.Context, key, value string, ttl time.Duration) error
	// Del removes a key immediately. Deleting an absent key is not an error.
	Del(ctx context.Context, key string) error
	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)
	// ScanPrefix returns all live keys starting with prefix. Point-in-time:
	// keys expiring mid-scan may or may not appear.
	ScanPrefix(ctx context.Context, prefix string) ([]string, error)
}
