package store

import (
	"context"
	"time"
)

// Namespaced key/value and set storage. Every hash entry is addressed
// as (namespace, key) -> value, every set as (namespace) -> members.
// Values are opaque byte blobs; interpretation is up to the caller.
//
// Two backends exist: Memory holds everything in process and can
// snapshot itself to a single file on disk, Redis keeps a hash and a
// set per namespace in an external server and can overlay a hot
// in-process cache per namespace.
type Store interface {
	// Get returns the value at (ns, key). The second return is
	// false on a miss; callers supply their own defaults.
	// Corrupt or unreadable entries behave as misses.
	Get(ctx context.Context, ns, key string) ([]byte, bool)

	// Set writes the value at (ns, key).
	Set(ctx context.Context, ns, key string, value []byte)

	// Delete removes (ns, key). Removing an absent key is a no-op.
	Delete(ctx context.Context, ns, key string)

	// Add puts member into the ns set.
	Add(ctx context.Context, ns, member string)

	// Remove takes member out of the ns set.
	Remove(ctx context.Context, ns, member string)

	// Has reports whether member is in the ns set.
	Has(ctx context.Context, ns, member string) bool

	// Cardinality returns the number of distinct members in the
	// ns set.
	Cardinality(ctx context.Context, ns string) int64

	// Clear drops all data, and any snapshot of it.
	Clear(ctx context.Context) error

	// WriteSnapshot persists the store. For Memory this writes a
	// single file, atomically. For Redis it asks the server to
	// save.
	WriteSnapshot(ctx context.Context) error

	// LoadSnapshot restores a previously written snapshot. Wraps
	// fs.ErrNotExist when none exists.
	LoadSnapshot(ctx context.Context) error
}

// NamespaceConfig declares how a namespace is treated by backends
// with a hot cache.
type NamespaceConfig struct {
	// Cache: values read through the backend are also kept in an
	// in-process hot cache.
	Cache bool

	// Expiry bounds the age of hot cache entries. Zero means
	// cached entries never age out.
	Expiry time.Duration
}

// Config maps namespace name to its treatment.
type Config map[string]NamespaceConfig
