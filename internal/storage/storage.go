// Package storage defines the backend-agnostic upsert reconciliation
// contract and the factory registry backends register themselves with.
//
// The interface is intentionally minimal: the crawl needs exactly an
// idempotent natural-key reconcile, schema bootstrap, and a full dump for
// the export surface. Each backend implements the semantics in its own
// idiomatic way (Postgres row locking, SQLite single-writer transactions,
// MSSQL parameterized batches).
package storage

import (
	"context"
	"fmt"
	"sync"

	"catcrawl/internal/model"
)

// Result reports what a reconcile did.
type Result int

const (
	ResultInserted Result = iota + 1
	ResultUpdated
	// ResultUnchanged means the record matched the stored row field-for-field
	// over its present fields and included no child collections: the second
	// pass of an identical crawl is a no-op.
	ResultUnchanged
)

func (r Result) String() string {
	switch r {
	case ResultInserted:
		return "inserted"
	case ResultUpdated:
		return "updated"
	case ResultUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// Config selects and connects a backend.
type Config struct {
	Kind string `json:"kind"` // "postgres" | "sqlite" | "mssql"
	DSN  string `json:"dsn"`
}

// Store is the reconciliation engine's persistence boundary.
type Store interface {
	// Close releases connections. Call once at shutdown.
	Close()

	// EnsureSchema creates the product and child tables when missing.
	// Idempotent.
	EnsureSchema(ctx context.Context) error

	// Reconcile inserts or updates the record by its natural key
	// (source, source_id) under a single transaction:
	//   - absent key: insert all present fields, created_at = updated_at.
	//   - existing key: update only present-and-changed fields, refresh
	//     updated_at, never touch created_at; absent fields are left
	//     untouched in storage.
	//   - child collections are replaced wholesale when included (non-nil).
	//
	// The check-then-write is atomic per key under single-writer operation.
	Reconcile(ctx context.Context, rec model.Product) (Result, error)

	// FetchAll returns full records (children joined in) for export,
	// optionally filtered by source. Empty source means all.
	FetchAll(ctx context.Context, source string) ([]ProductDump, error)
}

type factory func(ctx context.Context, cfg Config) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend factory under a kind. Call from an init()
// in the backend package. Registering a kind twice panics: fail fast rather
// than pick an ambiguous backend.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Store for the configured backend kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%q", cfg.Kind)
	}
	return f(ctx, cfg)
}
