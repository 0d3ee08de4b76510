package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnsupportedKind is returned by New when no backend is registered for a kind.
var ErrUnsupportedKind = errors.New("unsupported storage kind")

// Config is the minimal configuration needed to open a Repository.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// Repository is a backend-agnostic handle on the relational store.
//
// Each backend implements these semantics in its own idiomatic way (SQLite and
// Postgres ON CONFLICT, SQL Server MERGE, MySQL ON DUPLICATE KEY).
type Repository interface {
	// Close releases backend resources. Call once at shutdown.
	Close()

	// EnsureTables creates tables that do not exist yet. Existing tables are
	// left untouched; there is no migration.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// Begin opens the single transaction a stage writes through.
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one all-or-nothing unit of work.
//
// Callers must either Commit or Rollback. Rollback after a successful Commit
// is a no-op, so `defer tx.Rollback(ctx)` is always safe.
type Tx interface {
	// Upsert inserts row or, when a row with the same key exists, applies the
	// per-column conflict actions in spec. row is aligned with spec.Columns.
	// Re-applying the same row is idempotent.
	Upsert(ctx context.Context, spec UpsertSpec, row []any) error

	// SelectLinks returns (key, link) pairs for rows whose link column is not NULL,
	// ordered by key.
	SelectLinks(ctx context.Context, table, keyColumn, linkColumn string) ([]Link, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Link is a (primary key, foreign id) pair read back from the store.
type Link struct {
	Key     int64
	Foreign any
}

// ---- factories ----

type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a backend under a kind (e.g. "sqlite", "postgres").
//
// When to use:
//   - Call Register from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by New.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func Register(kind string, f Factory) {
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

// New constructs a Repository using the registered backend factory.
//
// Errors:
//   - Wraps ErrUnsupportedKind if cfg.Kind is empty or not registered.
//   - Returns whatever error the registered factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind: %w", ErrUnsupportedKind)
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: kind=%s: %w", cfg.Kind, ErrUnsupportedKind)
	}
	return f(ctx, cfg)
}

// Kinds lists registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
