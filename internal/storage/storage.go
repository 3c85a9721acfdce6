// Package storage contains the storage-agnostic contracts of the warehouse
// loader and a small factory so that backend packages can self-register a
// constructor by kind. Callers (cmd, loader) depend only on the interfaces
// here and never import database drivers directly.
package storage

import (
	"context"

	"stageload/internal/model"
)

// Config selects and configures a warehouse backend.
type Config struct {
	// Kind selects the backend implementation, e.g. "postgres".
	Kind string

	// DSN is the backend connection string.
	DSN string

	// EnsureSchema applies the backend's DDL bootstrap (CREATE TABLE /
	// SEQUENCE IF NOT EXISTS) right after connecting.
	EnsureSchema bool
}

// RowError attributes a failure inside a partial-failure-tolerant bulk insert
// to one element of the input slice. Code carries the backend's error code
// (SQLSTATE for Postgres) when available.
type RowError struct {
	Index   int
	Code    string
	Message string
}

// PendingEntity is a not-yet-inserted customer or product with its
// pre-allocated surrogate id. UnitPriceMinorUnits is ignored by the customer
// store.
type PendingEntity struct {
	ID                  int64
	Key                 string
	Name                string
	UnitPriceMinorUnits int64
}

// EntityStore is the per-chunk surface the entity resolver runs against. All
// three operations execute inside the enclosing chunk transaction.
//
// Insert tolerates per-row failures: rows that could not be inserted are
// reported as RowErrors (indexed into the pending slice) while the rest of
// the statement's work stands. A non-nil error means the store itself broke
// (lost connection, poisoned transaction) and the chunk cannot continue.
type EntityStore interface {
	// Lookup bulk-resolves natural keys to surrogate ids in one query.
	// Keys absent from the table are simply missing from the result map.
	Lookup(ctx context.Context, keys []string) (map[string]int64, error)

	// ReserveIDs allocates n surrogate ids in one round trip.
	ReserveIDs(ctx context.Context, n int) ([]int64, error)

	// Insert bulk-inserts the pending entities using their pre-allocated ids.
	Insert(ctx context.Context, pending []PendingEntity) ([]RowError, error)
}

// FactStore writes order and order-item rows inside the chunk transaction.
// Insert expects orders[i] and items[i] to form one logical unit; a RowError
// with Index i means neither row i's order nor its item was persisted.
type FactStore interface {
	ReserveOrderIDs(ctx context.Context, n int) ([]int64, error)
	ReserveItemIDs(ctx context.Context, n int) ([]int64, error)
	Insert(ctx context.Context, orders []model.Order, items []model.OrderItem) ([]RowError, error)
}

// ChunkTx scopes one chunk's resolution and fact writes to a single
// transaction. Commit persists the successfully-processed subset; Rollback
// discards it. Rollback after Commit is a no-op so callers may defer it.
type ChunkTx interface {
	Customers() EntityStore
	Products() EntityStore
	Facts() FactStore
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Warehouse is the full backend surface used by the load orchestrator.
//
// RecordFailure commits on its own connection, independent of any open chunk
// transaction: a logged failure stays visible even when the chunk that
// produced it rolls back.
type Warehouse interface {
	// FetchStagingChunk reads the next chunk of a batch ordered by row_num,
	// strictly after afterRow, at most limit rows; empty when exhausted.
	FetchStagingChunk(ctx context.Context, batchID string, afterRow int64, limit int) ([]model.StagingRow, error)

	BeginChunk(ctx context.Context) (ChunkTx, error)

	RecordFailure(ctx context.Context, rec model.FailureRecord) error

	Close()
}
