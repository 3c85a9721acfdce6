// Package config defines the canonical, JSON-serializable configuration model
// for the stageload binary. It is intentionally small, explicit, and
// dependency-free so that load definitions can be loaded from disk and passed
// through the program without additional glue code.
//
// Example (trimmed):
//
//	{
//	  "job": "orders_backfill",
//	  "storage": { "kind": "postgres", "db": { "dsn": "postgres://...", "ensure_schema": true } },
//	  "load":    { "chunk_size": 5000, "workers": 2, "batch_ids": ["B1","B2"] }
//	}
package config

// Config is the top-level object decoded from a load config file.
type Config struct {
	// Job names the load for metrics and log lines.
	Job string `json:"job"`

	// Storage describes the warehouse backend.
	Storage Storage `json:"storage"`

	// Load controls chunking and batch selection.
	Load Load `json:"load"`
}

// Storage selects the warehouse backend used for staging reads and warehouse
// writes.
type Storage struct {
	// Kind selects the backend implementation. Current value: "postgres".
	Kind string `json:"kind"`

	// DB carries connection options for the selected backend.
	DB DBConfig `json:"db"`
}

// DBConfig configures the backend connection.
type DBConfig struct {
	// DSN is the connection string for pgx/pgxpool (e.g., postgresql://...).
	DSN string `json:"dsn"`

	// EnsureSchema applies the idempotent bootstrap DDL (tables, sequences)
	// after connecting.
	EnsureSchema bool `json:"ensure_schema"`
}

// Load controls how staged batches are processed.
type Load struct {
	// ChunkSize bounds how many staging rows are processed per transaction.
	ChunkSize int `json:"chunk_size"`

	// Workers bounds how many distinct batch ids are loaded concurrently.
	// Chunks within one batch are always sequential.
	Workers int `json:"workers"`

	// BatchIDs lists the staged batches to load. The -batch flag overrides.
	BatchIDs []string `json:"batch_ids"`
}
