// Package model defines the data model shared by the staging-to-warehouse
// loader: the raw staging row, the normalized entity and fact rows, and the
// failure record written to the durable failure log.
//
// Staging rows are read-only input. Nullable staging columns (quantity, unit
// price, order timestamp) are represented as pointers so that "absent" is
// distinguishable from zero; the normalizer coalesces quantity and price,
// while a missing timestamp is deliberately passed through so the store
// rejects it as a row-level failure.
package model

import "time"

// StagingRow is one denormalized line-item row from the staging table. It is
// immutable once produced; the normalizer returns a modified copy rather than
// mutating in place.
type StagingRow struct {
	BatchID             string
	RowNum              int64
	CustomerEmail       string
	CustomerName        string
	ProductSKU          string
	ProductName         string
	UnitPriceMinorUnits *int64
	Quantity            *int64
	OrderTimestamp      *time.Time
}

// QuantityValue returns the row quantity, defaulting to 1 when the staging
// column was NULL.
func (r StagingRow) QuantityValue() int64 {
	if r.Quantity == nil {
		return 1
	}
	return *r.Quantity
}

// UnitPriceValue returns the unit price in minor units, defaulting to 0 when
// the staging column was NULL.
func (r StagingRow) UnitPriceValue() int64 {
	if r.UnitPriceMinorUnits == nil {
		return 0
	}
	return *r.UnitPriceMinorUnits
}

// Customer is one row of the customers entity table. Email is the natural
// key; one row exists per distinct email across the lifetime of the store.
type Customer struct {
	ID        int64
	Email     string
	FullName  string
	UpdatedAt time.Time
}

// Product is one row of the products entity table. SKU is the natural key.
type Product struct {
	ID                  int64
	SKU                 string
	Name                string
	UnitPriceMinorUnits int64
	UpdatedAt           time.Time
}

// Order is one fact row. The loader creates exactly one order per staging
// row; TotalMinorUnits is computed at write time from the row's own quantity
// and price, never recomputed from a join afterward.
//
// OrderTimestamp mirrors the staging column including NULL, so that rows with
// a missing timestamp fail the NOT NULL constraint on insert instead of being
// silently written with a zero time.
type Order struct {
	ID              int64
	CustomerID      int64
	OrderTimestamp  *time.Time
	TotalMinorUnits int64
}

// OrderItem is the single line item of an Order (the staging format does not
// aggregate multiple SKUs per logical order).
type OrderItem struct {
	ID                  int64
	OrderID             int64
	ProductID           int64
	Quantity            int64
	UnitPriceMinorUnits int64
}

// Operation tags identify which loader stage produced a failure record.
const (
	OpFetchChunk       = "fetch_chunk"
	OpBeginChunk       = "begin_chunk"
	OpResolveCustomers = "resolve_customers"
	OpResolveProducts  = "resolve_products"
	OpWriteFacts       = "write_facts"
	OpCommitChunk      = "commit_chunk"
)

// FailureRecord is one append-only row of the failure log. RowNum is nil for
// batch- or chunk-scoped failures that cannot be attributed to a single
// staging row.
type FailureRecord struct {
	Operation string
	BatchID   string
	RowNum    *int64
	ErrorCode string
	Message   string
	CreatedAt time.Time
}

// RowRef builds the nullable row reference for a row-scoped failure record.
func RowRef(n int64) *int64 { return &n }
