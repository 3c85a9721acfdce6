// Package postgres implements the warehouse storage contracts using pgx v5.
//
// Chunk work runs inside a single pgx transaction. Bulk inserts go through
// unnest() arrays in one statement; when that statement fails the store
// retries row by row, each row under its own savepoint, so one bad row cannot
// poison the chunk transaction and every failure is attributable to an index.
// The failure log writes on the pool (auto-commit), outside any chunk
// transaction, so logged failures survive a chunk rollback.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"stageload/internal/model"
	"stageload/internal/storage"
)

// Warehouse is a Postgres-backed implementation of storage.Warehouse.
type Warehouse struct {
	pool *pgxpool.Pool
}

// NewWarehouse constructs a Warehouse and returns a Close function for cleanup.
func NewWarehouse(ctx context.Context, dsn string) (*Warehouse, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	closeFn := func() { pool.Close() }
	return &Warehouse{pool: pool}, closeFn, nil
}

const fetchChunkSQL = `
SELECT batch_id, row_num, customer_email, customer_name,
       product_sku, product_name, unit_price_minor, quantity, order_ts
FROM staging_orders
WHERE batch_id = $1 AND row_num > $2
ORDER BY row_num
LIMIT $3`

// FetchStagingChunk implements storage.Warehouse. Keyset pagination over
// (batch_id, row_num) keeps the read side-effect free and order-stable.
func (w *Warehouse) FetchStagingChunk(ctx context.Context, batchID string, afterRow int64, limit int) ([]model.StagingRow, error) {
	rows, err := w.pool.Query(ctx, fetchChunkSQL, batchID, afterRow, limit)
	if err != nil {
		return nil, fmt.Errorf("query staging chunk: %w", err)
	}
	defer rows.Close()

	out := make([]model.StagingRow, 0, limit)
	for rows.Next() {
		var (
			r     model.StagingRow
			email *string
			cname *string
			sku   *string
			pname *string
		)
		if err := rows.Scan(
			&r.BatchID, &r.RowNum, &email, &cname, &sku, &pname,
			&r.UnitPriceMinorUnits, &r.Quantity, &r.OrderTimestamp,
		); err != nil {
			return nil, fmt.Errorf("scan staging row: %w", err)
		}
		r.CustomerEmail = deref(email)
		r.CustomerName = deref(cname)
		r.ProductSKU = deref(sku)
		r.ProductName = deref(pname)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read staging chunk: %w", err)
	}
	return out, nil
}

const recordFailureSQL = `
INSERT INTO load_failures (operation, batch_id, row_num, error_code, message, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// RecordFailure implements storage.Warehouse. It executes on the pool, never
// on a chunk transaction, so the row commits immediately and independently.
func (w *Warehouse) RecordFailure(ctx context.Context, rec model.FailureRecord) error {
	_, err := w.pool.Exec(ctx, recordFailureSQL,
		rec.Operation, rec.BatchID, rec.RowNum, rec.ErrorCode, rec.Message, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert failure record: %w", err)
	}
	return nil
}

// BeginChunk implements storage.Warehouse.
func (w *Warehouse) BeginChunk(ctx context.Context) (storage.ChunkTx, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &chunkTx{tx: tx}, nil
}

// Close releases the connection pool.
func (w *Warehouse) Close() { w.pool.Close() }

// pgErrCode extracts the SQLSTATE from a pgconn error chain, falling back to
// "error" for driver-level failures without one.
func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code != "" {
		return pgErr.Code
	}
	return "error"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// rollbackQuiet swallows the "already closed" result of rolling back a
// committed transaction so ChunkTx.Rollback can be deferred unconditionally.
func rollbackQuiet(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}
