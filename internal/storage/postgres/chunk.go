package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stageload/internal/model"
	"stageload/internal/storage"
)

// chunkTx scopes one chunk's writes to a pgx transaction.
type chunkTx struct {
	tx pgx.Tx
}

func (c *chunkTx) Customers() storage.EntityStore { return &entityStore{tx: c.tx, spec: customerSpec} }
func (c *chunkTx) Products() storage.EntityStore  { return &entityStore{tx: c.tx, spec: productSpec} }
func (c *chunkTx) Facts() storage.FactStore       { return &factStore{tx: c.tx} }

func (c *chunkTx) Commit(ctx context.Context) error   { return c.tx.Commit(ctx) }
func (c *chunkTx) Rollback(ctx context.Context) error { return rollbackQuiet(ctx, c.tx) }

// reserveIDs allocates n sequence values in one round trip. The values are
// distinct but not necessarily contiguous, which is all the id contract needs.
func reserveIDs(ctx context.Context, tx pgx.Tx, seq string, n int) ([]int64, error) {
	rows, err := tx.Query(ctx,
		`SELECT nextval($1::regclass) FROM generate_series(1, $2::int)`, seq, n)
	if err != nil {
		return nil, fmt.Errorf("nextval %s: %w", seq, err)
	}
	defer rows.Close()

	out := make([]int64, 0, n)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", seq, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s ids: %w", seq, err)
	}
	return out, nil
}

// execSavepoint runs fn under a savepoint. opErr is fn's own failure, rolled
// back cleanly so the transaction stays usable; err reports savepoint
// machinery breaking (lost connection, poisoned tx), which callers must treat
// as unrecoverable for the chunk.
func execSavepoint(ctx context.Context, tx pgx.Tx, name string, fn func() error) (opErr error, err error) {
	if _, err := tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("savepoint %s: %w", name, err)
	}
	if opErr := fn(); opErr != nil {
		if _, err := tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
			return opErr, fmt.Errorf("rollback to savepoint %s: %w", name, err)
		}
		return opErr, nil
	}
	if _, err := tx.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil, nil
}

// entitySpec binds the shared entity-store machinery to one entity table.
type entitySpec struct {
	alias     string
	seq       string
	lookupSQL string
	bulkSQL   string
	rowSQL    string
	bulkArgs  func(pending []storage.PendingEntity) []any
	rowArgs   func(p storage.PendingEntity) []any
}

var customerSpec = entitySpec{
	alias:     "cust",
	seq:       "customer_ids",
	lookupSQL: `SELECT email, customer_id FROM customers WHERE email = ANY($1)`,
	bulkSQL: `
INSERT INTO customers (customer_id, email, full_name, updated_at)
SELECT u.id, u.key, u.name, now()
FROM unnest($1::bigint[], $2::text[], $3::text[]) AS u(id, key, name)`,
	rowSQL: `
INSERT INTO customers (customer_id, email, full_name, updated_at)
VALUES ($1, $2, $3, now())`,
	bulkArgs: func(pending []storage.PendingEntity) []any {
		ids := make([]int64, len(pending))
		keys := make([]string, len(pending))
		names := make([]string, len(pending))
		for i, p := range pending {
			ids[i], keys[i], names[i] = p.ID, p.Key, p.Name
		}
		return []any{ids, keys, names}
	},
	rowArgs: func(p storage.PendingEntity) []any {
		return []any{p.ID, p.Key, p.Name}
	},
}

var productSpec = entitySpec{
	alias:     "prod",
	seq:       "product_ids",
	lookupSQL: `SELECT sku, product_id FROM products WHERE sku = ANY($1)`,
	bulkSQL: `
INSERT INTO products (product_id, sku, name, unit_price_minor, updated_at)
SELECT u.id, u.key, u.name, u.price, now()
FROM unnest($1::bigint[], $2::text[], $3::text[], $4::bigint[]) AS u(id, key, name, price)`,
	rowSQL: `
INSERT INTO products (product_id, sku, name, unit_price_minor, updated_at)
VALUES ($1, $2, $3, $4, now())`,
	bulkArgs: func(pending []storage.PendingEntity) []any {
		ids := make([]int64, len(pending))
		keys := make([]string, len(pending))
		names := make([]string, len(pending))
		prices := make([]int64, len(pending))
		for i, p := range pending {
			ids[i], keys[i], names[i], prices[i] = p.ID, p.Key, p.Name, p.UnitPriceMinorUnits
		}
		return []any{ids, keys, names, prices}
	},
	rowArgs: func(p storage.PendingEntity) []any {
		return []any{p.ID, p.Key, p.Name, p.UnitPriceMinorUnits}
	},
}

// entityStore implements storage.EntityStore for one entity table inside the
// chunk transaction.
type entityStore struct {
	tx   pgx.Tx
	spec entitySpec
}

func (s *entityStore) Lookup(ctx context.Context, keys []string) (map[string]int64, error) {
	if len(keys) == 0 {
		return map[string]int64{}, nil
	}
	rows, err := s.tx.Query(ctx, s.spec.lookupSQL, keys)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", s.spec.alias, err)
	}
	defer rows.Close()

	out := make(map[string]int64, len(keys))
	for rows.Next() {
		var (
			key string
			id  int64
		)
		if err := rows.Scan(&key, &id); err != nil {
			return nil, fmt.Errorf("scan %s lookup: %w", s.spec.alias, err)
		}
		out[key] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s lookup: %w", s.spec.alias, err)
	}
	return out, nil
}

func (s *entityStore) ReserveIDs(ctx context.Context, n int) ([]int64, error) {
	return reserveIDs(ctx, s.tx, s.spec.seq, n)
}

// Insert attempts one bulk statement first; on failure it falls back to
// per-row inserts under individual savepoints so failures are enumerable.
func (s *entityStore) Insert(ctx context.Context, pending []storage.PendingEntity) ([]storage.RowError, error) {
	if len(pending) == 0 {
		return nil, nil
	}

	opErr, err := execSavepoint(ctx, s.tx, "bulk_"+s.spec.alias, func() error {
		_, e := s.tx.Exec(ctx, s.spec.bulkSQL, s.spec.bulkArgs(pending)...)
		return e
	})
	if err != nil {
		return nil, err
	}
	if opErr == nil {
		return nil, nil
	}

	var rowErrs []storage.RowError
	for i, p := range pending {
		args := s.spec.rowArgs(p)
		opErr, err := execSavepoint(ctx, s.tx, fmt.Sprintf("%s_%d", s.spec.alias, i), func() error {
			_, e := s.tx.Exec(ctx, s.spec.rowSQL, args...)
			return e
		})
		if err != nil {
			return rowErrs, err
		}
		if opErr != nil {
			rowErrs = append(rowErrs, storage.RowError{
				Index:   i,
				Code:    pgErrCode(opErr),
				Message: opErr.Error(),
			})
		}
	}
	return rowErrs, nil
}

const (
	insertOrdersBulkSQL = `
INSERT INTO orders (order_id, customer_id, order_ts, total_minor)
SELECT u.id, u.customer_id, u.ts, u.total
FROM unnest($1::bigint[], $2::bigint[], $3::timestamptz[], $4::bigint[]) AS u(id, customer_id, ts, total)`

	insertItemsBulkSQL = `
INSERT INTO order_items (order_item_id, order_id, product_id, quantity, unit_price_minor)
SELECT u.id, u.order_id, u.product_id, u.qty, u.price
FROM unnest($1::bigint[], $2::bigint[], $3::bigint[], $4::bigint[], $5::bigint[]) AS u(id, order_id, product_id, qty, price)`

	insertOrderRowSQL = `
INSERT INTO orders (order_id, customer_id, order_ts, total_minor)
VALUES ($1, $2, $3, $4)`

	insertItemRowSQL = `
INSERT INTO order_items (order_item_id, order_id, product_id, quantity, unit_price_minor)
VALUES ($1, $2, $3, $4, $5)`
)

// factStore implements storage.FactStore inside the chunk transaction.
type factStore struct {
	tx pgx.Tx
}

func (f *factStore) ReserveOrderIDs(ctx context.Context, n int) ([]int64, error) {
	return reserveIDs(ctx, f.tx, "order_ids", n)
}

func (f *factStore) ReserveItemIDs(ctx context.Context, n int) ([]int64, error) {
	return reserveIDs(ctx, f.tx, "order_item_ids", n)
}

// Insert writes all orders then all items in two bulk statements under one
// savepoint. On failure it retries per logical unit (order i plus item i in
// one savepoint) so either both rows of a unit land or neither does.
func (f *factStore) Insert(ctx context.Context, orders []model.Order, items []model.OrderItem) ([]storage.RowError, error) {
	if len(orders) != len(items) {
		return nil, fmt.Errorf("orders/items length mismatch: %d vs %d", len(orders), len(items))
	}
	if len(orders) == 0 {
		return nil, nil
	}

	opErr, err := execSavepoint(ctx, f.tx, "bulk_facts", func() error {
		if _, e := f.tx.Exec(ctx, insertOrdersBulkSQL, orderArrays(orders)...); e != nil {
			return e
		}
		_, e := f.tx.Exec(ctx, insertItemsBulkSQL, itemArrays(items)...)
		return e
	})
	if err != nil {
		return nil, err
	}
	if opErr == nil {
		return nil, nil
	}

	var rowErrs []storage.RowError
	for i := range orders {
		o, it := orders[i], items[i]
		opErr, err := execSavepoint(ctx, f.tx, fmt.Sprintf("fact_%d", i), func() error {
			if _, e := f.tx.Exec(ctx, insertOrderRowSQL,
				o.ID, o.CustomerID, o.OrderTimestamp, o.TotalMinorUnits); e != nil {
				return e
			}
			_, e := f.tx.Exec(ctx, insertItemRowSQL,
				it.ID, it.OrderID, it.ProductID, it.Quantity, it.UnitPriceMinorUnits)
			return e
		})
		if err != nil {
			return rowErrs, err
		}
		if opErr != nil {
			rowErrs = append(rowErrs, storage.RowError{
				Index:   i,
				Code:    pgErrCode(opErr),
				Message: opErr.Error(),
			})
		}
	}
	return rowErrs, nil
}

func orderArrays(orders []model.Order) []any {
	ids := make([]int64, len(orders))
	custIDs := make([]int64, len(orders))
	stamps := make([]*time.Time, len(orders))
	totals := make([]int64, len(orders))
	for i, o := range orders {
		ids[i], custIDs[i], stamps[i], totals[i] = o.ID, o.CustomerID, o.OrderTimestamp, o.TotalMinorUnits
	}
	return []any{ids, custIDs, stamps, totals}
}

func itemArrays(items []model.OrderItem) []any {
	ids := make([]int64, len(items))
	orderIDs := make([]int64, len(items))
	productIDs := make([]int64, len(items))
	qtys := make([]int64, len(items))
	prices := make([]int64, len(items))
	for i, it := range items {
		ids[i], orderIDs[i], productIDs[i], qtys[i], prices[i] =
			it.ID, it.OrderID, it.ProductID, it.Quantity, it.UnitPriceMinorUnits
	}
	return []any{ids, orderIDs, productIDs, qtys, prices}
}
