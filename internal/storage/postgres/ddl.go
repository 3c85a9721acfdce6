package postgres

import (
	"context"
	"fmt"
)

// schemaDDL creates the loader's relations and id sequences. Statements are
// idempotent so the bootstrap can run on every start. Column widths are
// finite on purpose: an oversized SKU or name must fail its own row's insert,
// not be silently truncated.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS staging_orders (
		batch_id         VARCHAR(64)  NOT NULL,
		row_num          BIGINT       NOT NULL,
		customer_email   VARCHAR(320),
		customer_name    VARCHAR(200),
		product_sku      VARCHAR(64),
		product_name     VARCHAR(200),
		unit_price_minor BIGINT,
		quantity         BIGINT,
		order_ts         TIMESTAMPTZ,
		PRIMARY KEY (batch_id, row_num)
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		customer_id BIGINT PRIMARY KEY,
		email       VARCHAR(320) NOT NULL UNIQUE,
		full_name   VARCHAR(200),
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		product_id       BIGINT PRIMARY KEY,
		sku              VARCHAR(64) NOT NULL UNIQUE,
		name             VARCHAR(200),
		unit_price_minor BIGINT NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		order_id    BIGINT PRIMARY KEY,
		customer_id BIGINT NOT NULL REFERENCES customers(customer_id),
		order_ts    TIMESTAMPTZ NOT NULL,
		total_minor BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_item_id    BIGINT PRIMARY KEY,
		order_id         BIGINT NOT NULL REFERENCES orders(order_id),
		product_id       BIGINT NOT NULL REFERENCES products(product_id),
		quantity         BIGINT NOT NULL,
		unit_price_minor BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS load_failures (
		failure_id BIGSERIAL PRIMARY KEY,
		operation  VARCHAR(32) NOT NULL,
		batch_id   VARCHAR(64) NOT NULL,
		row_num    BIGINT,
		error_code VARCHAR(16),
		message    TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE SEQUENCE IF NOT EXISTS customer_ids`,
	`CREATE SEQUENCE IF NOT EXISTS product_ids`,
	`CREATE SEQUENCE IF NOT EXISTS order_ids`,
	`CREATE SEQUENCE IF NOT EXISTS order_item_ids`,
}

// EnsureSchema applies the bootstrap DDL. Safe to call repeatedly.
func (w *Warehouse) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := w.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply DDL: %w", err)
		}
	}
	return nil
}
