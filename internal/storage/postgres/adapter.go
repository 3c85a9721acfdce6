// This adapter wires the Postgres backend into the storage-agnostic factory
// by registering a constructor at init time. The CLI and the loader obtain a
// Warehouse via storage.New(...) without importing this package directly.
package postgres

import (
	"context"

	"stageload/internal/storage"
)

// newWarehouse is a test hook that points to NewWarehouse by default.
// Tests may replace this variable to avoid real DB connections.
var newWarehouse = NewWarehouse

// wrappedWarehouse implements storage.Warehouse by delegating to the concrete
// *postgres.Warehouse while providing a Close method that calls the close
// function returned by NewWarehouse.
type wrappedWarehouse struct {
	*Warehouse
	closeFn func()
}

// Ensure wrappedWarehouse satisfies storage.Warehouse at compile time.
var _ storage.Warehouse = (*wrappedWarehouse)(nil)

// Close implements storage.Warehouse.Close.
func (w *wrappedWarehouse) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Warehouse, error) {
		w, closeFn, err := newWarehouse(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.EnsureSchema {
			if err := w.EnsureSchema(ctx); err != nil {
				closeFn()
				return nil, err
			}
		}
		return &wrappedWarehouse{Warehouse: w, closeFn: closeFn}, nil
	})
}
