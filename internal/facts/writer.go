// Package facts materializes order and order-item rows for one chunk once
// entity resolution has produced the customer and product id maps.
//
// Rows whose customer or product key is absent from the resolved maps (the
// entity failed to insert) are excluded from the write set instead of being
// inserted with a dangling foreign key; they are reported back as skipped row
// numbers so the orchestrator can count them as failed without logging them
// twice (the resolver already logged the failing key).
package facts

import (
	"context"
	"fmt"

	"stageload/internal/model"
	"stageload/internal/storage"
)

// Failure is a row-level insert failure attributed to a staging row number.
type Failure struct {
	RowNum  int64
	Code    string
	Message string
}

// Result summarizes one chunk's fact write.
type Result struct {
	// Written counts rows whose order and order item were both inserted.
	Written int

	// Skipped lists row numbers excluded because their customer or product
	// entity was never created. Already logged at the key level.
	Skipped []int64

	// Failures lists rows the store rejected during the insert itself.
	Failures []Failure
}

// Write bulk-inserts one order and one order item per resolvable row, using
// ids reserved in bulk before the insert. The order total is computed here
// from the row's own quantity and price. A non-nil error means the store
// broke and nothing about the chunk's fact write can be trusted; the caller
// rolls the chunk back.
func Write(
	ctx context.Context,
	st storage.FactStore,
	rows []model.StagingRow,
	customerIDs map[string]int64,
	productIDs map[string]int64,
) (Result, error) {
	var res Result

	writable := make([]model.StagingRow, 0, len(rows))
	for _, r := range rows {
		_, okCust := customerIDs[r.CustomerEmail]
		_, okProd := productIDs[r.ProductSKU]
		if !okCust || !okProd {
			res.Skipped = append(res.Skipped, r.RowNum)
			continue
		}
		writable = append(writable, r)
	}
	if len(writable) == 0 {
		return res, nil
	}

	orderIDs, err := st.ReserveOrderIDs(ctx, len(writable))
	if err != nil {
		return res, fmt.Errorf("reserve order ids: %w", err)
	}
	itemIDs, err := st.ReserveItemIDs(ctx, len(writable))
	if err != nil {
		return res, fmt.Errorf("reserve item ids: %w", err)
	}
	if len(orderIDs) != len(writable) || len(itemIDs) != len(writable) {
		return res, fmt.Errorf("reserved %d/%d ids, want %d", len(orderIDs), len(itemIDs), len(writable))
	}

	orders := make([]model.Order, len(writable))
	items := make([]model.OrderItem, len(writable))
	for i, r := range writable {
		qty := r.QuantityValue()
		price := r.UnitPriceValue()
		orders[i] = model.Order{
			ID:              orderIDs[i],
			CustomerID:      customerIDs[r.CustomerEmail],
			OrderTimestamp:  r.OrderTimestamp,
			TotalMinorUnits: qty * price,
		}
		items[i] = model.OrderItem{
			ID:                  itemIDs[i],
			OrderID:             orderIDs[i],
			ProductID:           productIDs[r.ProductSKU],
			Quantity:            qty,
			UnitPriceMinorUnits: price,
		}
	}

	rowErrs, err := st.Insert(ctx, orders, items)
	if err != nil {
		return res, fmt.Errorf("insert %d facts: %w", len(orders), err)
	}
	for _, re := range rowErrs {
		res.Failures = append(res.Failures, Failure{
			RowNum:  writable[re.Index].RowNum,
			Code:    re.Code,
			Message: re.Message,
		})
	}
	res.Written = len(writable) - len(rowErrs)
	return res, nil
}
