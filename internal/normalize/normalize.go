// Package normalize implements the stateless per-row cleanup applied to
// staging rows before entity resolution: whitespace trimming, Unicode case
// folding of emails, SKU uppercasing, and defaulting of absent numeric
// columns.
//
// Normalization never fails. Malformed values that survive cleanup (an
// oversized SKU, a missing order timestamp) are the store's responsibility to
// reject at insert time, where they surface as row-level failure records.
package normalize

import (
	"iter"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"stageload/internal/model"
)

var (
	foldCaser  = cases.Fold()
	upperCaser = cases.Upper(language.Und)
)

// Row returns a normalized copy of r. The input row is not mutated.
//
// Rules: email is trimmed and case-folded, customer name / SKU / product name
// are trimmed, SKU is uppercased, quantity defaults to 1 and unit price to 0
// when the staging column was NULL.
func Row(r model.StagingRow) model.StagingRow {
	out := r
	out.CustomerEmail = foldCaser.String(strings.TrimSpace(r.CustomerEmail))
	out.CustomerName = strings.TrimSpace(r.CustomerName)
	out.ProductSKU = upperCaser.String(strings.TrimSpace(r.ProductSKU))
	out.ProductName = strings.TrimSpace(r.ProductName)
	if r.Quantity == nil {
		qty := int64(1)
		out.Quantity = &qty
	}
	if r.UnitPriceMinorUnits == nil {
		price := int64(0)
		out.UnitPriceMinorUnits = &price
	}
	return out
}

// Chunk returns a lazy, restartable sequence of normalized rows over one
// chunk. Iterating the sequence twice normalizes twice from the same
// untouched input; there is no cross-row state.
func Chunk(rows []model.StagingRow) iter.Seq[model.StagingRow] {
	return func(yield func(model.StagingRow) bool) {
		for _, r := range rows {
			if !yield(Row(r)) {
				return
			}
		}
	}
}

// Collect materializes a normalized chunk into a slice. The loader uses this
// when it needs indexed access for candidate derivation and fact writing.
func Collect(rows []model.StagingRow) []model.StagingRow {
	out := make([]model.StagingRow, 0, len(rows))
	for r := range Chunk(rows) {
		out = append(out, r)
	}
	return out
}
