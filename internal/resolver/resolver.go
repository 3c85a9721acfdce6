// Package resolver converts the natural keys appearing in one chunk (customer
// emails or product SKUs, with possible in-chunk duplicates) into a
// natural-key → surrogate-id map, creating missing entities in bulk.
//
// Per chunk the resolver issues at most one lookup query, one id reservation,
// and one insert statement against the store. Duplicate keys are collapsed by
// a map-building pass before any allocation happens, so a key that appears
// many times among yet-unresolved rows is still inserted exactly once; the
// first occurrence in the chunk supplies the display attributes and the row
// number used for error attribution.
package resolver

import (
	"context"
	"fmt"

	"stageload/internal/storage"
)

// Candidate is one sighting of a natural key within a chunk.
type Candidate struct {
	Key                 string
	RowNum              int64
	Name                string
	UnitPriceMinorUnits int64
}

// Failure reports a key whose entity could not be created. Rows depending on
// such a key must be treated as failed; the result map has no entry for it.
type Failure struct {
	Key     string
	RowNum  int64
	Code    string
	Message string
}

// Resolve maps every candidate key to a surrogate id, creating missing
// entities through st. The returned map contains an entry for every distinct
// key except those reported in the failure slice. A lookup or id-reservation
// error is returned as-is: the chunk cannot proceed and the caller treats it
// as fatal for the run.
func Resolve(ctx context.Context, st storage.EntityStore, cands []Candidate) (map[string]int64, []Failure, error) {
	ids := make(map[string]int64, len(cands))
	if len(cands) == 0 {
		return ids, nil, nil
	}

	// Collapse in-chunk duplicates before anything touches the store. First
	// occurrence wins: it carries the attributes and the rowNum blamed if the
	// insert later fails.
	seen := make(map[string]struct{}, len(cands))
	uniq := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if _, dup := seen[c.Key]; dup {
			continue
		}
		seen[c.Key] = struct{}{}
		uniq = append(uniq, c)
	}

	keys := make([]string, len(uniq))
	for i, c := range uniq {
		keys[i] = c.Key
	}
	hits, err := st.Lookup(ctx, keys)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup %d keys: %w", len(keys), err)
	}
	for k, id := range hits {
		ids[k] = id
	}

	// Missing keys keep their first-appearance order so id assignment is
	// stable for a given chunk.
	missing := make([]Candidate, 0, len(uniq)-len(hits))
	for _, c := range uniq {
		if _, ok := ids[c.Key]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) == 0 {
		return ids, nil, nil
	}

	reserved, err := st.ReserveIDs(ctx, len(missing))
	if err != nil {
		return nil, nil, fmt.Errorf("reserve %d ids: %w", len(missing), err)
	}
	if len(reserved) != len(missing) {
		return nil, nil, fmt.Errorf("reserved %d ids, want %d", len(reserved), len(missing))
	}

	pending := make([]storage.PendingEntity, len(missing))
	for i, c := range missing {
		pending[i] = storage.PendingEntity{
			ID:                  reserved[i],
			Key:                 c.Key,
			Name:                c.Name,
			UnitPriceMinorUnits: c.UnitPriceMinorUnits,
		}
	}

	rowErrs, err := st.Insert(ctx, pending)
	if err != nil {
		return nil, nil, fmt.Errorf("insert %d entities: %w", len(pending), err)
	}

	failed := make(map[int]storage.RowError, len(rowErrs))
	for _, re := range rowErrs {
		failed[re.Index] = re
	}

	var failures []Failure
	for i, p := range pending {
		if re, bad := failed[i]; bad {
			failures = append(failures, Failure{
				Key:     p.Key,
				RowNum:  missing[i].RowNum,
				Code:    re.Code,
				Message: re.Message,
			})
			continue
		}
		ids[p.Key] = p.ID
	}
	return ids, failures, nil
}
