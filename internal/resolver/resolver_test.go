package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"stageload/internal/storage"
)

// fakeEntityStore is an in-memory storage.EntityStore that records the calls
// made against it.
type fakeEntityStore struct {
	existing map[string]int64

	nextID int64

	lookupCalls  int
	lookupKeys   []string
	reserveCalls int
	reservedN    int
	insertCalls  int
	inserted     []storage.PendingEntity

	lookupErr  error
	reserveErr error
	insertErr  error

	// failKeys marks pending keys whose insert should be reported as a
	// row-level failure.
	failKeys map[string]string // key -> code
}

func (f *fakeEntityStore) Lookup(ctx context.Context, keys []string) (map[string]int64, error) {
	f.lookupCalls++
	f.lookupKeys = append([]string(nil), keys...)
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	out := map[string]int64{}
	for _, k := range keys {
		if id, ok := f.existing[k]; ok {
			out[k] = id
		}
	}
	return out, nil
}

func (f *fakeEntityStore) ReserveIDs(ctx context.Context, n int) ([]int64, error) {
	f.reserveCalls++
	f.reservedN = n
	if f.reserveErr != nil {
		return nil, f.reserveErr
	}
	out := make([]int64, n)
	for i := range out {
		f.nextID++
		out[i] = f.nextID
	}
	return out, nil
}

func (f *fakeEntityStore) Insert(ctx context.Context, pending []storage.PendingEntity) ([]storage.RowError, error) {
	f.insertCalls++
	f.inserted = append([]storage.PendingEntity(nil), pending...)
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	var errs []storage.RowError
	for i, p := range pending {
		if code, bad := f.failKeys[p.Key]; bad {
			errs = append(errs, storage.RowError{Index: i, Code: code, Message: "insert rejected"})
		}
	}
	return errs, nil
}

// TestResolve_DedupBeforeInsert verifies that a key appearing several times in
// one chunk is looked up and inserted exactly once, and that every sighting
// maps to the same id.
func TestResolve_DedupBeforeInsert(t *testing.T) {
	t.Parallel()

	st := &fakeEntityStore{existing: map[string]int64{}}
	cands := []Candidate{
		{Key: "a@x.com", RowNum: 1, Name: "A One"},
		{Key: "a@x.com", RowNum: 2, Name: "A Two"}, // duplicate, later attrs ignored
		{Key: "b@y.com", RowNum: 3, Name: "B"},
		{Key: "a@x.com", RowNum: 4, Name: "A Three"},
	}

	ids, fails, err := Resolve(context.Background(), st, cands)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(fails) != 0 {
		t.Fatalf("unexpected failures: %v", fails)
	}
	if len(ids) != 2 {
		t.Fatalf("resolved %d keys; want 2", len(ids))
	}
	if len(st.lookupKeys) != 2 {
		t.Fatalf("lookup saw %d keys; want 2 (deduped)", len(st.lookupKeys))
	}
	if len(st.inserted) != 2 {
		t.Fatalf("inserted %d entities; want 2 (deduped)", len(st.inserted))
	}
	if st.reservedN != 2 {
		t.Fatalf("reserved %d ids; want 2", st.reservedN)
	}
	// First occurrence supplies attributes.
	if st.inserted[0].Key != "a@x.com" || st.inserted[0].Name != "A One" {
		t.Fatalf("inserted[0] = %+v; want first-occurrence attrs for a@x.com", st.inserted[0])
	}
	if ids["a@x.com"] == ids["b@y.com"] {
		t.Fatalf("distinct keys share id %d", ids["a@x.com"])
	}
}

// TestResolve_ExistingKeysNotReinserted verifies keys already in the store
// come back from the lookup and cause no reservation or insert.
func TestResolve_ExistingKeysNotReinserted(t *testing.T) {
	t.Parallel()

	st := &fakeEntityStore{existing: map[string]int64{"sku1": 100, "sku2": 200}}
	cands := []Candidate{
		{Key: "sku1", RowNum: 1},
		{Key: "sku2", RowNum: 2},
		{Key: "sku1", RowNum: 3},
	}

	ids, fails, err := Resolve(context.Background(), st, cands)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(fails) != 0 {
		t.Fatalf("unexpected failures: %v", fails)
	}
	if ids["sku1"] != 100 || ids["sku2"] != 200 {
		t.Fatalf("ids = %v; want existing ids preserved", ids)
	}
	if st.reserveCalls != 0 || st.insertCalls != 0 {
		t.Fatalf("reserve/insert called %d/%d times; want 0/0", st.reserveCalls, st.insertCalls)
	}
}

// TestResolve_MixedHitAndMiss verifies only the missing subset is reserved
// and inserted, in first-appearance order.
func TestResolve_MixedHitAndMiss(t *testing.T) {
	t.Parallel()

	st := &fakeEntityStore{existing: map[string]int64{"old": 7}}
	cands := []Candidate{
		{Key: "new2", RowNum: 1},
		{Key: "old", RowNum: 2},
		{Key: "new1", RowNum: 3},
	}

	ids, _, err := Resolve(context.Background(), st, cands)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(st.inserted) != 2 {
		t.Fatalf("inserted %d; want 2", len(st.inserted))
	}
	if st.inserted[0].Key != "new2" || st.inserted[1].Key != "new1" {
		t.Fatalf("insert order = %q,%q; want first-appearance order new2,new1",
			st.inserted[0].Key, st.inserted[1].Key)
	}
	if len(ids) != 3 {
		t.Fatalf("resolved %d keys; want 3", len(ids))
	}
}

// TestResolve_PartialInsertFailure verifies failed keys are absent from the
// result map and reported with the rowNum of their first sighting.
func TestResolve_PartialInsertFailure(t *testing.T) {
	t.Parallel()

	st := &fakeEntityStore{
		existing: map[string]int64{},
		failKeys: map[string]string{"bad-sku": "22001"},
	}
	cands := []Candidate{
		{Key: "good", RowNum: 10},
		{Key: "bad-sku", RowNum: 11},
		{Key: "bad-sku", RowNum: 12},
	}

	ids, fails, err := Resolve(context.Background(), st, cands)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if _, ok := ids["bad-sku"]; ok {
		t.Fatalf("failed key present in result map: %v", ids)
	}
	if _, ok := ids["good"]; !ok {
		t.Fatalf("good key missing from result map: %v", ids)
	}
	if len(fails) != 1 {
		t.Fatalf("got %d failures; want 1", len(fails))
	}
	f := fails[0]
	if f.Key != "bad-sku" || f.RowNum != 11 || f.Code != "22001" {
		t.Fatalf("failure = %+v; want key=bad-sku rowNum=11 code=22001", f)
	}
}

// TestResolve_LookupErrorIsFatal verifies a lookup error propagates and
// nothing is reserved or inserted.
func TestResolve_LookupErrorIsFatal(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("connection refused")
	st := &fakeEntityStore{lookupErr: wantErr}

	_, _, err := Resolve(context.Background(), st, []Candidate{{Key: "k", RowNum: 1}})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v; want wrapped %v", err, wantErr)
	}
	if st.reserveCalls != 0 || st.insertCalls != 0 {
		t.Fatalf("reserve/insert called after lookup failure")
	}
}

// TestResolve_ReserveErrorIsFatal verifies an id reservation error propagates.
func TestResolve_ReserveErrorIsFatal(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("sequence missing")
	st := &fakeEntityStore{existing: map[string]int64{}, reserveErr: wantErr}

	_, _, err := Resolve(context.Background(), st, []Candidate{{Key: "k", RowNum: 1}})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v; want wrapped %v", err, wantErr)
	}
	if st.insertCalls != 0 {
		t.Fatalf("insert called after reservation failure")
	}
}

// TestResolve_Empty verifies an empty candidate list touches nothing.
func TestResolve_Empty(t *testing.T) {
	t.Parallel()

	st := &fakeEntityStore{}
	ids, fails, err := Resolve(context.Background(), st, nil)
	if err != nil || len(ids) != 0 || len(fails) != 0 {
		t.Fatalf("Resolve(nil) = %v,%v,%v; want empty", ids, fails, err)
	}
	if st.lookupCalls != 0 {
		t.Fatalf("lookup called for empty input")
	}
}

// TestResolve_LargeChunkSingleRoundTrips verifies the per-chunk round-trip
// budget: one lookup, one reservation, one insert, regardless of chunk size.
func TestResolve_LargeChunkSingleRoundTrips(t *testing.T) {
	t.Parallel()

	st := &fakeEntityStore{existing: map[string]int64{}}
	cands := make([]Candidate, 0, 5000)
	for i := 0; i < 5000; i++ {
		cands = append(cands, Candidate{
			Key:    fmt.Sprintf("k%d", i%937), // plenty of in-chunk duplicates
			RowNum: int64(i),
		})
	}

	ids, _, err := Resolve(context.Background(), st, cands)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if st.lookupCalls != 1 || st.reserveCalls != 1 || st.insertCalls != 1 {
		t.Fatalf("round trips lookup/reserve/insert = %d/%d/%d; want 1/1/1",
			st.lookupCalls, st.reserveCalls, st.insertCalls)
	}
	if len(ids) != 937 {
		t.Fatalf("resolved %d keys; want 937 distinct", len(ids))
	}
}
