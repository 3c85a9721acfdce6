// Package loader drives the chunked staging-to-warehouse load for one batch:
// fetch → normalize → resolve entities → write facts → commit-or-isolate.
//
// Chunks of one batch are processed strictly sequentially; the per-chunk
// dedup performed by the resolver is only correct because no two chunks of
// the same batch are in flight at once. Distinct batch ids may be loaded
// concurrently by independent Orchestrator calls; natural-key collisions
// between concurrent loads surface as ordinary row-level insert failures.
//
// Failure policy: a staging fetch error or a resolver lookup/reservation
// error aborts the whole run with one batch-scoped failure record (row_num
// null). Everything else is isolated at or below the chunk: failing keys and
// rows are logged to the failure log and excluded, the chunk's surviving
// subset commits, and the loop moves on.
//
// Re-running a batch is idempotent for the entity tables (customers and
// products are looked up before insert) but append-only for the fact tables:
// the loader never marks staging rows consumed, so the same batch loaded
// twice doubles orders and order items. Documented contract, not a defect.
package loader

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"stageload/internal/facts"
	"stageload/internal/metrics"
	"stageload/internal/model"
	"stageload/internal/normalize"
	"stageload/internal/resolver"
	"stageload/internal/storage"
)

// Error codes attached to batch- and chunk-scoped failure records. Row-level
// records carry the backend's own code (SQLSTATE) instead.
const (
	codeSourceError = "source_error"
	codeTxError     = "tx_error"
	codeLookupError = "lookup_error"
	codeWriteError  = "write_error"
	codeCommitError = "commit_error"
)

// Summary is the user-visible result of one batch load. Per-row diagnostics
// live only in the failure log.
type Summary struct {
	RowsRead      int64
	RowsCommitted int64
	RowsFailed    int64
	Chunks        int64
}

// Orchestrator loads batches from a staging table into the warehouse.
type Orchestrator struct {
	Store storage.Warehouse

	// ChunkSize bounds how many staging rows are processed per transaction.
	ChunkSize int

	// Job names the load in metrics and log lines. Optional.
	Job string

	// nowFn is a test seam; defaults to time.Now.
	nowFn func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.nowFn != nil {
		return o.nowFn()
	}
	return time.Now()
}

// LoadBatch runs the chunk loop for one batch id until the staging source is
// exhausted or a fatal error aborts the run. The returned Summary is valid
// (covers all work done so far) even when err is non-nil.
func (o *Orchestrator) LoadBatch(ctx context.Context, batchID string) (Summary, error) {
	var sum Summary
	if o.ChunkSize <= 0 {
		return sum, fmt.Errorf("chunk size must be > 0, got %d", o.ChunkSize)
	}

	runID := uuid.NewString()
	start := o.now()
	afterRow := int64(-1)

	log.Printf("load start: batch=%s run=%s chunk_size=%d", batchID, runID, o.ChunkSize)

	for {
		fetchStart := o.now()
		raw, err := o.Store.FetchStagingChunk(ctx, batchID, afterRow, o.ChunkSize)
		metrics.RecordStep(o.Job, model.OpFetchChunk, err, o.now().Sub(fetchStart))
		if err != nil {
			o.recordBatchFailure(ctx, batchID, runID, model.OpFetchChunk, codeSourceError, err)
			return sum, fmt.Errorf("fetch chunk after row %d: %w", afterRow, err)
		}
		if len(raw) == 0 {
			break
		}
		afterRow = raw[len(raw)-1].RowNum
		sum.RowsRead += int64(len(raw))
		metrics.RecordRows(o.Job, "read", int64(len(raw)))

		chunkStart := o.now()
		committed, failed, err := o.loadChunk(ctx, batchID, runID, raw)
		sum.RowsCommitted += committed
		sum.RowsFailed += failed
		if err != nil {
			return sum, err
		}
		sum.Chunks++
		metrics.RecordChunks(o.Job, 1)
		metrics.RecordRows(o.Job, "committed", committed)
		metrics.RecordRows(o.Job, "failed", failed)

		elapsed := o.now().Sub(chunkStart)
		rps := float64(0)
		if elapsed > 0 {
			rps = float64(committed) / elapsed.Seconds()
		}
		log.Printf(
			"chunk #%d: batch=%s rows=%d committed=%d failed=%d rps=%.0f total_committed=%d elapsed=%s",
			sum.Chunks, batchID, len(raw), committed, failed, rps,
			sum.RowsCommitted, elapsed.Truncate(time.Millisecond),
		)
	}

	log.Printf(
		"load done: batch=%s run=%s read=%d committed=%d failed=%d chunks=%d elapsed=%s",
		batchID, runID, sum.RowsRead, sum.RowsCommitted, sum.RowsFailed, sum.Chunks,
		o.now().Sub(start).Truncate(time.Millisecond),
	)
	return sum, nil
}

// loadChunk processes one chunk inside one transaction. The returned error is
// non-nil only for run-fatal conditions (broken transaction begin, failed
// lookup/reservation); chunk-scoped write and commit errors are absorbed
// after logging, with every row of the chunk counted as failed.
func (o *Orchestrator) loadChunk(
	ctx context.Context,
	batchID, runID string,
	raw []model.StagingRow,
) (committed, failed int64, err error) {
	rows := normalize.Collect(raw)

	tx, err := o.Store.BeginChunk(ctx)
	if err != nil {
		o.recordBatchFailure(ctx, batchID, runID, model.OpBeginChunk, codeTxError, err)
		return 0, 0, fmt.Errorf("begin chunk: %w", err)
	}
	defer tx.Rollback(ctx)

	custCands := make([]resolver.Candidate, 0, len(rows))
	prodCands := make([]resolver.Candidate, 0, len(rows))
	for _, r := range rows {
		custCands = append(custCands, resolver.Candidate{
			Key:    r.CustomerEmail,
			RowNum: r.RowNum,
			Name:   r.CustomerName,
		})
		prodCands = append(prodCands, resolver.Candidate{
			Key:                 r.ProductSKU,
			RowNum:              r.RowNum,
			Name:                r.ProductName,
			UnitPriceMinorUnits: r.UnitPriceValue(),
		})
	}

	resolveStart := o.now()
	custIDs, custFails, err := resolver.Resolve(ctx, tx.Customers(), custCands)
	metrics.RecordStep(o.Job, model.OpResolveCustomers, err, o.now().Sub(resolveStart))
	if err != nil {
		o.recordBatchFailure(ctx, batchID, runID, model.OpResolveCustomers, codeLookupError, err)
		return 0, 0, fmt.Errorf("resolve customers: %w", err)
	}
	o.recordKeyFailures(ctx, batchID, model.OpResolveCustomers, custFails)

	resolveStart = o.now()
	prodIDs, prodFails, err := resolver.Resolve(ctx, tx.Products(), prodCands)
	metrics.RecordStep(o.Job, model.OpResolveProducts, err, o.now().Sub(resolveStart))
	if err != nil {
		o.recordBatchFailure(ctx, batchID, runID, model.OpResolveProducts, codeLookupError, err)
		return 0, 0, fmt.Errorf("resolve products: %w", err)
	}
	o.recordKeyFailures(ctx, batchID, model.OpResolveProducts, prodFails)

	writeStart := o.now()
	res, err := facts.Write(ctx, tx.Facts(), rows, custIDs, prodIDs)
	metrics.RecordStep(o.Job, model.OpWriteFacts, err, o.now().Sub(writeStart))
	if err != nil {
		// Chunk-scoped: nothing from this chunk commits, but the run and the
		// failure records from resolution survive.
		o.recordBatchFailure(ctx, batchID, runID, model.OpWriteFacts, codeWriteError, err)
		return 0, int64(len(rows)), nil
	}
	for _, f := range res.Failures {
		o.recordFailure(ctx, model.FailureRecord{
			Operation: model.OpWriteFacts,
			BatchID:   batchID,
			RowNum:    model.RowRef(f.RowNum),
			ErrorCode: f.Code,
			Message:   f.Message,
		})
	}

	commitStart := o.now()
	err = tx.Commit(ctx)
	metrics.RecordStep(o.Job, model.OpCommitChunk, err, o.now().Sub(commitStart))
	if err != nil {
		o.recordBatchFailure(ctx, batchID, runID, model.OpCommitChunk, codeCommitError, err)
		return 0, int64(len(rows)), nil
	}

	return int64(res.Written), int64(len(rows) - res.Written), nil
}

// recordKeyFailures logs one failure record per failing natural key,
// attributed to the key's first sighting in the chunk. Rows that depended on
// the key are excluded by the fact writer and counted, but not logged again.
func (o *Orchestrator) recordKeyFailures(ctx context.Context, batchID, op string, fails []resolver.Failure) {
	for _, f := range fails {
		o.recordFailure(ctx, model.FailureRecord{
			Operation: op,
			BatchID:   batchID,
			RowNum:    model.RowRef(f.RowNum),
			ErrorCode: f.Code,
			Message:   fmt.Sprintf("key %q: %s", f.Key, f.Message),
		})
	}
}

func (o *Orchestrator) recordBatchFailure(ctx context.Context, batchID, runID, op, code string, cause error) {
	o.recordFailure(ctx, model.FailureRecord{
		Operation: op,
		BatchID:   batchID,
		ErrorCode: code,
		Message:   fmt.Sprintf("run %s: %v", runID, cause),
	})
}

// recordFailure forwards to the failure log. The log commits independently of
// the chunk transaction; if even that write fails there is nowhere durable
// left to report to, so the error is surfaced on stderr and the load goes on.
func (o *Orchestrator) recordFailure(ctx context.Context, rec model.FailureRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = o.now()
	}
	if err := o.Store.RecordFailure(ctx, rec); err != nil {
		log.Printf("failure log write failed: op=%s batch=%s err=%v", rec.Operation, rec.BatchID, err)
	}
}
