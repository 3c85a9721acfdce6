package prompush

import (
	"testing"

	dto "github.com/prometheus/client_model/go"

	"stageload/internal/metrics"
)

func gatherMetric(t *testing.T, b *Backend, name string) *dto.MetricFamily {
	t.Helper()
	families, err := b.reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func TestNewBackend_RequiresURL(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend("job", ""); err == nil {
		t.Fatal("NewBackend accepted empty gateway URL")
	}
}

func TestIncCounter_StepTotal(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("orders_backfill", "http://localhost:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter("load_step_total", 1, metrics.Labels{"step": "write_facts", "status": "success"})
	b.IncCounter("load_step_total", 1, metrics.Labels{"step": "write_facts", "status": "success"})
	b.IncCounter("load_step_total", 1, metrics.Labels{"step": "write_facts", "status": "failure"})

	mf := gatherMetric(t, b, "load_step_total")
	if mf == nil {
		t.Fatal("load_step_total not registered")
	}
	if len(mf.GetMetric()) != 2 {
		t.Fatalf("label combinations = %d; want 2 (success, failure)", len(mf.GetMetric()))
	}
	total := 0.0
	for _, m := range mf.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	if total != 3 {
		t.Fatalf("summed counter = %v; want 3", total)
	}
}

func TestIncCounter_RowsAndChunks(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("orders_backfill", "http://localhost:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.IncCounter("load_rows_total", 5000, metrics.Labels{"kind": "committed"})
	b.IncCounter("load_chunks_total", 1, nil)
	b.IncCounter("some_unknown_metric", 7, nil) // silently ignored

	rows := gatherMetric(t, b, "load_rows_total")
	if rows == nil || rows.GetMetric()[0].GetCounter().GetValue() != 5000 {
		t.Fatalf("load_rows_total = %v; want 5000", rows)
	}
	chunks := gatherMetric(t, b, "load_chunks_total")
	if chunks == nil || chunks.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatalf("load_chunks_total = %v; want 1", chunks)
	}
}

func TestObserveHistogram_StepDuration(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("orders_backfill", "http://localhost:9091")
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}

	b.ObserveHistogram("load_step_duration_seconds", 0.5, metrics.Labels{"step": "commit_chunk", "status": "success"})
	b.ObserveHistogram("load_step_duration_seconds", 1.5, metrics.Labels{"step": "commit_chunk", "status": "success"})
	b.ObserveHistogram("unrelated", 9.9, nil) // ignored

	mf := gatherMetric(t, b, "load_step_duration_seconds")
	if mf == nil {
		t.Fatal("load_step_duration_seconds not registered")
	}
	s := mf.GetMetric()[0].GetSummary()
	if s.GetSampleCount() != 2 || s.GetSampleSum() != 2.0 {
		t.Fatalf("summary count/sum = %d/%v; want 2/2.0", s.GetSampleCount(), s.GetSampleSum())
	}
}
