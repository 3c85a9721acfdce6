package datadog

import (
	"sort"
	"testing"

	"stageload/internal/metrics"
)

func TestNewBackend_RequiresAddr(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend(Config{}); err == nil {
		t.Fatal("NewBackend accepted empty Addr")
	}
}

func TestLabelsToTags(t *testing.T) {
	t.Parallel()

	tags := labelsToTags(metrics.Labels{"step": "write_facts", "status": "success"})
	sort.Strings(tags)
	if len(tags) != 2 || tags[0] != "status:success" || tags[1] != "step:write_facts" {
		t.Fatalf("tags = %v", tags)
	}

	if got := labelsToTags(nil); got != nil {
		t.Fatalf("labelsToTags(nil) = %v; want nil", got)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	t.Parallel()

	var b Backend
	b.IncCounter("load_rows_total", 1, nil)
	b.ObserveHistogram("load_step_duration_seconds", 0.1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush on zero Backend = %v; want nil", err)
	}
}
