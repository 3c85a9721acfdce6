package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"stageload/internal/model"
)

// stubWarehouse is a do-nothing Warehouse used to exercise the factory.
type stubWarehouse struct{ name string }

func (stubWarehouse) FetchStagingChunk(ctx context.Context, batchID string, afterRow int64, limit int) ([]model.StagingRow, error) {
	return nil, nil
}
func (stubWarehouse) BeginChunk(ctx context.Context) (ChunkTx, error)                  { return nil, nil }
func (stubWarehouse) RecordFailure(ctx context.Context, rec model.FailureRecord) error { return nil }
func (stubWarehouse) Close()                                                           {}

func TestNew_RegisteredKind(t *testing.T) {
	var gotCfg Config
	Register("test-kind-a", func(ctx context.Context, cfg Config) (Warehouse, error) {
		gotCfg = cfg
		return stubWarehouse{name: "a"}, nil
	})

	w, err := New(context.Background(), Config{Kind: "test-kind-a", DSN: "dsn://x", EnsureSchema: true})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if w == nil {
		t.Fatal("New returned nil warehouse")
	}
	if gotCfg.DSN != "dsn://x" || !gotCfg.EnsureSchema {
		t.Fatalf("factory received %+v; want the caller's config", gotCfg)
	}
}

func TestNew_UnsupportedKind(t *testing.T) {
	_, err := New(context.Background(), Config{Kind: "no-such-backend"})
	if err == nil {
		t.Fatal("New succeeded for unregistered kind")
	}
	if !strings.Contains(err.Error(), "unsupported storage.kind=no-such-backend") {
		t.Fatalf("err = %v; want unsupported-kind message naming the kind", err)
	}
}

func TestNew_FactoryErrorPropagates(t *testing.T) {
	wantErr := errors.New("connect failed")
	Register("test-kind-err", func(ctx context.Context, cfg Config) (Warehouse, error) {
		return nil, wantErr
	})

	_, err := New(context.Background(), Config{Kind: "test-kind-err"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v; want factory error %v", err, wantErr)
	}
}

func TestRegister_Override(t *testing.T) {
	Register("test-kind-b", func(ctx context.Context, cfg Config) (Warehouse, error) {
		return stubWarehouse{name: "first"}, nil
	})
	Register("test-kind-b", func(ctx context.Context, cfg Config) (Warehouse, error) {
		return stubWarehouse{name: "second"}, nil
	})

	w, err := New(context.Background(), Config{Kind: "test-kind-b"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if w.(stubWarehouse).name != "second" {
		t.Fatalf("got %q; want the later registration to win", w.(stubWarehouse).name)
	}
}

func TestListKinds_SortedAndContainsRegistered(t *testing.T) {
	Register("test-kind-z", func(ctx context.Context, cfg Config) (Warehouse, error) {
		return stubWarehouse{}, nil
	})
	Register("test-kind-c", func(ctx context.Context, cfg Config) (Warehouse, error) {
		return stubWarehouse{}, nil
	})

	kinds := ListKinds()
	idx := map[string]int{}
	for i, k := range kinds {
		idx[k] = i
	}
	for _, want := range []string{"test-kind-c", "test-kind-z"} {
		if _, ok := idx[want]; !ok {
			t.Fatalf("ListKinds() = %v; missing %q", kinds, want)
		}
	}
	if idx["test-kind-c"] > idx["test-kind-z"] {
		t.Fatalf("ListKinds() = %v; want sorted order", kinds)
	}
}
