package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory constructs a Warehouse for a given configuration. Backend packages
// register one per kind from their init functions.
type Factory func(ctx context.Context, cfg Config) (Warehouse, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for the given storage kind.
// It is typically called from backend packages' init() functions; tests may
// register fakes under synthetic kinds.
func Register(kind string, fn Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = fn
}

// New constructs a Warehouse for cfg.Kind using the registered factory.
func New(ctx context.Context, cfg Config) (Warehouse, error) {
	regMu.RLock()
	fn, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return fn(ctx, cfg)
}

// ListKinds returns a sorted snapshot of the registered backend kinds.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
