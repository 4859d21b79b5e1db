package services

import (
	"context"
	"sync"

	"github.com/Wikid82/cerberus/internal/logger"
)

// Invalidator is run after every successful mutation so in-memory caches can
// reload. The rule cache's Refresh fits this signature; when it returns, the
// change is visible to request validation.
type Invalidator func(ctx context.Context) error

type invalidation struct {
	mu sync.RWMutex
	fn Invalidator
}

func (i *invalidation) set(fn Invalidator) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.fn = fn
}

// run calls the invalidator. A failing reload does not undo the mutation: the
// next scheduled refresh picks it up.
func (i *invalidation) run(ctx context.Context) {
	i.mu.RLock()
	fn := i.fn
	i.mu.RUnlock()
	if fn == nil {
		return
	}
	if err := fn(ctx); err != nil {
		logger.Component("store").WithError(err).Warn("Cache invalidation after mutation failed")
	}
}
