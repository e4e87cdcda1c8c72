package repository

import (
	"context"
	"fmt"
	"sync"
)

// MemoryLockRepository provides process-local named locks.
type MemoryLockRepository struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewMemoryLockRepository() *MemoryLockRepository {
	return &MemoryLockRepository{
		locks: make(map[string]chan struct{}),
	}
}

func (r *MemoryLockRepository) slot(key string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		r.locks[key] = ch
	}
	return ch
}

func (r *MemoryLockRepository) Acquire(ctx context.Context, key string) (func(), error) {
	ch := r.slot(key)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("lock %s is busy: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}
