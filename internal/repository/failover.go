package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"fieldops/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverLockRepository takes locks from the primary (redis) and falls back
// to process-local locks while the primary is unreachable.
type FailoverLockRepository struct {
	primary  domain.LockRepository
	fallback domain.LockRepository
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverLockRepository(primary, fallback domain.LockRepository, logger *zerolog.Logger) *FailoverLockRepository {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverLockRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverLockRepository) markDown() {
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverLockRepository) shouldRetryPrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.lastCheck) > recoveryInterval
}

func (r *FailoverLockRepository) Acquire(ctx context.Context, key string) (func(), error) {
	if !r.isDown.Load() || r.shouldRetryPrimary() {
		release, err := r.primary.Acquire(ctx, key)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary lock repository recovered")
			}
			return release, nil
		}
		// Busy lock or cancelled caller: the backend itself is fine.
		if IsContextError(err) {
			return nil, err
		}
		r.logger.Error().Err(err).Str("key", key).Msg("Primary lock repository failed, falling back to memory")
		r.markDown()
	}

	return r.fallback.Acquire(ctx, key)
}
