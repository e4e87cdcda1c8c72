package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLockRepository(t *testing.T) {
	repo := NewMemoryLockRepository()
	ctx := context.Background()

	release, err := repo.Acquire(ctx, "k")
	require.NoError(t, err)

	t.Run("BusyUntilReleased", func(t *testing.T) {
		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := repo.Acquire(waitCtx, "k")
		require.Error(t, err)
		assert.True(t, IsContextError(err))
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		other, err := repo.Acquire(ctx, "other")
		require.NoError(t, err)
		other()
	})

	release()
	release() // second call is a no-op

	again, err := repo.Acquire(ctx, "k")
	require.NoError(t, err)
	again()
}
