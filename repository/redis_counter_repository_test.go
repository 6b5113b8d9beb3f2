package repository

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/amirphl/snowflake-id/models"
	"github.com/amirphl/snowflake-id/utils"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisCounterRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCounterRepository(client, "snowflake:", ""), mr
}

func TestRedisCounterRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("NextWithoutEnsure", func(t *testing.T) {
		store, mr := newTestRedisStore(t)

		_, err := store.Next(ctx, "orders")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCounterNotFound)
		assert.False(t, mr.Exists("snowflake:orders_id_seq"), "Next must not create the key")
	})

	t.Run("EnsureThenNext", func(t *testing.T) {
		store, mr := newTestRedisStore(t)

		outcome := store.Ensure(ctx, "orders")
		assert.Equal(t, models.ProvisionCreated, outcome.Status)
		assert.Equal(t, "snowflake:orders_id_seq", outcome.Counter)

		for want := int64(1); want <= 3; want++ {
			got, err := store.Next(ctx, "orders")
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}

		value, err := mr.Get("snowflake:orders_id_seq")
		require.NoError(t, err)
		assert.Equal(t, "3", value)
	})

	t.Run("EnsureIsIdempotent", func(t *testing.T) {
		store, _ := newTestRedisStore(t)

		assert.Equal(t, models.ProvisionCreated, store.Ensure(ctx, "users").Status)
		_, err := store.Next(ctx, "users")
		require.NoError(t, err)

		assert.Equal(t, models.ProvisionAlreadyExists, store.Ensure(ctx, "users").Status)

		got, err := store.Next(ctx, "users")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got, "second ensure must not reset the counter")
	})

	t.Run("ConcurrentEnsure", func(t *testing.T) {
		store, _ := newTestRedisStore(t)

		const workers = 16
		statuses := make(chan models.ProvisionStatus, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				statuses <- store.Ensure(ctx, "invoices").Status
			}()
		}
		wg.Wait()
		close(statuses)

		counts := map[models.ProvisionStatus]int{}
		for s := range statuses {
			counts[s]++
		}
		assert.Equal(t, 1, counts[models.ProvisionCreated])
		assert.Equal(t, workers-1, counts[models.ProvisionAlreadyExists])
	})

	t.Run("ConcurrentNextIsUnique", func(t *testing.T) {
		store, _ := newTestRedisStore(t)
		require.True(t, store.Ensure(ctx, "events").Ok())

		const workers, perWorker = 8, 25
		values := make(chan int64, workers*perWorker)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWorker; j++ {
					v, err := store.Next(ctx, "events")
					assert.NoError(t, err)
					values <- v
				}
			}()
		}
		wg.Wait()
		close(values)

		seen := map[int64]bool{}
		for v := range values {
			assert.False(t, seen[v], "duplicate counter value %d", v)
			seen[v] = true
		}
		assert.Len(t, seen, workers*perWorker)
	})

	t.Run("InvalidEntity", func(t *testing.T) {
		store, _ := newTestRedisStore(t)

		_, err := store.Next(ctx, "bad name")
		assert.ErrorIs(t, err, utils.ErrInvalidEntityName)

		outcome := store.Ensure(ctx, "")
		assert.Equal(t, models.ProvisionFailed, outcome.Status)
		assert.ErrorIs(t, outcome.Err, utils.ErrInvalidEntityName)
	})

	t.Run("ServerDown", func(t *testing.T) {
		store, mr := newTestRedisStore(t)
		require.NoError(t, store.Ping(ctx))
		mr.Close()

		err := store.Ping(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStorageUnavailable)

		outcome := store.Ensure(ctx, "orders")
		assert.Equal(t, models.ProvisionFailed, outcome.Status)
		assert.True(t, IsConnectivityError(outcome.Err))

		_, err = store.Next(ctx, "orders")
		assert.True(t, IsConnectivityError(err))
	})
}
