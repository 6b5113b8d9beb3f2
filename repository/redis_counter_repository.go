package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/snowflake-id/models"
	"github.com/amirphl/snowflake-id/utils"
	"github.com/redis/go-redis/v9"
)

// incrExisting increments a counter key only if it was provisioned. A bare INCR would
// create missing keys and hide unprovisioned entities. Scripts run atomically on the server.
var incrExisting = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
return redis.call('INCR', KEYS[1])
`)

// RedisCounterRepository keeps one integer key per entity. Durability follows the server's
// persistence settings (AOF with appendfsync always is required for counters that must never repeat).
type RedisCounterRepository struct {
	client *redis.Client
	prefix string
	suffix string
}

// NewRedisCounterRepository creates a redis-backed counter store
func NewRedisCounterRepository(client *redis.Client, prefix, suffix string) *RedisCounterRepository {
	if suffix == "" {
		suffix = utils.DefaultCounterSuffix
	}
	return &RedisCounterRepository{
		client: client,
		prefix: prefix,
		suffix: suffix,
	}
}

// Backend returns the backend name
func (r *RedisCounterRepository) Backend() string {
	return utils.BackendRedis
}

func (r *RedisCounterRepository) key(entity string) string {
	return r.prefix + utils.CounterName(entity, r.suffix)
}

// Next increments the entity's key and returns the new value
func (r *RedisCounterRepository) Next(ctx context.Context, entity string) (int64, error) {
	if err := utils.ValidateEntityName(entity, r.suffix); err != nil {
		return 0, err
	}
	if r.client == nil {
		return 0, fmt.Errorf("%w: no redis connection", ErrStorageUnavailable)
	}
	key := r.key(entity)

	value, err := incrExisting.Run(ctx, r.client, []string{key}).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, fmt.Errorf("%w: key %s", ErrCounterNotFound, key)
		}
		if IsConnectivityError(err) {
			return 0, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		return 0, fmt.Errorf("failed to increment counter %s: %w", key, err)
	}

	return value, nil
}

// Ensure creates the key with value 0 unless it already exists
func (r *RedisCounterRepository) Ensure(ctx context.Context, entity string) models.ProvisionOutcome {
	if err := utils.ValidateEntityName(entity, r.suffix); err != nil {
		return models.NewFailedOutcome(entity, "", err)
	}
	if r.client == nil {
		return models.NewFailedOutcome(entity, "", fmt.Errorf("%w: no redis connection", ErrStorageUnavailable))
	}
	key := r.key(entity)

	created, err := r.client.SetNX(ctx, key, 0, 0).Result()
	if err != nil {
		if IsConnectivityError(err) {
			err = fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		return models.NewFailedOutcome(entity, key, fmt.Errorf("failed to create counter %s: %w", key, err))
	}
	if !created {
		return models.NewAlreadyExistsOutcome(entity, key)
	}

	return models.NewCreatedOutcome(entity, key)
}

// Ping checks that redis answers
func (r *RedisCounterRepository) Ping(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("%w: no redis connection", ErrStorageUnavailable)
	}
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Setup is a no-op; keys are created by Ensure
func (r *RedisCounterRepository) Setup(ctx context.Context) error {
	return nil
}
