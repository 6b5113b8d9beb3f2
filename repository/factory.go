package repository

import (
	"fmt"
	"time"

	"github.com/amirphl/snowflake-id/utils"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// StoreOptions selects and configures a counter store
type StoreOptions struct {
	Backend     string
	Suffix      string
	RedisPrefix string
	// Epoch is baked into the SQL timestamp_id function installed by the sequence backend
	Epoch time.Time
}

// NewCounterStore builds the counter store for the configured backend. It fails with
// ErrUnsupportedBackend when the backend's connection is missing or is not PostgreSQL;
// an unreachable server is not checked here and surfaces later through Ping.
func NewCounterStore(opts StoreOptions, db *gorm.DB, rc *redis.Client) (CounterStore, error) {
	switch opts.Backend {
	case utils.BackendPostgresSequence, "":
		if err := requirePostgres(db); err != nil {
			return nil, err
		}
		return NewPostgresSequenceRepository(db, opts.Suffix, opts.Epoch), nil
	case utils.BackendTable:
		if err := requirePostgres(db); err != nil {
			return nil, err
		}
		return NewSequenceCounterRepository(db, opts.Suffix), nil
	case utils.BackendRedis:
		if rc == nil {
			return nil, fmt.Errorf("%w: backend %q needs a redis client", ErrUnsupportedBackend, opts.Backend)
		}
		return NewRedisCounterRepository(rc, opts.RedisPrefix, opts.Suffix), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, opts.Backend)
	}
}

func requirePostgres(db *gorm.DB) error {
	if db == nil || db.Config == nil || db.Dialector == nil {
		return fmt.Errorf("%w: no database connection", ErrUnsupportedBackend)
	}
	if name := db.Dialector.Name(); name != "postgres" {
		return fmt.Errorf("%w: dialect %q has no atomic counter support", ErrUnsupportedBackend, name)
	}
	return nil
}
