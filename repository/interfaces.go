// Package repository provides data access layer implementations and interfaces for counter storage
package repository

import (
	"context"

	"github.com/amirphl/snowflake-id/models"
)

// CounterStore is a durable, atomically incrementing integer per entity.
// Implementations must be linearizable across processes; no in-process lock may stand in for that.
type CounterStore interface {
	// Next increments and returns the entity's counter. It fails with ErrCounterNotFound when no
	// counter has been provisioned.
	Next(ctx context.Context, entity string) (int64, error)

	// Ensure creates the counter if absent. Concurrent callers racing on the same entity observe
	// exactly one Created; the rest observe AlreadyExists. Failures come back as a Failed outcome.
	Ensure(ctx context.Context, entity string) models.ProvisionOutcome

	// Ping checks that the storage is reachable and initialized
	Ping(ctx context.Context) error

	// Setup prepares backend storage that the store itself owns (no-op for redis)
	Setup(ctx context.Context) error

	// Backend returns the backend name
	Backend() string
}
