package businessflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/snowflake-id/models"
	"github.com/amirphl/snowflake-id/repository"
	"github.com/amirphl/snowflake-id/utils"
)

// SnowflakeFlow generates time-ordered 64-bit ids per entity
type SnowflakeFlow interface {
	Generate(ctx context.Context, entity string) (int64, error)
	GenerateN(ctx context.Context, entity string, n int) ([]int64, error)
	Decompose(id int64) (models.SnowflakeComponents, error)
	Epoch() time.Time
}

// SnowflakeOptions configures the generator
type SnowflakeOptions struct {
	Epoch         time.Time
	CounterSuffix string
	// LazyProvision creates a missing counter on first use instead of failing with NOT_PROVISIONED
	LazyProvision bool
	// KnownEntities get their own metric series; every other entity is counted as "_other"
	KnownEntities []string
	// Now overrides the clock; nil means utils.UTCNow
	Now func() time.Time
}

// SnowflakeFlowImpl implements SnowflakeFlow on top of a CounterStore.
// It keeps no per-process state; ordering and uniqueness come from the store's counter.
type SnowflakeFlowImpl struct {
	store  repository.CounterStore
	epoch  time.Time
	suffix string
	lazy   bool
	labels entityLabels
	now    func() time.Time
}

func NewSnowflakeFlow(store repository.CounterStore, opts SnowflakeOptions) SnowflakeFlow {
	if opts.Epoch.IsZero() {
		opts.Epoch = utils.DefaultEpoch
	}
	if opts.CounterSuffix == "" {
		opts.CounterSuffix = utils.DefaultCounterSuffix
	}
	if opts.Now == nil {
		opts.Now = utils.UTCNow
	}
	return &SnowflakeFlowImpl{
		store:  store,
		epoch:  opts.Epoch.UTC(),
		suffix: opts.CounterSuffix,
		lazy:   opts.LazyProvision,
		labels: newEntityLabels(opts.KnownEntities),
		now:    opts.Now,
	}
}

// Epoch returns the instant that timestamp zero refers to
func (f *SnowflakeFlowImpl) Epoch() time.Time {
	return f.epoch
}

// Generate returns a new id for entity. The timestamp is read before the counter is drawn.
func (f *SnowflakeFlowImpl) Generate(ctx context.Context, entity string) (id int64, err error) {
	start := time.Now()
	defer func() { observeGenerate(f.labels.label(entity, err), start, err) }()

	if err := utils.ValidateEntityName(entity, f.suffix); err != nil {
		return 0, NewBusinessError(CodeInvalidEntityName, "invalid entity name", err)
	}

	elapsed := utils.MillisSince(f.epoch, f.now())
	if elapsed < 0 {
		return 0, NewBusinessErrorf(CodeClockBeforeEpoch, "clock is %dms before epoch %s", ErrClockBeforeEpoch, -elapsed, f.epoch.Format(time.RFC3339))
	}
	if elapsed > utils.MaxTimestamp {
		return 0, NewBusinessErrorf(CodeTimestampOverflow, "%dms since epoch exceeds the %d-bit timestamp field", ErrTimestampOverflow, elapsed, utils.TimestampBits)
	}

	counter, err := f.draw(ctx, entity)
	if err != nil {
		return 0, err
	}

	return ComposeID(elapsed, counter), nil
}

// GenerateN returns n ids for entity in generation order, stopping at the first failure
func (f *SnowflakeFlowImpl) GenerateN(ctx context.Context, entity string, n int) ([]int64, error) {
	if n < 1 {
		n = 1
	}
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id, err := f.Generate(ctx, entity)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Decompose splits a previously generated id into its parts
func (f *SnowflakeFlowImpl) Decompose(id int64) (models.SnowflakeComponents, error) {
	components, err := DecomposeID(f.epoch, id)
	if err != nil {
		return models.SnowflakeComponents{}, NewBusinessError(CodeInvalidID, "id must be non-negative", err)
	}
	return components, nil
}

func (f *SnowflakeFlowImpl) draw(ctx context.Context, entity string) (int64, error) {
	if f.store == nil {
		return 0, f.drawError(entity, repository.ErrStorageUnavailable)
	}

	value, err := f.store.Next(ctx, entity)
	if err == nil {
		return value, nil
	}
	if !f.lazy || !errors.Is(err, repository.ErrCounterNotFound) {
		return 0, f.drawError(entity, err)
	}

	// Lazy provisioning: create the counter once and retry the draw once
	outcome := f.store.Ensure(ctx, entity)
	if !outcome.Ok() {
		if repository.IsConnectivityError(outcome.Err) {
			return 0, f.drawError(entity, outcome.Err)
		}
		return 0, NewBusinessErrorf(CodeProvisioningFailed, "failed to provision counter for %s", fmt.Errorf("%w: %w", ErrProvisioningFailed, outcome.Err), entity)
	}

	value, err = f.store.Next(ctx, entity)
	if err != nil {
		return 0, f.drawError(entity, err)
	}
	return value, nil
}

func (f *SnowflakeFlowImpl) drawError(entity string, err error) error {
	switch {
	case errors.Is(err, repository.ErrCounterNotFound):
		return NewBusinessErrorf(CodeNotProvisioned, "counter for %s is not provisioned", fmt.Errorf("%w: %w", ErrNotProvisioned, err), entity)
	case errors.Is(err, utils.ErrInvalidEntityName):
		return NewBusinessError(CodeInvalidEntityName, "invalid entity name", err)
	case repository.IsConnectivityError(err):
		return NewBusinessErrorf(CodeStorageUnavailable, "counter storage unavailable for %s", fmt.Errorf("%w: %w", ErrConnectivityUnavailable, err), entity)
	default:
		return NewBusinessErrorf(CodeCounterDrawFailed, "failed to draw counter for %s", err, entity)
	}
}
