package repository

import (
	"context"
	"fmt"

	"github.com/amirphl/snowflake-id/models"
	"github.com/amirphl/snowflake-id/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SequenceCounterRepository keeps one row per entity in sequence_counters.
// Each draw is a single UPDATE ... RETURNING, serialized by the row lock.
type SequenceCounterRepository struct {
	*BaseRepository
	suffix string
}

// NewSequenceCounterRepository creates a table-backed counter store
func NewSequenceCounterRepository(db *gorm.DB, suffix string) *SequenceCounterRepository {
	if suffix == "" {
		suffix = utils.DefaultCounterSuffix
	}
	return &SequenceCounterRepository{
		BaseRepository: NewBaseRepository(db),
		suffix:         suffix,
	}
}

// Backend returns the backend name
func (r *SequenceCounterRepository) Backend() string {
	return utils.BackendTable
}

// Next increments the entity's row and returns the new value. The UPDATE runs in its own
// implicit transaction, so a drawn value is never handed out twice.
func (r *SequenceCounterRepository) Next(ctx context.Context, entity string) (int64, error) {
	if err := utils.ValidateEntityName(entity, r.suffix); err != nil {
		return 0, err
	}
	if err := r.connected(); err != nil {
		return 0, err
	}
	name := utils.CounterName(entity, r.suffix)

	var value int64
	res := r.DB.WithContext(ctx).Raw(
		"UPDATE sequence_counters SET last_value = last_value + 1, updated_at = NOW() WHERE name = ? RETURNING last_value",
		name,
	).Scan(&value)
	if res.Error != nil {
		if isUndefinedTable(res.Error) {
			return 0, fmt.Errorf("%w: table %s does not exist: %w", ErrStorageUnavailable, utils.SequenceCountersTable, res.Error)
		}
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, fmt.Errorf("%w: counter row %s", ErrCounterNotFound, name)
	}

	return value, nil
}

// Ensure inserts the counter row; a conflicting insert means another caller created it first
func (r *SequenceCounterRepository) Ensure(ctx context.Context, entity string) models.ProvisionOutcome {
	if err := utils.ValidateEntityName(entity, r.suffix); err != nil {
		return models.NewFailedOutcome(entity, "", err)
	}
	if err := r.connected(); err != nil {
		return models.NewFailedOutcome(entity, "", err)
	}
	name := utils.CounterName(entity, r.suffix)

	res := r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&models.SequenceCounter{Name: name, LastValue: 0})
	if res.Error != nil {
		if isUndefinedTable(res.Error) {
			return models.NewFailedOutcome(entity, name, fmt.Errorf("%w: table %s does not exist", ErrStorageUnavailable, utils.SequenceCountersTable))
		}
		return models.NewFailedOutcome(entity, name, fmt.Errorf("failed to create counter %s: %w", name, res.Error))
	}
	if res.RowsAffected == 0 {
		return models.NewAlreadyExistsOutcome(entity, name)
	}

	return models.NewCreatedOutcome(entity, name)
}

// Ping checks the connection and that sequence_counters has been created
func (r *SequenceCounterRepository) Ping(ctx context.Context) error {
	if err := r.ping(ctx); err != nil {
		return err
	}
	if !r.DB.WithContext(ctx).Migrator().HasTable(&models.SequenceCounter{}) {
		return fmt.Errorf("%w: table %s is not initialized", ErrStorageUnavailable, utils.SequenceCountersTable)
	}
	return nil
}

// Setup creates sequence_counters when it does not exist yet
func (r *SequenceCounterRepository) Setup(ctx context.Context) error {
	if err := r.ping(ctx); err != nil {
		return err
	}
	if err := r.DB.WithContext(ctx).AutoMigrate(&models.SequenceCounter{}); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", utils.SequenceCountersTable, err)
	}
	return nil
}
