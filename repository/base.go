package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// BaseRepository provides the shared gorm handle
type BaseRepository struct {
	DB *gorm.DB
}

// NewBaseRepository creates a new base repository instance
func NewBaseRepository(db *gorm.DB) *BaseRepository {
	return &BaseRepository{
		DB: db,
	}
}

// connected fails when the repository was built without a database handle
func (r *BaseRepository) connected() error {
	if r.DB == nil {
		return fmt.Errorf("%w: no database connection", ErrStorageUnavailable)
	}
	return nil
}

// ping checks the dialect and the underlying connection pool
func (r *BaseRepository) ping(ctx context.Context) error {
	if err := r.connected(); err != nil {
		return err
	}
	if name := r.DB.Dialector.Name(); name != "postgres" {
		return fmt.Errorf("%w: dialect %q has no atomic counter support", ErrUnsupportedBackend, name)
	}
	sqlDB, err := r.DB.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return nil
}
