package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/snowflake-id/models"
	"github.com/amirphl/snowflake-id/utils"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// TimestampIDFunction is the SQL function installed by Setup. It builds the same id as the
// Go generator from the entity's sequence, so a column can use it as its default:
//
//	id bigint PRIMARY KEY DEFAULT timestamp_id('orders'::text)
const TimestampIDFunction = "timestamp_id"

// PostgresSequenceRepository keeps one native Postgres SEQUENCE per entity.
// nextval is atomic across every session of the database and never rolls back.
type PostgresSequenceRepository struct {
	*BaseRepository
	suffix string
	epoch  time.Time
}

// NewPostgresSequenceRepository creates a sequence-backed counter store
func NewPostgresSequenceRepository(db *gorm.DB, suffix string, epoch time.Time) *PostgresSequenceRepository {
	if suffix == "" {
		suffix = utils.DefaultCounterSuffix
	}
	if epoch.IsZero() {
		epoch = utils.DefaultEpoch
	}
	return &PostgresSequenceRepository{
		BaseRepository: NewBaseRepository(db),
		suffix:         suffix,
		epoch:          epoch.UTC(),
	}
}

// Backend returns the backend name
func (r *PostgresSequenceRepository) Backend() string {
	return utils.BackendPostgresSequence
}

// Next draws the next value of the entity's sequence
func (r *PostgresSequenceRepository) Next(ctx context.Context, entity string) (int64, error) {
	if err := utils.ValidateEntityName(entity, r.suffix); err != nil {
		return 0, err
	}
	if err := r.connected(); err != nil {
		return 0, err
	}
	seq := utils.CounterName(entity, r.suffix)

	var value int64
	err := r.DB.WithContext(ctx).Raw("SELECT nextval(?::regclass)", pq.QuoteIdentifier(seq)).Scan(&value).Error
	if err != nil {
		if isUndefinedTable(err) {
			return 0, fmt.Errorf("%w: sequence %s", ErrCounterNotFound, seq)
		}
		return 0, fmt.Errorf("failed to draw from sequence %s: %w", seq, err)
	}

	return value, nil
}

// Ensure creates the entity's sequence. A duplicate from a concurrent creator counts as AlreadyExists.
func (r *PostgresSequenceRepository) Ensure(ctx context.Context, entity string) models.ProvisionOutcome {
	if err := utils.ValidateEntityName(entity, r.suffix); err != nil {
		return models.NewFailedOutcome(entity, "", err)
	}
	if err := r.connected(); err != nil {
		return models.NewFailedOutcome(entity, "", err)
	}
	seq := utils.CounterName(entity, r.suffix)

	// DDL takes no bind parameters; the name is validated and quoted instead
	err := r.DB.WithContext(ctx).Exec("CREATE SEQUENCE " + pq.QuoteIdentifier(seq)).Error
	switch {
	case err == nil:
		return models.NewCreatedOutcome(entity, seq)
	case isDuplicateRelation(err):
		return models.NewAlreadyExistsOutcome(entity, seq)
	default:
		return models.NewFailedOutcome(entity, seq, fmt.Errorf("failed to create sequence %s: %w", seq, err))
	}
}

// Ping checks that the database is a reachable Postgres instance
func (r *PostgresSequenceRepository) Ping(ctx context.Context) error {
	return r.ping(ctx)
}

// Setup installs the timestamp_id SQL function; sequences themselves are created by Ensure
func (r *PostgresSequenceRepository) Setup(ctx context.Context) error {
	if err := r.ping(ctx); err != nil {
		return err
	}
	if err := r.DB.WithContext(ctx).Exec(r.timestampIDFunctionSQL()).Error; err != nil {
		return fmt.Errorf("failed to install %s(): %w", TimestampIDFunction, err)
	}
	return nil
}

// timestampIDFunctionSQL renders the function with this store's epoch and suffix. The suffix is
// validated by config and only ever contains identifier characters.
func (r *PostgresSequenceRepository) timestampIDFunctionSQL() string {
	return fmt.Sprintf(`CREATE OR REPLACE FUNCTION %[1]s(entity text) RETURNS bigint
LANGUAGE plpgsql VOLATILE AS $fn$
DECLARE
	elapsed bigint;
	counter bigint;
BEGIN
	elapsed := floor(extract(epoch FROM clock_timestamp()) * 1000)::bigint - %[2]d;
	IF elapsed < 0 THEN
		RAISE EXCEPTION '%[1]s: clock is before the id epoch';
	END IF;
	IF elapsed > %[3]d THEN
		RAISE EXCEPTION '%[1]s: timestamp no longer fits in %[4]d bits';
	END IF;
	counter := nextval(quote_ident(entity || '%[5]s')::regclass);
	RETURN (elapsed << %[6]d) | (counter & %[7]d);
END
$fn$`,
		TimestampIDFunction,
		r.epoch.UnixMilli(),
		utils.MaxTimestamp,
		utils.TimestampBits,
		r.suffix,
		utils.TimestampShift,
		utils.SequenceMask,
	)
}
