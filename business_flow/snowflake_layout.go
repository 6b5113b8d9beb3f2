package businessflow

import (
	"fmt"
	"time"

	"github.com/amirphl/snowflake-id/models"
	"github.com/amirphl/snowflake-id/utils"
)

// ComposeID packs elapsed milliseconds and the low sequence bits of counter into one id.
// elapsed must already be within [0, utils.MaxTimestamp].
func ComposeID(elapsed, counter int64) int64 {
	return elapsed<<utils.TimestampShift | (counter & utils.SequenceMask)
}

// DecomposeID splits id into its timestamp and sequence parts relative to epoch
func DecomposeID(epoch time.Time, id int64) (models.SnowflakeComponents, error) {
	if id < 0 {
		return models.SnowflakeComponents{}, fmt.Errorf("%w: %d is negative", ErrInvalidID, id)
	}
	elapsed := id >> utils.TimestampShift
	return models.SnowflakeComponents{
		ID:        id,
		ElapsedMs: elapsed,
		Sequence:  id & utils.SequenceMask,
		Timestamp: utils.FromMillis(epoch, elapsed),
	}, nil
}
