package utils

import (
	"time"
)

// Snowflake bit layout. An ID is laid out from the most significant bit as
//
//	| 1 bit sign (always 0) | 41 bits ms since epoch | 22 bits counter |
//
// 41 timestamp bits cover about 69.7 years after the epoch. 22 counter bits allow
// 4,194,304 draws per entity per millisecond before two masked counter values can collide.
const (
	// TimestampBits is the width of the millisecond timestamp field
	TimestampBits = 41

	// SequenceBits is the width of the counter field
	SequenceBits = 22

	// TimestampShift is how far the timestamp field is shifted left
	TimestampShift = SequenceBits

	// SequenceMask keeps the low SequenceBits bits of a counter value
	SequenceMask int64 = (1 << SequenceBits) - 1

	// MaxTimestamp is the largest elapsed-millisecond value that fits the layout
	MaxTimestamp int64 = (1 << TimestampBits) - 1
)

// DefaultEpoch is the reference instant subtracted from wall-clock time. It must never change
// once IDs have been persisted.
var DefaultEpoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// Counter naming and storage constants
const (
	// DefaultCounterSuffix is appended to an entity name to name its counter (orders -> orders_id_seq)
	DefaultCounterSuffix = "_id_seq"

	// MaxIdentifierLength is the longest identifier Postgres keeps without truncation
	MaxIdentifierLength = 63

	// SequenceCountersTable stores table-backed counters
	SequenceCountersTable = "sequence_counters"
)

// Backend names accepted by SNOWFLAKE_BACKEND
const (
	BackendPostgresSequence = "postgres_sequence"
	BackendTable            = "table"
	BackendRedis            = "redis"
)

// Provisioning defaults
const (
	DefaultProvisionConcurrency = 4

	// MaxIDsPerRequest bounds a single batch generation request
	MaxIDsPerRequest = 1000
)

// Context keys used by handlers
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	EndpointKey  contextKey = "endpoint"
	IPAddressKey contextKey = "ip_address"
	UserAgentKey contextKey = "user_agent"
	TimeoutKey   contextKey = "timeout"
)
