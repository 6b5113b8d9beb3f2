package models

import "time"

// SnowflakeComponents are the fields packed into a generated ID
type SnowflakeComponents struct {
	ID        int64     `json:"id"`
	ElapsedMs int64     `json:"elapsed_ms"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}
