// Package utils provides utility functions for the application.
package utils

import (
	"time"
)

// UTCNow returns the current time in UTC
func UTCNow() time.Time {
	return time.Now().UTC()
}

// MillisSince returns the whole milliseconds elapsed from epoch to t, floored to the millisecond
// boundary. It is negative when t is before epoch.
func MillisSince(epoch, t time.Time) int64 {
	return t.UnixMilli() - epoch.UnixMilli()
}

// FromMillis returns the instant that lies ms milliseconds after epoch, in UTC
func FromMillis(epoch time.Time, ms int64) time.Time {
	return epoch.Add(time.Duration(ms) * time.Millisecond).UTC()
}
