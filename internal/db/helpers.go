package db

import "time"

// nilIfZeroTime converts a zero time.Time into nil so that SQL COALESCE
// expressions can substitute NOW() for unset timestamps.
func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
