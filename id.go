package overture

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a time-ordered unique identifier. UUIDv7 keeps inserts
// roughly sequential so identifiers double as creation order under index.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does; fall back to v4.
		return uuid.NewString()
	}
	return id.String()
}

// NowUnixMilli returns the current wall clock in Unix milliseconds, the unit
// used for credential expiry timestamps.
func NowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
