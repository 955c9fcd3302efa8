package chrono

import (
	"time"
	_ "time/tzdata"
)

// the upstream tender portals publish their budget years in western indonesia time,
// so "the current year" has to be computed there and not on whatever zone the server runs in.
const upstreamZone = "Asia/Jakarta"

// TimeAPI is the interface that anything depending on the system clock should use.
type TimeAPI interface {
	// Now returns the current time in the upstream's timezone.
	Now() time.Time
}

// StandardTime is the standard implementation of TimeAPI using the standard library.
type StandardTime struct {
	location *time.Location
}

// NewStandardTime is the constructor of StandardTime.
func NewStandardTime() (StandardTime, error) {
	location, err := time.LoadLocation(upstreamZone)
	if err != nil {
		return StandardTime{}, err
	}
	return StandardTime{location: location}, nil
}

func (s StandardTime) Now() time.Time {
	return time.Now().In(s.location)
}

func (s StandardTime) Location() *time.Location {
	return s.location
}

// FixedTime is a TimeAPI that always returns the same instant.
type FixedTime struct {
	Time time.Time
}

func (f FixedTime) Now() time.Time {
	return f.Time
}
