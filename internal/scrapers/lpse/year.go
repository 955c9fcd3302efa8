package lpse

import (
	"fmt"
	"time"
)

// MinYear is the earliest budget year any SPSE instance holds tenders for.
const MinYear = 2000

// ValidateYear accepts budget years from MinYear up to the year after `now`, tenders for next
// year are published ahead of time.
func ValidateYear(year int, now time.Time) error {
	maxYear := now.Year() + 1
	if year < MinYear || year > maxYear {
		return fmt.Errorf("year %d is out of range [%d, %d]", year, MinYear, maxYear)
	}
	return nil
}
