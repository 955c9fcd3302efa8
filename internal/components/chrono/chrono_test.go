package chrono

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStandardTimeLocation(t *testing.T) {
	clock, err := NewStandardTime()
	require.NoError(t, err)
	require.Equal(t, "Asia/Jakarta", clock.Location().String())
	require.Equal(t, clock.Location(), clock.Now().Location())
}

func TestStandardTimeYearBoundary(t *testing.T) {
	clock, err := NewStandardTime()
	require.NoError(t, err)

	// 18:30 UTC on new year's eve is already the next year in jakarta (UTC+7)
	instant := time.Date(2023, time.December, 31, 18, 30, 0, 0, time.UTC)
	require.Equal(t, 2024, instant.In(clock.Location()).Year())
}

func TestFixedTime(t *testing.T) {
	instant := time.Date(2021, time.March, 3, 0, 0, 0, 0, time.UTC)
	require.Equal(t, instant, FixedTime{Time: instant}.Now())
}
