package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"lpse-scraper/internal/scrapers/lpse"
)

// resolveYear turns the raw `year` query value into a budget year, an absent or empty
// value means the current year.
func resolveYear(raw string, now time.Time) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.Year(), nil
	}

	year, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("year %q is not an integer", raw)
	}
	err = lpse.ValidateYear(year, now)
	if err != nil {
		return 0, err
	}
	return year, nil
}
