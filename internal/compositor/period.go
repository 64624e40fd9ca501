package compositor

import (
	"fmt"
	"regexp"
	"strconv"
)

type PeriodMode string

const (
	PeriodSince PeriodMode = "since"
	PeriodAge   PeriodMode = "age"
)

func ParsePeriodMode(s string) (PeriodMode, error) {
	switch m := PeriodMode(s); m {
	case PeriodSince, PeriodAge:
		return m, nil
	case "":
		return PeriodSince, nil
	}
	return "", fmt.Errorf("unknown period mode %q", s)
}

// A run of exactly four ASCII digits, not part of a longer number.
var yearPattern = regexp.MustCompile(`(?:^|[^0-9])([0-9]{4})(?:[^0-9]|$)`)

// ExtractYear returns the first four-digit run in period.
func ExtractYear(period string) (int, bool) {
	m := yearPattern.FindStringSubmatch(period)
	if m == nil {
		return 0, false
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return year, true
}

// FormatPeriod renders a free-text period. Text without a year, and years
// after currentYear in age mode, are returned unchanged.
func FormatPeriod(period string, mode PeriodMode, currentYear int) string {
	year, ok := ExtractYear(period)
	if !ok {
		return period
	}
	switch mode {
	case PeriodAge:
		if year > currentYear {
			return period
		}
		return fmt.Sprintf("%s (%d years old)", period, currentYear-year)
	default:
		return fmt.Sprintf("Since %d", year)
	}
}
