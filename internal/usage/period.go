// Package usage meters per-user operation counts against tier limits.
package usage

import (
	"strings"
	"time"
)

// Period is the window a counter accumulates over.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// PeriodFor derives the window from the limit name suffix. Names without a
// recognised suffix count per month.
func PeriodFor(limitType string) Period {
	switch {
	case strings.HasSuffix(limitType, "PerDay"):
		return PeriodDay
	case strings.HasSuffix(limitType, "PerYear"):
		return PeriodYear
	default:
		return PeriodMonth
	}
}

// PeriodKey identifies the current window in UTC.
func PeriodKey(p Period, now time.Time) string {
	now = now.UTC()
	switch p {
	case PeriodDay:
		return now.Format("2006-01-02")
	case PeriodYear:
		return now.Format("2006")
	default:
		return now.Format("2006-01")
	}
}

// ResetAt is the first instant of the next window.
func ResetAt(p Period, now time.Time) time.Time {
	now = now.UTC()
	y, m, d := now.Date()
	switch p {
	case PeriodDay:
		return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
	case PeriodYear:
		return time.Date(y+1, time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
	}
}

func counterKey(userID, limitType string, now time.Time) string {
	return "usage:" + userID + ":" + limitType + "_" + PeriodKey(PeriodFor(limitType), now)
}

// counterTTL keeps a key one day past its window so late readers still see it.
func counterTTL(limitType string, now time.Time) time.Duration {
	return ResetAt(PeriodFor(limitType), now).Sub(now.UTC()) + 24*time.Hour
}
