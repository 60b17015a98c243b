package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodFor(t *testing.T) {
	tests := map[string]Period{
		"postsPerMonth":        PeriodMonth,
		"aiQueriesPerDay":      PeriodDay,
		"reportsPerYear":       PeriodYear,
		"storageGB":            PeriodMonth,
		"daoVotesPerMonth":     PeriodMonth,
		"PerDayPrefixedOnly_x": PeriodMonth,
	}
	for in, want := range tests {
		assert.Equal(t, want, PeriodFor(in), in)
	}
}

func TestPeriodKeyAndReset(t *testing.T) {
	// 21:30 at UTC-5 is already the next day in UTC.
	local := time.FixedZone("EST", -5*3600)
	now := time.Date(2026, 12, 31, 21, 30, 0, 0, local)

	assert.Equal(t, "2027-01-01", PeriodKey(PeriodDay, now))
	assert.Equal(t, "2027-01", PeriodKey(PeriodMonth, now))
	assert.Equal(t, "2027", PeriodKey(PeriodYear, now))

	assert.Equal(t, time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC), ResetAt(PeriodDay, now))
	assert.Equal(t, time.Date(2027, 2, 1, 0, 0, 0, 0, time.UTC), ResetAt(PeriodMonth, now))
	assert.Equal(t, time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC), ResetAt(PeriodYear, now))
}

func TestCounterKeyAndTTL(t *testing.T) {
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "usage:u1:postsPerMonth_2026-03", counterKey("u1", "postsPerMonth", now))
	assert.Equal(t, "usage:u1:aiQueriesPerDay_2026-03-31", counterKey("u1", "aiQueriesPerDay", now))
	assert.Equal(t, 36*time.Hour, counterTTL("aiQueriesPerDay", now))
	assert.Equal(t, 36*time.Hour, counterTTL("postsPerMonth", now))
}
