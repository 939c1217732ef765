package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, 2026, d.Year())
	assert.Equal(t, time.August, d.Month())

	_, err = ParseDate("30/08/2026")
	assert.Error(t, err)
	_, err = ParseDate("2026-13-01")
	assert.Error(t, err)
	_, err = ParseDate("")
	assert.Error(t, err)
}

func TestDateRange(t *testing.T) {
	dates, err := DateRange("2026-08-29", "2026-09-02")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2026-08-29", "2026-08-30", "2026-08-31", "2026-09-01", "2026-09-02",
	}, dates)
}

func TestDateRangeSingleDay(t *testing.T) {
	dates, err := DateRange("2026-08-30", "2026-08-30")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-08-30"}, dates)
}

func TestDateRangeInverted(t *testing.T) {
	_, err := DateRange("2026-08-30", "2026-08-01")
	assert.Error(t, err)
}

func TestShiftDate(t *testing.T) {
	d, err := ShiftDate("2026-09-01", -2)
	require.NoError(t, err)
	assert.Equal(t, "2026-08-30", d)

	d, err = ShiftDate("2026-08-30", 7)
	require.NoError(t, err)
	assert.Equal(t, "2026-09-06", d)

	_, err = ShiftDate("bogus", 1)
	assert.Error(t, err)
}

func TestYesterdayAndDaysAgo(t *testing.T) {
	assert.Equal(t, Yesterday(), DaysAgo(1))
	assert.True(t, DaysAgo(2) < Yesterday())

	y, err := ParseDate(Yesterday())
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -1), y, 25*time.Hour)
}

func TestIsWeekend(t *testing.T) {
	assert.True(t, IsWeekend("2026-08-29"))  // Saturday
	assert.True(t, IsWeekend("2026-08-30"))  // Sunday
	assert.False(t, IsWeekend("2026-08-31")) // Monday
	assert.False(t, IsWeekend("bogus"))
}

func TestParseBreakdownKind(t *testing.T) {
	for _, s := range []string{"product", "channel", "campaign", "commodity"} {
		k, err := ParseBreakdownKind(s)
		require.NoError(t, err)
		assert.Equal(t, BreakdownKind(s), k)
	}
	_, err := ParseBreakdownKind("region")
	assert.Error(t, err)
}
