package localtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func civil(y int, m time.Month, d, hh, mm, ss int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, 0, time.UTC)
}

func TestTransitions2024(t *testing.T) {
	spring, fall := Transitions(2024)
	assert.Equal(t, time.Date(2024, time.March, 31, 1, 0, 0, 0, time.UTC), spring)
	assert.Equal(t, time.Date(2024, time.October, 27, 1, 0, 0, 0, time.UTC), fall)
}

func TestTransitionsOtherYears(t *testing.T) {
	cases := []struct {
		year               int
		springDay, fallDay int
	}{
		{2023, 26, 29},
		{2025, 30, 26},
		{2026, 29, 25},
	}
	for _, tc := range cases {
		spring, fall := Transitions(tc.year)
		assert.Equal(t, tc.springDay, spring.Day(), "spring %d", tc.year)
		assert.Equal(t, tc.fallDay, fall.Day(), "fall %d", tc.year)
		assert.Equal(t, 1, spring.Hour())
		assert.Equal(t, 1, fall.Hour())
	}
}

func TestOffsetStraddlesTransitions(t *testing.T) {
	spring, fall := Transitions(2024)

	assert.Equal(t, 60, OffsetMinutes(spring.Add(-time.Second)))
	assert.Equal(t, 120, OffsetMinutes(spring))
	assert.Equal(t, 120, OffsetMinutes(fall.Add(-time.Second)))
	assert.Equal(t, 60, OffsetMinutes(fall))

	assert.True(t, IsDST(time.Date(2024, time.July, 15, 12, 0, 0, 0, time.UTC)))
	assert.False(t, IsDST(time.Date(2024, time.January, 15, 12, 0, 0, 0, time.UTC)))
}

func TestIsMissingHourSpringGap(t *testing.T) {
	// Local 02:00-02:59 on 2024-03-31 does not exist.
	for minute := 0; minute < 60; minute++ {
		c := civil(2024, time.March, 31, 2, minute, 0)
		assert.True(t, IsMissingHour(c), "02:%02d should be missing", minute)
		assert.False(t, IsAmbiguousHour(c))
	}

	assert.False(t, IsMissingHour(civil(2024, time.March, 31, 1, 59, 59)))
	assert.False(t, IsMissingHour(civil(2024, time.March, 31, 3, 0, 0)))
	assert.False(t, IsMissingHour(civil(2024, time.June, 1, 2, 30, 0)))
}

func TestNormalizeSpringGapResolvesPastGap(t *testing.T) {
	want := time.Date(2024, time.March, 31, 1, 0, 0, 0, time.UTC)
	for minute := 0; minute < 60; minute += 7 {
		got := NormalizeForStorage(civil(2024, time.March, 31, 2, minute, 13))
		assert.True(t, got.Equal(want), "02:%02d -> %v, want %v", minute, got, want)
	}
}

func TestIsAmbiguousHourFallBack(t *testing.T) {
	// Local 02:00-02:59 on 2024-10-27 occurs twice.
	for minute := 0; minute < 60; minute++ {
		c := civil(2024, time.October, 27, 2, minute, 0)
		assert.True(t, IsAmbiguousHour(c), "02:%02d should be ambiguous", minute)
		assert.False(t, IsMissingHour(c))
	}

	assert.False(t, IsAmbiguousHour(civil(2024, time.October, 27, 1, 59, 59)))
	assert.False(t, IsAmbiguousHour(civil(2024, time.October, 27, 3, 0, 0)))
}

func TestNormalizeAmbiguousHourPicksFirstOccurrence(t *testing.T) {
	got := NormalizeForStorage(civil(2024, time.October, 27, 2, 30, 0))
	// Pre-fallback offset is +02:00, so local 02:30 -> 00:30 UTC.
	want := time.Date(2024, time.October, 27, 0, 30, 0, 0, time.UTC)
	require.True(t, got.Equal(want), "got %v", got)
	assert.Equal(t, 120, OffsetMinutes(got))
}

func TestNormalizeUnambiguousRoundTrip(t *testing.T) {
	cases := []struct {
		civil time.Time
		want  time.Time
	}{
		// Winter: CET (+01:00).
		{civil(2024, time.January, 10, 14, 0, 0), time.Date(2024, time.January, 10, 13, 0, 0, 0, time.UTC)},
		// Summer: CEST (+02:00).
		{civil(2024, time.July, 10, 14, 0, 0), time.Date(2024, time.July, 10, 12, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got := NormalizeForStorage(tc.civil)
		assert.True(t, got.Equal(tc.want), "civil %v -> %v, want %v", tc.civil, got, tc.want)
	}
}

func TestLocalBucket(t *testing.T) {
	// 2024-07-13 is a Saturday; 22:30 UTC is 00:30 local Sunday.
	b := LocalBucket(time.Date(2024, time.July, 13, 22, 30, 0, 0, time.UTC))
	assert.Equal(t, 0, b.Hour)
	assert.Equal(t, 0, b.DayOfWeek)
	assert.Equal(t, DayTypeWeekend, b.DayType)

	// 2024-01-10 is a Wednesday; 08:00 UTC is 09:00 local.
	b = LocalBucket(time.Date(2024, time.January, 10, 8, 0, 0, 0, time.UTC))
	assert.Equal(t, 9, b.Hour)
	assert.Equal(t, 3, b.DayOfWeek)
	assert.Equal(t, DayTypeWeekday, b.DayType)
}

func TestLocalBucketAcrossSpringTransition(t *testing.T) {
	// One hour before the transition: 00:30 UTC -> 01:30 CET.
	assert.Equal(t, 1, LocalHour(time.Date(2024, time.March, 31, 0, 30, 0, 0, time.UTC)))
	// First instant after: 01:00 UTC -> 03:00 CEST; the 02:xx hour never happens.
	assert.Equal(t, 3, LocalHour(time.Date(2024, time.March, 31, 1, 0, 0, 0, time.UTC)))
}

func TestLocalBucketAcrossFallTransition(t *testing.T) {
	// 00:30 UTC -> 02:30 CEST, then 01:30 UTC -> 02:30 CET again.
	assert.Equal(t, 2, LocalHour(time.Date(2024, time.October, 27, 0, 30, 0, 0, time.UTC)))
	assert.Equal(t, 2, LocalHour(time.Date(2024, time.October, 27, 1, 30, 0, 0, time.UTC)))
	assert.Equal(t, 3, LocalHour(time.Date(2024, time.October, 27, 2, 0, 0, 0, time.UTC)))
}
