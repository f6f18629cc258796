// Package localtime maps absolute instants to civil-calendar buckets in the
// Europe/Madrid reference timezone, and normalizes civil wall-clock timestamps
// back to canonical absolute instants across DST transitions.
//
// The zone is modeled with fixed offsets (CET +01:00, CEST +02:00) and the EU
// transition rule (last Sunday of March / October at 01:00 UTC) rather than
// host tzdata, so bucketing is identical on every machine.
package localtime

import "time"

const (
	cetOffsetMinutes  = 60
	cestOffsetMinutes = 120
)

// DayType classifies a civil day as working or non-working.
type DayType string

const (
	DayTypeWeekday DayType = "WEEKDAY"
	DayTypeWeekend DayType = "WEEKEND"
)

// Bucket is the civil-calendar position of an instant in the reference zone.
type Bucket struct {
	Hour      int
	DayOfWeek int // 0 = Sunday .. 6 = Saturday
	DayType   DayType
}

// Transitions returns the two DST transition instants for a year:
// spring-forward (CET -> CEST) and fall-back (CEST -> CET), both at 01:00 UTC
// on the last Sunday of March and October respectively.
func Transitions(year int) (spring, fall time.Time) {
	return time.Date(year, time.March, lastSunday(year, time.March), 1, 0, 0, 0, time.UTC),
		time.Date(year, time.October, lastSunday(year, time.October), 1, 0, 0, 0, time.UTC)
}

func lastSunday(year int, month time.Month) int {
	// Day 0 of the next month normalizes to the last day of this month.
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
	return last.Day() - int(last.Weekday())
}

// OffsetMinutes returns the UTC offset of the reference zone at an absolute
// instant: CEST between the spring and fall transitions, CET otherwise.
func OffsetMinutes(t time.Time) int {
	spring, fall := Transitions(t.UTC().Year())
	if !t.Before(spring) && t.Before(fall) {
		return cestOffsetMinutes
	}
	return cetOffsetMinutes
}

// IsDST reports whether the reference zone observes summer time at t.
func IsDST(t time.Time) bool {
	return OffsetMinutes(t) == cestOffsetMinutes
}

// civilOf converts an absolute instant to its civil wall-clock representation:
// a time.Time in UTC location whose fields carry the local calendar values.
func civilOf(t time.Time) time.Time {
	return t.UTC().Add(time.Duration(OffsetMinutes(t)) * time.Minute)
}

// LocalBucket returns the civil hour, day-of-week and day type observed in the
// reference zone at an absolute instant.
func LocalBucket(t time.Time) Bucket {
	local := civilOf(t)
	dow := int(local.Weekday())
	dayType := DayTypeWeekday
	if dow == 0 || dow == 6 {
		dayType = DayTypeWeekend
	}
	return Bucket{Hour: local.Hour(), DayOfWeek: dow, DayType: dayType}
}

// LocalHour returns the civil hour (0-23) in the reference zone at t.
func LocalHour(t time.Time) int {
	return civilOf(t).Hour()
}

// LocalDayOfWeek returns the civil day of week (0=Sunday) in the reference zone at t.
func LocalDayOfWeek(t time.Time) int {
	return int(civilOf(t).Weekday())
}

// civilFieldsEqual compares two civil carriers down to whole seconds.
func civilFieldsEqual(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day() &&
		a.Hour() == b.Hour() && a.Minute() == b.Minute() && a.Second() == b.Second()
}

// candidates returns the absolute instants that round-trip to the given civil
// wall-clock fields under either standard offset. Civil times outside any
// transition hour yield exactly one candidate; the repeated fall-back hour
// yields two (CEST first, the earlier instant); the skipped spring-forward
// hour yields none.
func candidates(civil time.Time) []time.Time {
	carrier := time.Date(civil.Year(), civil.Month(), civil.Day(),
		civil.Hour(), civil.Minute(), civil.Second(), 0, time.UTC)

	var out []time.Time
	for _, offset := range []int{cestOffsetMinutes, cetOffsetMinutes} {
		cand := carrier.Add(-time.Duration(offset) * time.Minute)
		if civilFieldsEqual(civilOf(cand), carrier) {
			out = append(out, cand)
		}
	}
	return out
}

// IsMissingHour reports whether a civil wall-clock timestamp falls in the hour
// skipped by the spring-forward transition (no absolute instant maps to it).
// The argument carries civil fields in a UTC-location time.Time.
func IsMissingHour(civil time.Time) bool {
	return len(candidates(civil)) == 0
}

// IsAmbiguousHour reports whether a civil wall-clock timestamp falls in the
// hour repeated by the fall-back transition (two absolute instants map to it).
func IsAmbiguousHour(civil time.Time) bool {
	return len(candidates(civil)) > 1
}

// NormalizeForStorage resolves a civil wall-clock timestamp to one canonical
// absolute instant. Unambiguous times map directly; ambiguous times resolve to
// the first occurrence (the earlier, pre-fallback instant); times in the
// spring gap resolve to the first valid instant after the gap (local 03:00).
func NormalizeForStorage(civil time.Time) time.Time {
	cands := candidates(civil)

	if len(cands) >= 1 {
		return cands[0]
	}

	adjusted := time.Date(civil.Year(), civil.Month(), civil.Day(), 3, 0, 0, 0, time.UTC)
	return adjusted.Add(-cestOffsetMinutes * time.Minute)
}
