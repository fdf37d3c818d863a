package daily

import (
	"sort"
	"time"
)

// Streak counts consecutive answered days ending today. Dates are
// compared as calendar days in today's location; duplicates count once.
// A streak that does not include today is zero.
func Streak(dates []time.Time, today time.Time) int {
	loc := today.Location()
	key := func(t time.Time) time.Time {
		y, m, d := t.In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}

	seen := make(map[time.Time]bool, len(dates))
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		k := key(d)
		if !seen[k] {
			seen[k] = true
			days = append(days, k)
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })

	expected := key(today)
	streak := 0
	for _, d := range days {
		if d.After(expected) {
			continue // future-dated entries do not break or extend the run
		}
		if !d.Equal(expected) {
			break
		}
		streak++
		expected = expected.AddDate(0, 0, -1)
	}
	return streak
}
