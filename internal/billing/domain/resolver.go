package billing

import (
	"sort"
	"time"
)

// SelectAssignment picks the assignment that prices the period.
//
// Open-ended assignments starting on or before the period end win first;
// failing that, closed assignments overlapping the period are considered.
// Within each pass the latest EffectiveFrom wins, ties broken by lowest id.
func SelectAssignment(candidates []Assignment, period Period) (Assignment, bool) {
	if best, ok := latestEffective(candidates, func(a Assignment) bool {
		return a.OpenEnded() && !dateOf(a.EffectiveFrom).After(period.End)
	}); ok {
		return best, true
	}
	return latestEffective(candidates, func(a Assignment) bool {
		return !a.OpenEnded() &&
			!dateOf(a.EffectiveFrom).After(period.End) &&
			!dateOf(*a.EffectiveTo).Before(period.Start)
	})
}

func latestEffective(candidates []Assignment, keep func(Assignment) bool) (Assignment, bool) {
	var best Assignment
	found := false
	for _, a := range candidates {
		if !keep(a) {
			continue
		}
		if !found {
			best, found = a, true
			continue
		}
		from, bestFrom := dateOf(a.EffectiveFrom), dateOf(best.EffectiveFrom)
		if from.After(bestFrom) || (from.Equal(bestFrom) && a.ID < best.ID) {
			best = a
		}
	}
	return best, found
}

// SortRateBands orders bands for matching: unconditional bands first, then by
// ascending start, then by id.
func SortRateBands(bands []RateBand) []RateBand {
	sorted := make([]RateBand, len(bands))
	copy(sorted, bands)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		switch {
		case a.Start == nil && b.Start == nil:
			return a.ID < b.ID
		case a.Start == nil:
			return true
		case b.Start == nil:
			return false
		case *a.Start != *b.Start:
			return *a.Start < *b.Start
		default:
			return a.ID < b.ID
		}
	})
	return sorted
}

func dateOf(t time.Time) time.Time {
	return truncateDate(t)
}
