package schedule

import (
	"sort"

	"tablebook/internal/model"
)

// Slots returns the candidate start times of a period for a booking of duration
// minutes: period.Start, +step, ... while start+duration <= period.End.
// A duration longer than the period yields no slots.
func Slots(period model.ServicePeriod, duration int) []model.Clock {
	step := period.SlotDurationMinutes
	if step <= 0 || duration <= 0 {
		return nil
	}

	var slots []model.Clock
	for cursor := period.Start; cursor.Add(duration) <= period.End; cursor = cursor.Add(step) {
		slots = append(slots, cursor)
	}
	return slots
}

// DaySlots generates slots for every period independently and returns them
// sorted, with identical start times from overlapping periods emitted once.
func DaySlots(periods []model.ServicePeriod, duration int) []model.Clock {
	var all []model.Clock
	for _, p := range periods {
		all = append(all, Slots(p, duration)...)
	}
	if len(all) == 0 {
		return nil
	}

	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	out := all[:1]
	for _, c := range all[1:] {
		if c != out[len(out)-1] {
			out = append(out, c)
		}
	}
	return out
}
