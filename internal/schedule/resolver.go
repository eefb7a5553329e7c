// Package schedule turns a restaurant's opening hours into service periods and candidate slots.
package schedule

import (
	"time"

	"tablebook/internal/model"
)

// DefaultPeriodName labels the single period produced from legacy open/close hours.
const DefaultPeriodName = "Service"

// Resolve returns the ordered service periods for date, or nil if the restaurant
// is closed that day. Legacy open/close pairs become a one-element list and every
// period carries an explicit slot duration.
func Resolve(r *model.Restaurant, date time.Time) []model.ServicePeriod {
	if r == nil || r.IsClosedOn(date) {
		return nil
	}

	day := r.OpeningHours.ForWeekday(date.Weekday())
	if !day.IsOpen {
		return nil
	}

	var periods []model.ServicePeriod
	if day.IsLegacy() {
		periods = []model.ServicePeriod{{
			Name:  DefaultPeriodName,
			Start: day.OpenTime,
			End:   day.CloseTime,
		}}
	} else {
		periods = make([]model.ServicePeriod, 0, len(day.Periods))
		for _, p := range day.Periods {
			if p.End <= p.Start {
				continue
			}
			periods = append(periods, p)
		}
	}

	for i := range periods {
		if periods[i].SlotDurationMinutes <= 0 {
			periods[i].SlotDurationMinutes = r.Settings.SlotDurationMinutes
		}
	}

	sortPeriods(periods)
	return periods
}

// Covers reports whether a booking of duration minutes starting at start fits
// entirely inside one of the periods.
func Covers(periods []model.ServicePeriod, start model.Clock, duration int) bool {
	for _, p := range periods {
		if start >= p.Start && start.Add(duration) <= p.End {
			return true
		}
	}
	return false
}

func sortPeriods(periods []model.ServicePeriod) {
	// insertion sort; a day has a handful of periods at most
	for i := 1; i < len(periods); i++ {
		for j := i; j > 0 && periods[j].Start < periods[j-1].Start; j-- {
			periods[j], periods[j-1] = periods[j-1], periods[j]
		}
	}
}
