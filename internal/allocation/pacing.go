package allocation

import (
	"tablebook/internal/errs"
	"tablebook/internal/model"
)

// PacingLoad is what already starts at a given instant.
type PacingLoad struct {
	Tables int
	Covers int
}

// LoadAt counts active, non-waitlisted bookings starting exactly at start.
// Overlapping bookings that start at other times are not counted.
func LoadAt(bookings []model.Booking, start model.Clock) PacingLoad {
	var load PacingLoad
	for i := range bookings {
		b := &bookings[i]
		if !b.IsActive() || b.IsWaitlisted || b.BookingTime != start {
			continue
		}
		load.Tables++
		load.Covers += b.PartySize
	}
	return load
}

// CheckPacing returns a concurrent_limit_exceeded error when adding a party of
// partySize at start would break the restaurant's caps. Unset caps are skipped.
func CheckPacing(settings model.BookingSettings, bookings []model.Booking, start model.Clock, partySize int) error {
	if settings.MaxConcurrentTables == nil && settings.MaxConcurrentCovers == nil {
		return nil
	}

	load := LoadAt(bookings, start)
	if limit := settings.MaxConcurrentTables; limit != nil && load.Tables >= *limit {
		return errs.New(errs.KindConcurrentLimit,
			"%d bookings already start at %s (limit %d)", load.Tables, start, *limit)
	}
	if limit := settings.MaxConcurrentCovers; limit != nil && load.Covers+partySize > *limit {
		return errs.New(errs.KindConcurrentLimit,
			"%d covers already start at %s, %d more exceeds limit %d", load.Covers, start, partySize, *limit)
	}
	return nil
}
