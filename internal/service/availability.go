package service

import (
	"context"
	"time"

	"tablebook/internal/allocation"
	"tablebook/internal/cache"
	"tablebook/internal/errs"
	"tablebook/internal/model"
	"tablebook/internal/rules"
	"tablebook/internal/schedule"
)

// TimeSlot is one candidate start time of an availability answer. TableID is
// the table a booking would get right now.
type TimeSlot struct {
	Time              model.Clock `json:"time"`
	Available         bool        `json:"available"`
	TableID           *int64      `json:"table_id,omitempty"`
	WaitlistAvailable bool        `json:"waitlist_available"`
}

type Availability struct {
	Date      string     `json:"date"`
	TimeSlots []TimeSlot `json:"time_slots"`
}

// CheckAvailability lists the day's slots for a guest party. A closed day
// yields an empty slot list. Slots outside the advance window, slots over
// the pacing caps and slots no table can hold are reported unavailable.
func (e *Engine) CheckAvailability(ctx context.Context, restaurantID int64, date time.Time, partySize, duration int) (*Availability, error) {
	r, err := e.restaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	day := localDate(r, date)
	duration = e.duration(r, duration)

	if err := e.validator.CheckDate(r, day); err != nil {
		return nil, err
	}
	if err := rules.CheckPartySize(r.Settings, partySize); err != nil {
		return nil, err
	}

	out := &Availability{Date: model.DateKey(day), TimeSlots: []TimeSlot{}}
	periods := schedule.Resolve(r, day)
	if len(periods) == 0 {
		return out, nil
	}

	// read before the bookings so a concurrent invalidation retires this key
	gen, cacheable := e.cache.Generation(ctx, restaurantID, day)
	key := cache.Key(restaurantID, day, gen, partySize, duration)
	if cacheable && e.cache.Load(ctx, key, out) {
		e.applyAdvance(r, day, out)
		return out, nil
	}

	tables, err := e.store.ListActiveTables(ctx, restaurantID)
	if err != nil {
		return nil, errs.Storage("list tables", err)
	}
	bookings, err := e.store.ListBookingsForDate(ctx, restaurantID, day)
	if err != nil {
		return nil, errs.Storage("list bookings", err)
	}

	for _, at := range schedule.DaySlots(periods, duration) {
		slot := TimeSlot{Time: at}
		if allocation.CheckPacing(r.Settings, bookings, at, partySize) == nil {
			alloc := allocation.Choose(tables, bookings, allocation.Request{
				RestaurantID: restaurantID,
				Date:         day,
				Start:        at,
				Duration:     duration,
				PartySize:    partySize,
			})
			if alloc != nil {
				id := alloc.Table.ID
				slot.Available = true
				slot.TableID = &id
			}
		}
		out.TimeSlots = append(out.TimeSlots, slot)
	}

	// the cached answer does not depend on the clock; the advance window is applied per call
	if cacheable {
		e.cache.Store(ctx, key, out)
	}
	e.applyAdvance(r, day, out)
	return out, nil
}

// applyAdvance marks slots outside the advance window unavailable and sets
// the waitlist flag of every slot.
func (e *Engine) applyAdvance(r *model.Restaurant, day time.Time, out *Availability) {
	for i := range out.TimeSlots {
		slot := &out.TimeSlots[i]
		if slot.Available && e.validator.CheckAdvance(r, day, slot.Time) != nil {
			slot.Available = false
			slot.TableID = nil
		}
		slot.WaitlistAvailable = !slot.Available && r.Settings.WaitlistEnabled
	}
}

// FindBestTable returns the table a party would be bound to, or nil. Guest
// requests over the pacing caps get nil; staff requests skip pacing. For a
// combination the primary table is returned.
func (e *Engine) FindBestTable(ctx context.Context, restaurantID int64, date time.Time, at model.Clock,
	partySize, duration int, isStaff bool,
) (*model.Table, error) {
	r, err := e.restaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	day := localDate(r, date)
	req := allocation.Request{
		RestaurantID: restaurantID,
		Date:         day,
		Start:        at,
		Duration:     e.duration(r, duration),
		PartySize:    partySize,
	}

	if !isStaff {
		bookings, err := e.store.ListBookingsForDate(ctx, restaurantID, day)
		if err != nil {
			return nil, errs.Storage("list bookings", err)
		}
		if allocation.CheckPacing(r.Settings, bookings, at, partySize) != nil {
			return nil, nil
		}
	}

	alloc, err := e.allocator.FindBestTable(ctx, req)
	if err != nil {
		return nil, errs.Storage("find table", err)
	}
	if alloc == nil {
		return nil, nil
	}
	t := alloc.Table
	return &t, nil
}
