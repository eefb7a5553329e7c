// Package waitlist keeps the per-restaurant, per-date waitlist dense and
// promotes waitlisted parties when a table frees up.
package waitlist

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"tablebook/internal/allocation"
	"tablebook/internal/errs"
	"tablebook/internal/lock"
	"tablebook/internal/metrics"
	"tablebook/internal/model"
)

// Store is the persistence the cascader needs.
type Store interface {
	// ListWaitlist returns waitlisted pending bookings ordered by position.
	ListWaitlist(ctx context.Context, restaurantID int64, date time.Time) ([]model.Booking, error)
	ListBookingsForDate(ctx context.Context, restaurantID int64, date time.Time) ([]model.Booking, error)
	CreateBooking(ctx context.Context, b *model.Booking) error
	// PromoteWaitlisted binds the booking to tableID, confirms it, clears its
	// position and decrements every later position, atomically.
	PromoteWaitlisted(ctx context.Context, bookingID, tableID int64) (*model.Booking, error)
}

type Cascader struct {
	store  Store
	locker *lock.Locker
	logger zerolog.Logger
}

func NewCascader(store Store, locker *lock.Locker, logger *zerolog.Logger) *Cascader {
	return &Cascader{
		store:  store,
		locker: locker,
		logger: logger.With().Str("component", "waitlist").Logger(),
	}
}

// Enqueue stores b at the end of its date's waitlist. Table binding is cleared
// and status becomes pending.
func (c *Cascader) Enqueue(ctx context.Context, b *model.Booking) (*model.Booking, error) {
	date := b.BookingDate
	err := c.locker.Do(ctx, lock.WaitlistKey(b.RestaurantID, date), func(ctx context.Context) error {
		queue, err := c.store.ListWaitlist(ctx, b.RestaurantID, date)
		if err != nil {
			return errs.Storage("list waitlist", err)
		}
		pos := len(queue) + 1
		b.TableID = nil
		b.LinkedTableIDs = nil
		b.IsWaitlisted = true
		b.WaitlistPosition = &pos
		b.Status = model.StatusPending
		return errs.Storage("create waitlisted booking", c.store.CreateBooking(ctx, b))
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Int64("booking_id", b.ID).
		Int64("restaurant_id", b.RestaurantID).
		Str("date", model.DateKey(date)).
		Int("position", *b.WaitlistPosition).
		Msg("booking waitlisted")
	return b, nil
}

// Promote offers a freed table to the waitlist. The first booking by position
// whose party the table fits, and for whose window the table is free, is
// confirmed on it. At most one booking is promoted; nil means nobody fit.
// Combinations are never formed here.
func (c *Cascader) Promote(ctx context.Context, restaurantID int64, date time.Time, table model.Table) (*model.Booking, error) {
	if !table.IsActive {
		return nil, nil
	}

	var promoted *model.Booking
	err := c.locker.Do(ctx, lock.WaitlistKey(restaurantID, date), func(ctx context.Context) error {
		return c.locker.DoAll(ctx, []lock.Key{lock.TableKey(table.ID)}, func(ctx context.Context) error {
			queue, err := c.store.ListWaitlist(ctx, restaurantID, date)
			if err != nil {
				return errs.Storage("list waitlist", err)
			}
			if len(queue) == 0 {
				return nil
			}
			bookings, err := c.store.ListBookingsForDate(ctx, restaurantID, date)
			if err != nil {
				return errs.Storage("list bookings", err)
			}

			candidate := First(queue, bookings, table)
			if candidate == nil {
				return nil
			}
			promoted, err = c.store.PromoteWaitlisted(ctx, candidate.ID, table.ID)
			return errs.Storage("promote waitlisted booking", err)
		})
	})
	if err != nil || promoted == nil {
		return nil, err
	}

	metrics.IncWaitlistPromoted()
	c.logger.Info().
		Int64("booking_id", promoted.ID).
		Int64("table_id", table.ID).
		Int64("restaurant_id", restaurantID).
		Str("date", model.DateKey(date)).
		Msg("waitlisted booking promoted")
	return promoted, nil
}

// First returns the earliest queued booking the table can take, or nil.
// queue must be ordered by position.
func First(queue, bookings []model.Booking, table model.Table) *model.Booking {
	for i := range queue {
		w := &queue[i]
		if !w.IsWaitlisted || w.Status != model.StatusPending {
			continue
		}
		if !table.Fits(w.PartySize) {
			continue
		}
		if !allocation.IsFree(table.ID, bookings, w.BookingTime, w.End()) {
			continue
		}
		return w
	}
	return nil
}
