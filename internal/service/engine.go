// Package service is the availability and allocation engine. It combines the
// policy checks, the lock layer, the allocator, the availability cache and the
// waitlist into the operations the HTTP layer and the CLI call.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tablebook/internal/allocation"
	"tablebook/internal/cache"
	"tablebook/internal/database"
	"tablebook/internal/errs"
	"tablebook/internal/events"
	"tablebook/internal/lock"
	"tablebook/internal/model"
	"tablebook/internal/rules"
	"tablebook/internal/waitlist"
)

// Store is the persistence the engine needs. database.DB and
// database.MemoryStore both satisfy it.
type Store interface {
	allocation.Source
	waitlist.Store
	GetRestaurant(ctx context.Context, id int64) (*model.Restaurant, error)
	GetTable(ctx context.Context, id int64) (*model.Table, error)
	GetBooking(ctx context.Context, id int64) (*model.Booking, error)
	GetBookingByCode(ctx context.Context, code string) (*model.Booking, error)
	UpdateBookingStatus(ctx context.Context, id int64, status model.BookingStatus) (*model.Booking, error)
}

// Publisher receives booking lifecycle events.
type Publisher interface {
	Publish(event events.Event)
}

type Options struct {
	Now                  func() time.Time
	DefaultDuration      int // minutes, used when neither request nor restaurant sets one
	OverrideReasonMinLen int
}

// Engine is safe for concurrent use. The lock layer is its only point of
// serialization.
type Engine struct {
	store     Store
	locker    *lock.Locker
	cache     *cache.Availability
	bus       Publisher
	validator *rules.Validator
	allocator *allocation.Allocator
	cascader  *waitlist.Cascader

	now             func() time.Time
	defaultDuration int
	logger          zerolog.Logger
}

// NewEngine wires the engine. availability and bus may be nil.
func NewEngine(
	store Store,
	locker *lock.Locker,
	availability *cache.Availability,
	bus Publisher,
	opts Options,
	logger *zerolog.Logger,
) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 90
	}
	return &Engine{
		store:           store,
		locker:          locker,
		cache:           availability,
		bus:             bus,
		validator:       rules.NewValidator(opts.Now, opts.OverrideReasonMinLen, logger),
		allocator:       allocation.NewAllocator(store, logger),
		cascader:        waitlist.NewCascader(store, locker, logger),
		now:             opts.Now,
		defaultDuration: opts.DefaultDuration,
		logger:          logger.With().Str("component", "engine").Logger(),
	}
}

func (e *Engine) publish(eventType string, b *model.Booking) {
	if e.bus == nil || b == nil {
		return
	}
	ev := events.NewBookingEvent(eventType, b)
	ev.CreatedAt = e.now()
	e.bus.Publish(ev)
}

// restaurant loads an active restaurant or fails with restaurant_not_found.
func (e *Engine) restaurant(ctx context.Context, id int64) (*model.Restaurant, error) {
	r, err := e.store.GetRestaurant(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, errs.New(errs.KindRestaurantNotFound, "restaurant %d not found", id)
	}
	if err != nil {
		return nil, errs.Storage("get restaurant", err)
	}
	if !r.IsActive {
		return nil, errs.New(errs.KindRestaurantNotFound, "restaurant %d not found", id)
	}
	return r, nil
}

func (e *Engine) duration(r *model.Restaurant, requested int) int {
	if requested > 0 {
		return requested
	}
	if r.Settings.DefaultDurationMinutes > 0 {
		return r.Settings.DefaultDurationMinutes
	}
	return e.defaultDuration
}

// localDate pins the calendar date of date to midnight in the restaurant's
// timezone, so advance checks compare real instants.
func localDate(r *model.Restaurant, date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, r.Location())
}

func bookingError(id int64, err error) error {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return errs.New(errs.KindBookingNotFound, "booking %d not found", id)
	case errors.Is(err, database.ErrInvalidTransition):
		return &errs.Error{Kind: errs.KindInvalidTransition, Message: "status change not allowed", Err: err}
	default:
		return errs.Storage("update booking", err)
	}
}

// InvalidateAvailabilityCache drops every cached availability answer for the date.
func (e *Engine) InvalidateAvailabilityCache(ctx context.Context, restaurantID int64, date time.Time) {
	e.cache.Invalidate(ctx, restaurantID, date)
}

// InvalidateRestaurantCache drops the restaurant's cached availability for all dates.
func (e *Engine) InvalidateRestaurantCache(ctx context.Context, restaurantID int64) {
	e.cache.InvalidateRestaurant(ctx, restaurantID)
}

// WithLock runs fn while holding the slot key of (restaurant, date, time[, table]).
func WithLock[T any](ctx context.Context, e *Engine, restaurantID int64, date time.Time, at model.Clock,
	tableID *int64, fn func(ctx context.Context) (T, error),
) (T, error) {
	return lock.WithLock(ctx, e.locker, lock.SlotKey(restaurantID, date, at, tableID), fn)
}

// WithTableLock runs fn while holding the table key.
func WithTableLock[T any](ctx context.Context, e *Engine, tableID int64, fn func(ctx context.Context) (T, error)) (T, error) {
	return lock.WithLock(ctx, e.locker, lock.TableKey(tableID), fn)
}
