package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"tablebook/internal/allocation"
	"tablebook/internal/database"
	"tablebook/internal/errs"
	"tablebook/internal/events"
	"tablebook/internal/lock"
	"tablebook/internal/metrics"
	"tablebook/internal/model"
	"tablebook/internal/rules"
)

const codeAttempts = 3

// BookingRequest is a request to reserve a table. Duration zero means the
// restaurant default. JoinWaitlist puts the party on the waitlist instead of
// failing when no table fits and the restaurant keeps a waitlist.
type BookingRequest struct {
	RestaurantID   int64
	Date           time.Time
	Time           model.Clock
	PartySize      int
	Duration       int
	GuestName      string
	GuestPhone     string
	Source         model.BookingSource
	StaffID        string
	OverrideReason string
	JoinWaitlist   bool
}

func (req BookingRequest) source() model.BookingSource {
	if req.Source == "" {
		return model.SourceGuest
	}
	return req.Source
}

func newConfirmationCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}

// CreateBooking validates the request, then under the slot lock re-validates
// with the current bookings, allocates a table (or pair) and, holding the
// table locks, re-checks the tables and writes the booking. A table taken by
// an overlapping booking at another start time in between restarts the cycle.
func (e *Engine) CreateBooking(ctx context.Context, req BookingRequest) (*model.Booking, error) {
	b, err := e.createBooking(ctx, req)
	if err != nil {
		if kind := errs.KindOf(err); kind != "" {
			metrics.IncBookingRejected(string(kind))
		}
		e.logger.Info().
			Err(err).
			Int64("restaurant_id", req.RestaurantID).
			Str("date", model.DateKey(req.Date)).
			Str("time", req.Time.String()).
			Int("party_size", req.PartySize).
			Msg("booking rejected")
		return nil, err
	}

	e.InvalidateAvailabilityCache(ctx, b.RestaurantID, b.BookingDate)
	if b.IsWaitlisted {
		metrics.IncBookingCreated(string(b.Source), "waitlisted")
		e.publish(events.BookingWaitlisted, b)
		return b, nil
	}

	metrics.IncBookingCreated(string(b.Source), "confirmed")
	e.publish(events.BookingCreated, b)
	e.logger.Info().
		Int64("booking_id", b.ID).
		Ints64("tables", b.TableIDs()).
		Str("code", b.ConfirmationCode).
		Msg("booking created")
	return b, nil
}

func (e *Engine) createBooking(ctx context.Context, req BookingRequest) (*model.Booking, error) {
	r, err := e.restaurant(ctx, req.RestaurantID)
	if err != nil {
		return nil, err
	}
	day := localDate(r, req.Date)
	vreq := rules.Request{
		Restaurant:     r,
		Date:           day,
		Time:           req.Time,
		Duration:       e.duration(r, req.Duration),
		PartySize:      req.PartySize,
		Source:         req.source(),
		StaffID:        req.StaffID,
		OverrideReason: req.OverrideReason,
	}

	// Everything but pacing can be decided without the lock.
	if err := e.validator.Validate(vreq, nil); err != nil {
		return nil, err
	}

	var created *model.Booking
	err = e.locker.Do(ctx, lock.SlotKey(r.ID, day, req.Time, nil), func(ctx context.Context) error {
		created = nil
		bookings, err := e.store.ListBookingsForDate(ctx, r.ID, day)
		if err != nil {
			return errs.Storage("list bookings", err)
		}
		if err := e.validator.Validate(vreq, bookings); err != nil {
			return err
		}
		tables, err := e.store.ListActiveTables(ctx, r.ID)
		if err != nil {
			return errs.Storage("list tables", err)
		}

		areq := allocation.Request{
			RestaurantID: r.ID,
			Date:         day,
			Start:        req.Time,
			Duration:     vreq.Duration,
			PartySize:    req.PartySize,
		}
		alloc := allocation.Choose(tables, bookings, areq)
		if alloc == nil {
			if req.JoinWaitlist && r.Settings.WaitlistEnabled {
				created, err = e.cascader.Enqueue(ctx, e.draft(req, day, vreq.Duration))
				return err
			}
			return errs.New(errs.KindNoTablesAvailable,
				"no table for %d at %s on %s", req.PartySize, req.Time, model.DateKey(day))
		}

		keys := make([]lock.Key, 0, 2)
		for _, id := range alloc.TableIDs() {
			keys = append(keys, lock.TableKey(id))
		}
		return e.locker.DoAll(ctx, keys, func(ctx context.Context) error {
			created, err = e.bind(ctx, req, day, areq, alloc)
			return err
		})
	})
	return created, err
}

// bind re-reads the date's bookings under the table locks and writes the
// booking if every allocated table is still free.
func (e *Engine) bind(ctx context.Context, req BookingRequest, day time.Time, areq allocation.Request, alloc *allocation.Allocation) (*model.Booking, error) {
	fresh, err := e.store.ListBookingsForDate(ctx, areq.RestaurantID, day)
	if err != nil {
		return nil, errs.Storage("list bookings", err)
	}
	for _, id := range alloc.TableIDs() {
		if !allocation.IsFree(id, fresh, areq.Start, areq.End()) {
			return nil, errs.Retryable(errs.KindTableConflict, "table %d was taken", id)
		}
	}

	b := e.draft(req, day, areq.Duration)
	primary := alloc.Table.ID
	b.TableID = &primary
	b.LinkedTableIDs = alloc.LinkedIDs()
	b.Status = model.StatusConfirmed

	for attempt := 1; ; attempt++ {
		err := e.store.CreateBooking(ctx, b)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, database.ErrDuplicateCode) || attempt == codeAttempts {
			return nil, errs.Storage("create booking", err)
		}
		b.ConfirmationCode = newConfirmationCode()
	}
}

func (e *Engine) draft(req BookingRequest, day time.Time, duration int) *model.Booking {
	return &model.Booking{
		RestaurantID:     req.RestaurantID,
		PartySize:        req.PartySize,
		BookingDate:      day,
		BookingTime:      req.Time,
		Duration:         duration,
		Status:           model.StatusPending,
		ConfirmationCode: newConfirmationCode(),
		GuestName:        req.GuestName,
		GuestPhone:       req.GuestPhone,
		Source:           req.source(),
		OverrideReason:   strings.TrimSpace(req.OverrideReason),
	}
}

// AddToWaitlist puts a party at the end of the date's waitlist without trying
// to allocate. The same policy checks as a booking apply, except pacing.
func (e *Engine) AddToWaitlist(ctx context.Context, req BookingRequest) (*model.Booking, error) {
	r, err := e.restaurant(ctx, req.RestaurantID)
	if err != nil {
		return nil, err
	}
	if !r.Settings.WaitlistEnabled {
		return nil, errs.New(errs.KindInvalidRequest, "restaurant %d does not keep a waitlist", r.ID)
	}
	day := localDate(r, req.Date)
	duration := e.duration(r, req.Duration)

	err = e.validator.Validate(rules.Request{
		Restaurant: r,
		Date:       day,
		Time:       req.Time,
		Duration:   duration,
		PartySize:  req.PartySize,
		Source:     req.source(),
		StaffID:    req.StaffID,
	}, nil)
	if err != nil {
		metrics.IncBookingRejected(string(errs.KindOf(err)))
		return nil, err
	}

	b, err := e.cascader.Enqueue(ctx, e.draft(req, day, duration))
	if err != nil {
		return nil, err
	}
	metrics.IncBookingCreated(string(b.Source), "waitlisted")
	e.publish(events.BookingWaitlisted, b)
	return b, nil
}

func (e *Engine) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	b, err := e.store.GetBooking(ctx, id)
	if err != nil {
		return nil, bookingError(id, err)
	}
	return b, nil
}

func (e *Engine) GetBookingByCode(ctx context.Context, code string) (*model.Booking, error) {
	b, err := e.store.GetBookingByCode(ctx, code)
	if errors.Is(err, database.ErrNotFound) {
		return nil, errs.New(errs.KindBookingNotFound, "booking %s not found", code)
	}
	if err != nil {
		return nil, errs.Storage("get booking", err)
	}
	return b, nil
}

// CancelBooking cancels the booking and offers each table it held to the waitlist.
func (e *Engine) CancelBooking(ctx context.Context, id int64) (*model.Booking, error) {
	return e.release(ctx, id, model.StatusCancelled, events.BookingCancelled)
}

// MarkNoShow records a no-show and offers each table it held to the waitlist.
func (e *Engine) MarkNoShow(ctx context.Context, id int64) (*model.Booking, error) {
	return e.release(ctx, id, model.StatusNoShow, events.BookingNoShow)
}

func (e *Engine) release(ctx context.Context, id int64, status model.BookingStatus, eventType string) (*model.Booking, error) {
	current, err := e.store.GetBooking(ctx, id)
	if err != nil {
		return nil, bookingError(id, err)
	}

	update := func(ctx context.Context) (*model.Booking, error) {
		b, err := e.store.UpdateBookingStatus(ctx, id, status)
		if err != nil {
			return nil, bookingError(id, err)
		}
		return b, nil
	}

	var b *model.Booking
	if current.IsWaitlisted {
		// leaving the queue shifts positions, which Enqueue must not interleave with
		b, err = lock.WithLock(ctx, e.locker, lock.WaitlistKey(current.RestaurantID, current.BookingDate), update)
	} else {
		b, err = update(ctx)
	}
	if err != nil {
		return nil, err
	}

	metrics.IncBookingTransition(string(status))
	e.InvalidateAvailabilityCache(ctx, b.RestaurantID, b.BookingDate)
	e.publish(eventType, b)
	e.logger.Info().Int64("booking_id", b.ID).Str("status", string(status)).Msg("booking released")

	for _, tableID := range b.TableIDs() {
		if _, err := e.offerTable(ctx, b.RestaurantID, b.BookingDate, tableID); err != nil {
			e.logger.Error().Err(err).Int64("table_id", tableID).Msg("waitlist cascade failed")
		}
	}
	return b, nil
}

// offerTable runs one cascade for a freed table.
func (e *Engine) offerTable(ctx context.Context, restaurantID int64, date time.Time, tableID int64) (*model.Booking, error) {
	table, err := e.store.GetTable(ctx, tableID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Storage("get table", err)
	}

	promoted, err := e.cascader.Promote(ctx, restaurantID, date, *table)
	if err != nil || promoted == nil {
		return nil, err
	}
	e.InvalidateAvailabilityCache(ctx, restaurantID, date)
	e.publish(events.WaitlistPromoted, promoted)
	return promoted, nil
}

// ProcessWaitlistForDate offers every active table of the restaurant to the
// date's waitlist once and returns the promoted bookings.
func (e *Engine) ProcessWaitlistForDate(ctx context.Context, restaurantID int64, date time.Time) ([]model.Booking, error) {
	r, err := e.restaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	day := localDate(r, date)

	tables, err := e.store.ListActiveTables(ctx, restaurantID)
	if err != nil {
		return nil, errs.Storage("list tables", err)
	}

	var promoted []model.Booking
	for _, t := range tables {
		b, err := e.offerTable(ctx, restaurantID, day, t.ID)
		if err != nil {
			return promoted, err
		}
		if b != nil {
			promoted = append(promoted, *b)
		}
	}

	e.logger.Info().
		Int64("restaurant_id", restaurantID).
		Str("date", model.DateKey(day)).
		Int("promoted", len(promoted)).
		Msg("waitlist processed")
	return promoted, nil
}
