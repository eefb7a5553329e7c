package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"tablebook/internal/model"
)

const bookingColumns = `id, restaurant_id, table_id, linked_table_ids, party_size, booking_date, booking_time,
	duration, status, is_waitlisted, waitlist_position, confirmation_code, guest_name, guest_phone,
	source, override_reason, created_at, updated_at`

func scanBooking(row interface{ Scan(...any) error }) (*model.Booking, error) {
	var (
		b        model.Booking
		tableID  sql.NullInt64
		position sql.NullInt64
		linked   string
		date     string
		at       int
	)
	err := row.Scan(&b.ID, &b.RestaurantID, &tableID, &linked, &b.PartySize, &date, &at,
		&b.Duration, &b.Status, &b.IsWaitlisted, &position, &b.ConfirmationCode, &b.GuestName, &b.GuestPhone,
		&b.Source, &b.OverrideReason, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if tableID.Valid {
		id := tableID.Int64
		b.TableID = &id
	}
	if position.Valid {
		p := int(position.Int64)
		b.WaitlistPosition = &p
	}
	if err := json.Unmarshal([]byte(linked), &b.LinkedTableIDs); err != nil {
		return nil, fmt.Errorf("decode linked tables of booking %d: %w", b.ID, err)
	}
	if len(b.LinkedTableIDs) == 0 {
		b.LinkedTableIDs = nil
	}
	b.BookingDate, err = time.Parse(model.DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("booking %d: %w", b.ID, err)
	}
	b.BookingTime = model.Clock(at)
	return &b, nil
}

func collectBookings(rows *sql.Rows) ([]model.Booking, error) {
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// CreateBooking inserts b and fills its ID and timestamps.
func (db *DB) CreateBooking(ctx context.Context, b *model.Booking) error {
	linked := b.LinkedTableIDs
	if linked == nil {
		linked = []int64{}
	}
	encoded, err := json.Marshal(linked)
	if err != nil {
		return err
	}

	now := db.now()
	res, err := db.ExecContext(ctx, `
		INSERT INTO bookings (restaurant_id, table_id, linked_table_ids, party_size, booking_date, booking_time,
			duration, status, is_waitlisted, waitlist_position, confirmation_code, guest_name, guest_phone,
			source, override_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.RestaurantID, nullableID(b.TableID), string(encoded), b.PartySize, model.DateKey(b.BookingDate),
		int(b.BookingTime), b.Duration, b.Status, b.IsWaitlisted, nullableInt(b.WaitlistPosition),
		b.ConfirmationCode, b.GuestName, b.GuestPhone, b.Source, b.OverrideReason, now, now,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateCode
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id
	b.CreatedAt = now
	b.UpdatedAt = now
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*model.Booking, error) {
	return db.getBooking(ctx, db.DB, `id = ?`, id)
}

func (db *DB) GetBookingByCode(ctx context.Context, code string) (*model.Booking, error) {
	return db.getBooking(ctx, db.DB, `confirmation_code = ?`, code)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *DB) getBooking(ctx context.Context, q querier, where string, arg any) (*model.Booking, error) {
	row := q.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE `+where, arg)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

// ListBookingsForDate returns every booking of the date regardless of status.
func (db *DB) ListBookingsForDate(ctx context.Context, restaurantID int64, date time.Time) ([]model.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE restaurant_id = ? AND booking_date = ?
		ORDER BY booking_time, id`,
		restaurantID, model.DateKey(date))
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// FindByDateRange returns bookings with from <= date <= to.
func (db *DB) FindByDateRange(ctx context.Context, restaurantID int64, from, to time.Time) ([]model.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE restaurant_id = ? AND booking_date BETWEEN ? AND ?
		ORDER BY booking_date, booking_time, id`,
		restaurantID, model.DateKey(from), model.DateKey(to))
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (db *DB) ListWaitlist(ctx context.Context, restaurantID int64, date time.Time) ([]model.Booking, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE restaurant_id = ? AND booking_date = ? AND is_waitlisted = 1 AND status = ?
		ORDER BY waitlist_position`,
		restaurantID, model.DateKey(date), model.StatusPending)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

// UpdateBookingStatus moves a booking to status. Leaving the waitlist through
// cancellation or no-show clears the position and closes the gap.
func (db *DB) UpdateBookingStatus(ctx context.Context, id int64, status model.BookingStatus) (*model.Booking, error) {
	var updated *model.Booking
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		b, err := db.getBooking(ctx, tx, `id = ?`, id)
		if err != nil {
			return err
		}
		if !model.CanTransition(b.Status, status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, status)
		}

		now := db.now()
		leaving := b.IsWaitlisted && (status == model.StatusCancelled || status == model.StatusNoShow)
		if leaving {
			if _, err := tx.ExecContext(ctx, `
				UPDATE bookings SET status = ?, is_waitlisted = 0, waitlist_position = NULL, updated_at = ?
				WHERE id = ?`, status, now, id); err != nil {
				return err
			}
			if b.WaitlistPosition != nil {
				if err := shiftPositions(ctx, tx, b.RestaurantID, b.BookingDate, *b.WaitlistPosition, now); err != nil {
					return err
				}
			}
		} else if _, err := tx.ExecContext(ctx,
			`UPDATE bookings SET status = ?, updated_at = ? WHERE id = ?`, status, now, id); err != nil {
			return err
		}

		updated, err = db.getBooking(ctx, tx, `id = ?`, id)
		return err
	})
	return updated, err
}

// PromoteWaitlisted confirms a waitlisted booking on tableID and compacts the
// positions behind it in the same transaction.
func (db *DB) PromoteWaitlisted(ctx context.Context, bookingID, tableID int64) (*model.Booking, error) {
	var promoted *model.Booking
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		b, err := db.getBooking(ctx, tx, `id = ?`, bookingID)
		if err != nil {
			return err
		}
		if !b.IsWaitlisted || b.Status != model.StatusPending {
			return fmt.Errorf("%w: booking %d is not waiting", ErrInvalidTransition, bookingID)
		}

		now := db.now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE bookings
			SET table_id = ?, linked_table_ids = '[]', status = ?, is_waitlisted = 0, waitlist_position = NULL, updated_at = ?
			WHERE id = ?`, tableID, model.StatusConfirmed, now, bookingID); err != nil {
			return err
		}
		if b.WaitlistPosition != nil {
			if err := shiftPositions(ctx, tx, b.RestaurantID, b.BookingDate, *b.WaitlistPosition, now); err != nil {
				return err
			}
		}

		promoted, err = db.getBooking(ctx, tx, `id = ?`, bookingID)
		return err
	})
	return promoted, err
}

// shiftPositions decrements every waitlist position greater than after.
func shiftPositions(ctx context.Context, tx *sql.Tx, restaurantID int64, date time.Time, after int, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE bookings SET waitlist_position = waitlist_position - 1, updated_at = ?
		WHERE restaurant_id = ? AND booking_date = ? AND is_waitlisted = 1 AND waitlist_position > ?`,
		now, restaurantID, model.DateKey(date), after)
	if err != nil {
		return fmt.Errorf("shift waitlist positions: %w", err)
	}
	return nil
}

func nullableID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
