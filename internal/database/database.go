package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"

	"tablebook/internal/model"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateCode     = errors.New("confirmation code already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Store is the persistence contract shared by the sqlite and in-memory backends.
type Store interface {
	GetRestaurant(ctx context.Context, id int64) (*model.Restaurant, error)
	ListRestaurants(ctx context.Context) ([]model.Restaurant, error)
	UpsertRestaurant(ctx context.Context, r *model.Restaurant) error
	DeactivateRestaurantsExcept(ctx context.Context, keep []int64) error

	GetTable(ctx context.Context, id int64) (*model.Table, error)
	ListActiveTables(ctx context.Context, restaurantID int64) ([]model.Table, error)
	UpsertTable(ctx context.Context, t *model.Table) error
	DeactivateTablesExcept(ctx context.Context, restaurantID int64, keep []int64) error

	CreateBooking(ctx context.Context, b *model.Booking) error
	GetBooking(ctx context.Context, id int64) (*model.Booking, error)
	GetBookingByCode(ctx context.Context, code string) (*model.Booking, error)
	ListBookingsForDate(ctx context.Context, restaurantID int64, date time.Time) ([]model.Booking, error)
	FindByDateRange(ctx context.Context, restaurantID int64, from, to time.Time) ([]model.Booking, error)
	ListWaitlist(ctx context.Context, restaurantID int64, date time.Time) ([]model.Booking, error)
	UpdateBookingStatus(ctx context.Context, id int64, status model.BookingStatus) (*model.Booking, error)
	PromoteWaitlisted(ctx context.Context, bookingID, tableID int64) (*model.Booking, error)

	Ping(ctx context.Context) error
	Close() error
}

// DB is the sqlite Store.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
	now    func() time.Time
}

// NewDB opens (creating if needed) the sqlite file at path and ensures the schema.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{DB: db, logger: logger, now: time.Now}
	if err := instance.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS restaurants (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			timezone TEXT NOT NULL DEFAULT '',
			opening_hours TEXT NOT NULL DEFAULT '{}',
			settings TEXT NOT NULL DEFAULT '{}',
			closed_dates TEXT NOT NULL DEFAULT '[]',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tables (
			id INTEGER PRIMARY KEY,
			restaurant_id INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			capacity INTEGER NOT NULL,
			min_capacity INTEGER NOT NULL,
			max_capacity INTEGER NOT NULL,
			is_combinable BOOLEAN NOT NULL DEFAULT 0,
			combinable_with TEXT NOT NULL DEFAULT '[]',
			priority INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			FOREIGN KEY(restaurant_id) REFERENCES restaurants(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tables_restaurant ON tables(restaurant_id, is_active)`,
		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			restaurant_id INTEGER NOT NULL,
			table_id INTEGER,
			linked_table_ids TEXT NOT NULL DEFAULT '[]',
			party_size INTEGER NOT NULL,
			booking_date TEXT NOT NULL,
			booking_time INTEGER NOT NULL,
			duration INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			is_waitlisted BOOLEAN NOT NULL DEFAULT 0,
			waitlist_position INTEGER,
			confirmation_code TEXT NOT NULL UNIQUE,
			guest_name TEXT NOT NULL DEFAULT '',
			guest_phone TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT 'guest',
			override_reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY(restaurant_id) REFERENCES restaurants(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_restaurant_date ON bookings(restaurant_id, booking_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_waitlist ON bookings(restaurant_id, booking_date, is_waitlisted, waitlist_position)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// withTx runs fn in a transaction, committing on success.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
