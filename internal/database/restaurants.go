package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"tablebook/internal/model"
)

const restaurantColumns = `id, name, timezone, opening_hours, settings, closed_dates, is_active`

func scanRestaurant(row interface{ Scan(...any) error }) (*model.Restaurant, error) {
	var (
		r                        model.Restaurant
		hours, settings, closure string
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Timezone, &hours, &settings, &closure, &r.IsActive); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(hours), &r.OpeningHours); err != nil {
		return nil, fmt.Errorf("decode opening hours of restaurant %d: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(settings), &r.Settings); err != nil {
		return nil, fmt.Errorf("decode settings of restaurant %d: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(closure), &r.ClosedDates); err != nil {
		return nil, fmt.Errorf("decode closed dates of restaurant %d: %w", r.ID, err)
	}
	return &r, nil
}

func (db *DB) GetRestaurant(ctx context.Context, id int64) (*model.Restaurant, error) {
	row := db.QueryRowContext(ctx, `SELECT `+restaurantColumns+` FROM restaurants WHERE id = ?`, id)
	r, err := scanRestaurant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

func (db *DB) ListRestaurants(ctx context.Context) ([]model.Restaurant, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+restaurantColumns+` FROM restaurants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Restaurant
	for rows.Next() {
		r, err := scanRestaurant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpsertRestaurant inserts or replaces the restaurant, keeping created_at.
func (db *DB) UpsertRestaurant(ctx context.Context, r *model.Restaurant) error {
	hours, err := json.Marshal(r.OpeningHours)
	if err != nil {
		return err
	}
	settings, err := json.Marshal(r.Settings)
	if err != nil {
		return err
	}
	closed := r.ClosedDates
	if closed == nil {
		closed = []string{}
	}
	closure, err := json.Marshal(closed)
	if err != nil {
		return err
	}

	now := db.now()
	_, err = db.ExecContext(ctx, `
		INSERT INTO restaurants (id, name, timezone, opening_hours, settings, closed_dates, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			timezone = excluded.timezone,
			opening_hours = excluded.opening_hours,
			settings = excluded.settings,
			closed_dates = excluded.closed_dates,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		r.ID, r.Name, r.Timezone, string(hours), string(settings), string(closure), r.IsActive, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert restaurant %d: %w", r.ID, err)
	}
	return nil
}

// DeactivateRestaurantsExcept marks every restaurant not in keep inactive.
func (db *DB) DeactivateRestaurantsExcept(ctx context.Context, keep []int64) error {
	query, args := notIn(`UPDATE restaurants SET is_active = 0, updated_at = ? WHERE is_active = 1`, "id", keep)
	_, err := db.ExecContext(ctx, query, append([]any{db.now()}, args...)...)
	return err
}

const tableColumns = `id, restaurant_id, name, capacity, min_capacity, max_capacity, is_combinable, combinable_with, priority, is_active`

func scanTable(row interface{ Scan(...any) error }) (*model.Table, error) {
	var (
		t        model.Table
		partners string
	)
	if err := row.Scan(&t.ID, &t.RestaurantID, &t.Name, &t.Capacity, &t.MinCapacity, &t.MaxCapacity,
		&t.IsCombinable, &partners, &t.Priority, &t.IsActive); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(partners), &t.CombinableWith); err != nil {
		return nil, fmt.Errorf("decode partners of table %d: %w", t.ID, err)
	}
	if len(t.CombinableWith) == 0 {
		t.CombinableWith = nil
	}
	return &t, nil
}

func (db *DB) GetTable(ctx context.Context, id int64) (*model.Table, error) {
	row := db.QueryRowContext(ctx, `SELECT `+tableColumns+` FROM tables WHERE id = ?`, id)
	t, err := scanTable(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (db *DB) ListActiveTables(ctx context.Context, restaurantID int64) ([]model.Table, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+tableColumns+` FROM tables WHERE restaurant_id = ? AND is_active = 1 ORDER BY id`, restaurantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (db *DB) UpsertTable(ctx context.Context, t *model.Table) error {
	partners := t.CombinableWith
	if partners == nil {
		partners = []int64{}
	}
	encoded, err := json.Marshal(partners)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO tables (`+tableColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			restaurant_id = excluded.restaurant_id,
			name = excluded.name,
			capacity = excluded.capacity,
			min_capacity = excluded.min_capacity,
			max_capacity = excluded.max_capacity,
			is_combinable = excluded.is_combinable,
			combinable_with = excluded.combinable_with,
			priority = excluded.priority,
			is_active = excluded.is_active`,
		t.ID, t.RestaurantID, t.Name, t.Capacity, t.MinCapacity, t.MaxCapacity,
		t.IsCombinable, string(encoded), t.Priority, t.IsActive,
	)
	if err != nil {
		return fmt.Errorf("upsert table %d: %w", t.ID, err)
	}
	return nil
}

// DeactivateTablesExcept marks tables of the restaurant that are not in keep inactive.
func (db *DB) DeactivateTablesExcept(ctx context.Context, restaurantID int64, keep []int64) error {
	query, args := notIn(`UPDATE tables SET is_active = 0 WHERE restaurant_id = ? AND is_active = 1`, "id", keep)
	_, err := db.ExecContext(ctx, query, append([]any{restaurantID}, args...)...)
	return err
}

func notIn(base, column string, ids []int64) (string, []any) {
	if len(ids) == 0 {
		return base, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return fmt.Sprintf("%s AND %s NOT IN (%s)", base, column, marks), args
}
