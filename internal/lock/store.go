// Package lock serializes conflicting booking attempts with owner-token leases.
package lock

import (
	"context"
	"fmt"
	"time"

	"tablebook/internal/model"
)

// Store is an atomic key/owner/expiry store. Implementations must treat
// expired entries as absent on Acquire.
type Store interface {
	// Acquire sets key to token if no live entry exists. It never blocks.
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Release deletes key only if it is still owned by token.
	Release(ctx context.Context, key, token string) (bool, error)
	// Extend refreshes the expiry of key only if it is still owned by token.
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}

// Key identifies a critical section.
type Key string

// SlotKey locks a (restaurant, date, time) start slot, optionally narrowed to a table.
func SlotKey(restaurantID int64, date time.Time, at model.Clock, tableID *int64) Key {
	k := fmt.Sprintf("lock:booking:%d:%s:%s", restaurantID, model.DateKey(date), at)
	if tableID != nil {
		k = fmt.Sprintf("%s:%d", k, *tableID)
	}
	return Key(k)
}

// TableKey locks a single table regardless of time.
func TableKey(tableID int64) Key {
	return Key(fmt.Sprintf("lock:table:%d", tableID))
}

// WaitlistKey locks the waitlist of a restaurant for one date.
func WaitlistKey(restaurantID int64, date time.Time) Key {
	return Key(fmt.Sprintf("lock:waitlist:%d:%s", restaurantID, model.DateKey(date)))
}
