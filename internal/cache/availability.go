package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"tablebook/internal/metrics"
	"tablebook/internal/model"
)

// Availability wraps an optional Cache. A nil backend or a non-positive TTL
// turns every call into a no-op, and backend errors only ever cost a miss.
type Availability struct {
	backend Cache
	ttl     time.Duration
	logger  zerolog.Logger
}

func NewAvailability(backend Cache, ttl time.Duration, logger *zerolog.Logger) *Availability {
	return &Availability{
		backend: backend,
		ttl:     ttl,
		logger:  logger.With().Str("component", "availability_cache").Logger(),
	}
}

// Key is the cache key of one availability query computed at generation.
func Key(restaurantID int64, date time.Time, generation string, partySize, duration int) string {
	return fmt.Sprintf("%s%s:%d:%d", datePrefix(restaurantID, date), generation, partySize, duration)
}

func datePrefix(restaurantID int64, date time.Time) string {
	return fmt.Sprintf("availability:%d:%s:", restaurantID, model.DateKey(date))
}

func restaurantGenKey(restaurantID int64) string {
	return fmt.Sprintf("availability-gen:%d", restaurantID)
}

func dateGenKey(restaurantID int64, date time.Time) string {
	return fmt.Sprintf("availability-gen:%d:%s", restaurantID, model.DateKey(date))
}

func (a *Availability) enabled() bool {
	return a != nil && a.backend != nil && a.ttl > 0
}

// Generation returns the invalidation generation of the restaurant and date.
// Read it before the bookings the answer is computed from: an invalidation in
// between moves readers to a new key, so a stale Store is never served.
// ok is false when the cache is off or unreachable.
func (a *Availability) Generation(ctx context.Context, restaurantID int64, date time.Time) (string, bool) {
	if !a.enabled() {
		return "", false
	}
	r, err := a.counter(ctx, restaurantGenKey(restaurantID))
	if err != nil {
		a.logger.Warn().Err(err).Int64("restaurant_id", restaurantID).Msg("cache generation read failed")
		return "", false
	}
	d, err := a.counter(ctx, dateGenKey(restaurantID, date))
	if err != nil {
		a.logger.Warn().Err(err).Int64("restaurant_id", restaurantID).Msg("cache generation read failed")
		return "", false
	}
	return fmt.Sprintf("g%d.%d", r, d), true
}

func (a *Availability) counter(ctx context.Context, key string) (int64, error) {
	val, ok, err := a.backend.Get(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

// Load decodes the cached value into out and reports whether it was found.
func (a *Availability) Load(ctx context.Context, key string, out any) bool {
	if !a.enabled() {
		return false
	}
	val, ok, err := a.backend.Get(ctx, key)
	if err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return false
	}
	if !ok {
		metrics.IncCache(false)
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("cache entry undecodable")
		return false
	}
	metrics.IncCache(true)
	return true
}

func (a *Availability) Store(ctx context.Context, key string, val any) {
	if !a.enabled() {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	if err := a.backend.SetEX(ctx, key, string(data), a.ttl); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// Invalidate moves the restaurant and date to a new generation and deletes
// the entries cached so far. Many party sizes and durations share a date, so
// entries are removed rather than overwritten.
func (a *Availability) Invalidate(ctx context.Context, restaurantID int64, date time.Time) {
	a.bump(ctx, dateGenKey(restaurantID, date))
	a.drop(ctx, datePrefix(restaurantID, date)+"*")
}

// InvalidateRestaurant does the same for every date of the restaurant, for
// changes such as new opening hours.
func (a *Availability) InvalidateRestaurant(ctx context.Context, restaurantID int64) {
	a.bump(ctx, restaurantGenKey(restaurantID))
	a.drop(ctx, fmt.Sprintf("availability:%d:*", restaurantID))
}

func (a *Availability) bump(ctx context.Context, key string) {
	if a == nil || a.backend == nil {
		return
	}
	if _, err := a.backend.Incr(ctx, key); err != nil {
		a.logger.Warn().Err(err).Str("key", key).Msg("cache generation bump failed")
	}
}

func (a *Availability) drop(ctx context.Context, pattern string) {
	if a == nil || a.backend == nil {
		return
	}
	keys, err := a.backend.Keys(ctx, pattern)
	if err != nil {
		a.logger.Warn().Err(err).Str("pattern", pattern).Msg("cache invalidation scan failed")
		return
	}
	if err := a.backend.Del(ctx, keys...); err != nil {
		a.logger.Warn().Err(err).Str("pattern", pattern).Msg("cache invalidation failed")
		return
	}
	a.logger.Debug().Int("keys", len(keys)).Str("pattern", pattern).Msg("availability cache invalidated")
}
