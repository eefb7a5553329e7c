package config

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablebook/internal/model"
)

const restaurantsYAML = `
defaults:
  booking_settings:
    min_advance_hours: 2
    max_advance_days: 60
    max_party_size: 12
    waitlist_enabled: true
holidays:
  - date: "2026-12-25"
    name: Christmas
restaurants:
  - id: 1
    name: Trattoria
    timezone: UTC
    opening_hours:
      monday: {is_open: false}
      friday:
        is_open: true
        periods:
          - {name: Lunch, start_time: "12:00", end_time: "15:00", slot_duration_minutes: 15}
          - {name: Dinner, start_time: "18:00", end_time: "23:00"}
      saturday: {is_open: true, open_time: "17:00", close_time: "22:00"}
    closed_dates: ["2026-08-15"]
    tables:
      - {id: 10, name: T1, capacity: 4, min_capacity: 2, combinable: true, combinable_with: [11]}
      - {id: 11, name: T2, capacity: 4, min_capacity: 2, combinable: true, combinable_with: [10], priority: 1}
      - {id: 12, name: Bar, capacity: 2, is_active: false}
`

func TestParseRestaurantsConfig(t *testing.T) {
	cfg, err := ParseRestaurantsConfig([]byte(restaurantsYAML))
	require.NoError(t, err)
	require.Len(t, cfg.Restaurants, 1)

	r := cfg.Restaurant(0)
	assert.Equal(t, "Trattoria", r.Name)
	assert.True(t, r.IsActive)
	assert.Equal(t, 2, r.Settings.MinAdvanceHours)
	assert.Equal(t, 30, r.Settings.SlotDurationMinutes, "default slot duration")
	assert.Equal(t, 90, r.Settings.DefaultDurationMinutes)
	assert.True(t, r.Settings.WaitlistEnabled)
	assert.ElementsMatch(t, []string{"2026-08-15", "2026-12-25"}, r.ClosedDates)

	friday := r.OpeningHours["friday"]
	require.Len(t, friday.Periods, 2)
	assert.Equal(t, model.MustClock("12:00"), friday.Periods[0].Start)
	assert.Equal(t, 15, friday.Periods[0].SlotDurationMinutes)
	assert.True(t, r.OpeningHours["saturday"].IsLegacy())

	tables := cfg.Tables(0)
	require.Len(t, tables, 3)
	assert.Equal(t, 4, tables[0].MaxCapacity, "max capacity defaults to capacity")
	assert.Equal(t, []int64{11}, tables[0].CombinableWith)
	assert.Equal(t, int64(1), tables[0].RestaurantID)
	assert.Equal(t, 1, tables[2].MinCapacity)
	assert.False(t, tables[2].IsActive)
}

func TestRestaurantsConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", `restaurants: []`, "no restaurants defined"},
		{"missing settings", `
restaurants:
  - {id: 1, name: A}`, "booking_settings are required"},
		{"duplicate table", `
defaults: {booking_settings: {max_advance_days: 10}}
restaurants:
  - id: 1
    name: A
    tables: [{id: 1, capacity: 2}, {id: 1, capacity: 4}]`, "duplicate table id 1"},
		{"foreign partner", `
defaults: {booking_settings: {max_advance_days: 10}}
restaurants:
  - id: 1
    name: A
    tables: [{id: 1, capacity: 2, combinable: true, combinable_with: [9]}]`, "combinable partner 9"},
		{"bad weekday", `
defaults: {booking_settings: {max_advance_days: 10}}
restaurants:
  - id: 1
    name: A
    opening_hours: {funday: {is_open: true, open_time: "10:00", close_time: "12:00"}}`, "unknown weekday"},
		{"inverted period", `
defaults: {booking_settings: {max_advance_days: 10}}
restaurants:
  - id: 1
    name: A
    opening_hours:
      monday: {is_open: true, periods: [{name: X, start_time: "15:00", end_time: "12:00"}]}`, "end_time must be after start_time"},
		{"bad holiday", `
defaults: {booking_settings: {max_advance_days: 10}}
holidays: [{date: "25/12/2026"}]
restaurants:
  - {id: 1, name: A}`, "invalid date format"},
		{"bad clock", `
defaults: {booking_settings: {max_advance_days: 10}}
restaurants:
  - id: 1
    name: A
    opening_hours: {monday: {is_open: true, open_time: "25:00", close_time: "26:00"}}`, "parse restaurants config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRestaurantsConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	t.Setenv("TABLEBOOK_REDIS_PASSWORD", "s3cret")

	content := `
database:
  path: ` + filepath.Join(dir, "data", "app.db") + `
redis:
  address: localhost:6379
  password: ${TABLEBOOK_REDIS_PASSWORD}
lock:
  backend: redis
  attempts: 7
cache:
  ttl_seconds: -1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Redis.Password)
	assert.True(t, cfg.UseRedisLocks())
	assert.Equal(t, 7, cfg.LockAttempts())
	assert.Equal(t, 10*time.Second, cfg.LockTTL())
	assert.Equal(t, time.Duration(0), cfg.CacheTTL(), "negative ttl disables caching")
	assert.Equal(t, 90, cfg.DefaultDuration())
	assert.Equal(t, 10, cfg.OverrideReasonMinLen())
	assert.Equal(t, "configs/restaurants.yaml", cfg.Restaurants.Path)
	assert.DirExists(t, filepath.Join(dir, "data"))
}

func TestWatchRestaurants(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "restaurants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(restaurantsYAML), 0o644))

	var mu sync.Mutex
	var names []string
	logger := zerolog.New(io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := WatchRestaurants(ctx, path, 10*time.Millisecond, &logger, func(cfg *RestaurantsConfig) {
		mu.Lock()
		names = append(names, cfg.Restaurants[0].Name)
		mu.Unlock()
	})
	require.NoError(t, err)

	updated := strings.Replace(restaurantsYAML, "name: Trattoria", "name: Osteria", 1)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(names) == 2 && names[1] == "Osteria"
	}, 2*time.Second, 10*time.Millisecond)
}
