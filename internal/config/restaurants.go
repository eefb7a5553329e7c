package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"tablebook/internal/model"
)

// TableConfig is one table of a restaurant. Unset min/max capacities fall back
// to 1 and capacity.
type TableConfig struct {
	ID             int64   `yaml:"id"`
	Name           string  `yaml:"name"`
	Capacity       int     `yaml:"capacity"`
	MinCapacity    int     `yaml:"min_capacity"`
	MaxCapacity    int     `yaml:"max_capacity"`
	Combinable     bool    `yaml:"combinable"`
	CombinableWith []int64 `yaml:"combinable_with,omitempty"`
	Priority       int     `yaml:"priority"`
	IsActive       *bool   `yaml:"is_active,omitempty"`
}

type RestaurantConfig struct {
	ID              int64                  `yaml:"id"`
	Name            string                 `yaml:"name"`
	Timezone        string                 `yaml:"timezone"`
	IsActive        *bool                  `yaml:"is_active,omitempty"`
	OpeningHours    model.OpeningHours     `yaml:"opening_hours"`
	BookingSettings *model.BookingSettings `yaml:"booking_settings,omitempty"`
	ClosedDates     []string               `yaml:"closed_dates,omitempty"`
	Tables          []TableConfig          `yaml:"tables"`
}

// HolidayConfig closes every restaurant on a date.
type HolidayConfig struct {
	Date string `yaml:"date"` // "2026-12-25"
	Name string `yaml:"name"`
}

type DefaultsConfig struct {
	BookingSettings *model.BookingSettings `yaml:"booking_settings"`
	OpeningHours    model.OpeningHours     `yaml:"opening_hours"`
}

// RestaurantsConfig is the root of restaurants.yaml.
type RestaurantsConfig struct {
	Restaurants []RestaurantConfig `yaml:"restaurants"`
	Defaults    DefaultsConfig     `yaml:"defaults"`
	Holidays    []HolidayConfig    `yaml:"holidays"`
}

// LoadRestaurantsConfig loads, validates and fills defaults of restaurants.yaml.
func LoadRestaurantsConfig(path string) (*RestaurantsConfig, error) {
	if path == "" {
		path = "configs/restaurants.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read restaurants config: %w", err)
	}
	return ParseRestaurantsConfig(data)
}

func ParseRestaurantsConfig(data []byte) (*RestaurantsConfig, error) {
	var cfg RestaurantsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse restaurants config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate restaurants config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *RestaurantsConfig) Validate() error {
	if len(c.Restaurants) == 0 {
		return fmt.Errorf("no restaurants defined")
	}

	restaurantIDs := make(map[int64]bool)
	tableIDs := make(map[int64]bool)

	for i, r := range c.Restaurants {
		prefix := fmt.Sprintf("restaurant[%d]", i)
		if r.ID <= 0 {
			return fmt.Errorf("%s: id must be positive, got %d", prefix, r.ID)
		}
		if restaurantIDs[r.ID] {
			return fmt.Errorf("%s: duplicate id %d", prefix, r.ID)
		}
		restaurantIDs[r.ID] = true

		if r.Name == "" {
			return fmt.Errorf("%s: name is required", prefix)
		}
		if r.Timezone != "" {
			if _, err := time.LoadLocation(r.Timezone); err != nil {
				return fmt.Errorf("%s: unknown timezone %q", prefix, r.Timezone)
			}
		}
		if r.BookingSettings == nil {
			return fmt.Errorf("%s: booking_settings are required", prefix)
		}
		if err := r.BookingSettings.Validate(); err != nil {
			return fmt.Errorf("%s.booking_settings: %w", prefix, err)
		}
		if err := validateHours(r.OpeningHours, prefix+".opening_hours"); err != nil {
			return err
		}
		for j, d := range r.ClosedDates {
			if _, err := time.Parse(model.DateLayout, d); err != nil {
				return fmt.Errorf("%s.closed_dates[%d]: invalid date '%s', expected YYYY-MM-DD", prefix, j, d)
			}
		}

		for j, t := range r.Tables {
			tprefix := fmt.Sprintf("%s.tables[%d]", prefix, j)
			if t.ID <= 0 {
				return fmt.Errorf("%s: id must be positive, got %d", tprefix, t.ID)
			}
			if tableIDs[t.ID] {
				return fmt.Errorf("%s: duplicate table id %d", tprefix, t.ID)
			}
			tableIDs[t.ID] = true
			if t.Capacity <= 0 {
				return fmt.Errorf("%s: capacity must be positive", tprefix)
			}
			if t.MinCapacity < 1 || t.MinCapacity > t.MaxCapacity {
				return fmt.Errorf("%s: capacity range %d-%d is invalid", tprefix, t.MinCapacity, t.MaxCapacity)
			}
		}
	}

	for _, r := range c.Restaurants {
		own := make(map[int64]bool, len(r.Tables))
		for _, t := range r.Tables {
			own[t.ID] = true
		}
		for _, t := range r.Tables {
			for _, partner := range t.CombinableWith {
				if !own[partner] {
					return fmt.Errorf("restaurant %d table %d: combinable partner %d is not a table of this restaurant", r.ID, t.ID, partner)
				}
			}
		}
	}

	for i, h := range c.Holidays {
		if h.Date == "" {
			return fmt.Errorf("holiday[%d]: date is required", i)
		}
		if _, err := time.Parse(model.DateLayout, h.Date); err != nil {
			return fmt.Errorf("holiday[%d]: invalid date format '%s', expected YYYY-MM-DD", i, h.Date)
		}
	}

	return nil
}

func validateHours(hours model.OpeningHours, prefix string) error {
	for day, sched := range hours {
		if _, ok := weekdays[day]; !ok {
			return fmt.Errorf("%s: unknown weekday %q", prefix, day)
		}
		if !sched.IsOpen {
			continue
		}
		if len(sched.Periods) == 0 && sched.CloseTime <= sched.OpenTime {
			return fmt.Errorf("%s.%s: close_time must be after open_time", prefix, day)
		}
		for i, p := range sched.Periods {
			if p.End <= p.Start {
				return fmt.Errorf("%s.%s.periods[%d]: end_time must be after start_time", prefix, day, i)
			}
			if p.SlotDurationMinutes < 0 {
				return fmt.Errorf("%s.%s.periods[%d]: slot_duration_minutes cannot be negative", prefix, day, i)
			}
		}
	}
	return nil
}

var weekdays = map[string]struct{}{
	"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {},
	"friday": {}, "saturday": {}, "sunday": {},
}

func (c *RestaurantsConfig) applyDefaults() {
	for i := range c.Restaurants {
		r := &c.Restaurants[i]
		if r.BookingSettings == nil && c.Defaults.BookingSettings != nil {
			s := *c.Defaults.BookingSettings
			r.BookingSettings = &s
		}
		if len(r.OpeningHours) == 0 && len(c.Defaults.OpeningHours) > 0 {
			r.OpeningHours = c.Defaults.OpeningHours
		}
		if s := r.BookingSettings; s != nil {
			if s.SlotDurationMinutes == 0 {
				s.SlotDurationMinutes = 30
			}
			if s.DefaultDurationMinutes == 0 {
				s.DefaultDurationMinutes = 90
			}
			if s.MaxAdvanceDays == 0 {
				s.MaxAdvanceDays = 30
			}
		}
		for j := range r.Tables {
			t := &r.Tables[j]
			if t.MinCapacity == 0 {
				t.MinCapacity = 1
			}
			if t.MaxCapacity == 0 {
				t.MaxCapacity = t.Capacity
			}
		}
	}
}

// Restaurant converts the entry to the domain model. Global holidays are
// merged into the closure dates.
func (c *RestaurantsConfig) Restaurant(i int) model.Restaurant {
	rc := c.Restaurants[i]
	r := model.Restaurant{
		ID:           rc.ID,
		Name:         rc.Name,
		Timezone:     rc.Timezone,
		OpeningHours: rc.OpeningHours,
		ClosedDates:  append([]string(nil), rc.ClosedDates...),
		IsActive:     rc.IsActive == nil || *rc.IsActive,
	}
	if rc.BookingSettings != nil {
		r.Settings = *rc.BookingSettings
	}
	for _, h := range c.Holidays {
		if !slices.Contains(r.ClosedDates, h.Date) {
			r.ClosedDates = append(r.ClosedDates, h.Date)
		}
	}
	return r
}

// Tables converts the tables of entry i to the domain model.
func (c *RestaurantsConfig) Tables(i int) []model.Table {
	rc := c.Restaurants[i]
	out := make([]model.Table, 0, len(rc.Tables))
	for _, t := range rc.Tables {
		out = append(out, model.Table{
			ID:             t.ID,
			RestaurantID:   rc.ID,
			Name:           t.Name,
			Capacity:       t.Capacity,
			MinCapacity:    t.MinCapacity,
			MaxCapacity:    t.MaxCapacity,
			IsCombinable:   t.Combinable,
			CombinableWith: append([]int64(nil), t.CombinableWith...),
			Priority:       t.Priority,
			IsActive:       t.IsActive == nil || *t.IsActive,
		})
	}
	return out
}
