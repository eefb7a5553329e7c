package model

import (
	"fmt"
	"strings"
	"time"
)

// ServicePeriod is a named interval during which bookings may start.
// SlotDurationMinutes of zero means the restaurant's slot duration applies.
type ServicePeriod struct {
	Name                string `json:"name" yaml:"name"`
	Start               Clock  `json:"start_time" yaml:"start_time"`
	End                 Clock  `json:"end_time" yaml:"end_time"`
	SlotDurationMinutes int    `json:"slot_duration_minutes,omitempty" yaml:"slot_duration_minutes,omitempty"`
}

// Length returns the period length in minutes.
func (p ServicePeriod) Length() int {
	return int(p.End - p.Start)
}

// DaySchedule holds either the legacy open/close pair or a list of service periods.
type DaySchedule struct {
	IsOpen    bool            `json:"is_open" yaml:"is_open"`
	OpenTime  Clock           `json:"open_time,omitempty" yaml:"open_time,omitempty"`
	CloseTime Clock           `json:"close_time,omitempty" yaml:"close_time,omitempty"`
	Periods   []ServicePeriod `json:"periods,omitempty" yaml:"periods,omitempty"`
}

// IsLegacy reports whether the schedule only carries the single open/close pair.
func (d DaySchedule) IsLegacy() bool {
	return len(d.Periods) == 0 && d.CloseTime > d.OpenTime
}

// OpeningHours maps lowercase weekday names ("monday") to schedules.
type OpeningHours map[string]DaySchedule

// ForWeekday returns the schedule for wd; a missing entry is a closed day.
func (h OpeningHours) ForWeekday(wd time.Weekday) DaySchedule {
	if h == nil {
		return DaySchedule{}
	}
	return h[strings.ToLower(wd.String())]
}

// BookingSettings are the restaurant's policy knobs. Nil pacing caps disable the check.
type BookingSettings struct {
	MinAdvanceHours        int  `json:"min_advance_hours" yaml:"min_advance_hours"`
	MaxAdvanceDays         int  `json:"max_advance_days" yaml:"max_advance_days"`
	MinPartySize           int  `json:"min_party_size" yaml:"min_party_size"`
	MaxPartySize           int  `json:"max_party_size" yaml:"max_party_size"`
	SlotDurationMinutes    int  `json:"slot_duration_minutes" yaml:"slot_duration_minutes"`
	DefaultDurationMinutes int  `json:"default_duration_minutes" yaml:"default_duration_minutes"`
	MaxConcurrentTables    *int `json:"max_concurrent_tables,omitempty" yaml:"max_concurrent_tables,omitempty"`
	MaxConcurrentCovers    *int `json:"max_concurrent_covers,omitempty" yaml:"max_concurrent_covers,omitempty"`
	WaitlistEnabled        bool `json:"waitlist_enabled" yaml:"waitlist_enabled"`
}

// Validate checks the settings invariants.
func (s BookingSettings) Validate() error {
	if s.SlotDurationMinutes <= 0 {
		return fmt.Errorf("slot duration must be positive, got %d", s.SlotDurationMinutes)
	}
	if s.MinAdvanceHours < 0 || s.MaxAdvanceDays < 0 {
		return fmt.Errorf("advance bounds must be non-negative")
	}
	if s.MinAdvanceHours > s.MaxAdvanceDays*24 {
		return fmt.Errorf("min advance (%dh) exceeds max advance (%dd)", s.MinAdvanceHours, s.MaxAdvanceDays)
	}
	if s.MaxPartySize > 0 && s.MinPartySize > s.MaxPartySize {
		return fmt.Errorf("min party size %d exceeds max party size %d", s.MinPartySize, s.MaxPartySize)
	}
	if s.MaxConcurrentTables != nil && *s.MaxConcurrentTables < 0 {
		return fmt.Errorf("max concurrent tables cannot be negative")
	}
	if s.MaxConcurrentCovers != nil && *s.MaxConcurrentCovers < 0 {
		return fmt.Errorf("max concurrent covers cannot be negative")
	}
	return nil
}

// Restaurant is the owner of tables, opening hours and booking policy.
type Restaurant struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Timezone     string          `json:"timezone"`
	OpeningHours OpeningHours    `json:"opening_hours"`
	Settings     BookingSettings `json:"booking_settings"`
	ClosedDates  []string        `json:"closed_dates,omitempty"` // YYYY-MM-DD
	IsActive     bool            `json:"is_active"`
}

// Location resolves the restaurant's timezone, defaulting to UTC.
func (r *Restaurant) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsClosedOn reports whether date is listed as a closure.
func (r *Restaurant) IsClosedOn(date time.Time) bool {
	key := DateKey(date)
	for _, d := range r.ClosedDates {
		if d == key {
			return true
		}
	}
	return false
}
