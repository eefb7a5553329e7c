// Package rules applies restaurant booking policy before a table is allocated.
package rules

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tablebook/internal/allocation"
	"tablebook/internal/errs"
	"tablebook/internal/model"
	"tablebook/internal/schedule"
)

// DefaultMinOverrideReason is the shortest accepted staff pacing justification.
const DefaultMinOverrideReason = 10

// Request is a booking attempt as seen by the validator. A nil Restaurant
// means the lookup found nothing.
type Request struct {
	Restaurant     *model.Restaurant
	Date           time.Time
	Time           model.Clock
	Duration       int
	PartySize      int
	Source         model.BookingSource
	StaffID        string
	OverrideReason string
}

// Validator runs the policy checks in a fixed order and stops at the first failure:
// restaurant, day open, service hours, min advance, max advance, party size, pacing.
type Validator struct {
	now               func() time.Time
	minOverrideReason int
	logger            zerolog.Logger
}

func NewValidator(now func() time.Time, minOverrideReason int, logger *zerolog.Logger) *Validator {
	if now == nil {
		now = time.Now
	}
	if minOverrideReason <= 0 {
		minOverrideReason = DefaultMinOverrideReason
	}
	return &Validator{
		now:               now,
		minOverrideReason: minOverrideReason,
		logger:            logger.With().Str("component", "rules").Logger(),
	}
}

// Validate checks req against policy. bookings are the date's existing bookings
// and are only consulted for pacing, after every other check has passed.
func (v *Validator) Validate(req Request, bookings []model.Booking) error {
	r := req.Restaurant
	if r == nil || !r.IsActive {
		return errs.New(errs.KindRestaurantNotFound, "restaurant not found")
	}

	periods := schedule.Resolve(r, req.Date)
	if len(periods) == 0 {
		return errs.New(errs.KindRestaurantClosed, "restaurant is closed on %s", model.DateKey(req.Date))
	}
	if !schedule.Covers(periods, req.Time, req.Duration) {
		return errs.New(errs.KindOutsideServiceHours,
			"%s for %d minutes is outside service hours", req.Time, req.Duration)
	}

	if err := v.CheckAdvance(r, req.Date, req.Time); err != nil {
		return err
	}
	if err := CheckPartySize(r.Settings, req.PartySize); err != nil {
		return err
	}

	return v.checkPacing(req, bookings)
}

// CheckAdvance enforces the min-advance-hours and max-advance-days window for
// a start time on date.
func (v *Validator) CheckAdvance(r *model.Restaurant, date time.Time, at model.Clock) error {
	now := v.now()
	start := at.On(date)

	minAdvance := time.Duration(r.Settings.MinAdvanceHours) * time.Hour
	if start.Before(now.Add(minAdvance)) {
		return errs.New(errs.KindTooSoon,
			"bookings must be made at least %d hours in advance", r.Settings.MinAdvanceHours)
	}
	maxAdvance := time.Duration(r.Settings.MaxAdvanceDays) * 24 * time.Hour
	if start.After(now.Add(maxAdvance)) {
		return errs.New(errs.KindTooFarAhead,
			"bookings open at most %d days in advance", r.Settings.MaxAdvanceDays)
	}
	return nil
}

// CheckDate rejects a whole date for availability queries: unknown restaurant,
// a date that ends before the min-advance horizon, or one that starts after the
// max-advance horizon. Closed days are not an error here.
func (v *Validator) CheckDate(r *model.Restaurant, date time.Time) error {
	if r == nil || !r.IsActive {
		return errs.New(errs.KindRestaurantNotFound, "restaurant not found")
	}
	now := v.now()
	dayStart := model.DateOf(date)
	dayEnd := dayStart.AddDate(0, 0, 1)

	minAdvance := time.Duration(r.Settings.MinAdvanceHours) * time.Hour
	if !dayEnd.After(now.Add(minAdvance)) {
		return errs.New(errs.KindTooSoon, "%s is no longer bookable", model.DateKey(date))
	}
	maxAdvance := time.Duration(r.Settings.MaxAdvanceDays) * 24 * time.Hour
	if dayStart.After(now.Add(maxAdvance)) {
		return errs.New(errs.KindTooFarAhead,
			"bookings open at most %d days in advance", r.Settings.MaxAdvanceDays)
	}
	return nil
}

// CheckPartySize enforces the restaurant's party bounds. Parties below one
// are always invalid.
func CheckPartySize(s model.BookingSettings, partySize int) error {
	minParty := s.MinPartySize
	if minParty < 1 {
		minParty = 1
	}
	if partySize < minParty {
		return errs.New(errs.KindInvalidPartySize, "party size must be at least %d", minParty)
	}
	if s.MaxPartySize > 0 && partySize > s.MaxPartySize {
		return errs.New(errs.KindPartyTooLarge,
			"party of %d exceeds the maximum of %d", partySize, s.MaxPartySize)
	}
	return nil
}

func (v *Validator) checkPacing(req Request, bookings []model.Booking) error {
	err := allocation.CheckPacing(req.Restaurant.Settings, bookings, req.Time, req.PartySize)
	if err == nil || req.Source != model.SourceStaff {
		return err
	}

	reason := strings.TrimSpace(req.OverrideReason)
	if len([]rune(reason)) < v.minOverrideReason {
		return errs.New(errs.KindPacingOverrideRequired,
			"%s; staff must give an override reason of at least %d characters",
			errs.Message(err), v.minOverrideReason)
	}

	v.logger.Info().
		Int64("restaurant_id", req.Restaurant.ID).
		Str("date", model.DateKey(req.Date)).
		Str("time", req.Time.String()).
		Int("party_size", req.PartySize).
		Str("staff_id", req.StaffID).
		Str("reason", reason).
		Msg("pacing limit overridden")
	return nil
}
