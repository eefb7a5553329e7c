package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tablebook/internal/model"
)

var c = model.MustClock

func clocks(ss ...string) []model.Clock {
	out := make([]model.Clock, len(ss))
	for i, s := range ss {
		out[i] = c(s)
	}
	return out
}

func TestSlots(t *testing.T) {
	tests := []struct {
		name     string
		period   model.ServicePeriod
		duration int
		want     []model.Clock
	}{
		{
			name:     "boundary slot is inclusive",
			period:   model.ServicePeriod{Start: c("17:00"), End: c("21:00"), SlotDurationMinutes: 30},
			duration: 120,
			want:     clocks("17:00", "17:30", "18:00", "18:30", "19:00"),
		},
		{
			name:     "duration longer than period",
			period:   model.ServicePeriod{Start: c("12:00"), End: c("13:00"), SlotDurationMinutes: 15},
			duration: 90,
			want:     nil,
		},
		{
			name:     "duration equal to period",
			period:   model.ServicePeriod{Start: c("12:00"), End: c("13:30"), SlotDurationMinutes: 15},
			duration: 90,
			want:     clocks("12:00"),
		},
		{
			name:     "coarse granularity",
			period:   model.ServicePeriod{Start: c("11:00"), End: c("14:00"), SlotDurationMinutes: 60},
			duration: 60,
			want:     clocks("11:00", "12:00", "13:00"),
		},
		{
			name:     "zero granularity",
			period:   model.ServicePeriod{Start: c("11:00"), End: c("14:00")},
			duration: 60,
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slots(tt.period, tt.duration))
		})
	}
}

func TestSlotsDeterministic(t *testing.T) {
	p := model.ServicePeriod{Start: c("17:00"), End: c("23:00"), SlotDurationMinutes: 15}
	first := Slots(p, 90)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Slots(p, 90))
	}
}

func TestDaySlots(t *testing.T) {
	periods := []model.ServicePeriod{
		{Name: "Dinner", Start: c("18:00"), End: c("20:00"), SlotDurationMinutes: 60},
		{Name: "Lunch", Start: c("12:00"), End: c("14:00"), SlotDurationMinutes: 60},
		{Name: "Late", Start: c("19:00"), End: c("21:00"), SlotDurationMinutes: 60},
	}

	got := DaySlots(periods, 60)
	assert.Equal(t, clocks("12:00", "13:00", "18:00", "19:00", "20:00"), got)
	assert.Nil(t, DaySlots(nil, 60))
}

func weekHours() model.OpeningHours {
	return model.OpeningHours{
		"monday": {IsOpen: false},
		"tuesday": {
			IsOpen:    true,
			OpenTime:  c("10:00"),
			CloseTime: c("22:00"),
		},
		"wednesday": {
			IsOpen: true,
			Periods: []model.ServicePeriod{
				{Name: "Dinner", Start: c("17:00"), End: c("21:00"), SlotDurationMinutes: 30},
				{Name: "Lunch", Start: c("12:00"), End: c("15:00")},
				{Name: "Broken", Start: c("16:00"), End: c("15:00")},
			},
		},
	}
}

func TestResolve(t *testing.T) {
	r := &model.Restaurant{
		OpeningHours: weekHours(),
		Settings:     model.BookingSettings{SlotDurationMinutes: 15},
		ClosedDates:  []string{"2026-01-21"},
	}

	monday := time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC)
	tuesday := monday.AddDate(0, 0, 1)
	wednesday := monday.AddDate(0, 0, 2)
	holiday := monday.AddDate(0, 0, 9)
	thursday := monday.AddDate(0, 0, 3)

	t.Run("closed weekday", func(t *testing.T) {
		assert.Empty(t, Resolve(r, monday))
	})

	t.Run("missing weekday is closed", func(t *testing.T) {
		assert.Empty(t, Resolve(r, thursday))
	})

	t.Run("legacy hours are upgraded", func(t *testing.T) {
		periods := Resolve(r, tuesday)
		if assert.Len(t, periods, 1) {
			assert.Equal(t, DefaultPeriodName, periods[0].Name)
			assert.Equal(t, c("10:00"), periods[0].Start)
			assert.Equal(t, c("22:00"), periods[0].End)
			assert.Equal(t, 15, periods[0].SlotDurationMinutes)
		}
	})

	t.Run("periods sorted with defaults", func(t *testing.T) {
		periods := Resolve(r, wednesday)
		if assert.Len(t, periods, 2) {
			assert.Equal(t, "Lunch", periods[0].Name)
			assert.Equal(t, 15, periods[0].SlotDurationMinutes)
			assert.Equal(t, "Dinner", periods[1].Name)
			assert.Equal(t, 30, periods[1].SlotDurationMinutes)
		}
	})

	t.Run("closure date", func(t *testing.T) {
		assert.Equal(t, time.Wednesday, holiday.Weekday())
		assert.Empty(t, Resolve(r, holiday))
	})

	t.Run("source data untouched", func(t *testing.T) {
		_ = Resolve(r, wednesday)
		assert.Equal(t, 0, r.OpeningHours["wednesday"].Periods[1].SlotDurationMinutes)
	})
}

func TestCovers(t *testing.T) {
	periods := []model.ServicePeriod{
		{Start: c("12:00"), End: c("15:00")},
		{Start: c("17:00"), End: c("21:00")},
	}
	assert.True(t, Covers(periods, c("19:00"), 120))
	assert.False(t, Covers(periods, c("19:30"), 120))
	assert.False(t, Covers(periods, c("16:00"), 60))
	assert.True(t, Covers(periods, c("12:00"), 60))
}
