package allocation

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tablebook/internal/errs"
	"tablebook/internal/model"
)

var c = model.MustClock

func id(v int64) *int64 { return &v }
func n(v int) *int { return &v }

func table(tid int64, capacity, minCap, maxCap, priority int, combinable bool) model.Table {
	return model.Table{
		ID:           tid,
		RestaurantID: 1,
		Capacity:     capacity,
		MinCapacity:  minCap,
		MaxCapacity:  maxCap,
		Priority:     priority,
		IsCombinable: combinable,
		IsActive:     true,
	}
}

func booked(tableID int64, at string, duration, party int) model.Booking {
	return model.Booking{
		RestaurantID: 1,
		TableID:      id(tableID),
		PartySize:    party,
		BookingTime:  c(at),
		Duration:     duration,
		Status:       model.StatusConfirmed,
	}
}

func req(at string, duration, party int) Request {
	return Request{RestaurantID: 1, Start: c(at), Duration: duration, PartySize: party}
}

func TestChoose_SingleTable(t *testing.T) {
	tables := []model.Table{
		table(1, 6, 4, 6, 0, false),
		table(2, 4, 2, 4, 0, false),
		table(3, 4, 2, 4, 5, false),
		table(4, 2, 1, 2, 0, false),
	}

	t.Run("smallest capacity then priority", func(t *testing.T) {
		alloc := Choose(tables, nil, req("18:00", 120, 3))
		require.NotNil(t, alloc)
		assert.Equal(t, int64(3), alloc.Table.ID)
		assert.False(t, alloc.Combined())
	})

	t.Run("skips overlapping booking", func(t *testing.T) {
		bookings := []model.Booking{booked(3, "17:00", 120, 2)}
		alloc := Choose(tables, bookings, req("18:00", 120, 3))
		require.NotNil(t, alloc)
		assert.Equal(t, int64(2), alloc.Table.ID)
	})

	t.Run("adjacent booking does not conflict", func(t *testing.T) {
		bookings := []model.Booking{booked(3, "16:00", 120, 2)}
		alloc := Choose(tables, bookings, req("18:00", 120, 3))
		require.NotNil(t, alloc)
		assert.Equal(t, int64(3), alloc.Table.ID)
	})

	t.Run("cancelled and no-show bookings ignored", func(t *testing.T) {
		cancelled := booked(3, "18:00", 120, 2)
		cancelled.Status = model.StatusCancelled
		noShow := booked(2, "18:00", 120, 2)
		noShow.Status = model.StatusNoShow
		alloc := Choose(tables, []model.Booking{cancelled, noShow}, req("18:00", 120, 3))
		require.NotNil(t, alloc)
		assert.Equal(t, int64(3), alloc.Table.ID)
	})

	t.Run("min capacity respected", func(t *testing.T) {
		alloc := Choose(tables, nil, req("18:00", 120, 1))
		require.NotNil(t, alloc)
		assert.Equal(t, int64(4), alloc.Table.ID)
	})

	t.Run("inactive table skipped", func(t *testing.T) {
		onlyInactive := []model.Table{table(9, 4, 1, 4, 0, false)}
		onlyInactive[0].IsActive = false
		assert.Nil(t, Choose(onlyInactive, nil, req("18:00", 60, 2)))
	})
}

func TestChoose_Combinations(t *testing.T) {
	tables := []model.Table{
		table(1, 4, 2, 4, 0, true),
		table(2, 4, 2, 4, 1, true),
		table(3, 6, 3, 6, 0, true),
		table(4, 2, 1, 2, 0, false),
	}

	t.Run("pair when no single table fits", func(t *testing.T) {
		alloc := Choose(tables, nil, req("19:00", 90, 8))
		require.NotNil(t, alloc)
		assert.True(t, alloc.Combined())
		assert.ElementsMatch(t, []int64{1, 2}, alloc.TableIDs())
		assert.Equal(t, int64(2), alloc.Table.ID, "higher priority member is primary")
		assert.Equal(t, []int64{1}, alloc.LinkedIDs())
	})

	t.Run("single table preferred over pair", func(t *testing.T) {
		alloc := Choose(tables, nil, req("19:00", 90, 6))
		require.NotNil(t, alloc)
		assert.Equal(t, int64(3), alloc.Table.ID)
		assert.False(t, alloc.Combined())
	})

	t.Run("busy member excludes pair", func(t *testing.T) {
		bookings := []model.Booking{booked(2, "19:30", 60, 2)}
		alloc := Choose(tables, bookings, req("19:00", 90, 8))
		require.NotNil(t, alloc)
		assert.ElementsMatch(t, []int64{1, 3}, alloc.TableIDs())
	})

	t.Run("booking on linked table blocks it", func(t *testing.T) {
		combo := booked(2, "19:00", 90, 8)
		combo.LinkedTableIDs = []int64{1}
		alloc := Choose(tables, []model.Booking{combo}, req("19:00", 90, 4))
		require.NotNil(t, alloc)
		assert.Equal(t, int64(3), alloc.Table.ID)
	})

	t.Run("designated partners only", func(t *testing.T) {
		restricted := []model.Table{
			table(1, 4, 2, 4, 0, true),
			table(2, 4, 2, 4, 0, true),
		}
		restricted[0].CombinableWith = []int64{5}
		assert.Nil(t, Choose(restricted, nil, req("19:00", 90, 8)))
	})

	t.Run("too large for any pair", func(t *testing.T) {
		assert.Nil(t, Choose(tables, nil, req("19:00", 90, 20)))
	})
}

func TestLoadAtAndPacing(t *testing.T) {
	bookings := []model.Booking{
		booked(1, "18:00", 120, 4),
		booked(2, "18:00", 120, 2),
		booked(3, "18:30", 120, 6),
	}
	cancelled := booked(4, "18:00", 120, 8)
	cancelled.Status = model.StatusCancelled
	bookings = append(bookings, cancelled)

	load := LoadAt(bookings, c("18:00"))
	assert.Equal(t, PacingLoad{Tables: 2, Covers: 6}, load)

	t.Run("no caps", func(t *testing.T) {
		assert.NoError(t, CheckPacing(model.BookingSettings{}, bookings, c("18:00"), 10))
	})

	t.Run("table cap reached", func(t *testing.T) {
		err := CheckPacing(model.BookingSettings{MaxConcurrentTables: n(2)}, bookings, c("18:00"), 2)
		assert.True(t, errs.Is(err, errs.KindConcurrentLimit))
	})

	t.Run("table cap counts exact start only", func(t *testing.T) {
		assert.NoError(t, CheckPacing(model.BookingSettings{MaxConcurrentTables: n(2)}, bookings, c("18:15"), 2))
	})

	t.Run("cover cap", func(t *testing.T) {
		settings := model.BookingSettings{MaxConcurrentCovers: n(10)}
		assert.NoError(t, CheckPacing(settings, bookings, c("18:00"), 4))
		err := CheckPacing(settings, bookings, c("18:00"), 5)
		assert.True(t, errs.Is(err, errs.KindConcurrentLimit))
	})
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) ListActiveTables(ctx context.Context, restaurantID int64) ([]model.Table, error) {
	args := m.Called(ctx, restaurantID)
	return args.Get(0).([]model.Table), args.Error(1)
}

func (m *mockSource) ListBookingsForDate(ctx context.Context, restaurantID int64, date time.Time) ([]model.Booking, error) {
	args := m.Called(ctx, restaurantID, date)
	return args.Get(0).([]model.Booking), args.Error(1)
}

func TestAllocator_FindBestTable(t *testing.T) {
	logger := zerolog.New(io.Discard)
	ctx := context.Background()
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	t.Run("loads and chooses", func(t *testing.T) {
		src := new(mockSource)
		src.On("ListActiveTables", ctx, int64(1)).Return([]model.Table{table(7, 4, 1, 4, 0, false)}, nil).Once()
		src.On("ListBookingsForDate", ctx, int64(1), date).Return([]model.Booking{}, nil).Once()

		r := req("12:00", 60, 2)
		r.Date = date
		alloc, err := NewAllocator(src, &logger).FindBestTable(ctx, r)
		require.NoError(t, err)
		require.NotNil(t, alloc)
		assert.Equal(t, int64(7), alloc.Table.ID)
		src.AssertExpectations(t)
	})

	t.Run("storage error propagates", func(t *testing.T) {
		src := new(mockSource)
		boom := errors.New("boom")
		src.On("ListActiveTables", ctx, int64(1)).Return([]model.Table(nil), boom).Once()

		_, err := NewAllocator(src, &logger).FindBestTable(ctx, req("12:00", 60, 2))
		assert.ErrorIs(t, err, boom)
	})
}
