package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tablebook/internal/model"
)

// MemoryStore is a Store kept in process memory. Records are copied in and out
// so callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	restaurants map[int64]model.Restaurant
	tables      map[int64]model.Table
	bookings    map[int64]model.Booking
	codes       map[string]int64
	nextID      int64
	now         func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		restaurants: make(map[int64]model.Restaurant),
		tables:      make(map[int64]model.Table),
		bookings:    make(map[int64]model.Booking),
		codes:       make(map[string]int64),
		now:         now,
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }

func (s *MemoryStore) GetRestaurant(_ context.Context, id int64) (*model.Restaurant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.restaurants[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRestaurant(r), nil
}

func (s *MemoryStore) ListRestaurants(context.Context) ([]model.Restaurant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Restaurant, 0, len(s.restaurants))
	for _, r := range s.restaurants {
		out = append(out, *copyRestaurant(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertRestaurant(_ context.Context, r *model.Restaurant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restaurants[r.ID] = *copyRestaurant(*r)
	return nil
}

func (s *MemoryStore) DeactivateRestaurantsExcept(_ context.Context, keep []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.restaurants {
		if !contains(keep, id) {
			r.IsActive = false
			s.restaurants[id] = r
		}
	}
	return nil
}

func (s *MemoryStore) GetTable(_ context.Context, id int64) (*model.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTable(t), nil
}

func (s *MemoryStore) ListActiveTables(_ context.Context, restaurantID int64) ([]model.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Table
	for _, t := range s.tables {
		if t.RestaurantID == restaurantID && t.IsActive {
			out = append(out, *copyTable(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertTable(_ context.Context, t *model.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[t.ID] = *copyTable(*t)
	return nil
}

func (s *MemoryStore) DeactivateTablesExcept(_ context.Context, restaurantID int64, keep []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tables {
		if t.RestaurantID == restaurantID && !contains(keep, id) {
			t.IsActive = false
			s.tables[id] = t
		}
	}
	return nil
}

func (s *MemoryStore) CreateBooking(_ context.Context, b *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.codes[b.ConfirmationCode]; taken {
		return ErrDuplicateCode
	}
	s.nextID++
	now := s.now()
	b.ID = s.nextID
	b.BookingDate = model.DateOf(b.BookingDate)
	b.CreatedAt = now
	b.UpdatedAt = now
	s.bookings[b.ID] = *copyBooking(*b)
	s.codes[b.ConfirmationCode] = b.ID
	return nil
}

func (s *MemoryStore) GetBooking(_ context.Context, id int64) (*model.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyBooking(b), nil
}

func (s *MemoryStore) GetBookingByCode(ctx context.Context, code string) (*model.Booking, error) {
	s.mu.RLock()
	id, ok := s.codes[code]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetBooking(ctx, id)
}

func (s *MemoryStore) ListBookingsForDate(ctx context.Context, restaurantID int64, date time.Time) ([]model.Booking, error) {
	return s.FindByDateRange(ctx, restaurantID, date, date)
}

func (s *MemoryStore) FindByDateRange(_ context.Context, restaurantID int64, from, to time.Time) ([]model.Booking, error) {
	lo, hi := model.DateKey(from), model.DateKey(to)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Booking
	for _, b := range s.bookings {
		key := model.DateKey(b.BookingDate)
		if b.RestaurantID == restaurantID && key >= lo && key <= hi {
			out = append(out, *copyBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := model.DateKey(out[i].BookingDate), model.DateKey(out[j].BookingDate)
		if ki != kj {
			return ki < kj
		}
		if out[i].BookingTime != out[j].BookingTime {
			return out[i].BookingTime < out[j].BookingTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) ListWaitlist(_ context.Context, restaurantID int64, date time.Time) ([]model.Booking, error) {
	key := model.DateKey(date)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Booking
	for _, b := range s.bookings {
		if b.RestaurantID == restaurantID && model.DateKey(b.BookingDate) == key &&
			b.IsWaitlisted && b.Status == model.StatusPending {
			out = append(out, *copyBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return position(out[i]) < position(out[j]) })
	return out, nil
}

func (s *MemoryStore) UpdateBookingStatus(_ context.Context, id int64, status model.BookingStatus) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !model.CanTransition(b.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, b.Status, status)
	}

	now := s.now()
	if b.IsWaitlisted && (status == model.StatusCancelled || status == model.StatusNoShow) {
		if b.WaitlistPosition != nil {
			s.shiftPositions(b.RestaurantID, b.BookingDate, *b.WaitlistPosition, now)
		}
		b.IsWaitlisted = false
		b.WaitlistPosition = nil
	}
	b.Status = status
	b.UpdatedAt = now
	s.bookings[id] = b
	return copyBooking(b), nil
}

func (s *MemoryStore) PromoteWaitlisted(_ context.Context, bookingID, tableID int64) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[bookingID]
	if !ok {
		return nil, ErrNotFound
	}
	if !b.IsWaitlisted || b.Status != model.StatusPending {
		return nil, fmt.Errorf("%w: booking %d is not waiting", ErrInvalidTransition, bookingID)
	}

	now := s.now()
	if b.WaitlistPosition != nil {
		s.shiftPositions(b.RestaurantID, b.BookingDate, *b.WaitlistPosition, now)
	}
	tid := tableID
	b.TableID = &tid
	b.LinkedTableIDs = nil
	b.Status = model.StatusConfirmed
	b.IsWaitlisted = false
	b.WaitlistPosition = nil
	b.UpdatedAt = now
	s.bookings[bookingID] = b
	return copyBooking(b), nil
}

// shiftPositions must be called with the write lock held.
func (s *MemoryStore) shiftPositions(restaurantID int64, date time.Time, after int, now time.Time) {
	key := model.DateKey(date)
	for id, b := range s.bookings {
		if b.RestaurantID != restaurantID || model.DateKey(b.BookingDate) != key || !b.IsWaitlisted {
			continue
		}
		if b.WaitlistPosition != nil && *b.WaitlistPosition > after {
			p := *b.WaitlistPosition - 1
			b.WaitlistPosition = &p
			b.UpdatedAt = now
			s.bookings[id] = b
		}
	}
}

func position(b model.Booking) int {
	if b.WaitlistPosition == nil {
		return 0
	}
	return *b.WaitlistPosition
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func copyRestaurant(r model.Restaurant) *model.Restaurant {
	hours := make(model.OpeningHours, len(r.OpeningHours))
	for k, d := range r.OpeningHours {
		d.Periods = append([]model.ServicePeriod(nil), d.Periods...)
		hours[k] = d
	}
	r.OpeningHours = hours
	r.ClosedDates = append([]string(nil), r.ClosedDates...)
	if v := r.Settings.MaxConcurrentTables; v != nil {
		n := *v
		r.Settings.MaxConcurrentTables = &n
	}
	if v := r.Settings.MaxConcurrentCovers; v != nil {
		n := *v
		r.Settings.MaxConcurrentCovers = &n
	}
	return &r
}

func copyTable(t model.Table) *model.Table {
	t.CombinableWith = append([]int64(nil), t.CombinableWith...)
	return &t
}

func copyBooking(b model.Booking) *model.Booking {
	if b.TableID != nil {
		id := *b.TableID
		b.TableID = &id
	}
	if b.WaitlistPosition != nil {
		p := *b.WaitlistPosition
		b.WaitlistPosition = &p
	}
	b.LinkedTableIDs = append([]int64(nil), b.LinkedTableIDs...)
	return &b
}
