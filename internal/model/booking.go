package model

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusSeated    BookingStatus = "seated"
	StatusCompleted BookingStatus = "completed"
	StatusCancelled BookingStatus = "cancelled"
	StatusNoShow    BookingStatus = "no_show"
)

// BookingSource distinguishes guest-initiated from staff-initiated requests.
type BookingSource string

const (
	SourceGuest BookingSource = "guest"
	SourceStaff BookingSource = "staff"
)

// Table is a physical table. MinCapacity..MaxCapacity is the usable range including flex.
type Table struct {
	ID             int64   `json:"id"`
	RestaurantID   int64   `json:"restaurant_id"`
	Name           string  `json:"name"`
	Capacity       int     `json:"capacity"`
	MinCapacity    int     `json:"min_capacity"`
	MaxCapacity    int     `json:"max_capacity"`
	IsCombinable   bool    `json:"is_combinable"`
	CombinableWith []int64 `json:"combinable_with,omitempty"`
	Priority       int     `json:"priority"`
	IsActive       bool    `json:"is_active"`
}

// Fits reports whether partySize is within the table's usable range.
func (t *Table) Fits(partySize int) bool {
	return t.MinCapacity <= partySize && partySize <= t.MaxCapacity
}

// CanCombineWith reports whether t and other form a designated combination.
// An empty CombinableWith list on a combinable table accepts any combinable partner.
func (t *Table) CanCombineWith(other *Table) bool {
	if t.ID == other.ID || !t.IsCombinable || !other.IsCombinable {
		return false
	}
	return allows(t, other.ID) && allows(other, t.ID)
}

func allows(t *Table, id int64) bool {
	if len(t.CombinableWith) == 0 {
		return true
	}
	for _, partner := range t.CombinableWith {
		if partner == id {
			return true
		}
	}
	return false
}

// Booking is a reservation row. TableID is nil while waitlisted; LinkedTableIDs
// holds the other members of a combined allocation.
type Booking struct {
	ID               int64         `json:"id"`
	RestaurantID     int64         `json:"restaurant_id"`
	TableID          *int64        `json:"table_id,omitempty"`
	LinkedTableIDs   []int64       `json:"linked_table_ids,omitempty"`
	PartySize        int           `json:"party_size"`
	BookingDate      time.Time     `json:"booking_date"`
	BookingTime      Clock         `json:"booking_time"`
	Duration         int           `json:"duration"` // minutes
	Status           BookingStatus `json:"status"`
	IsWaitlisted     bool          `json:"is_waitlisted"`
	WaitlistPosition *int          `json:"waitlist_position,omitempty"`
	ConfirmationCode string        `json:"confirmation_code"`
	GuestName        string        `json:"guest_name,omitempty"`
	GuestPhone       string        `json:"guest_phone,omitempty"`
	Source           BookingSource `json:"source"`
	OverrideReason   string        `json:"override_reason,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// End returns the exclusive end of the booking window.
func (b *Booking) End() Clock {
	return b.BookingTime.Add(b.Duration)
}

// IsActive reports whether the booking still claims capacity.
func (b *Booking) IsActive() bool {
	return b.Status != StatusCancelled && b.Status != StatusNoShow
}

// TableIDs returns every table bound to the booking, primary first.
func (b *Booking) TableIDs() []int64 {
	if b.TableID == nil {
		return nil
	}
	ids := make([]int64, 0, 1+len(b.LinkedTableIDs))
	ids = append(ids, *b.TableID)
	return append(ids, b.LinkedTableIDs...)
}

// Occupies reports whether the booking holds tableID.
func (b *Booking) Occupies(tableID int64) bool {
	for _, id := range b.TableIDs() {
		if id == tableID {
			return true
		}
	}
	return false
}

// Blocks reports whether the booking keeps tableID busy during [start, end).
func (b *Booking) Blocks(tableID int64, start, end Clock) bool {
	return b.IsActive() && !b.IsWaitlisted && b.Occupies(tableID) &&
		Overlaps(start, end, b.BookingTime, b.End())
}

var transitions = map[BookingStatus][]BookingStatus{
	StatusPending:   {StatusConfirmed, StatusSeated, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusSeated, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusSeated:    {StatusCompleted},
}

// CanTransition reports whether a booking may move from one status to another.
// Cancelled, no-show and completed bookings are final.
func CanTransition(from, to BookingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
