// Package allocation decides which table (or table pair) can hold a party.
package allocation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"tablebook/internal/model"
)

// Source provides the read-only data the allocator works from.
type Source interface {
	ListActiveTables(ctx context.Context, restaurantID int64) ([]model.Table, error)
	ListBookingsForDate(ctx context.Context, restaurantID int64, date time.Time) ([]model.Booking, error)
}

// Request describes the window to allocate.
type Request struct {
	RestaurantID int64
	Date         time.Time
	Start        model.Clock
	Duration     int
	PartySize    int
}

// End returns the exclusive end of the requested window.
func (r Request) End() model.Clock {
	return r.Start.Add(r.Duration)
}

// Allocation is the chosen table and, for a combination, its partner.
type Allocation struct {
	Table  model.Table
	Linked []model.Table
}

// Combined reports whether the allocation spans more than one table.
func (a *Allocation) Combined() bool {
	return len(a.Linked) > 0
}

// TableIDs returns the primary id followed by linked ids.
func (a *Allocation) TableIDs() []int64 {
	ids := []int64{a.Table.ID}
	for _, t := range a.Linked {
		ids = append(ids, t.ID)
	}
	return ids
}

// LinkedIDs returns the ids of the non-primary members.
func (a *Allocation) LinkedIDs() []int64 {
	if len(a.Linked) == 0 {
		return nil
	}
	ids := make([]int64, len(a.Linked))
	for i, t := range a.Linked {
		ids[i] = t.ID
	}
	return ids
}

// Allocator loads tables and bookings and runs Choose. It never writes.
type Allocator struct {
	source Source
	logger zerolog.Logger
}

// NewAllocator creates an allocator over source.
func NewAllocator(source Source, logger *zerolog.Logger) *Allocator {
	return &Allocator{
		source: source,
		logger: logger.With().Str("component", "allocator").Logger(),
	}
}

// FindBestTable returns the best allocation for req, or nil when nothing fits.
func (a *Allocator) FindBestTable(ctx context.Context, req Request) (*Allocation, error) {
	tables, err := a.source.ListActiveTables(ctx, req.RestaurantID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	bookings, err := a.source.ListBookingsForDate(ctx, req.RestaurantID, req.Date)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}

	alloc := Choose(tables, bookings, req)
	if alloc == nil {
		a.logger.Debug().
			Int64("restaurant_id", req.RestaurantID).
			Str("date", model.DateKey(req.Date)).
			Str("time", req.Start.String()).
			Int("party_size", req.PartySize).
			Msg("no table fits")
	}
	return alloc, nil
}

// Choose picks a single free table whose range covers the party, smallest
// capacity first then highest priority. Only when none exists does it try
// designated two-table combinations.
func Choose(tables []model.Table, bookings []model.Booking, req Request) *Allocation {
	start, end := req.Start, req.End()

	var free []model.Table
	for _, t := range tables {
		if !t.IsActive {
			continue
		}
		if IsFree(t.ID, bookings, start, end) {
			free = append(free, t)
		}
	}
	sortTables(free)

	for _, t := range free {
		if t.Fits(req.PartySize) {
			return &Allocation{Table: t}
		}
	}

	return chooseCombination(free, req.PartySize)
}

// IsFree reports whether no active booking holds tableID during [start, end).
func IsFree(tableID int64, bookings []model.Booking, start, end model.Clock) bool {
	for i := range bookings {
		if bookings[i].Blocks(tableID, start, end) {
			return false
		}
	}
	return true
}

func chooseCombination(free []model.Table, partySize int) *Allocation {
	var best *Allocation
	bestMax, bestPriority := 0, 0

	for i := 0; i < len(free); i++ {
		for j := i + 1; j < len(free); j++ {
			a, b := free[i], free[j]
			if !a.CanCombineWith(&b) {
				continue
			}
			minCap := a.MinCapacity + b.MinCapacity
			maxCap := a.MaxCapacity + b.MaxCapacity
			if partySize < minCap || partySize > maxCap {
				continue
			}
			priority := a.Priority + b.Priority
			if best == nil || maxCap < bestMax || (maxCap == bestMax && priority > bestPriority) {
				// free is sorted, so a is the preferred member and becomes primary
				best = &Allocation{Table: a, Linked: []model.Table{b}}
				bestMax, bestPriority = maxCap, priority
			}
		}
	}
	return best
}

func sortTables(tables []model.Table) {
	sort.SliceStable(tables, func(i, j int) bool {
		if tables[i].Capacity != tables[j].Capacity {
			return tables[i].Capacity < tables[j].Capacity
		}
		if tables[i].Priority != tables[j].Priority {
			return tables[i].Priority > tables[j].Priority
		}
		return tables[i].ID < tables[j].ID
	})
}
