package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tablebook/internal/model"
	"tablebook/internal/service"
)

// BookingBody is the request body of POST /api/bookings and POST /api/waitlist.
type BookingBody struct {
	RestaurantID   int64  `json:"restaurant_id"`
	Date           string `json:"date"` // YYYY-MM-DD
	Time           string `json:"time"` // HH:MM
	PartySize      int    `json:"party_size"`
	Duration       int    `json:"duration,omitempty"` // minutes
	GuestName      string `json:"guest_name,omitempty"`
	GuestPhone     string `json:"guest_phone,omitempty"`
	Source         string `json:"source,omitempty"` // guest | staff
	StaffID        string `json:"staff_id,omitempty"`
	OverrideReason string `json:"override_reason,omitempty"`
	JoinWaitlist   bool   `json:"join_waitlist,omitempty"`
}

func (b *BookingBody) toRequest() (service.BookingRequest, error) {
	if b.RestaurantID <= 0 {
		return service.BookingRequest{}, fmt.Errorf("restaurant_id is required")
	}
	date, err := time.Parse(model.DateLayout, b.Date)
	if err != nil {
		return service.BookingRequest{}, fmt.Errorf("invalid date format; expected YYYY-MM-DD")
	}
	at, err := model.ParseClock(b.Time)
	if err != nil {
		return service.BookingRequest{}, fmt.Errorf("invalid time format; expected HH:MM")
	}
	source := model.BookingSource(b.Source)
	switch source {
	case "", model.SourceGuest, model.SourceStaff:
	default:
		return service.BookingRequest{}, fmt.Errorf("source must be guest or staff")
	}
	if b.Duration < 0 {
		return service.BookingRequest{}, fmt.Errorf("duration cannot be negative")
	}

	return service.BookingRequest{
		RestaurantID:   b.RestaurantID,
		Date:           date,
		Time:           at,
		PartySize:      b.PartySize,
		Duration:       b.Duration,
		GuestName:      b.GuestName,
		GuestPhone:     b.GuestPhone,
		Source:         source,
		StaffID:        b.StaffID,
		OverrideReason: b.OverrideReason,
		JoinWaitlist:   b.JoinWaitlist,
	}, nil
}

func decodeBooking(w http.ResponseWriter, r *http.Request) (service.BookingRequest, bool) {
	var body BookingBody
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return service.BookingRequest{}, false
	}
	req, err := body.toRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return service.BookingRequest{}, false
	}
	return req, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid id")
		return 0, false
	}
	return id, true
}

func queryDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	date, err := time.Parse(model.DateLayout, r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid date format; expected YYYY-MM-DD")
		return time.Time{}, false
	}
	return date, true
}

// queryInt reads an optional integer parameter; missing means def.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return v, true
}

// handleAvailability returns the day's slots for a party.
// GET /api/restaurants/{id}/availability?date=YYYY-MM-DD&party_size=N[&duration=M]
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	date, ok := queryDate(w, r)
	if !ok {
		return
	}
	party, ok := queryInt(w, r, "party_size", 0)
	if !ok {
		return
	}
	duration, ok := queryInt(w, r, "duration", 0)
	if !ok {
		return
	}

	out, err := s.engine.CheckAvailability(r.Context(), id, date, party, duration)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/restaurants/{id}/best-table?date=&time=&party_size=[&duration=&staff=true]
func (s *HTTPServer) handleBestTable(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	date, ok := queryDate(w, r)
	if !ok {
		return
	}
	at, err := model.ParseClock(r.URL.Query().Get("time"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid time format; expected HH:MM")
		return
	}
	party, ok := queryInt(w, r, "party_size", 0)
	if !ok {
		return
	}
	duration, ok := queryInt(w, r, "duration", 0)
	if !ok {
		return
	}
	isStaff := r.URL.Query().Get("staff") == "true"

	table, err := s.engine.FindBestTable(r.Context(), id, date, at, party, duration, isStaff)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table})
}

// POST /api/bookings
func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBooking(w, r)
	if !ok {
		return
	}
	b, err := s.engine.CreateBooking(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	status := http.StatusCreated
	if b.IsWaitlisted {
		status = http.StatusAccepted
	}
	writeJSON(w, status, b)
}

// POST /api/waitlist
func (s *HTTPServer) handleAddToWaitlist(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeBooking(w, r)
	if !ok {
		return
	}
	b, err := s.engine.AddToWaitlist(r.Context(), req)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, b)
}

// GET /api/bookings/{id}
func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := s.engine.GetBooking(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GET /api/bookings/code/{code}
func (s *HTTPServer) handleGetBookingByCode(w http.ResponseWriter, r *http.Request) {
	b, err := s.engine.GetBookingByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// POST /api/bookings/{id}/cancel
func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := s.engine.CancelBooking(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// POST /api/bookings/{id}/no-show
func (s *HTTPServer) handleNoShow(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := s.engine.MarkNoShow(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// POST /api/restaurants/{id}/waitlist/process?date=YYYY-MM-DD
func (s *HTTPServer) handleProcessWaitlist(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	date, ok := queryDate(w, r)
	if !ok {
		return
	}
	promoted, err := s.engine.ProcessWaitlistForDate(r.Context(), id, date)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if promoted == nil {
		promoted = []model.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"promoted": promoted})
}
