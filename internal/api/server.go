// Package api is the thin HTTP layer over the allocation engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tablebook/internal/errs"
	"tablebook/internal/metrics"
	"tablebook/internal/model"
	"tablebook/internal/service"
)

// Engine is what the handlers call. *service.Engine implements it.
type Engine interface {
	CheckAvailability(ctx context.Context, restaurantID int64, date time.Time, partySize, duration int) (*service.Availability, error)
	FindBestTable(ctx context.Context, restaurantID int64, date time.Time, at model.Clock, partySize, duration int, isStaff bool) (*model.Table, error)
	CreateBooking(ctx context.Context, req service.BookingRequest) (*model.Booking, error)
	AddToWaitlist(ctx context.Context, req service.BookingRequest) (*model.Booking, error)
	GetBooking(ctx context.Context, id int64) (*model.Booking, error)
	GetBookingByCode(ctx context.Context, code string) (*model.Booking, error)
	CancelBooking(ctx context.Context, id int64) (*model.Booking, error)
	MarkNoShow(ctx context.Context, id int64) (*model.Booking, error)
	ProcessWaitlistForDate(ctx context.Context, restaurantID int64, date time.Time) ([]model.Booking, error)
}

type Config struct {
	Port           int
	RatePerSecond  float64
	Burst          int
	RequestTimeout time.Duration
	// LimiterIdle is how long a client's bucket survives without requests.
	LimiterIdle time.Duration
}

type HTTPServer struct {
	engine   Engine
	config   Config
	limiters *limiterStore
	server   *http.Server
	logger   zerolog.Logger
}

func NewHTTPServer(engine Engine, cfg Config, logger *zerolog.Logger) *HTTPServer {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.LimiterIdle <= 0 {
		cfg.LimiterIdle = 10 * time.Minute
	}
	s := &HTTPServer{
		engine:   engine,
		config:   cfg,
		limiters: newLimiterStore(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		logger:   logger.With().Str("component", "api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/restaurants/{id}/availability", s.handleAvailability)
	mux.HandleFunc("GET /api/restaurants/{id}/best-table", s.handleBestTable)
	mux.HandleFunc("POST /api/restaurants/{id}/waitlist/process", s.handleProcessWaitlist)
	mux.HandleFunc("POST /api/bookings", s.handleCreateBooking)
	mux.HandleFunc("POST /api/waitlist", s.handleAddToWaitlist)
	mux.HandleFunc("GET /api/bookings/{id}", s.handleGetBooking)
	mux.HandleFunc("GET /api/bookings/code/{code}", s.handleGetBookingByCode)
	mux.HandleFunc("POST /api/bookings/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/bookings/{id}/no-show", s.handleNoShow)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.instrument(s.rateLimit(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the full middleware chain, mostly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	if s.config.RatePerSecond > 0 {
		go s.pruneLimiters(ctx)
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctxShutdown)
	}()

	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument applies the request timeout and counts responses by route.
func (s *HTTPServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		defer cancel()
		r = r.WithContext(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.IncHTTP(route, rec.status)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(started)).
			Msg("request")
	})
}

// limiterStore keeps one token bucket per client IP. Buckets idle for longer
// than maxIdle are dropped by prune.
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterStore(limit rate.Limit, burst int) *limiterStore {
	return &limiterStore{
		limiters: make(map[string]*clientLimiter),
		limit:    limit,
		burst:    burst,
		now:      time.Now,
	}
}

func (s *limiterStore) get(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.limiters[ip]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[ip] = entry
	}
	entry.lastSeen = s.now()
	return entry.limiter
}

// prune drops buckets not used within maxIdle and returns how many it removed.
func (s *limiterStore) prune(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-maxIdle)
	removed := 0
	for ip, entry := range s.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(s.limiters, ip)
			removed++
		}
	}
	return removed
}

func (s *limiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// pruneLimiters runs until ctx is cancelled.
func (s *HTTPServer) pruneLimiters(ctx context.Context) {
	ticker := time.NewTicker(s.config.LimiterIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.limiters.prune(s.config.LimiterIdle); n > 0 {
				s.logger.Debug().Int("removed", n).Int("remaining", s.limiters.size()).Msg("pruned idle rate limiters")
			}
		}
	}
}

func (s *HTTPServer) rateLimit(next http.Handler) http.Handler {
	if s.config.RatePerSecond <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiters.get(ip).Allow() {
			s.logger.Warn().Str("ip", ip).Msg("rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

// writeEngineError maps an engine error kind to a status code.
func (s *HTTPServer) writeEngineError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, status, string(errs.KindStorage), "internal error")
		return
	}
	writeError(w, status, string(kind), errs.Message(err))
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindRestaurantNotFound, errs.KindBookingNotFound:
		return http.StatusNotFound
	case errs.KindInvalidRequest, errs.KindInvalidPartySize:
		return http.StatusBadRequest
	case errs.KindRestaurantClosed, errs.KindOutsideServiceHours, errs.KindTooSoon, errs.KindTooFarAhead,
		errs.KindPartyTooLarge, errs.KindPacingOverrideRequired:
		return http.StatusUnprocessableEntity
	case errs.KindConcurrentLimit, errs.KindNoTablesAvailable, errs.KindInvalidTransition, errs.KindTableConflict:
		return http.StatusConflict
	case errs.KindLockUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
