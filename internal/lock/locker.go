package lock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tablebook/internal/errs"
	"tablebook/internal/metrics"
)

// Options bound how long a lock is held and how hard Locker tries to get it.
type Options struct {
	TTL       time.Duration
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultOptions holds a lock for 10s and gives up after 5 attempts.
func DefaultOptions() Options {
	return Options{
		TTL:       10 * time.Second,
		Attempts:  5,
		BaseDelay: 50 * time.Millisecond,
		MaxDelay:  time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TTL <= 0 {
		o.TTL = d.TTL
	}
	if o.Attempts <= 0 {
		o.Attempts = d.Attempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	return o
}

// Locker hands out leases on a Store.
type Locker struct {
	store  Store
	opts   Options
	logger zerolog.Logger
}

// NewLocker creates a Locker. Zero option fields fall back to DefaultOptions.
func NewLocker(store Store, opts Options, logger *zerolog.Logger) *Locker {
	return &Locker{
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "lock").Logger(),
	}
}

// Lease is a held lock. It is owned by whoever acquired it and must not be shared.
type Lease struct {
	key    Key
	token  string
	locker *Locker
}

func (l *Lease) Key() Key      { return l.key }
func (l *Lease) Token() string { return l.token }

// Release gives the lock back. It reports false if the lease had already
// expired and the key now belongs to someone else.
func (l *Lease) Release(ctx context.Context) (bool, error) {
	return l.locker.store.Release(ctx, string(l.key), l.token)
}

// Extend refreshes the lease for long critical sections.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) (bool, error) {
	return l.locker.store.Extend(ctx, string(l.key), l.token, ttl)
}

// TryAcquire makes a single non-blocking attempt. A nil lease means the key is held.
func (l *Locker) TryAcquire(ctx context.Context, key Key) (*Lease, error) {
	token := uuid.NewString()
	ok, err := l.store.Acquire(ctx, string(key), token, l.opts.TTL)
	if err != nil {
		return nil, errs.Storage("acquire lock "+string(key), err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{key: key, token: token, locker: l}, nil
}

// Acquire retries TryAcquire with backoff and returns lock_unavailable once
// the attempts are spent.
func (l *Locker) Acquire(ctx context.Context, key Key) (*Lease, error) {
	started := time.Now()
	for attempt := 1; attempt <= l.opts.Attempts; attempt++ {
		lease, err := l.TryAcquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			metrics.ObserveLockAcquire("acquired", time.Since(started))
			return lease, nil
		}
		metrics.ObserveLockAcquire("contended", 0)
		l.logger.Debug().Str("key", string(key)).Int("attempt", attempt).Msg("lock busy")
		if attempt < l.opts.Attempts {
			if err := sleep(ctx, l.backoff(attempt)); err != nil {
				return nil, err
			}
		}
	}
	metrics.ObserveLockAcquire("unavailable", 0)
	return nil, errs.New(errs.KindLockUnavailable, "system busy, could not lock %s", key)
}

// Do runs fn while holding key and always releases afterwards, including when
// fn fails or panics. A retryable error from fn re-runs the whole
// acquire-and-operate cycle within the attempt budget; anything else is
// returned as is.
func (l *Locker) Do(ctx context.Context, key Key, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= l.opts.Attempts; attempt++ {
		lease, err := l.Acquire(ctx, key)
		if err != nil {
			if lastErr != nil && errs.Is(err, errs.KindLockUnavailable) {
				return lastErr
			}
			return err
		}

		err = l.run(ctx, lease, fn)
		if err == nil || !errs.IsRetryable(err) {
			return err
		}
		lastErr = err
		l.logger.Debug().Err(err).Str("key", string(key)).Int("attempt", attempt).Msg("retrying locked operation")
		if attempt < l.opts.Attempts {
			if err := sleep(ctx, l.backoff(attempt)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// DoAll holds every key for the duration of fn. Keys are deduplicated and
// taken in sorted order so concurrent callers cannot deadlock. Nothing is
// retried beyond each key's own acquisition.
func (l *Locker) DoAll(ctx context.Context, keys []Key, fn func(ctx context.Context) error) error {
	ordered := sortedUnique(keys)
	leases := make([]*Lease, 0, len(ordered))
	defer func() {
		for i := len(leases) - 1; i >= 0; i-- {
			l.release(ctx, leases[i])
		}
	}()

	for _, k := range ordered {
		lease, err := l.Acquire(ctx, k)
		if err != nil {
			return err
		}
		leases = append(leases, lease)
	}
	return fn(ctx)
}

func (l *Locker) run(ctx context.Context, lease *Lease, fn func(ctx context.Context) error) error {
	defer l.release(ctx, lease)
	return fn(ctx)
}

func (l *Locker) release(ctx context.Context, lease *Lease) {
	// the caller's context may already be cancelled; the key must still be freed
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	ok, err := lease.Release(ctx)
	switch {
	case err != nil:
		l.logger.Warn().Err(err).Str("key", string(lease.key)).Msg("lock release failed")
	case !ok:
		l.logger.Warn().Str("key", string(lease.key)).Msg("lock expired before release")
	}
}

func (l *Locker) backoff(attempt int) time.Duration {
	d := l.opts.BaseDelay << (attempt - 1)
	if d > l.opts.MaxDelay || d <= 0 {
		d = l.opts.MaxDelay
	}
	return d + rand.N(d/2+1)
}

// WithLock is Do for operations that produce a value.
func WithLock[T any](ctx context.Context, l *Locker, key Key, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := l.Do(ctx, key, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for lock: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

func sortedUnique(keys []Key) []Key {
	out := make([]Key, 0, len(keys))
	seen := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	slices.SortFunc(out, compareKeys)
	return out
}

// compareKeys orders keys segment by segment, numerically where both
// segments are numbers, so lock:table:2 comes before lock:table:10.
func compareKeys(a, b Key) int {
	as, bs := strings.Split(string(a), ":"), strings.Split(string(b), ":")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		an, aErr := strconv.ParseInt(as[i], 10, 64)
		bn, bErr := strconv.ParseInt(bs[i], 10, 64)
		if aErr == nil && bErr == nil {
			if an < bn {
				return -1
			}
			return 1
		}
		return strings.Compare(as[i], bs[i])
	}
	return len(as) - len(bs)
}
