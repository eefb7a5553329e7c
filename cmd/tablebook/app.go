package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tablebook/internal/cache"
	"tablebook/internal/config"
	"tablebook/internal/database"
	"tablebook/internal/events"
	"tablebook/internal/lock"
	"tablebook/internal/service"
)

// app holds the wired engine and the resources behind it.
type app struct {
	cfg    *config.Config
	db     *database.DB
	rdb    *redis.Client
	locks  *lock.MemoryStore // nil when locks live in Redis
	bus    *events.EventBus
	engine *service.Engine
	logger *zerolog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*app, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a := &app{cfg: cfg, db: db, logger: logger}

	if cfg.Redis.Address != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := a.rdb.Ping(ctxPing).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	var lockStore lock.Store
	if cfg.UseRedisLocks() {
		lockStore = lock.NewRedisStore(a.rdb)
		logger.Info().Str("addr", cfg.Redis.Address).Msg("using redis locks")
	} else {
		a.locks = lock.NewMemoryStore(nil)
		lockStore = a.locks
		logger.Info().Msg("using in-process locks")
	}
	locker := lock.NewLocker(lockStore, lock.Options{
		TTL:       cfg.LockTTL(),
		Attempts:  cfg.LockAttempts(),
		BaseDelay: cfg.LockBaseDelay(),
		MaxDelay:  cfg.LockMaxDelay(),
	}, logger)

	var backend cache.Cache
	if a.rdb != nil {
		backend = cache.NewRedisCache(a.rdb)
	} else {
		backend = cache.NewMemoryCache(nil)
	}
	availability := cache.NewAvailability(backend, cfg.CacheTTL(), logger)

	a.bus = events.NewEventBus(logger)
	a.engine = service.NewEngine(db, locker, availability, a.bus, service.Options{
		DefaultDuration:      cfg.DefaultDuration(),
		OverrideReasonMinLen: cfg.OverrideReasonMinLen(),
	}, logger)
	return a, nil
}

// syncRestaurants loads the restaurants file and applies it.
func (a *app) syncRestaurants(ctx context.Context) error {
	restaurants, err := config.LoadRestaurantsConfig(a.cfg.Restaurants.Path)
	if err != nil {
		return fmt.Errorf("load restaurants config: %w", err)
	}
	return a.applyRestaurants(ctx, restaurants)
}

func (a *app) applyRestaurants(ctx context.Context, restaurants *config.RestaurantsConfig) error {
	if err := database.SyncRestaurantsFromConfig(ctx, a.db, restaurants, a.logger); err != nil {
		return err
	}
	for _, r := range restaurants.Restaurants {
		a.engine.InvalidateRestaurantCache(ctx, r.ID)
	}
	return nil
}

func (a *app) Close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
