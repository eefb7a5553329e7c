package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// WatchRestaurants loads restaurants.yaml, hands it to onUpdate, then polls the
// file and calls onUpdate again after every modification that still validates.
// The initial load error is returned; later ones are only logged.
func WatchRestaurants(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(*RestaurantsConfig)) error {
	if path == "" {
		path = "configs/restaurants.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cfg, err := LoadRestaurantsConfig(path)
	if err != nil {
		return err
	}
	if onUpdate != nil {
		onUpdate(cfg)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					continue
				}
				if !info.ModTime().After(lastMod) {
					continue
				}
				lastMod = info.ModTime()
				cfg, err := LoadRestaurantsConfig(path)
				if err != nil {
					logger.Error().Err(err).Str("path", path).Msg("restaurants config rejected, keeping previous")
					continue
				}
				if onUpdate != nil {
					onUpdate(cfg)
				}
			}
		}
	}()

	return nil
}
