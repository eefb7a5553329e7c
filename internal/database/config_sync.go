package database

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"tablebook/internal/config"
)

// SyncRestaurantsFromConfig applies restaurants.yaml to the store. It upserts
// restaurants and their tables and marks anything missing from the file
// inactive. Bookings are never touched.
func SyncRestaurantsFromConfig(ctx context.Context, store Store, cfg *config.RestaurantsConfig, logger *zerolog.Logger) error {
	if cfg == nil {
		return fmt.Errorf("restaurants config is nil")
	}

	seen := make([]int64, 0, len(cfg.Restaurants))
	tableCount := 0
	for i := range cfg.Restaurants {
		r := cfg.Restaurant(i)
		if err := store.UpsertRestaurant(ctx, &r); err != nil {
			return fmt.Errorf("sync restaurant %d: %w", r.ID, err)
		}
		seen = append(seen, r.ID)

		tables := cfg.Tables(i)
		keep := make([]int64, 0, len(tables))
		for j := range tables {
			if err := store.UpsertTable(ctx, &tables[j]); err != nil {
				return fmt.Errorf("sync restaurant %d table %d: %w", r.ID, tables[j].ID, err)
			}
			keep = append(keep, tables[j].ID)
		}
		if err := store.DeactivateTablesExcept(ctx, r.ID, keep); err != nil {
			return fmt.Errorf("deactivate tables of restaurant %d: %w", r.ID, err)
		}
		tableCount += len(tables)
	}

	if err := store.DeactivateRestaurantsExcept(ctx, seen); err != nil {
		return fmt.Errorf("deactivate restaurants: %w", err)
	}

	logger.Info().
		Int("restaurants", len(seen)).
		Int("tables", tableCount).
		Msg("restaurants synced from config")
	return nil
}
