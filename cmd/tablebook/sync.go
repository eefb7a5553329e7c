package main

import "github.com/spf13/cobra"

func newSyncCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Apply restaurants.yaml to the database once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.syncRestaurants(ctx); err != nil {
				return err
			}
			logger.Info().Str("path", cfg.Restaurants.Path).Msg("restaurants synced")
			return nil
		},
	}
}
