package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tablebook/internal/model"
)

func newAvailabilityCmd(configPath *string) *cobra.Command {
	var (
		restaurantID int64
		date         string
		partySize    int
		duration     int
	)

	cmd := &cobra.Command{
		Use:   "availability",
		Short: "Print the availability of a restaurant for one date as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			day, err := time.Parse(model.DateLayout, date)
			if err != nil {
				return fmt.Errorf("invalid --date %q; expected YYYY-MM-DD", date)
			}
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

			out, err := a.engine.CheckAvailability(ctx, restaurantID, day, partySize, duration)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().Int64Var(&restaurantID, "restaurant", 0, "restaurant id")
	cmd.Flags().StringVar(&date, "date", time.Now().Format(model.DateLayout), "date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&partySize, "party", 2, "party size")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration in minutes; 0 uses the restaurant default")
	_ = cmd.MarkFlagRequired("restaurant")
	return cmd
}
