package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erazemk/svezina/internal/config"
)

func newRescheduleCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "reschedule",
		Short: "Re-register alerts for every item and fire what is due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, cfg(), func(a *app) error {
				if err := a.alerts.RescheduleAll(ctx); err != nil {
					return err
				}
				fired, err := a.runner.RunDue(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Alerts rescheduled, %d fired.\n", fired)
				return nil
			})
		},
	}
}

func newClearCmd(cfg func() *config.Config) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all items, alerts and notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to clear without --yes")
			}
			ctx := cmd.Context()
			return withApp(ctx, cfg(), func(a *app) error {
				if err := a.tracker.ClearAll(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "All items cleared.")
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}
