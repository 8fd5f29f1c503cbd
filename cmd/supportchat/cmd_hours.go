package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"supportchat/internal/api"
	"supportchat/internal/schedule"
)

func newHoursCmd() *cobra.Command {
	var scheduleID string

	cmd := &cobra.Command{
		Use:   "hours",
		Short: "Show whether live support is currently available",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadRuntime(cmd)
			if err != nil {
				return err
			}
			if scheduleID != "" {
				cfg.Schedule.ID = scheduleID
			}

			client, err := api.NewClient(cfg.API, log)
			if err != nil {
				return err
			}
			lookup, err := schedule.NewLookup(client, cfg.Schedule.ID, log)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.API.Timeout)
			defer cancel()
			s, err := lookup.Refresh(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			name := s.Name
			if name == "" {
				name = lookup.ScheduleID()
			}
			if !s.Enabled {
				fmt.Fprintf(out, "%s: business hours disabled\n", name)
				return nil
			}
			status := "closed"
			if lookup.IsActiveBusinessHours() {
				status = "open"
			}
			fmt.Fprintf(out, "%s: enabled, currently %s\n", name, status)
			return nil
		},
	}

	cmd.Flags().StringVar(&scheduleID, "schedule", "", "schedule id (defaults to the configured one)")
	return cmd
}
