package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/deskble/internal/desk"
	"github.com/srg/deskble/internal/units"
)

func newHeightCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "height",
		Short: "Print the current desk height",
		Long: `Request a height report and print the last height the desk announced.
The read is best effort: nothing is printed to stdout if the desk stays silent
during the notification window.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, a *app, s *desk.Session) error {
				mm, ok, err := s.GetCurrentHeight(ctx)
				if err != nil {
					return err
				}
				if !ok {
					a.status("Desk did not report its height")
					return nil
				}
				if a.cfg.OutputFormat == "json" {
					return writeJSON(a, map[string]any{
						"height_mm": mm,
						"height_in": units.MMToInches(mm),
					})
				}
				fmt.Fprintln(a.out, units.FormatHeight(mm))
				return nil
			})
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print the desk's device information (manufacturer, model, firmware)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(ctx context.Context, a *app, s *desk.Session) error {
				info, err := s.GetDeviceInformation(ctx)
				if err != nil {
					return err
				}
				if a.cfg.OutputFormat == "json" {
					return writeJSON(a, info)
				}
				if info.Len() == 0 {
					a.status("Desk does not expose device information")
					return nil
				}
				tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
				info.Each(func(name string, value *string) {
					v := "-"
					if value != nil {
						v = *value
					}
					fmt.Fprintf(tw, "%s:\t%s\n", name, v)
				})
				return tw.Flush()
			})
		},
	}
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print desk notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			duration, _ := cmd.Flags().GetDuration("duration")
			request, _ := cmd.Flags().GetBool("request")

			return withSession(cmd, func(ctx context.Context, a *app, s *desk.Session) error {
				if duration > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, duration)
					defer cancel()
				}
				a.status("Watching notifications, press Ctrl+C to stop")
				if request {
					if _, err := s.RequestHeightLimits(ctx); err != nil && ctx.Err() == nil {
						return err
					}
				}
				<-ctx.Done()
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil
				}
				return ctx.Err()
			})
		},
	}
	cmd.Flags().Duration("duration", 0, "Stop after this long (0 waits for Ctrl+C)")
	cmd.Flags().Bool("request", false, "Ask the desk to report its height first")
	return cmd
}

func writeJSON(a *app, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Fprintln(a.out, string(data))
	return nil
}
