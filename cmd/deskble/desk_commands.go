package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/srg/deskble/internal/desk"
	"github.com/srg/deskble/internal/units"
)

// deskAction runs one command against a connected session.
type deskAction func(ctx context.Context, s *desk.Session) ([]byte, error)

// deskCommand describes a subcommand that sends one frame to the desk.
type deskCommand struct {
	use   string
	short string
	args  []string // positional argument names
	// bind validates the arguments before any scanning and returns the
	// action plus the message printed once it was sent.
	bind func(args []string) (deskAction, string, error)
}

func fixed(action deskAction, msg string) func([]string) (deskAction, string, error) {
	return func([]string) (deskAction, string, error) {
		return action, msg, nil
	}
}

// parseUint16Arg parses a raw 16-bit command argument.
func parseUint16Arg(name, raw string) (int, error) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, raw)
	}
	if v < 0 || v > 0xFFFF {
		return 0, &desk.ArgumentError{Arg: name, Value: v, Min: 0, Max: 0xFFFF}
	}
	return v, nil
}

var deskCommands = []deskCommand{
	{
		use:   "wake",
		short: "Wake up the desk",
		bind:  fixed(func(ctx context.Context, s *desk.Session) ([]byte, error) { return s.Wake(ctx) }, "Sent command to wake up desk"),
	},
	{
		use:   "move-up",
		short: "Move the desk up",
		bind:  fixed(func(ctx context.Context, s *desk.Session) ([]byte, error) { return s.MoveUp(ctx) }, "Sent command to move desk up"),
	},
	{
		use:   "move-down",
		short: "Move the desk down",
		bind:  fixed(func(ctx context.Context, s *desk.Session) ([]byte, error) { return s.MoveDown(ctx) }, "Sent command to move desk down"),
	},
	{
		use:   "move-to-height-preset-1",
		short: "Move the desk to height preset 1",
		bind:  fixed(func(ctx context.Context, s *desk.Session) ([]byte, error) { return s.MoveToHeightPreset1(ctx) }, "Sent command to move desk to height preset 1"),
	},
	{
		use:   "move-to-height-preset-2",
		short: "Move the desk to height preset 2",
		bind:  fixed(func(ctx context.Context, s *desk.Session) ([]byte, error) { return s.MoveToHeightPreset2(ctx) }, "Sent command to move desk to height preset 2"),
	},
	{
		use:   "request-height-limits",
		short: "Ask the desk to report its height limits",
		bind:  fixed(func(ctx context.Context, s *desk.Session) ([]byte, error) { return s.RequestHeightLimits(ctx) }, "Sent command to request desk's current height limits"),
	},
	{
		use:   "set-calibration-offset",
		short: "Set the calibration offset (raw desk units)",
		args:  []string{"offset"},
		bind: func(args []string) (deskAction, string, error) {
			offset, err := parseUint16Arg("calibration_offset", args[0])
			if err != nil {
				return nil, "", err
			}
			return func(ctx context.Context, s *desk.Session) ([]byte, error) {
				return s.SetCalibrationOffset(ctx, offset)
			}, fmt.Sprintf("Sent command to set desk calibration offset to %d", offset), nil
		},
	},
	{
		use:   "set-height-limit-max",
		short: "Set the maximum height limit (raw desk units)",
		args:  []string{"max-height"},
		bind: func(args []string) (deskAction, string, error) {
			maxHeight, err := parseUint16Arg("max_height", args[0])
			if err != nil {
				return nil, "", err
			}
			return func(ctx context.Context, s *desk.Session) ([]byte, error) {
				return s.SetHeightLimitMax(ctx, maxHeight)
			}, fmt.Sprintf("Sent command to set desk height limit max to %d", maxHeight), nil
		},
	},
	{
		use:   "move-to-specified-height",
		short: "Move the desk to a height such as 72cm, 28.5in or 720mm",
		args:  []string{"height"},
		bind: func(args []string) (deskAction, string, error) {
			mm, err := units.ParseHeight(args[0])
			if err != nil {
				return nil, "", err
			}
			if mm > 0xFFFF {
				return nil, "", &desk.ArgumentError{Arg: "height", Value: mm, Min: 0, Max: 0xFFFF}
			}
			return func(ctx context.Context, s *desk.Session) ([]byte, error) {
				return s.MoveToSpecifiedHeight(ctx, mm)
			}, fmt.Sprintf("Sent command to move desk to specified height %s", units.FormatHeight(mm)), nil
		},
	},
	{
		use:   "set-curr-height-as-limit-max",
		short: "Save the current height as the maximum",
		bind:  fixed(func(ctx context.Context, s *desk.Session) ([]byte, error) { return s.SetCurrentHeightAsLimitMax(ctx) }, "Sent command to set current height as height limit max"),
	},
	{
		use:   "set-curr-height-as-limit-min",
		short: "Save the current height as the minimum",
		bind:  fixed(func(ctx context.Context, s *desk.Session) ([]byte, error) { return s.SetCurrentHeightAsLimitMin(ctx) }, "Sent command to set current height as height limit min"),
	},
	{
		use:   "clear-height-limit-max",
		short: "Clear the maximum height limit",
		bind: fixed(func(ctx context.Context, s *desk.Session) ([]byte, error) {
			return s.ClearHeightLimit(ctx, desk.LimitMax)
		}, "Sent command to clear height limit max"),
	},
	{
		use:   "clear-height-limit-min",
		short: "Clear the minimum height limit",
		bind: fixed(func(ctx context.Context, s *desk.Session) ([]byte, error) {
			return s.ClearHeightLimit(ctx, desk.LimitMin)
		}, "Sent command to clear height limit min"),
	},
	{
		use:   "stop-movement",
		short: "Stop any movement in progress",
		bind:  fixed(func(ctx context.Context, s *desk.Session) ([]byte, error) { return s.StopMovement(ctx) }, "Sent command to stop desk movement"),
	},
	{
		use:   "set-units",
		short: "Set the controller display units (cm or in)",
		args:  []string{"cm|in"},
		bind: func(args []string) (deskAction, string, error) {
			unit, err := desk.ParseUnit(args[0])
			if err != nil {
				return nil, "", err
			}
			return func(ctx context.Context, s *desk.Session) ([]byte, error) {
				return s.SetUnits(ctx, unit)
			}, fmt.Sprintf("Sent command to set units to %s", unit), nil
		},
	},
	{
		use:   "reset",
		short: "Reset the desk",
		bind:  fixed(func(ctx context.Context, s *desk.Session) ([]byte, error) { return s.Reset(ctx) }, "Sent command to reset desk"),
	},
}

func (dc deskCommand) command() *cobra.Command {
	use := dc.use
	for _, a := range dc.args {
		use += " <" + a + ">"
	}
	return &cobra.Command{
		Use:   use,
		Short: dc.short,
		Args:  cobra.ExactArgs(len(dc.args)),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			action, msg, err := dc.bind(args)
			if err != nil {
				return err
			}
			return withSession(cmd, func(ctx context.Context, a *app, s *desk.Session) error {
				if _, err := action(ctx, s); err != nil {
					return err
				}
				a.success("%s", msg)
				return nil
			})
		},
	}
}
