package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/deskble/internal/variant"
)

type deskJSON struct {
	Address     string          `json:"address"`
	Name        *string         `json:"name"`
	Variant     variant.Variant `json:"variant"`
	ServiceUUID string          `json:"service_uuid"`
}

func newFindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find",
		Short: "Find nearby desks",
		Long: `Scan for advertising devices, probe each one and list those that expose a
known desk service. The variant column tells which protocol dialect was matched.
With --address only that device is probed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			ctx, stop := signalContext(cmd)
			defer stop()

			a.status("Scanning for desks...")
			desks, _, err := a.findDesks(ctx, a.cfg.Address)
			if err != nil {
				return err
			}

			if a.cfg.OutputFormat == "json" {
				return writeDesksJSON(a, desks)
			}

			if len(desks) == 0 {
				fmt.Fprintln(a.out, "No desks found")
				return nil
			}
			fmt.Fprintf(a.out, "Found %d desk(s):\n", len(desks))
			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			for _, d := range desks {
				name := d.Name
				if name == "" {
					name = "unnamed"
				}
				fmt.Fprintf(tw, "  - %s\t(%s)\t%s\n", d.Address, name, d.Config.Variant)
			}
			return tw.Flush()
		},
	}
}

func writeDesksJSON(a *app, desks []variant.DiscoveredDesk) error {
	out := make([]deskJSON, 0, len(desks))
	for _, d := range desks {
		entry := deskJSON{Address: d.Address, Variant: d.Config.Variant, ServiceUUID: d.Config.ServiceUUID}
		if d.Name != "" {
			name := d.Name
			entry.Name = &name
		}
		out = append(out, entry)
	}
	return writeJSON(a, out)
}
