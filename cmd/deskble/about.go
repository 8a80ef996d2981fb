package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/srg/deskble/internal/devicefactory"
)

// bleModules are the Bluetooth stacks whose versions `about` reports.
var bleModules = []string{
	"github.com/go-ble/ble",
	"tinygo.org/x/bluetooth",
}

func newAboutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "about",
		Short: "Show version and platform information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "deskble version: %s\n", formatVersion(version))
			fmt.Fprintf(w, "commit: %s, built: %s\n", commit, date)

			deps := map[string]string{}
			if info, ok := debug.ReadBuildInfo(); ok {
				for _, dep := range info.Deps {
					v := dep.Version
					if dep.Replace != nil {
						v = fmt.Sprintf("%s (%s %s)", v, dep.Replace.Path, dep.Replace.Version)
					}
					deps[dep.Path] = v
				}
			}
			for _, mod := range bleModules {
				v, ok := deps[mod]
				if !ok {
					v = "not linked"
				}
				fmt.Fprintf(w, "%s version: %s\n", mod, v)
			}

			fmt.Fprintf(w, "Go runtime: %s\n", runtime.Version())
			fmt.Fprintf(w, "Architecture: %s\n", runtime.GOARCH)
			fmt.Fprintf(w, "Platform: %s\n", runtime.GOOS)
			fmt.Fprintf(w, "Default backend: %s\n", devicefactory.DefaultBackend())
			fmt.Fprintf(w, "Available backends: %v\n", devicefactory.Available())
			return nil
		},
	}
}
