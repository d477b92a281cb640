package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/avaviz/flowrender/internal/config"
	"github.com/avaviz/flowrender/internal/geo"
	"github.com/avaviz/flowrender/internal/raster"
)

func newInfoCmd(a *app) *cobra.Command {
	var (
		simsFile string
		urls     bool
	)
	cmd := &cobra.Command{
		Use:   "info",
		Short: "list configured simulations and their time steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			sims, err := simulationSource(simsFile).Simulations(cmd.Context())
			if err != nil {
				return err
			}
			base := config.GetString("basePath")
			out := cmd.OutOrStdout()

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTEPS\tSTART\tEND\tINTERVAL\tRELEASE AREA")
			for _, s := range sims {
				steps := raster.TimeSteps(s)
				release := "-"
				if s.ReleaseArea != "" {
					area, err := geo.ParseReleaseArea(s.ReleaseArea, "")
					if err != nil {
						release = "invalid: " + err.Error()
					} else {
						release = fmt.Sprintf("%.0f m²", area.Area())
						if b, ok := area.Bounds(); ok {
							release += " " + b.String()
						}
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%g\t%g\t%g\t%s\n",
					s.ID, s.DisplayName(), len(steps), s.Start(), s.End(), s.TimeInterval, release)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if urls {
				for _, s := range sims {
					fmt.Fprintf(out, "\n%s:\n", s.ID)
					for _, t := range raster.TimeSteps(s) {
						fmt.Fprintf(out, "  %s\n", raster.FrameURL(base, s, t))
					}
				}
			}
			a.logger.Debug("Listed simulations", "count", len(sims))
			return nil
		},
	}
	cmd.Flags().StringVar(&simsFile, "simulations", "", "simulation list file instead of the config")
	cmd.Flags().BoolVar(&urls, "urls", false, "print every frame location")
	return cmd
}
