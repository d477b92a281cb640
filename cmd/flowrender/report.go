package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/avaviz/flowrender/internal/config"
	"github.com/avaviz/flowrender/internal/logging"
	"github.com/avaviz/flowrender/internal/storage"
	"github.com/avaviz/flowrender/pkg/core"
)

func newReportCmd(a *app) *cobra.Command {
	var simsFile string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "preload every simulation and store a load report",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			backend, err := createStorageBackend(config.GetStorageConfig(), config.GetString("logsDir"), a.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := backend.Close(); err != nil {
					a.logger.Warn("Storage close failed", "error", err)
				}
			}()

			s, err := a.newSession(ctx, sessionOptions{simsFile: simsFile, surface: "memory"})
			if err != nil {
				return err
			}
			defer s.close()

			report := &core.LoadReport{RunID: uuid.NewString(), StartedAt: time.Now()}
			ctx = logging.ContextWithAttrs(ctx, slog.String("runId", report.RunID))
			loadErr := s.coord.LoadAll(ctx, progressPrinter(out))
			report.Duration = time.Since(report.StartedAt)
			report.Simulations = s.coord.Reports()

			if err := backend.SaveReport(ctx, report); err != nil {
				return fmt.Errorf("saving report: %w", err)
			}
			printReport(out, report)
			if ex, ok := backend.(storage.Exporter); ok && ex.LastExportPath() != "" {
				fmt.Fprintf(out, "exported to %s\n", ex.LastExportPath())
			}
			if loadErr != nil {
				a.logger.WarnContext(ctx, "Load finished with errors", "error", loadErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&simsFile, "simulations", "", "simulation list file instead of the config")
	return cmd
}

func printReport(w io.Writer, r *core.LoadReport) {
	loaded, failed := storage.Totals(r)
	fmt.Fprintf(w, "run %s: %d simulations, %d frames loaded, %d failed in %s\n",
		r.RunID, len(r.Simulations), loaded, failed, r.Duration.Round(time.Millisecond))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLOADED\tFAILED\tEXTENT\tERROR")
	for _, s := range r.Simulations {
		fmt.Fprintf(tw, "%s\t%d/%d\t%d\t%s\t%s\n", s.SimulationID, s.Loaded, s.Requested, s.Failed, s.Extent, s.Error)
	}
	_ = tw.Flush()
}

func newRunsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "list stored load reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := createStorageBackend(config.GetStorageConfig(), config.GetString("logsDir"), a.logger)
			if err != nil {
				return err
			}
			defer backend.Close()

			lister, ok := backend.(storage.Lister)
			if !ok {
				return errors.New("storage backend cannot list runs")
			}
			runs, err := lister.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tSIMULATIONS\tLOADED\tFAILED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%dms\t%d\t%d\t%d\n", r.RunID, r.StartedAt, r.DurationMs, r.Simulations, r.Loaded, r.Failed)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	return cmd
}
