package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/avaviz/flowrender/internal/config"
	"github.com/avaviz/flowrender/internal/control"
	"github.com/avaviz/flowrender/internal/dispatcher"
	"github.com/avaviz/flowrender/internal/logging"
	"github.com/avaviz/flowrender/internal/monitor"
)

func newPlayCmd(a *app) *cobra.Command {
	var (
		simsFile string
		surface  string
		simID    string
		all      bool
		noStdin  bool
		status   string
	)
	cmd := &cobra.Command{
		Use:   "play",
		Short: "load simulations and play them, reading control commands from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx = logging.ContextWithAttrs(ctx, slog.String("command", "play"))

			s, err := a.newSession(ctx, sessionOptions{simsFile: simsFile, surface: surface})
			if err != nil {
				return err
			}
			defer s.close()

			out := cmd.OutOrStdout()
			progress := progressPrinter(out)
			if err := s.coord.LoadAll(ctx, progress); err != nil {
				a.logger.WarnContext(ctx, "Some simulations failed to load", "error", err)
			}
			loaded := s.coord.Loaded()
			if len(loaded) == 0 {
				return fmt.Errorf("no simulation could be loaded")
			}
			if simID == "" {
				simID = loaded[0]
			}
			if err := s.coord.SwitchTo(ctx, simID, progress); err != nil {
				return err
			}

			if all {
				err = s.coord.PlayAll()
			} else if e, ok := s.coord.Active(); ok {
				err = e.Play()
			}
			if err != nil {
				return err
			}

			d, err := dispatcher.New(logging.NewJournal(
				logging.NewConsoleLogger(cmd.ErrOrStderr(), config.GetString("logLevel"), false), "control"))
			if err != nil {
				return err
			}
			defer d.Close()
			ctrl := control.New(ctx, s.coord, progress)
			ctrl.Register(d)
			registerLogLevel(d, a.logs)

			if status == "" && config.GetString("logsDir") != "" {
				status = filepath.Join(config.GetString("logsDir"), "status.json")
			}
			if status != "" {
				mon := monitor.NewService(monitor.Dependencies{
					Status:     ctrl.Status,
					StatusFile: status,
					Logger:     a.logger,
				})
				if err := mon.Start(); err != nil {
					return err
				}
				defer mon.Stop()
			}

			if noStdin {
				<-ctx.Done()
				return nil
			}
			fmt.Fprintln(out, "type 'help' for commands, 'quit' to exit")
			if err := control.Run(ctx, d, cmd.InOrStdin(), out, a.logger); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&simsFile, "simulations", "", "simulation list file (json/yaml/toml) instead of the config")
	cmd.Flags().StringVar(&surface, "surface", "", "render surface: memory or stream (default: render.type)")
	cmd.Flags().StringVar(&simID, "sim", "", "simulation to activate (default: first loaded)")
	cmd.Flags().BoolVar(&all, "all", false, "play every loaded simulation at once")
	cmd.Flags().StringVar(&status, "status-file", "", "file rewritten every second with the playback status (default: <logsDir>/status.json)")
	cmd.Flags().BoolVar(&noStdin, "no-stdin", false, "ignore stdin and play until interrupted")
	return cmd
}

// registerLogLevel adds the "loglevel <level>" command. Remote sinks never
// drop below logging.RemoteFloor.
func registerLogLevel(d *dispatcher.Dispatcher, logs *logging.SlogManager) {
	d.Register("loglevel", func(ev dispatcher.Event) (any, error) {
		if err := logs.SetLevel(ev.Args[0]); err != nil {
			return nil, err
		}
		return "log level " + logs.Level().String(), nil
	}, dispatcher.Logged(), dispatcher.Args(1, 1), dispatcher.Usage("<debug|info|warn|error>"))
}
