package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
)

func main() {
	a := &app{}
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		_ = a.shutdown()
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "flowrender",
		Short:         "avalanche flow-height playback and load reports",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "synth" {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.shutdown()
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file or directory (default: ./"+configFileHint+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logLevel from config")

	rootCmd.AddCommand(
		newPlayCmd(a),
		newInfoCmd(a),
		newReportCmd(a),
		newRunsCmd(a),
		newSynthCmd(),
	)
	return rootCmd
}
