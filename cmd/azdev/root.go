package main

import (
	"github.com/spf13/cobra"

	"github.com/devpane/azdev/internal/config"
	"github.com/devpane/azdev/internal/debug"
)

var (
	flagConfigDir string
	flagVerbose   bool
	flagQuiet     bool
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "azdev",
		Short:         "Local cache and sync for Azure DevOps searches",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if flagVerbose {
				debug.SetVerbose(true)
			}
			if flagQuiet {
				debug.SetQuiet(true)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "directory holding azdev.yaml (default: built-in defaults)")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress normal output")

	cmd.AddCommand(
		serveCmd(),
		refreshCmd(),
		searchCmd(),
		showCmd(),
		statusCmd(),
		purgeCmd(),
		initCmd(),
	)
	return cmd
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a starter azdev.yaml into the config directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := flagConfigDir
			if dir == "" {
				dir = "."
			}
			path, err := config.WriteStarter(dir)
			if err != nil {
				return err
			}
			debug.PrintNormal("wrote %s", path)
			return nil
		},
	}
}
