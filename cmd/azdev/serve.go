package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devpane/azdev/internal/debug"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the periodic sync loop until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, flagConfigDir)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			a.mgr.Start()
			debug.PrintNormal("syncing every %s; press Ctrl-C to stop", a.config().PeriodicInterval)
			<-ctx.Done()
			a.mgr.Stop()
			return nil
		},
	}
}
