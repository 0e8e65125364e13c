package main

import (
	"github.com/spf13/cobra"

	"github.com/devpane/azdev/internal/debug"
)

func purgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Drop all cached data; saved searches are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flagConfigDir)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if err := a.svc.PurgeAllData(ctx); err != nil {
				return err
			}
			debug.PrintNormal("cache purged")
			return nil
		},
	}
}
