package main

import (
	"github.com/spf13/cobra"

	"github.com/devpane/azdev/internal/debug"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store locations, sign-in state, and last sync time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flagConfigDir)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			debug.PrintNormal("cache store:      %s", a.cache.Path())
			debug.PrintNormal("persistent store: %s", a.persistent.Path())

			if a.authp.IsSignedIn() {
				login, err := a.account(ctx)
				if err != nil {
					return err
				}
				debug.PrintNormal("signed in as:     %s", login)
			} else {
				debug.PrintNormal("signed in:        no")
			}

			last, err := a.svc.LastUpdated(ctx)
			if err != nil {
				return err
			}
			if last.IsZero() {
				debug.PrintNormal("last sync:        never")
			} else {
				debug.PrintNormal("last sync:        %s", last.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}
