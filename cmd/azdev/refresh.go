package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devpane/azdev/internal/debug"
	"github.com/devpane/azdev/internal/types"
)

func refreshCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Run one update cycle and wait for its terminal event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flagConfigDir)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			k := types.UpdateKind(kind)
			switch k {
			case types.UpdateAll, types.UpdateQuery, types.UpdatePullRequests,
				types.UpdatePipeline, types.UpdateMyWorkItems:
			default:
				return fmt.Errorf("unknown kind %q", kind)
			}

			event := a.svc.Dispatch(ctx, types.UpdateParams{Kind: k})
			switch event.Kind {
			case types.EventUpdated:
				debug.PrintNormal("%s update completed", k)
				return nil
			case types.EventCancel:
				debug.PrintNormal("%s update cancelled", k)
				return nil
			default:
				return event.Err
			}
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(types.UpdateAll), "update kind: all, query, pullrequests, pipeline, myworkitems")
	return cmd
}
