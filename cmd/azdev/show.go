package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devpane/azdev/internal/azdo"
	"github.com/devpane/azdev/internal/debug"
	"github.com/devpane/azdev/internal/livedata"
	"github.com/devpane/azdev/internal/storage"
	"github.com/devpane/azdev/internal/types"
)

func showCmd() *cobra.Command {
	var view string
	cmd := &cobra.Command{
		Use:   "show <url>",
		Short: "Show the cached rows for a search URL, refreshing in the background",
		Long: "Resolves the URL to a search kind (query, pull requests, pipeline, or " +
			"my-work-items when the URL stops at a project) and prints its cached rows. " +
			"A warm cache answers immediately; a cold miss waits for one sync.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flagConfigDir)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			account, err := a.account(ctx)
			if err != nil {
				return err
			}
			info, err := azdo.ParseResourceURL(args[0])
			if err != nil {
				return fmt.Errorf("%w: %v", types.ErrValidation, err)
			}

			s := &types.Search{
				URL:             args[0],
				OrganizationURL: info.OrganizationURL,
				Project:         info.Project,
				Account:         account,
			}
			switch {
			case info.QueryID != "":
				s.Kind = types.SearchQuery
				s.QueryID = info.QueryID
			case info.RepositoryName != "":
				s.Kind = types.SearchPullRequests
				s.RepositoryName = info.RepositoryName
				s.View = types.PullRequestView(view)
			case info.DefinitionID != 0:
				s.Kind = types.SearchPipeline
				s.DefinitionID = info.DefinitionID
			default:
				s.Kind = types.SearchMyWorkItems
			}

			switch s.Kind {
			case types.SearchQuery, types.SearchMyWorkItems:
				rows, err := livedata.ContentDataAs[*storage.WorkItemRow](ctx, a.provider, s)
				if err != nil {
					return err
				}
				for _, r := range rows {
					debug.PrintNormal("#%-7d %-12s %-10s %s", r.ExternalID, r.TypeName, r.State, r.Title)
				}
			case types.SearchPullRequests:
				rows, err := livedata.ContentDataAs[*storage.PullRequest](ctx, a.provider, s)
				if err != nil {
					return err
				}
				for _, r := range rows {
					debug.PrintNormal("!%-6d %-9s %-14s %s", r.ExternalID, r.Status, r.PolicyStatus, r.Title)
				}
			case types.SearchPipeline:
				rows, err := livedata.ContentDataAs[*storage.Build](ctx, a.provider, s)
				if err != nil {
					return err
				}
				for _, r := range rows {
					debug.PrintNormal("%-12s %-11s %-9s %s", r.BuildNumber, r.Status, r.Result, r.SourceBranch)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&view, "view", "mine", "view for pull request URLs: mine, assigned, all")
	return cmd
}
