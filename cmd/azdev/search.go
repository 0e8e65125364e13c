package main

import (
	"github.com/spf13/cobra"

	"github.com/devpane/azdev/internal/debug"
	"github.com/devpane/azdev/internal/storage"
)

func searchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Manage saved searches",
	}
	cmd.AddCommand(
		searchListCmd(),
		searchAddCmd(),
		searchRemoveCmd(),
		searchPinCmd(),
	)
	return cmd
}

func searchListCmd() *cobra.Command {
	var pinnedOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved searches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flagConfigDir)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			queries, err := a.searches.Queries.GetAll(ctx, pinnedOnly)
			if err != nil {
				return err
			}
			for _, d := range queries {
				debug.PrintNormal("query      %-30s %s%s", d.Name, d.URL, pinMark(d.IsTopLevel))
			}
			prs, err := a.searches.PullRequests.GetAll(ctx, pinnedOnly)
			if err != nil {
				return err
			}
			for _, d := range prs {
				debug.PrintNormal("prs/%-6s %-30s %s%s", d.View, d.Name, d.URL, pinMark(d.IsTopLevel))
			}
			defs, err := a.searches.Definitions.GetAll(ctx, pinnedOnly)
			if err != nil {
				return err
			}
			for _, d := range defs {
				debug.PrintNormal("pipeline   %-30s %s (id %d)%s", d.Name, d.URL, d.ExternalID, pinMark(d.IsTopLevel))
			}
			if !pinnedOnly {
				pins, err := a.searches.Projects.GetAll(ctx)
				if err != nil {
					return err
				}
				for _, p := range pins {
					debug.PrintNormal("project    %-30s %s", p.ProjectName, p.OrganizationURL)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pinnedOnly, "pinned", false, "only searches pinned to the top level")
	return cmd
}

func pinMark(pinned bool) string {
	if pinned {
		return "  [pinned]"
	}
	return ""
}

func searchAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Save a search",
	}

	var (
		name string
		pin  bool
		view string
		id   int64
		org  string
	)

	query := &cobra.Command{
		Use:   "query <url>",
		Short: "Save a work item query by its browser URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flagConfigDir)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			d, err := a.searches.Queries.AddOrUpdate(ctx, &storage.QueryDef{
				Name: name, URL: args[0], IsTopLevel: pin,
			})
			if err != nil {
				return err
			}
			debug.PrintNormal("saved query %q", d.Name)
			return nil
		},
	}
	query.Flags().StringVar(&name, "name", "", "display name")
	query.Flags().BoolVar(&pin, "pin", false, "pin to the top level")

	prs := &cobra.Command{
		Use:   "prs <url>",
		Short: "Save a pull request search for a repository URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flagConfigDir)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			d, err := a.searches.PullRequests.AddOrUpdate(ctx, &storage.PullRequestSearchDef{
				Name: name, URL: args[0], View: view, IsTopLevel: pin,
			})
			if err != nil {
				return err
			}
			debug.PrintNormal("saved pull request search %q (%s)", d.Name, d.View)
			return nil
		},
	}
	prs.Flags().StringVar(&name, "name", "", "display name")
	prs.Flags().StringVar(&view, "view", "mine", "view: mine, assigned, all")
	prs.Flags().BoolVar(&pin, "pin", false, "pin to the top level")

	pipeline := &cobra.Command{
		Use:   "pipeline <url>",
		Short: "Save a pipeline definition search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flagConfigDir)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			d, err := a.searches.Definitions.AddOrUpdate(ctx, &storage.DefinitionSearchDef{
				Name: name, URL: args[0], ExternalID: id, IsTopLevel: pin,
			})
			if err != nil {
				return err
			}
			debug.PrintNormal("saved pipeline search %q (id %d)", d.Name, d.ExternalID)
			return nil
		},
	}
	pipeline.Flags().StringVar(&name, "name", "", "display name")
	pipeline.Flags().Int64Var(&id, "id", 0, "definition id (default: from the URL)")
	pipeline.Flags().BoolVar(&pin, "pin", false, "pin to the top level")

	project := &cobra.Command{
		Use:   "project <name>",
		Short: "Pin a project for the my-work-items search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flagConfigDir)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			p, err := a.searches.Projects.AddOrUpdate(ctx, &storage.ProjectSettings{
				OrganizationURL: org, ProjectName: args[0],
			})
			if err != nil {
				return err
			}
			debug.PrintNormal("pinned project %s in %s", p.ProjectName, p.OrganizationURL)
			return nil
		},
	}
	project.Flags().StringVar(&org, "org", "", "organization URL, e.g. https://dev.azure.com/contoso")
	_ = project.MarkFlagRequired("org")

	cmd.AddCommand(query, prs, pipeline, project)
	return cmd
}

func searchRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Delete a saved search",
	}

	var (
		view string
		id   int64
		org  string
	)

	query := &cobra.Command{
		Use:   "query <url>",
		Args:  cobra.ExactArgs(1),
		Short: "Delete a saved query",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flagConfigDir)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			return a.searches.Queries.Remove(ctx, args[0])
		},
	}

	prs := &cobra.Command{
		Use:   "prs <url>",
		Args:  cobra.ExactArgs(1),
		Short: "Delete a pull request search",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flagConfigDir)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			return a.searches.PullRequests.Remove(ctx, args[0], view)
		},
	}
	prs.Flags().StringVar(&view, "view", "mine", "view: mine, assigned, all")

	pipeline := &cobra.Command{
		Use:   "pipeline <url>",
		Args:  cobra.ExactArgs(1),
		Short: "Delete a pipeline search",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flagConfigDir)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			return a.searches.Definitions.Remove(ctx, args[0], id)
		},
	}
	pipeline.Flags().Int64Var(&id, "id", 0, "definition id")

	project := &cobra.Command{
		Use:   "project <name>",
		Args:  cobra.ExactArgs(1),
		Short: "Unpin a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flagConfigDir)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			return a.searches.Projects.Remove(ctx, org, args[0])
		},
	}
	project.Flags().StringVar(&org, "org", "", "organization URL")
	_ = project.MarkFlagRequired("org")

	cmd.AddCommand(query, prs, pipeline, project)
	return cmd
}

func searchPinCmd() *cobra.Command {
	var (
		view  string
		id    int64
		unpin bool
	)
	cmd := &cobra.Command{
		Use:   "pin <kind> <url>",
		Short: "Pin or unpin a saved search (kind: query, prs, pipeline)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flagConfigDir)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			kind, url := args[0], args[1]
			switch kind {
			case "query":
				return a.searches.Queries.SetTopLevel(ctx, url, !unpin)
			case "prs":
				return a.searches.PullRequests.SetTopLevel(ctx, url, view, !unpin)
			case "pipeline":
				return a.searches.Definitions.SetTopLevel(ctx, url, id, !unpin)
			}
			return cmd.Usage()
		},
	}
	cmd.Flags().StringVar(&view, "view", "mine", "view for prs searches")
	cmd.Flags().Int64Var(&id, "id", 0, "definition id for pipeline searches")
	cmd.Flags().BoolVar(&unpin, "unpin", false, "remove the pin instead")
	return cmd
}
