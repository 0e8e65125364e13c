package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/devpane/azdev/internal/azdo"
	"github.com/devpane/azdev/internal/storage"
	"github.com/devpane/azdev/internal/types"
)

// SearchFromQueryDef projects a saved query definition into the search union.
func SearchFromQueryDef(d *storage.QueryDef, account string) (*types.Search, error) {
	info, err := azdo.ParseResourceURL(d.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	return &types.Search{
		Kind:            types.SearchQuery,
		Name:            d.Name,
		URL:             d.URL,
		OrganizationURL: info.OrganizationURL,
		Project:         info.Project,
		Account:         account,
		QueryID:         info.QueryID,
	}, nil
}

// SearchFromPullRequestDef projects a PR search definition.
func SearchFromPullRequestDef(d *storage.PullRequestSearchDef, account string) (*types.Search, error) {
	info, err := azdo.ParseResourceURL(d.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	return &types.Search{
		Kind:            types.SearchPullRequests,
		Name:            d.Name,
		URL:             d.URL,
		OrganizationURL: info.OrganizationURL,
		Project:         info.Project,
		Account:         account,
		RepositoryName:  info.RepositoryName,
		View:            types.PullRequestView(d.View),
	}, nil
}

// SearchFromDefinitionDef projects a pipeline definition search.
func SearchFromDefinitionDef(d *storage.DefinitionSearchDef, account string) (*types.Search, error) {
	info, err := azdo.ParseResourceURL(d.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	id := d.ExternalID
	if id == 0 {
		id = info.DefinitionID
	}
	return &types.Search{
		Kind:            types.SearchPipeline,
		Name:            d.Name,
		URL:             d.URL,
		OrganizationURL: info.OrganizationURL,
		Project:         info.Project,
		Account:         account,
		DefinitionID:    id,
	}, nil
}

// SearchFromProjectSettings projects a pinned project into its implicit
// my-work-items search.
func SearchFromProjectSettings(p *storage.ProjectSettings, account string) *types.Search {
	return &types.Search{
		Kind:            types.SearchMyWorkItems,
		Name:            p.ProjectName,
		OrganizationURL: strings.TrimSuffix(p.OrganizationURL, "/"),
		Project:         p.ProjectName,
		Account:         account,
	}
}

// Searches bundles the four repositories behind the enumeration surface the
// updaters and the periodic All cycle consume.
type Searches struct {
	Queries      *QueryRepository
	PullRequests *PullRequestSearchRepository
	Definitions  *DefinitionSearchRepository
	Projects     *ProjectSettingsRepository
}

// ForKind enumerates the saved searches of one kind for an account.
// Definitions whose URL no longer parses are skipped rather than failing the
// whole enumeration.
func (s *Searches) ForKind(ctx context.Context, kind types.SearchKind, account string) ([]*types.Search, error) {
	var out []*types.Search
	switch kind {
	case types.SearchQuery:
		defs, err := s.Queries.GetAll(ctx, false)
		if err != nil {
			return nil, err
		}
		for _, d := range defs {
			if sr, err := SearchFromQueryDef(d, account); err == nil {
				out = append(out, sr)
			}
		}
	case types.SearchPullRequests:
		defs, err := s.PullRequests.GetAll(ctx, false)
		if err != nil {
			return nil, err
		}
		for _, d := range defs {
			if sr, err := SearchFromPullRequestDef(d, account); err == nil {
				out = append(out, sr)
			}
		}
	case types.SearchPipeline:
		defs, err := s.Definitions.GetAll(ctx, false)
		if err != nil {
			return nil, err
		}
		for _, d := range defs {
			if sr, err := SearchFromDefinitionDef(d, account); err == nil {
				out = append(out, sr)
			}
		}
	case types.SearchMyWorkItems:
		return s.MyWorkItemSearches(ctx, account)
	}
	return out, nil
}

// MyWorkItemSearches discovers the (organization, project) pairs to run the
// my-work-items query against: pinned projects first, then pairs projected
// from every other saved search. Deduplicated case-insensitively.
func (s *Searches) MyWorkItemSearches(ctx context.Context, account string) ([]*types.Search, error) {
	seen := make(map[string]bool)
	var out []*types.Search
	add := func(sr *types.Search) {
		key := strings.ToLower(sr.OrganizationURL) + "|" + strings.ToLower(sr.Project)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, sr)
	}

	pins, err := s.Projects.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pins {
		add(SearchFromProjectSettings(p, account))
	}

	for _, kind := range []types.SearchKind{types.SearchQuery, types.SearchPullRequests, types.SearchPipeline} {
		searches, err := s.ForKind(ctx, kind, account)
		if err != nil {
			return nil, err
		}
		for _, sr := range searches {
			add(&types.Search{
				Kind:            types.SearchMyWorkItems,
				Name:            sr.Project,
				OrganizationURL: sr.OrganizationURL,
				Project:         sr.Project,
				Account:         account,
			})
		}
	}
	return out, nil
}
