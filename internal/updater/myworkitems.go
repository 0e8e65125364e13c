package updater

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/devpane/azdev/internal/storage"
	"github.com/devpane/azdev/internal/types"
)

// myWorkItemsWIQL is the literal the service evaluates to produce the
// signed-in user's open work items, newest change first.
const myWorkItemsWIQL = "SELECT [System.Id] FROM WorkItems " +
	"WHERE [System.AssignedTo] = @Me " +
	"AND [System.State] <> 'Closed' " +
	"AND [System.State] <> 'Removed' " +
	"ORDER BY [System.ChangedDate] DESC"

// MyWorkItemsKey builds the synthesized query external id for an
// (organization, project) pair. The join table scopes per user through the
// query row's username column.
func MyWorkItemsKey(organizationURL, project string) string {
	return fmt.Sprintf("my-work-items:%s|%s",
		strings.ToLower(organizationName(organizationURL)), strings.ToLower(project))
}

// MyWorkItemsUpdater syncs the implicit per-project my-work-items search. It
// has no saved definition of its own; target projects are discovered from
// pinned projects and from every other saved search.
type MyWorkItemsUpdater struct {
	deps *Deps
}

// NewMyWorkItemsUpdater wires a my-work-items updater.
func NewMyWorkItemsUpdater(deps *Deps) *MyWorkItemsUpdater {
	return &MyWorkItemsUpdater{deps: deps}
}

func (u *MyWorkItemsUpdater) Kind() types.UpdateKind { return types.UpdateMyWorkItems }

// UpdateData syncs one project's my-work-items set, or every discovered
// project when params.Search is nil. The tight TTL prune runs at the end of
// each cycle.
func (u *MyWorkItemsUpdater) UpdateData(ctx context.Context, params types.UpdateParams) error {
	var err error
	if params.Search == nil {
		err = u.deps.forEachSearch(ctx, types.SearchMyWorkItems, func(s *types.Search) error {
			return u.updateOne(ctx, s)
		})
	} else {
		err = u.updateOne(ctx, params.Search)
	}
	if err != nil {
		return err
	}
	return u.PruneObsoleteData(ctx)
}

func (u *MyWorkItemsUpdater) updateOne(ctx context.Context, s *types.Search) error {
	sc, err := u.deps.beginSync(ctx, s)
	if err != nil {
		return err
	}

	result, err := sc.conn.Client.QueryByWIQL(ctx, sc.project.Name, myWorkItemsWIQL)
	if err != nil {
		return err
	}
	ids, err := workItemIDs(result)
	if err != nil {
		return err
	}
	items, err := fetchWorkItems(ctx, sc.conn.Client, sc.project.Name, ids, u.deps.Config().WorkItemBatchSize)
	if err != nil {
		return err
	}
	typesByName, err := fetchWorkItemTypes(ctx, sc.conn.Client, sc.project.Name, items)
	if err != nil {
		return err
	}
	avatars := fetchMissingAvatars(ctx, sc.conn.Client, u.deps.Cache, workItemIdentities(items))

	key := MyWorkItemsKey(s.OrganizationURL, s.Project)
	return syncQueryResult(ctx, u.deps.Cache, sc, key, "My Work Items", s.Account,
		items, typesByName, avatars, types.SearchMyWorkItems)
}

// CachedSearch returns the synthesized query row for the project pair.
func (u *MyWorkItemsUpdater) CachedSearch(ctx context.Context, s *types.Search) (any, error) {
	return u.deps.Cache.GetQueryByKey(ctx, MyWorkItemsKey(s.OrganizationURL, s.Project), s.Account)
}

// CachedChildren returns the user's open work items, ordered for display.
func (u *MyWorkItemsUpdater) CachedChildren(ctx context.Context, s *types.Search) ([]any, error) {
	row, err := u.deps.Cache.GetQueryByKey(ctx, MyWorkItemsKey(s.OrganizationURL, s.Project), s.Account)
	if err != nil {
		return nil, err
	}
	rows, err := u.deps.Cache.ListQueryWorkItems(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	sortWorkItemRows(rows)
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func (u *MyWorkItemsUpdater) IsNewOrStale(ctx context.Context, s *types.Search, cooldown time.Duration) bool {
	row, err := u.deps.Cache.GetQueryByKey(ctx, MyWorkItemsKey(s.OrganizationURL, s.Project), s.Account)
	if err != nil {
		return true
	}
	return stalenessOf(row.TimeUpdated, cooldown)
}

// PruneObsoleteData TTL-prunes synthesized join rows only, then collects
// orphaned work items. The TTL is tight because the result set is user-local
// and volatile.
func (u *MyWorkItemsUpdater) PruneObsoleteData(ctx context.Context) error {
	cutoff := storage.ToTicks(time.Now().Add(-u.deps.Config().MyWorkItemsTTL))
	if _, err := u.deps.Cache.PruneQueryWorkItems(ctx, cutoff, true); err != nil {
		return err
	}
	_, err := u.deps.Cache.PruneOrphanWorkItems(ctx)
	return err
}
