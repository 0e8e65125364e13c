package updater

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devpane/azdev/internal/azdo"
	"github.com/devpane/azdev/internal/debug"
	"github.com/devpane/azdev/internal/storage"
	"github.com/devpane/azdev/internal/storage/sqlite"
	"github.com/devpane/azdev/internal/types"
)

// QueryUpdater syncs saved work item queries. Flat, tree, and one-hop query
// shapes are supported; temporary (unsaved) queries are rejected.
type QueryUpdater struct {
	deps *Deps
}

// NewQueryUpdater wires a query updater.
func NewQueryUpdater(deps *Deps) *QueryUpdater {
	return &QueryUpdater{deps: deps}
}

func (u *QueryUpdater) Kind() types.UpdateKind { return types.UpdateQuery }

// UpdateData syncs one saved query, or all of them when params.Search is nil.
func (u *QueryUpdater) UpdateData(ctx context.Context, params types.UpdateParams) error {
	if params.Search == nil {
		return u.deps.forEachSearch(ctx, types.SearchQuery, func(s *types.Search) error {
			return u.updateOne(ctx, s)
		})
	}
	return u.updateOne(ctx, params.Search)
}

func (u *QueryUpdater) updateOne(ctx context.Context, s *types.Search) error {
	if s.QueryID == "" {
		return fmt.Errorf("%w: temporary queries cannot be synced", types.ErrUnsupported)
	}
	sc, err := u.deps.beginSync(ctx, s)
	if err != nil {
		return err
	}

	meta, err := sc.conn.Client.GetQuery(ctx, sc.project.Name, s.QueryID)
	if err != nil {
		return err
	}
	result, err := sc.conn.Client.QueryByID(ctx, sc.project.Name, s.QueryID)
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

	displayName := meta.Name
	if displayName == "" {
		displayName = s.Name
	}
	return syncQueryResult(ctx, u.deps.Cache, sc, s.QueryID, displayName, s.Account, items, typesByName, avatars, types.SearchQuery)
}

// workItemIDs flattens a WIQL result into the referenced ids. Tree and
// one-hop results carry relations instead of a flat list; targets are
// deduplicated because a node can appear under several parents.
func workItemIDs(r *azdo.WIQLResult) ([]int64, error) {
	switch r.QueryType {
	case azdo.QueryFlat, "":
		ids := make([]int64, 0, len(r.WorkItems))
		for _, ref := range r.WorkItems {
			ids = append(ids, ref.ID)
		}
		return ids, nil
	case azdo.QueryTree, azdo.QueryOneHop:
		seen := make(map[int64]bool)
		var ids []int64
		for _, link := range r.WorkItemRelations {
			for _, ref := range []*azdo.WorkItemRef{link.Source, link.Target} {
				if ref != nil && !seen[ref.ID] {
					seen[ref.ID] = true
					ids = append(ids, ref.ID)
				}
			}
		}
		return ids, nil
	}
	return nil, fmt.Errorf("%w: query type %q", types.ErrUnsupported, r.QueryType)
}

// fetchWorkItems retrieves work items in concurrent chunks of batchSize ids.
// A failed chunk is omitted rather than failing the batch, except for
// cancellation, which aborts the whole fetch.
func fetchWorkItems(ctx context.Context, client azdo.LiveClient, project string, ids []int64, batchSize int) ([]azdo.WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if batchSize < 1 || batchSize > azdo.MaxBatchSize {
		batchSize = azdo.MaxBatchSize
	}

	var chunks [][]int64
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}

	var mu sync.Mutex
	byID := make(map[int64]azdo.WorkItem, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	for _, chunk := range chunks {
		chunk := chunk
		g.Go(func() error {
			items, err := client.GetWorkItems(gctx, project, chunk)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				debug.Logf("updater: omitting failed work item chunk of %d: %v", len(chunk), err)
				return nil
			}
			mu.Lock()
			for _, it := range items {
				byID[it.ID] = it
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Preserve the WIQL result order.
	out := make([]azdo.WorkItem, 0, len(byID))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// fetchWorkItemTypes resolves each distinct type name once, keyed
// case-insensitively.
func fetchWorkItemTypes(ctx context.Context, client azdo.LiveClient, project string, items []azdo.WorkItem) (map[string]*azdo.WorkItemType, error) {
	out := make(map[string]*azdo.WorkItemType)
	for _, it := range items {
		name := it.Fields.WorkItemType
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := out[key]; ok {
			continue
		}
		t, err := client.GetWorkItemType(ctx, project, name)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			debug.Logf("updater: work item type %q not resolved: %v", name, err)
			out[key] = nil
			continue
		}
		out[key] = t
	}
	return out, nil
}

// workItemIdentities collects every identity a batch of work items
// references.
func workItemIdentities(items []azdo.WorkItem) []*azdo.Identity {
	out := make([]*azdo.Identity, 0, len(items)*3)
	for _, it := range items {
		out = append(out, it.Fields.AssignedTo, it.Fields.CreatedBy, it.Fields.ChangedBy)
	}
	return out
}

// syncQueryResult applies one query's fetched work items inside a single
// transaction: parent row, dependent entities, items, join rows, then the
// stale-row diff against the sync start.
func syncQueryResult(ctx context.Context, cache *sqlite.CacheStore, sc *syncContext,
	externalID, displayName, username string, items []azdo.WorkItem,
	typesByName map[string]*azdo.WorkItemType, avatars map[string][]byte, kind types.SearchKind) error {

	return cache.RunInTransaction(ctx, func(tx *sqlite.CacheTx) error {
		queryRow, err := tx.UpsertQuery(ctx, &storage.Query{
			ExternalID:  externalID,
			DisplayName: displayName,
			Username:    username,
			ProjectID:   sc.project.ID,
		}, sc.syncStart)
		if err != nil {
			return err
		}

		typeIDs := make(map[string]int64)
		for key, t := range typesByName {
			if t == nil {
				continue
			}
			row, err := tx.UpsertWorkItemType(ctx, &storage.WorkItemType{
				Name:        t.Name,
				Icon:        t.Icon.URL,
				Color:       t.Color,
				Description: t.Description,
				ProjectID:   sc.project.ID,
			})
			if err != nil {
				return err
			}
			typeIDs[key] = row.ID
		}

		for _, it := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			assignedTo, err := upsertIdentityTx(ctx, tx, it.Fields.AssignedTo, avatars, sc.syncStart)
			if err != nil {
				return err
			}
			createdBy, err := upsertIdentityTx(ctx, tx, it.Fields.CreatedBy, avatars, sc.syncStart)
			if err != nil {
				return err
			}
			changedBy, err := upsertIdentityTx(ctx, tx, it.Fields.ChangedBy, avatars, sc.syncStart)
			if err != nil {
				return err
			}

			created, _ := azdo.ParseTimestamp(it.Fields.CreatedDate)
			changed, _ := azdo.ParseTimestamp(it.Fields.ChangedDate)
			row, err := tx.UpsertWorkItem(ctx, &storage.WorkItem{
				ExternalID:     it.ID,
				Title:          it.Fields.Title,
				HTMLURL:        it.HTMLURL(),
				State:          it.Fields.State,
				Reason:         it.Fields.Reason,
				AssignedToID:   assignedTo,
				CreatedDate:    storage.ToTicks(created),
				CreatedByID:    createdBy,
				ChangedDate:    storage.ToTicks(changed),
				ChangedByID:    changedBy,
				WorkItemTypeID: typeIDs[strings.ToLower(it.Fields.WorkItemType)],
			})
			if err != nil {
				return err
			}
			if err := tx.UpsertQueryWorkItem(ctx, queryRow.ID, row.ID, sc.syncStart); err != nil {
				return err
			}
		}

		removed, err := tx.DeleteStaleQueryWorkItems(ctx, queryRow.ID, sc.syncStart)
		if err != nil {
			return err
		}
		if err := tx.SetOrganizationLastSync(ctx, sc.org.ID, sc.syncStart); err != nil {
			return err
		}
		logDiff(kind, displayName, len(items), removed)
		return nil
	})
}

// CachedSearch returns the query's parent row.
func (u *QueryUpdater) CachedSearch(ctx context.Context, s *types.Search) (any, error) {
	return u.deps.Cache.GetQueryByKey(ctx, s.QueryID, s.Account)
}

// CachedChildren returns the query's work items ordered for display: type
// priority first, most recently changed within a type.
func (u *QueryUpdater) CachedChildren(ctx context.Context, s *types.Search) ([]any, error) {
	queryRow, err := u.deps.Cache.GetQueryByKey(ctx, s.QueryID, s.Account)
	if err != nil {
		return nil, err
	}
	rows, err := u.deps.Cache.ListQueryWorkItems(ctx, queryRow.ID)
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

func (u *QueryUpdater) IsNewOrStale(ctx context.Context, s *types.Search, cooldown time.Duration) bool {
	row, err := u.deps.Cache.GetQueryByKey(ctx, s.QueryID, s.Account)
	if err != nil {
		return true
	}
	return stalenessOf(row.TimeUpdated, cooldown)
}

// PruneObsoleteData TTL-prunes saved-query join rows, then collects orphaned
// work items.
func (u *QueryUpdater) PruneObsoleteData(ctx context.Context) error {
	cutoff := storage.ToTicks(time.Now().Add(-u.deps.Config().QueryWorkItemTTL))
	if _, err := u.deps.Cache.PruneQueryWorkItems(ctx, cutoff, false); err != nil {
		return err
	}
	_, err := u.deps.Cache.PruneOrphanWorkItems(ctx)
	return err
}

// workItemTypePriority orders types for display. Unknown types sit between
// stories and tasks.
func workItemTypePriority(typeName string) int {
	switch strings.ToLower(strings.ReplaceAll(typeName, " ", "")) {
	case "bug":
		return 0
	case "feature":
		return 1
	case "productbacklogitem":
		return 2
	case "userstory":
		return 3
	case "task":
		return 10
	default:
		return 5
	}
}

// sortWorkItemRows applies the display order: type priority ascending, then
// changed date descending. The sort is stable over the store's changed-date
// ordering.
func sortWorkItemRows(rows []*storage.WorkItemRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		pi, pj := workItemTypePriority(rows[i].TypeName), workItemTypePriority(rows[j].TypeName)
		if pi != pj {
			return pi < pj
		}
		return rows[i].ChangedDate > rows[j].ChangedDate
	})
}
