package updater

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/devpane/azdev/internal/azdo"
	"github.com/devpane/azdev/internal/storage"
	"github.com/devpane/azdev/internal/types"
)

func addFakeWorkItem(f *fakeClient, id int64, typeName, changed string) {
	f.workItems[id] = azdo.WorkItem{
		ID:  id,
		URL: fmt.Sprintf("https://dev.azure.com/contoso/_apis/wit/workItems/%d", id),
		Fields: azdo.WorkItemFields{
			Title:        fmt.Sprintf("item %d", id),
			State:        "Active",
			WorkItemType: typeName,
			ChangedDate:  changed,
			CreatedDate:  "2026-08-01T00:00:00Z",
			AssignedTo:   &azdo.Identity{ID: "me-guid", DisplayName: "Dev One", UniqueName: "dev@contoso.com"},
		},
	}
}

func flatResult(ids ...int64) *azdo.WIQLResult {
	r := &azdo.WIQLResult{QueryType: azdo.QueryFlat}
	for _, id := range ids {
		r.WorkItems = append(r.WorkItems, azdo.WorkItemRef{ID: id})
	}
	return r
}

func querySearch() *types.Search {
	s := testSearch(types.SearchQuery)
	s.QueryID = "3c8d3191-7060-4123-9bb7-4b1de4a83301"
	return s
}

func TestQueryUpdaterOrdersChildrenByTypePriority(t *testing.T) {
	ctx := context.Background()
	fake := newFakeClient()
	s := querySearch()
	fake.queries[s.QueryID] = &azdo.Query{ID: s.QueryID, Name: "Active Items", QueryType: azdo.QueryFlat}
	fake.queryResult = flatResult(1, 2, 3)
	addFakeWorkItem(fake, 1, "Task", "2026-08-22T09:00:00Z")
	addFakeWorkItem(fake, 2, "Bug", "2026-08-20T09:00:00Z")
	addFakeWorkItem(fake, 3, "User Story", "2026-08-21T09:00:00Z")

	u := NewQueryUpdater(newTestDeps(t, fake))
	if err := u.UpdateData(ctx, types.UpdateParams{Kind: types.UpdateQuery, Search: s}); err != nil {
		t.Fatalf("UpdateData: %v", err)
	}

	children, err := u.CachedChildren(ctx, s)
	if err != nil {
		t.Fatalf("CachedChildren: %v", err)
	}
	var gotTypes []string
	for _, c := range children {
		gotTypes = append(gotTypes, c.(*storage.WorkItemRow).TypeName)
	}
	want := []string{"Bug", "User Story", "Task"}
	if len(gotTypes) != 3 || gotTypes[0] != want[0] || gotTypes[1] != want[1] || gotTypes[2] != want[2] {
		t.Fatalf("type order = %v, want %v", gotTypes, want)
	}
}

func TestQueryUpdaterBatchesLargeResults(t *testing.T) {
	ctx := context.Background()
	fake := newFakeClient()
	s := querySearch()
	fake.queries[s.QueryID] = &azdo.Query{ID: s.QueryID, Name: "Everything"}

	var ids []int64
	for id := int64(1); id <= 201; id++ {
		ids = append(ids, id)
		addFakeWorkItem(fake, id, "Task", "2026-08-20T09:00:00Z")
	}
	fake.queryResult = flatResult(ids...)

	u := NewQueryUpdater(newTestDeps(t, fake))
	if err := u.UpdateData(ctx, types.UpdateParams{Kind: types.UpdateQuery, Search: s}); err != nil {
		t.Fatalf("UpdateData: %v", err)
	}

	if got := fake.workItemCalls.Load(); got != 2 {
		t.Fatalf("work item fetches = %d, want 2", got)
	}
	children, err := u.CachedChildren(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 201 {
		t.Fatalf("children = %d, want 201", len(children))
	}
}

func TestQueryUpdaterRemovesVanishedRows(t *testing.T) {
	ctx := context.Background()
	fake := newFakeClient()
	s := querySearch()
	fake.queries[s.QueryID] = &azdo.Query{ID: s.QueryID, Name: "Shrinking"}
	fake.queryResult = flatResult(1, 2)
	addFakeWorkItem(fake, 1, "Bug", "2026-08-20T09:00:00Z")
	addFakeWorkItem(fake, 2, "Bug", "2026-08-20T10:00:00Z")

	u := NewQueryUpdater(newTestDeps(t, fake))
	params := types.UpdateParams{Kind: types.UpdateQuery, Search: s}
	if err := u.UpdateData(ctx, params); err != nil {
		t.Fatal(err)
	}

	fake.queryResult = flatResult(2)
	if err := u.UpdateData(ctx, params); err != nil {
		t.Fatal(err)
	}

	children, err := u.CachedChildren(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 {
		t.Fatalf("children = %d, want 1", len(children))
	}
	if got := children[0].(*storage.WorkItemRow).ExternalID; got != 2 {
		t.Fatalf("surviving item = %d, want 2", got)
	}
	if err := u.PruneObsoleteData(ctx); err != nil {
		t.Fatalf("PruneObsoleteData: %v", err)
	}
}

func TestQueryUpdaterRejectsTemporaryQueries(t *testing.T) {
	u := NewQueryUpdater(newTestDeps(t, newFakeClient()))
	s := querySearch()
	s.QueryID = ""
	err := u.UpdateData(context.Background(), types.UpdateParams{Kind: types.UpdateQuery, Search: s})
	if !errors.Is(err, types.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestQueryUpdaterRequiresSignIn(t *testing.T) {
	deps := newTestDeps(t, newFakeClient())
	deps.Auth = &fakeAuth{signedIn: false}
	u := NewQueryUpdater(deps)
	err := u.UpdateData(context.Background(), types.UpdateParams{Kind: types.UpdateQuery, Search: querySearch()})
	if !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("err = %v, want ErrNotSignedIn", err)
	}
}

func TestQueryUpdaterIsNewOrStale(t *testing.T) {
	ctx := context.Background()
	fake := newFakeClient()
	s := querySearch()
	fake.queries[s.QueryID] = &azdo.Query{ID: s.QueryID, Name: "Staleness"}
	fake.queryResult = flatResult()

	u := NewQueryUpdater(newTestDeps(t, fake))
	if !u.IsNewOrStale(ctx, s, time.Hour) {
		t.Fatal("cold search must be stale")
	}
	if err := u.UpdateData(ctx, types.UpdateParams{Kind: types.UpdateQuery, Search: s}); err != nil {
		t.Fatal(err)
	}
	if u.IsNewOrStale(ctx, s, time.Hour) {
		t.Fatal("freshly synced search must not be stale")
	}
	if !u.IsNewOrStale(ctx, s, 0) {
		t.Fatal("zero cooldown must always be stale")
	}
}

func TestWorkItemIDsDeduplicatesTreeResults(t *testing.T) {
	ref := func(id int64) *azdo.WorkItemRef { return &azdo.WorkItemRef{ID: id} }
	r := &azdo.WIQLResult{
		QueryType: azdo.QueryTree,
		WorkItemRelations: []azdo.WorkItemLink{
			{Target: ref(1)},
			{Source: ref(1), Target: ref(2)},
			{Source: ref(1), Target: ref(3)},
			{Source: ref(2), Target: ref(3)},
		},
	}
	ids, err := workItemIDs(r)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("ids = %v, want [1 2 3]", ids)
	}
}

func TestWorkItemIDsRejectsUnknownQueryType(t *testing.T) {
	_, err := workItemIDs(&azdo.WIQLResult{QueryType: "recursive"})
	if !errors.Is(err, types.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestFetchWorkItemsOmitsFailedChunk(t *testing.T) {
	fake := newFakeClient()
	addFakeWorkItem(fake, 1, "Bug", "2026-08-20T09:00:00Z")
	addFakeWorkItem(fake, 2, "Bug", "2026-08-20T09:00:00Z")
	addFakeWorkItem(fake, 3, "Bug", "2026-08-20T09:00:00Z")
	fake.failIDs = map[int64]bool{3: true}

	items, err := fetchWorkItems(context.Background(), fake, "Tools", []int64{1, 2, 3}, 2)
	if err != nil {
		t.Fatalf("fetchWorkItems: %v", err)
	}
	if len(items) != 2 || items[0].ID != 1 || items[1].ID != 2 {
		t.Fatalf("items = %v, want ids 1 and 2 in order", items)
	}
}

func TestFetchWorkItemsPropagatesCancellation(t *testing.T) {
	fake := newFakeClient()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fetchWorkItems(ctx, fake, "Tools", []int64{1}, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestAvatarFetchedOncePerIdentity(t *testing.T) {
	ctx := context.Background()
	fake := newFakeClient()
	s := querySearch()
	fake.queries[s.QueryID] = &azdo.Query{ID: s.QueryID, Name: "Avatars"}
	fake.queryResult = flatResult(1, 2)
	// Both items reference the same assignee.
	addFakeWorkItem(fake, 1, "Bug", "2026-08-20T09:00:00Z")
	addFakeWorkItem(fake, 2, "Bug", "2026-08-20T10:00:00Z")

	deps := newTestDeps(t, fake)
	u := NewQueryUpdater(deps)
	params := types.UpdateParams{Kind: types.UpdateQuery, Search: s}
	if err := u.UpdateData(ctx, params); err != nil {
		t.Fatal(err)
	}
	if got := fake.avatarCalls.Load(); got != 1 {
		t.Fatalf("avatar fetches = %d, want 1 for one distinct identity", got)
	}

	// The cached blob suppresses refetching on the next cycle.
	if err := u.UpdateData(ctx, params); err != nil {
		t.Fatal(err)
	}
	if got := fake.avatarCalls.Load(); got != 1 {
		t.Fatalf("avatar fetches = %d after resync, want still 1", got)
	}

	row, err := deps.Cache.GetIdentityByExternalID(ctx, "me-guid")
	if err != nil {
		t.Fatal(err)
	}
	if len(row.Avatar) == 0 {
		t.Fatal("avatar blob not cached")
	}
}

func TestSortWorkItemRowsBreaksTiesByChangedDate(t *testing.T) {
	rows := []*storage.WorkItemRow{
		{WorkItem: storage.WorkItem{ExternalID: 1, ChangedDate: 100}, TypeName: "Task"},
		{WorkItem: storage.WorkItem{ExternalID: 2, ChangedDate: 300}, TypeName: "Task"},
		{WorkItem: storage.WorkItem{ExternalID: 3, ChangedDate: 200}, TypeName: "Task"},
	}
	sortWorkItemRows(rows)
	if rows[0].ExternalID != 2 || rows[1].ExternalID != 3 || rows[2].ExternalID != 1 {
		t.Fatalf("order = %d,%d,%d want 2,3,1", rows[0].ExternalID, rows[1].ExternalID, rows[2].ExternalID)
	}
}
