package livedata

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devpane/azdev/internal/cachemgr"
	"github.com/devpane/azdev/internal/config"
	"github.com/devpane/azdev/internal/storage"
	"github.com/devpane/azdev/internal/storage/sqlite"
	"github.com/devpane/azdev/internal/types"
	"github.com/devpane/azdev/internal/updatesvc"
)

// memUpdater serves canned rows; UpdateData can populate them to simulate a
// successful sync, fail, or park until cancellation.
type memUpdater struct {
	mu       sync.Mutex
	kind     types.UpdateKind
	search   any
	children []any

	onUpdate    func(ctx context.Context) error
	updateCalls int
}

func (u *memUpdater) Kind() types.UpdateKind { return u.kind }

func (u *memUpdater) UpdateData(ctx context.Context, _ types.UpdateParams) error {
	u.mu.Lock()
	u.updateCalls++
	fn := u.onUpdate
	u.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func (u *memUpdater) populate(search any, children ...any) {
	u.mu.Lock()
	u.search = search
	u.children = children
	u.mu.Unlock()
}

func (u *memUpdater) calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.updateCalls
}

func (u *memUpdater) CachedSearch(context.Context, *types.Search) (any, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.search == nil {
		return nil, storage.ErrNotFound
	}
	return u.search, nil
}

func (u *memUpdater) CachedChildren(context.Context, *types.Search) ([]any, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.children == nil {
		return nil, storage.ErrNotFound
	}
	return u.children, nil
}

func (u *memUpdater) IsNewOrStale(context.Context, *types.Search, time.Duration) bool {
	return true
}

func (u *memUpdater) PruneObsoleteData(context.Context) error { return nil }

func newTestProvider(t *testing.T, u *memUpdater) *Provider {
	t.Helper()
	cache, err := sqlite.OpenCache(context.Background(), filepath.Join(t.TempDir(), "AzureData.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	svc := updatesvc.New(cache, u)
	mgr := cachemgr.New(svc, nil, func() config.Config {
		c := config.Defaults()
		c.PeriodicInterval = time.Hour
		return c
	})
	return New(svc, mgr)
}

func querySearch() *types.Search {
	return &types.Search{
		Kind:            types.SearchQuery,
		OrganizationURL: "https://dev.azure.com/contoso",
		Project:         "Tools",
		QueryID:         "q-1",
		Account:         "dev@contoso.com",
	}
}

func TestWarmReadReturnsImmediatelyAndSchedulesRefresh(t *testing.T) {
	u := &memUpdater{kind: types.UpdateQuery}
	u.populate(&storage.Query{ID: 1, DisplayName: "Active Items"},
		&storage.WorkItemRow{WorkItem: storage.WorkItem{ExternalID: 10}})
	p := newTestProvider(t, u)

	rows, err := p.ContentData(context.Background(), querySearch())
	if err != nil {
		t.Fatalf("ContentData: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}

	// The background refresh fires after the cached rows are returned.
	deadline := time.Now().Add(2 * time.Second)
	for u.calls() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("warm read never scheduled a refresh")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestColdMissBlocksUntilRefreshLands(t *testing.T) {
	u := &memUpdater{kind: types.UpdateQuery}
	u.onUpdate = func(context.Context) error {
		u.populate(&storage.Query{ID: 1, DisplayName: "Active Items"},
			&storage.WorkItemRow{WorkItem: storage.WorkItem{ExternalID: 10}},
			&storage.WorkItemRow{WorkItem: storage.WorkItem{ExternalID: 11}})
		return nil
	}
	p := newTestProvider(t, u)

	rows, err := p.ContentData(context.Background(), querySearch())
	if err != nil {
		t.Fatalf("ContentData: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 after refresh", len(rows))
	}
}

func TestColdMissWithFailedRefreshYieldsEmptyResult(t *testing.T) {
	u := &memUpdater{kind: types.UpdateQuery}
	u.onUpdate = func(context.Context) error { return errors.New("remote unreachable") }
	p := newTestProvider(t, u)

	rows, err := p.ContentData(context.Background(), querySearch())
	if err != nil {
		t.Fatalf("ContentData: %v, failed refresh must not surface as read error", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(rows))
	}

	row, err := p.SearchData(context.Background(), querySearch())
	if err != nil || row != nil {
		t.Fatalf("SearchData = (%v, %v), want (nil, nil)", row, err)
	}
}

func TestColdMissHonorsCallerCancellation(t *testing.T) {
	u := &memUpdater{kind: types.UpdateQuery}
	u.onUpdate = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	p := newTestProvider(t, u)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.ContentData(ctx, querySearch())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestRejectsUnknownSearchKind(t *testing.T) {
	p := newTestProvider(t, &memUpdater{kind: types.UpdateQuery})
	s := querySearch()
	s.Kind = "snapshots"
	if _, err := p.ContentData(context.Background(), s); !errors.Is(err, types.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestContentDataAsReturnsTypedRows(t *testing.T) {
	u := &memUpdater{kind: types.UpdateQuery}
	u.populate(&storage.Query{ID: 1},
		&storage.WorkItemRow{WorkItem: storage.WorkItem{ExternalID: 10}, TypeName: "Bug"})
	p := newTestProvider(t, u)

	rows, err := ContentDataAs[*storage.WorkItemRow](context.Background(), p, querySearch())
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].TypeName != "Bug" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestTypedReadRejectsMismatchedRowType(t *testing.T) {
	u := &memUpdater{kind: types.UpdateQuery}
	u.populate(&storage.Query{ID: 1},
		&storage.WorkItemRow{WorkItem: storage.WorkItem{ExternalID: 10}})
	p := newTestProvider(t, u)

	if _, err := ContentDataAs[*storage.Build](context.Background(), p, querySearch()); !errors.Is(err, types.ErrInternal) {
		t.Fatalf("err = %v, want ErrInternal", err)
	}
	if _, _, err := SearchDataAs[*storage.PullRequest](context.Background(), p, querySearch()); !errors.Is(err, types.ErrInternal) {
		t.Fatalf("err = %v, want ErrInternal", err)
	}
}
