package updater

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devpane/azdev/internal/azdo"
	"github.com/devpane/azdev/internal/storage"
	"github.com/devpane/azdev/internal/types"
)

func pipelineSearch() *types.Search {
	s := testSearch(types.SearchPipeline)
	s.DefinitionID = 42
	return s
}

func withDefinition(f *fakeClient) *fakeClient {
	f.definition = &azdo.BuildDefinition{
		ID:          42,
		Name:        "tools-ci",
		CreatedDate: "2026-01-15T00:00:00Z",
		Project:     f.project,
	}
	return f
}

func fakeBuild(id int64, number, queued string) azdo.Build {
	return azdo.Build{
		ID:           id,
		BuildNumber:  number,
		Status:       "completed",
		Result:       "succeeded",
		QueueTime:    queued,
		StartTime:    queued,
		FinishTime:   queued,
		SourceBranch: "refs/heads/main",
		RequestedFor: azdo.Identity{ID: "me-guid", DisplayName: "Dev One", UniqueName: "dev@contoso.com"},
	}
}

func TestPipelineSyncsDefinitionAndBuilds(t *testing.T) {
	ctx := context.Background()
	fake := withDefinition(newFakeClient())
	fake.builds = []azdo.Build{
		fakeBuild(100, "20260822.1", "2026-08-22T08:00:00Z"),
		fakeBuild(101, "20260822.2", "2026-08-22T10:00:00Z"),
	}

	u := NewPipelineUpdater(newTestDeps(t, fake))
	s := pipelineSearch()
	if err := u.UpdateData(ctx, types.UpdateParams{Kind: types.UpdatePipeline, Search: s}); err != nil {
		t.Fatalf("UpdateData: %v", err)
	}

	row, err := u.CachedSearch(ctx, s)
	if err != nil {
		t.Fatalf("CachedSearch: %v", err)
	}
	def := row.(*storage.Definition)
	if def.Name != "tools-ci" || def.ExternalID != 42 {
		t.Fatalf("definition = %+v", def)
	}

	children, err := u.CachedChildren(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 {
		t.Fatalf("builds = %d, want 2", len(children))
	}
	// Most recently queued first.
	if children[0].(*storage.Build).ExternalID != 101 {
		t.Fatalf("first build = %d, want 101", children[0].(*storage.Build).ExternalID)
	}
}

func TestPipelineDefinitionRefreshIsThrottled(t *testing.T) {
	ctx := context.Background()
	fake := withDefinition(newFakeClient())
	fake.builds = []azdo.Build{fakeBuild(100, "20260822.1", "2026-08-22T08:00:00Z")}

	deps := newTestDeps(t, fake)
	u := NewPipelineUpdater(deps)
	s := pipelineSearch()
	params := types.UpdateParams{Kind: types.UpdatePipeline, Search: s}

	if err := u.UpdateData(ctx, params); err != nil {
		t.Fatal(err)
	}
	if err := u.UpdateData(ctx, params); err != nil {
		t.Fatal(err)
	}
	if got := fake.definitionCalls.Load(); got != 1 {
		t.Fatalf("definition fetches = %d, want 1 within threshold", got)
	}

	// Age the cached definition row past the threshold; the next cycle must
	// hit the remote again.
	row, err := u.CachedSearch(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	def := row.(*storage.Definition)
	aged := storage.ToTicks(time.Now().Add(-5 * time.Hour))
	if _, err := deps.Cache.UpsertDefinition(ctx, &storage.Definition{
		ExternalID:   def.ExternalID,
		Name:         def.Name,
		ProjectID:    def.ProjectID,
		CreationDate: def.CreationDate,
		HTMLURL:      def.HTMLURL,
	}, aged); err != nil {
		t.Fatal(err)
	}

	if err := u.UpdateData(ctx, params); err != nil {
		t.Fatal(err)
	}
	if got := fake.definitionCalls.Load(); got != 2 {
		t.Fatalf("definition fetches = %d, want 2 after threshold", got)
	}
}

func TestPipelineBuildsRefreshEveryCycle(t *testing.T) {
	ctx := context.Background()
	fake := withDefinition(newFakeClient())
	fake.builds = []azdo.Build{fakeBuild(100, "20260822.1", "2026-08-22T08:00:00Z")}

	u := NewPipelineUpdater(newTestDeps(t, fake))
	s := pipelineSearch()
	params := types.UpdateParams{Kind: types.UpdatePipeline, Search: s}
	if err := u.UpdateData(ctx, params); err != nil {
		t.Fatal(err)
	}

	fake.builds = append(fake.builds, fakeBuild(101, "20260822.2", "2026-08-22T10:00:00Z"))
	if err := u.UpdateData(ctx, params); err != nil {
		t.Fatal(err)
	}

	children, err := u.CachedChildren(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 2 {
		t.Fatalf("builds = %d, want 2", len(children))
	}
}

func TestPipelinePruneCollectsExpiredBuildsAndOrphans(t *testing.T) {
	ctx := context.Background()
	fake := withDefinition(newFakeClient())
	fake.builds = []azdo.Build{fakeBuild(100, "20260822.1", "2026-08-22T08:00:00Z")}

	deps := newTestDeps(t, fake)
	u := NewPipelineUpdater(deps)
	s := pipelineSearch()
	if err := u.UpdateData(ctx, types.UpdateParams{Kind: types.UpdatePipeline, Search: s}); err != nil {
		t.Fatal(err)
	}

	row, err := u.CachedSearch(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	def := row.(*storage.Definition)
	builds, err := deps.Cache.ListBuildsForDefinition(ctx, def.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Age every build past the retention window.
	aged := storage.ToTicks(time.Now().Add(-8 * 24 * time.Hour))
	for _, b := range builds {
		b.TimeUpdated = 0
		if _, err := deps.Cache.UpsertBuild(ctx, b, aged); err != nil {
			t.Fatal(err)
		}
	}

	if err := u.PruneObsoleteData(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := u.CachedSearch(ctx, s); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("definition lookup after prune = %v, want ErrNotFound", err)
	}
}

func TestPipelineStalenessTracksNewestBuild(t *testing.T) {
	ctx := context.Background()
	fake := withDefinition(newFakeClient())
	fake.builds = []azdo.Build{fakeBuild(100, "20260822.1", "2026-08-22T08:00:00Z")}

	u := NewPipelineUpdater(newTestDeps(t, fake))
	s := pipelineSearch()
	if !u.IsNewOrStale(ctx, s, time.Hour) {
		t.Fatal("cold search must be stale")
	}
	if err := u.UpdateData(ctx, types.UpdateParams{Kind: types.UpdatePipeline, Search: s}); err != nil {
		t.Fatal(err)
	}
	if u.IsNewOrStale(ctx, s, time.Hour) {
		t.Fatal("freshly synced search must not be stale")
	}
}
