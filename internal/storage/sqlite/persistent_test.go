package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/devpane/azdev/internal/storage"
)

func openTestPersistent(t *testing.T) *PersistentStore {
	t.Helper()
	store, err := OpenPersistent(context.Background(), filepath.Join(t.TempDir(), "PersistentAzureData.db"))
	if err != nil {
		t.Fatalf("OpenPersistent: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestQueryDefUpsertByURL(t *testing.T) {
	ctx := context.Background()
	store := openTestPersistent(t)
	url := "https://dev.azure.com/contoso/Tools/_queries/query/aaaa"

	first, err := store.UpsertQueryDef(ctx, &storage.QueryDef{Name: "Bugs", URL: url})
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.UpsertQueryDef(ctx, &storage.QueryDef{Name: "Bugs Renamed", URL: url})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatalf("upsert created a second row: %d vs %d", second.ID, first.ID)
	}
	if second.Name != "Bugs Renamed" {
		t.Fatalf("name not refreshed: %q", second.Name)
	}

	defs, err := store.ListQueryDefs(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 1 {
		t.Fatalf("defs = %d, want 1", len(defs))
	}
}

func TestQueryDefTopLevelFilter(t *testing.T) {
	ctx := context.Background()
	store := openTestPersistent(t)

	if _, err := store.UpsertQueryDef(ctx, &storage.QueryDef{Name: "a", URL: "https://dev.azure.com/c/p/_queries/query/a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertQueryDef(ctx, &storage.QueryDef{Name: "b", URL: "https://dev.azure.com/c/p/_queries/query/b", IsTopLevel: true}); err != nil {
		t.Fatal(err)
	}

	pinned, err := store.ListQueryDefs(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(pinned) != 1 || pinned[0].Name != "b" {
		t.Fatalf("pinned = %+v", pinned)
	}

	if err := store.SetQueryDefTopLevel(ctx, "https://dev.azure.com/c/p/_queries/query/a", true); err != nil {
		t.Fatal(err)
	}
	pinned, _ = store.ListQueryDefs(ctx, true)
	if len(pinned) != 2 {
		t.Fatalf("pinned after set = %d", len(pinned))
	}
}

func TestRemoveMissingDefFailsNotFound(t *testing.T) {
	ctx := context.Background()
	store := openTestPersistent(t)

	if err := store.RemoveQueryDef(ctx, "https://dev.azure.com/c/p/_queries/query/missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := store.RemovePullRequestSearchDef(ctx, "u", "mine"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := store.RemoveDefinitionSearchDef(ctx, "u", 7); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := store.RemoveProjectSettings(ctx, "https://dev.azure.com/c", "P"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPullRequestSearchDefKeyedByURLAndView(t *testing.T) {
	ctx := context.Background()
	store := openTestPersistent(t)
	url := "https://dev.azure.com/contoso/Tools/_git/tools"

	mine, err := store.UpsertPullRequestSearchDef(ctx, &storage.PullRequestSearchDef{URL: url, Name: "Mine", View: "mine"})
	if err != nil {
		t.Fatal(err)
	}
	all, err := store.UpsertPullRequestSearchDef(ctx, &storage.PullRequestSearchDef{URL: url, Name: "All", View: "all"})
	if err != nil {
		t.Fatal(err)
	}
	if mine.ID == all.ID {
		t.Fatal("distinct views share one row")
	}

	if err := store.RemovePullRequestSearchDef(ctx, url, "mine"); err != nil {
		t.Fatal(err)
	}
	defs, _ := store.ListPullRequestSearchDefs(ctx, false)
	if len(defs) != 1 || defs[0].View != "all" {
		t.Fatalf("defs = %+v", defs)
	}
}

func TestProjectSettingsUpsert(t *testing.T) {
	ctx := context.Background()
	store := openTestPersistent(t)

	first, err := store.UpsertProjectSettings(ctx, &storage.ProjectSettings{
		OrganizationURL: "https://dev.azure.com/contoso", ProjectName: "Tools",
	})
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.UpsertProjectSettings(ctx, &storage.ProjectSettings{
		OrganizationURL: "https://dev.azure.com/contoso", ProjectName: "Tools",
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID {
		t.Fatal("pin duplicated")
	}
}

// Reopening the persistent store must keep existing rows; its schema only
// migrates additively.
func TestPersistentSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "PersistentAzureData.db")

	store, err := OpenPersistent(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.UpsertQueryDef(ctx, &storage.QueryDef{Name: "a", URL: "https://dev.azure.com/c/p/_queries/query/a"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store, err = OpenPersistent(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	defs, err := store.ListQueryDefs(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 1 {
		t.Fatalf("defs after reopen = %d", len(defs))
	}
}
