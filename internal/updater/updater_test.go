package updater

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/devpane/azdev/internal/auth"
	"github.com/devpane/azdev/internal/azdo"
	"github.com/devpane/azdev/internal/config"
	"github.com/devpane/azdev/internal/repository"
	"github.com/devpane/azdev/internal/storage/sqlite"
	"github.com/devpane/azdev/internal/types"
)

// fakeClient is an in-memory LiveClient. Fields are mutated by tests to shape
// the remote state; call counters verify batching and throttling.
type fakeClient struct {
	mu sync.Mutex

	identity azdo.Identity
	project  azdo.Project

	queries     map[string]*azdo.Query
	queryResult *azdo.WIQLResult
	wiqlResult  *azdo.WIQLResult
	workItems   map[int64]azdo.WorkItem
	types       map[string]*azdo.WorkItemType
	failIDs     map[int64]bool // a chunk containing one of these fails

	repo     *azdo.GitRepository
	prs      []azdo.PullRequest
	policies map[int64][]azdo.PolicyEvaluation

	definition *azdo.BuildDefinition
	builds     []azdo.Build

	workItemCalls   atomic.Int32
	typeCalls       atomic.Int32
	definitionCalls atomic.Int32
	avatarCalls     atomic.Int32
	lastCriteria    azdo.PullRequestCriteria
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		identity: azdo.Identity{ID: "me-guid", DisplayName: "Dev One", UniqueName: "dev@contoso.com"},
		project:  azdo.Project{ID: "proj-guid", Name: "Tools", Visibility: "private"},
		queries:  map[string]*azdo.Query{},
		workItems: map[int64]azdo.WorkItem{},
		types:    map[string]*azdo.WorkItemType{},
		policies: map[int64][]azdo.PolicyEvaluation{},
	}
}

func (f *fakeClient) AuthorizedIdentity(context.Context) (*azdo.Identity, error) {
	id := f.identity
	return &id, nil
}

func (f *fakeClient) GetProject(_ context.Context, name string) (*azdo.Project, error) {
	p := f.project
	return &p, nil
}

func (f *fakeClient) GetQuery(_ context.Context, _, queryID string) (*azdo.Query, error) {
	if q, ok := f.queries[queryID]; ok {
		return q, nil
	}
	return nil, &azdo.RemoteError{Status: 404, Detail: "query " + queryID}
}

func (f *fakeClient) QueryByID(context.Context, string, string) (*azdo.WIQLResult, error) {
	if f.queryResult == nil {
		return nil, &azdo.RemoteError{Status: 404, Detail: "no result"}
	}
	return f.queryResult, nil
}

func (f *fakeClient) QueryByWIQL(context.Context, string, string) (*azdo.WIQLResult, error) {
	if f.wiqlResult == nil {
		return &azdo.WIQLResult{QueryType: azdo.QueryFlat}, nil
	}
	return f.wiqlResult, nil
}

func (f *fakeClient) GetWorkItems(ctx context.Context, _ string, ids []int64) ([]azdo.WorkItem, error) {
	f.workItemCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []azdo.WorkItem
	for _, id := range ids {
		if f.failIDs[id] {
			return nil, &azdo.RemoteError{Status: 500, Detail: "flaky"}
		}
		if it, ok := f.workItems[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeClient) GetWorkItemType(_ context.Context, _, name string) (*azdo.WorkItemType, error) {
	f.typeCalls.Add(1)
	if t, ok := f.types[name]; ok {
		return t, nil
	}
	return &azdo.WorkItemType{Name: name}, nil
}

func (f *fakeClient) GetRepository(context.Context, string, string) (*azdo.GitRepository, error) {
	if f.repo == nil {
		return nil, &azdo.RemoteError{Status: 404, Detail: "no repo"}
	}
	return f.repo, nil
}

func (f *fakeClient) GetPullRequests(_ context.Context, _, _ string, criteria azdo.PullRequestCriteria) ([]azdo.PullRequest, error) {
	f.mu.Lock()
	f.lastCriteria = criteria
	f.mu.Unlock()
	return f.prs, nil
}

func (f *fakeClient) GetPolicyEvaluations(_ context.Context, _, artifactID string) ([]azdo.PolicyEvaluation, error) {
	for prID, evals := range f.policies {
		if strings.HasSuffix(artifactID, fmt.Sprintf("/%d", prID)) {
			return evals, nil
		}
	}
	return nil, nil
}

func (f *fakeClient) GetDefinition(context.Context, string, int64) (*azdo.BuildDefinition, error) {
	f.definitionCalls.Add(1)
	if f.definition == nil {
		return nil, &azdo.RemoteError{Status: 404, Detail: "no definition"}
	}
	return f.definition, nil
}

func (f *fakeClient) GetBuilds(context.Context, string, int64) ([]azdo.Build, error) {
	return f.builds, nil
}

func (f *fakeClient) GetAvatar(context.Context, string) ([]byte, error) {
	f.avatarCalls.Add(1)
	return []byte{0xFF, 0xD8}, nil
}

var _ azdo.LiveClient = (*fakeClient)(nil)

// fakeAuth is a toggleable account provider.
type fakeAuth struct {
	signedIn bool
	login    string
}

func (a *fakeAuth) IsSignedIn() bool { return a.signedIn }
func (a *fakeAuth) DefaultAccount(context.Context) (*auth.Account, error) {
	if !a.signedIn {
		return nil, auth.ErrNoCredentials
	}
	return &auth.Account{Login: a.login}, nil
}
func (a *fakeAuth) SignIn(context.Context) (*auth.Account, error) {
	a.signedIn = true
	return a.DefaultAccount(context.Background())
}
func (a *fakeAuth) SignOut(context.Context) error {
	a.signedIn = false
	return nil
}

type staticTokens struct{}

func (staticTokens) ConnectionToken(context.Context, string, string) (string, error) {
	return "fake-token", nil
}

// newTestDeps wires updater dependencies over temp-file stores and the fake
// client.
func newTestDeps(t *testing.T, client *fakeClient) *Deps {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	cache, err := sqlite.OpenCache(ctx, filepath.Join(dir, "AzureData.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	persistent, err := sqlite.OpenPersistent(ctx, filepath.Join(dir, "PersistentAzureData.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = persistent.Close() })

	pool := azdo.NewConnectionPool(staticTokens{})
	pool.SetClientFactory(func(string, string) azdo.LiveClient { return client })

	validator := repository.ParseOnlyValidator{}
	searches := &repository.Searches{
		Queries:      repository.NewQueryRepository(persistent, validator),
		PullRequests: repository.NewPullRequestSearchRepository(persistent, validator),
		Definitions:  repository.NewDefinitionSearchRepository(persistent, validator),
		Projects:     repository.NewProjectSettingsRepository(persistent, validator),
	}

	return &Deps{
		Cache:    cache,
		Auth:     &fakeAuth{signedIn: true, login: "dev@contoso.com"},
		Pool:     pool,
		Searches: searches,
		Config:   config.Defaults,
	}
}

func testSearch(kind types.SearchKind) *types.Search {
	return &types.Search{
		Kind:            kind,
		Name:            "test",
		OrganizationURL: "https://dev.azure.com/contoso",
		Project:         "Tools",
		Account:         "dev@contoso.com",
	}
}
