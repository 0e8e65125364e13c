package updater

import (
	"context"
	"errors"
	"testing"

	"github.com/devpane/azdev/internal/azdo"
	"github.com/devpane/azdev/internal/storage"
	"github.com/devpane/azdev/internal/types"
)

func prSearch(view types.PullRequestView) *types.Search {
	s := testSearch(types.SearchPullRequests)
	s.RepositoryName = "tools-repo"
	s.View = view
	return s
}

func withRepo(f *fakeClient) *fakeClient {
	f.repo = &azdo.GitRepository{
		ID:        "repo-guid",
		Name:      "tools-repo",
		RemoteURL: "https://dev.azure.com/contoso/Tools/_git/tools-repo",
		Project:   f.project,
	}
	return f
}

func fakePR(id int64, title, created string) azdo.PullRequest {
	return azdo.PullRequest{
		ID:            id,
		Title:         title,
		Status:        azdo.PRActive,
		CreatedBy:     azdo.Identity{ID: "me-guid", DisplayName: "Dev One", UniqueName: "dev@contoso.com"},
		CreationDate:  created,
		TargetRefName: "refs/heads/main",
	}
}

func TestPullRequestViewSelectsCriteria(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		view         types.PullRequestView
		wantCreator  string
		wantReviewer string
	}{
		{types.PRViewMine, "me-guid", ""},
		{types.PRViewAssigned, "", "me-guid"},
		{types.PRViewAll, "", ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.view), func(t *testing.T) {
			fake := withRepo(newFakeClient())
			u := NewPullRequestUpdater(newTestDeps(t, fake))
			s := prSearch(tt.view)
			if err := u.UpdateData(ctx, types.UpdateParams{Kind: types.UpdatePullRequests, Search: s}); err != nil {
				t.Fatalf("UpdateData: %v", err)
			}
			fake.mu.Lock()
			got := fake.lastCriteria
			fake.mu.Unlock()
			if got.CreatorID != tt.wantCreator || got.ReviewerID != tt.wantReviewer {
				t.Fatalf("criteria = %+v", got)
			}
			if got.Status != azdo.PRActive {
				t.Fatalf("status = %q, want active", got.Status)
			}
		})
	}
}

func TestPullRequestRejectsUnknownView(t *testing.T) {
	u := NewPullRequestUpdater(newTestDeps(t, withRepo(newFakeClient())))
	s := prSearch("drafts")
	err := u.UpdateData(context.Background(), types.UpdateParams{Kind: types.UpdatePullRequests, Search: s})
	if !errors.Is(err, types.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestPullRequestSyncAppliesPolicyStatus(t *testing.T) {
	ctx := context.Background()
	fake := withRepo(newFakeClient())
	fake.prs = []azdo.PullRequest{fakePR(42, "Fix flaky watcher", "2026-08-22T09:00:00Z")}
	fake.policies[42] = []azdo.PolicyEvaluation{
		{
			Status:        azdo.PolicyApproved,
			Configuration: azdo.PolicyConfiguration{IsEnabled: true, IsBlocking: true, Type: azdo.PolicyType{DisplayName: "Minimum number of reviewers"}},
		},
		{
			Status:        azdo.PolicyRunning,
			Configuration: azdo.PolicyConfiguration{IsEnabled: true, IsBlocking: true, Type: azdo.PolicyType{DisplayName: "Build"}},
		},
	}

	u := NewPullRequestUpdater(newTestDeps(t, fake))
	s := prSearch(types.PRViewAll)
	if err := u.UpdateData(ctx, types.UpdateParams{Kind: types.UpdatePullRequests, Search: s}); err != nil {
		t.Fatalf("UpdateData: %v", err)
	}

	children, err := u.CachedChildren(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 {
		t.Fatalf("children = %d, want 1", len(children))
	}
	pr := children[0].(*storage.PullRequest)
	if pr.PolicyStatus != string(azdo.PolicyRunning) {
		t.Fatalf("policy status = %q, want running", pr.PolicyStatus)
	}
	if pr.PolicyStatusReason != "Build running" {
		t.Fatalf("policy reason = %q", pr.PolicyStatusReason)
	}
	if pr.HTMLURL != "https://dev.azure.com/contoso/Tools/_git/tools-repo/pullrequest/42" {
		t.Fatalf("html url = %q", pr.HTMLURL)
	}
}

func TestPullRequestResyncRemovesMergedRows(t *testing.T) {
	ctx := context.Background()
	fake := withRepo(newFakeClient())
	fake.prs = []azdo.PullRequest{
		fakePR(1, "first", "2026-08-20T09:00:00Z"),
		fakePR(2, "second", "2026-08-21T09:00:00Z"),
	}

	u := NewPullRequestUpdater(newTestDeps(t, fake))
	s := prSearch(types.PRViewAll)
	params := types.UpdateParams{Kind: types.UpdatePullRequests, Search: s}
	if err := u.UpdateData(ctx, params); err != nil {
		t.Fatal(err)
	}

	fake.prs = fake.prs[1:]
	if err := u.UpdateData(ctx, params); err != nil {
		t.Fatal(err)
	}
	if err := u.PruneObsoleteData(ctx); err != nil {
		t.Fatal(err)
	}

	children, err := u.CachedChildren(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].(*storage.PullRequest).ExternalID != 2 {
		t.Fatalf("children = %v, want only PR 2", children)
	}
}

func TestPullRequestChildrenNewestFirst(t *testing.T) {
	ctx := context.Background()
	fake := withRepo(newFakeClient())
	fake.prs = []azdo.PullRequest{
		fakePR(1, "old", "2026-08-18T09:00:00Z"),
		fakePR(2, "new", "2026-08-22T09:00:00Z"),
		fakePR(3, "middle", "2026-08-20T09:00:00Z"),
	}

	u := NewPullRequestUpdater(newTestDeps(t, fake))
	s := prSearch(types.PRViewAll)
	if err := u.UpdateData(ctx, types.UpdateParams{Kind: types.UpdatePullRequests, Search: s}); err != nil {
		t.Fatal(err)
	}
	children, err := u.CachedChildren(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	var ids []int64
	for _, c := range children {
		ids = append(ids, c.(*storage.PullRequest).ExternalID)
	}
	if len(ids) != 3 || ids[0] != 2 || ids[1] != 3 || ids[2] != 1 {
		t.Fatalf("order = %v, want [2 3 1]", ids)
	}
}

func TestDerivePolicyStatus(t *testing.T) {
	blocking := func(status azdo.PolicyEvaluationStatus, name string) azdo.PolicyEvaluation {
		return azdo.PolicyEvaluation{
			Status:        status,
			Configuration: azdo.PolicyConfiguration{IsEnabled: true, IsBlocking: true, Type: azdo.PolicyType{DisplayName: name}},
		}
	}
	tests := []struct {
		name       string
		evals      []azdo.PolicyEvaluation
		wantStatus string
		wantReason string
	}{
		{
			name:       "no evaluations",
			wantStatus: string(azdo.PolicyNotApplicable),
			wantReason: "",
		},
		{
			name:       "all approved",
			evals:      []azdo.PolicyEvaluation{blocking(azdo.PolicyApproved, "Build")},
			wantStatus: string(azdo.PolicyApproved),
			wantReason: "All checks passed",
		},
		{
			name: "rejected outranks running",
			evals: []azdo.PolicyEvaluation{
				blocking(azdo.PolicyRunning, "Build"),
				blocking(azdo.PolicyRejected, "Minimum number of reviewers"),
			},
			wantStatus: string(azdo.PolicyRejected),
			wantReason: "Minimum number of reviewers rejected",
		},
		{
			name: "broken outranks queued",
			evals: []azdo.PolicyEvaluation{
				blocking(azdo.PolicyQueued, "Build"),
				blocking(azdo.PolicyBroken, "Status check"),
			},
			wantStatus: string(azdo.PolicyBroken),
			wantReason: "Status check broken",
		},
		{
			name: "non-blocking ignored",
			evals: []azdo.PolicyEvaluation{
				{
					Status:        azdo.PolicyRejected,
					Configuration: azdo.PolicyConfiguration{IsEnabled: true, IsBlocking: false, Type: azdo.PolicyType{DisplayName: "Comment requirements"}},
				},
				blocking(azdo.PolicyApproved, "Build"),
			},
			wantStatus: string(azdo.PolicyApproved),
			wantReason: "All checks passed",
		},
		{
			name: "disabled ignored",
			evals: []azdo.PolicyEvaluation{
				{
					Status:        azdo.PolicyBroken,
					Configuration: azdo.PolicyConfiguration{IsEnabled: false, IsBlocking: true, Type: azdo.PolicyType{DisplayName: "Build"}},
				},
			},
			wantStatus: string(azdo.PolicyNotApplicable),
			wantReason: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, reason := derivePolicyStatus(tt.evals)
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Fatalf("got (%q, %q), want (%q, %q)", status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}
