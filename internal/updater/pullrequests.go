package updater

import (
	"context"
	"fmt"
	"time"

	"github.com/devpane/azdev/internal/azdo"
	"github.com/devpane/azdev/internal/storage"
	"github.com/devpane/azdev/internal/storage/sqlite"
	"github.com/devpane/azdev/internal/types"
)

// PullRequestUpdater syncs pull request searches. The view picks the
// server-side filter; every fetched PR additionally carries a policy outcome
// derived from its policy evaluations.
type PullRequestUpdater struct {
	deps *Deps
}

// NewPullRequestUpdater wires a pull request updater.
func NewPullRequestUpdater(deps *Deps) *PullRequestUpdater {
	return &PullRequestUpdater{deps: deps}
}

func (u *PullRequestUpdater) Kind() types.UpdateKind { return types.UpdatePullRequests }

// UpdateData syncs one PR search, or all of them when params.Search is nil.
func (u *PullRequestUpdater) UpdateData(ctx context.Context, params types.UpdateParams) error {
	if params.Search == nil {
		return u.deps.forEachSearch(ctx, types.SearchPullRequests, func(s *types.Search) error {
			return u.updateOne(ctx, s)
		})
	}
	return u.updateOne(ctx, params.Search)
}

func (u *PullRequestUpdater) updateOne(ctx context.Context, s *types.Search) error {
	sc, err := u.deps.beginSync(ctx, s)
	if err != nil {
		return err
	}

	remoteRepo, err := sc.conn.Client.GetRepository(ctx, sc.project.Name, s.RepositoryName)
	if err != nil {
		return err
	}

	criteria := azdo.PullRequestCriteria{Status: azdo.PRActive}
	switch s.View {
	case types.PRViewMine:
		criteria.CreatorID = sc.me.ID
	case types.PRViewAssigned:
		criteria.ReviewerID = sc.me.ID
	case types.PRViewAll:
	default:
		return fmt.Errorf("%w: pull request view %q", types.ErrUnsupported, s.View)
	}

	prs, err := sc.conn.Client.GetPullRequests(ctx, sc.project.Name, remoteRepo.ID, criteria)
	if err != nil {
		return err
	}

	type policyOutcome struct {
		status string
		reason string
	}
	outcomes := make(map[int64]policyOutcome, len(prs))
	for _, pr := range prs {
		if err := ctx.Err(); err != nil {
			return err
		}
		artifact := pr.ArtifactID
		if artifact == "" {
			artifact = fmt.Sprintf("vstfs:///CodeReview/CodeReviewId/%s/%d", sc.project.ExternalID, pr.ID)
		}
		evals, err := sc.conn.Client.GetPolicyEvaluations(ctx, sc.project.Name, artifact)
		if err != nil {
			return err
		}
		status, reason := derivePolicyStatus(evals)
		outcomes[pr.ID] = policyOutcome{status: status, reason: reason}
	}

	creators := make([]*azdo.Identity, len(prs))
	for i := range prs {
		creators[i] = &prs[i].CreatedBy
	}
	avatars := fetchMissingAvatars(ctx, sc.conn.Client, u.deps.Cache, creators)

	return u.deps.Cache.RunInTransaction(ctx, func(tx *sqlite.CacheTx) error {
		repoRow, err := tx.UpsertRepository(ctx, &storage.Repository{
			Name:       remoteRepo.Name,
			ExternalID: remoteRepo.ID,
			ProjectID:  sc.project.ID,
			CloneURL:   remoteRepo.RemoteURL,
			IsPrivate:  remoteRepo.IsPrivate(),
		}, sc.syncStart)
		if err != nil {
			return err
		}
		searchRow, err := tx.UpsertPullRequestSearch(ctx, &storage.PullRequestSearch{
			RepositoryID: repoRow.ID,
			Username:     s.Account,
			ProjectID:    sc.project.ID,
			ViewID:       string(s.View),
		}, sc.syncStart)
		if err != nil {
			return err
		}

		for _, pr := range prs {
			if err := ctx.Err(); err != nil {
				return err
			}
			creator, err := upsertIdentityTx(ctx, tx, &pr.CreatedBy, avatars, sc.syncStart)
			if err != nil {
				return err
			}
			created, _ := azdo.ParseTimestamp(pr.CreationDate)
			outcome := outcomes[pr.ID]
			row, err := tx.UpsertPullRequest(ctx, &storage.PullRequest{
				ExternalID:         pr.ID,
				Title:              pr.Title,
				URL:                pr.URL,
				RepositoryID:       repoRow.ID,
				CreatorID:          creator,
				Status:             string(pr.Status),
				PolicyStatus:       outcome.status,
				PolicyStatusReason: outcome.reason,
				TargetBranch:       pr.TargetRefName,
				CreationDate:       storage.ToTicks(created),
				HTMLURL:            fmt.Sprintf("%s/%s/_git/%s/pullrequest/%d", sc.conn.OrganizationURL, sc.project.Name, remoteRepo.Name, pr.ID),
			})
			if err != nil {
				return err
			}
			if err := tx.UpsertPullRequestSearchItem(ctx, searchRow.ID, row.ID, sc.syncStart); err != nil {
				return err
			}
		}

		removed, err := tx.DeleteStalePullRequestSearchItems(ctx, searchRow.ID, sc.syncStart)
		if err != nil {
			return err
		}
		if err := tx.SetOrganizationLastSync(ctx, sc.org.ID, sc.syncStart); err != nil {
			return err
		}
		logDiff(types.SearchPullRequests, s.Name, len(prs), removed)
		return nil
	})
}

// policySeverity ranks outcomes worst-first for the aggregate status.
var policySeverity = map[azdo.PolicyEvaluationStatus]int{
	azdo.PolicyRejected:      0,
	azdo.PolicyBroken:        1,
	azdo.PolicyRunning:       2,
	azdo.PolicyQueued:        3,
	azdo.PolicyApproved:      4,
	azdo.PolicyNotApplicable: 5,
}

// derivePolicyStatus folds a PR's policy evaluations into the worst-severity
// outcome plus a short human reason. Only enabled blocking policies count.
func derivePolicyStatus(evals []azdo.PolicyEvaluation) (status, reason string) {
	worst := azdo.PolicyNotApplicable
	var worstPolicy string
	for _, e := range evals {
		if !e.Configuration.IsEnabled || !e.Configuration.IsBlocking {
			continue
		}
		rank, ok := policySeverity[e.Status]
		if !ok {
			continue
		}
		if rank < policySeverity[worst] {
			worst = e.Status
			worstPolicy = e.Configuration.Type.DisplayName
		}
	}

	switch worst {
	case azdo.PolicyRejected:
		return string(worst), worstPolicy + " rejected"
	case azdo.PolicyBroken:
		return string(worst), worstPolicy + " broken"
	case azdo.PolicyRunning:
		return string(worst), worstPolicy + " running"
	case azdo.PolicyQueued:
		return string(worst), worstPolicy + " queued"
	case azdo.PolicyApproved:
		return string(worst), "All checks passed"
	default:
		return string(azdo.PolicyNotApplicable), ""
	}
}

// locateSearchRow resolves the cached PR search row without the network.
func (u *PullRequestUpdater) locateSearchRow(ctx context.Context, s *types.Search) (*storage.PullRequestSearch, error) {
	project, err := u.deps.locateProject(ctx, s)
	if err != nil {
		return nil, err
	}
	repo, err := u.deps.Cache.GetRepositoryByName(ctx, project.ID, s.RepositoryName)
	if err != nil {
		return nil, err
	}
	return u.deps.Cache.GetPullRequestSearch(ctx, project.ID, repo.ID, s.Account, string(s.View))
}

// CachedSearch returns the PR search parent row.
func (u *PullRequestUpdater) CachedSearch(ctx context.Context, s *types.Search) (any, error) {
	return u.locateSearchRow(ctx, s)
}

// CachedChildren returns the search's pull requests, newest first.
func (u *PullRequestUpdater) CachedChildren(ctx context.Context, s *types.Search) ([]any, error) {
	searchRow, err := u.locateSearchRow(ctx, s)
	if err != nil {
		return nil, err
	}
	rows, err := u.deps.Cache.ListPullRequestsForSearch(ctx, searchRow.ID)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

func (u *PullRequestUpdater) IsNewOrStale(ctx context.Context, s *types.Search, cooldown time.Duration) bool {
	row, err := u.locateSearchRow(ctx, s)
	if err != nil {
		return true
	}
	return stalenessOf(row.TimeUpdated, cooldown)
}

// PruneObsoleteData collects pull requests no search references.
func (u *PullRequestUpdater) PruneObsoleteData(ctx context.Context) error {
	_, err := u.deps.Cache.PruneOrphanPullRequests(ctx)
	return err
}
