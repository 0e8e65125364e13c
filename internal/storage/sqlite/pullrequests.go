package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/devpane/azdev/internal/storage"
)

// UpsertPullRequestSearch upserts a PR search parent row keyed by
// (project_id, repository_id, username, view_id).
func (c *cacheConn) UpsertPullRequestSearch(ctx context.Context, s *storage.PullRequestSearch, now int64) (*storage.PullRequestSearch, error) {
	row := c.q.QueryRowContext(ctx, `
		INSERT INTO pull_request_searches (repository_id, username, project_id, view_id, time_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id, repository_id, username, view_id) DO UPDATE SET
			time_updated = excluded.time_updated
		RETURNING id, repository_id, username, project_id, view_id, time_updated`,
		s.RepositoryID, s.Username, s.ProjectID, s.ViewID, now)
	var out storage.PullRequestSearch
	if err := row.Scan(&out.ID, &out.RepositoryID, &out.Username, &out.ProjectID, &out.ViewID, &out.TimeUpdated); err != nil {
		return nil, fmt.Errorf("upserting pull request search: %w", err)
	}
	return &out, nil
}

// GetPullRequestSearch looks up a PR search row by its natural key.
func (c *cacheConn) GetPullRequestSearch(ctx context.Context, projectID, repositoryID int64, username, viewID string) (*storage.PullRequestSearch, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, repository_id, username, project_id, view_id, time_updated
		FROM pull_request_searches
		WHERE project_id = ? AND repository_id = ? AND username = ? AND view_id = ?`,
		projectID, repositoryID, username, viewID)
	var s storage.PullRequestSearch
	err := row.Scan(&s.ID, &s.RepositoryID, &s.Username, &s.ProjectID, &s.ViewID, &s.TimeUpdated)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading pull request search: %w", err)
	}
	return &s, nil
}

// UpsertPullRequest upserts a pull request keyed by external id.
func (c *cacheConn) UpsertPullRequest(ctx context.Context, p *storage.PullRequest) (*storage.PullRequest, error) {
	row := c.q.QueryRowContext(ctx, `
		INSERT INTO pull_requests (external_id, title, url, repository_id, creator_id, status,
			policy_status, policy_status_reason, target_branch, creation_date, html_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			repository_id = excluded.repository_id,
			creator_id = excluded.creator_id,
			status = excluded.status,
			policy_status = excluded.policy_status,
			policy_status_reason = excluded.policy_status_reason,
			target_branch = excluded.target_branch,
			creation_date = excluded.creation_date,
			html_url = excluded.html_url
		RETURNING id, external_id, title, url, repository_id, creator_id, status,
			policy_status, policy_status_reason, target_branch, creation_date, html_url`,
		p.ExternalID, p.Title, p.URL, p.RepositoryID, p.CreatorID, p.Status,
		p.PolicyStatus, p.PolicyStatusReason, p.TargetBranch, p.CreationDate, p.HTMLURL)
	var out storage.PullRequest
	if err := row.Scan(&out.ID, &out.ExternalID, &out.Title, &out.URL, &out.RepositoryID, &out.CreatorID,
		&out.Status, &out.PolicyStatus, &out.PolicyStatusReason, &out.TargetBranch, &out.CreationDate, &out.HTMLURL); err != nil {
		return nil, fmt.Errorf("upserting pull request %d: %w", p.ExternalID, err)
	}
	return &out, nil
}

// UpsertPullRequestSearchItem refreshes the (search, PR) join row timestamp.
func (c *cacheConn) UpsertPullRequestSearchItem(ctx context.Context, searchID, pullRequestID, now int64) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO pull_request_search_pull_requests (search_id, pull_request_id, time_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(search_id, pull_request_id) DO UPDATE SET time_updated = excluded.time_updated`,
		searchID, pullRequestID, now)
	if err != nil {
		return fmt.Errorf("upserting pull request search join: %w", err)
	}
	return nil
}

// DeleteStalePullRequestSearchItems removes join rows for one search whose
// timestamp predates the sync start.
func (c *cacheConn) DeleteStalePullRequestSearchItems(ctx context.Context, searchID, cutoff int64) (int64, error) {
	res, err := c.q.ExecContext(ctx,
		"DELETE FROM pull_request_search_pull_requests WHERE search_id = ? AND time_updated < ?", searchID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting stale pull request search items: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListPullRequestsForSearch returns the PRs joined into a search, ordered by
// creation date descending then join freshness descending.
func (c *cacheConn) ListPullRequestsForSearch(ctx context.Context, searchID int64) ([]*storage.PullRequest, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT p.id, p.external_id, p.title, p.url, p.repository_id, p.creator_id, p.status,
			p.policy_status, p.policy_status_reason, p.target_branch, p.creation_date, p.html_url
		FROM pull_request_search_pull_requests j
		JOIN pull_requests p ON p.id = j.pull_request_id
		WHERE j.search_id = ?
		ORDER BY p.creation_date DESC, j.time_updated DESC`, searchID)
	if err != nil {
		return nil, fmt.Errorf("listing pull requests for search: %w", err)
	}
	defer rows.Close()

	var out []*storage.PullRequest
	for rows.Next() {
		var p storage.PullRequest
		if err := rows.Scan(&p.ID, &p.ExternalID, &p.Title, &p.URL, &p.RepositoryID, &p.CreatorID,
			&p.Status, &p.PolicyStatus, &p.PolicyStatusReason, &p.TargetBranch, &p.CreationDate, &p.HTMLURL); err != nil {
			return nil, fmt.Errorf("scanning pull request row: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// PruneOrphanPullRequests deletes PRs referenced by no join row.
func (c *cacheConn) PruneOrphanPullRequests(ctx context.Context) (int64, error) {
	res, err := c.q.ExecContext(ctx,
		"DELETE FROM pull_requests WHERE id NOT IN (SELECT pull_request_id FROM pull_request_search_pull_requests)")
	if err != nil {
		return 0, fmt.Errorf("pruning orphan pull requests: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
