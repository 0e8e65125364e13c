package azdo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v4"
)

// PullRequestCriteria is the server-side filter for a pull request listing.
// Zero fields are omitted from the request.
type PullRequestCriteria struct {
	CreatorID  string
	ReviewerID string
	Status     PullRequestStatus
}

// LiveClient is the narrow interface the updaters consume. Every method is
// cancellable through its context and fails with *RemoteError on service
// errors.
type LiveClient interface {
	AuthorizedIdentity(ctx context.Context) (*Identity, error)
	GetProject(ctx context.Context, name string) (*Project, error)
	GetQuery(ctx context.Context, project, queryID string) (*Query, error)
	QueryByID(ctx context.Context, project, queryID string) (*WIQLResult, error)
	QueryByWIQL(ctx context.Context, project, wiql string) (*WIQLResult, error)
	GetWorkItems(ctx context.Context, project string, ids []int64) ([]WorkItem, error)
	GetWorkItemType(ctx context.Context, project, name string) (*WorkItemType, error)
	GetRepository(ctx context.Context, project, name string) (*GitRepository, error)
	GetPullRequests(ctx context.Context, project, repositoryID string, criteria PullRequestCriteria) ([]PullRequest, error)
	GetPolicyEvaluations(ctx context.Context, project, artifactID string) ([]PolicyEvaluation, error)
	GetDefinition(ctx context.Context, project string, definitionID int64) (*BuildDefinition, error)
	GetBuilds(ctx context.Context, project string, definitionID int64) ([]Build, error)
	GetAvatar(ctx context.Context, identityID string) ([]byte, error)
}

// Client calls the Azure DevOps REST API for one organization using a bearer
// connection token obtained from the account broker.
type Client struct {
	BaseURL    string // organization URL, no trailing slash
	HTTPClient *http.Client

	token string
}

var _ LiveClient = (*Client)(nil)

// NewClient creates a client for the given organization URL and token.
func NewClient(organizationURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(organizationURL, "/"),
		token:   token,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// doRequest performs an HTTP request with authentication. GETs are retried
// with exponential backoff on transport errors and 5xx responses; mutating
// verbs are issued once.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = data
	}

	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	reqURL := c.BaseURL + path + separator + "api-version=" + APIVersion

	attempt := func() ([]byte, error) {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, &RemoteError{Detail: err.Error()}
		}
		defer func() { _ = resp.Body.Close() }()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &RemoteError{Detail: "failed to read response: " + err.Error()}
		}
		if resp.StatusCode >= 500 {
			return nil, &RemoteError{Status: resp.StatusCode, Detail: truncate(string(respBody), 512)}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, backoff.Permanent(&RemoteError{Status: resp.StatusCode, Detail: truncate(string(respBody), 512)})
		}
		return respBody, nil
	}

	if method != http.MethodGet {
		return attempt()
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.RetryWithData(attempt, policy)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &RemoteError{Detail: "failed to parse response: " + err.Error()}
	}
	return nil
}

// AuthorizedIdentity resolves the identity the connection token belongs to.
func (c *Client) AuthorizedIdentity(ctx context.Context) (*Identity, error) {
	var resp struct {
		AuthorizedUser Identity `json:"authorizedUser"`
	}
	if err := c.get(ctx, "/_apis/connectionData", &resp); err != nil {
		return nil, err
	}
	return &resp.AuthorizedUser, nil
}

// GetProject retrieves a project by name or GUID.
func (c *Client) GetProject(ctx context.Context, name string) (*Project, error) {
	var p Project
	if err := c.get(ctx, "/_apis/projects/"+url.PathEscape(name), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetQuery retrieves a saved query's metadata.
func (c *Client) GetQuery(ctx context.Context, project, queryID string) (*Query, error) {
	var q Query
	path := fmt.Sprintf("/%s/_apis/wit/queries/%s", url.PathEscape(project), url.PathEscape(queryID))
	if err := c.get(ctx, path, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// QueryByID evaluates a saved query and returns work item references.
func (c *Client) QueryByID(ctx context.Context, project, queryID string) (*WIQLResult, error) {
	var r WIQLResult
	path := fmt.Sprintf("/%s/_apis/wit/wiql/%s", url.PathEscape(project), url.PathEscape(queryID))
	if err := c.get(ctx, path, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// QueryByWIQL evaluates a WIQL literal.
func (c *Client) QueryByWIQL(ctx context.Context, project, wiql string) (*WIQLResult, error) {
	path := fmt.Sprintf("/%s/_apis/wit/wiql", url.PathEscape(project))
	body, err := c.doRequest(ctx, http.MethodPost, path, map[string]string{"query": wiql})
	if err != nil {
		return nil, err
	}
	var r WIQLResult
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &RemoteError{Detail: "failed to parse WIQL response: " + err.Error()}
	}
	return &r, nil
}

// GetWorkItems fetches up to MaxBatchSize work items by id. Callers chunk
// larger id sets themselves.
func (c *Client) GetWorkItems(ctx context.Context, project string, ids []int64) ([]WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("work item batch of %d exceeds limit %d", len(ids), MaxBatchSize)
	}
	idStrings := make([]string, len(ids))
	for i, id := range ids {
		idStrings[i] = fmt.Sprintf("%d", id)
	}
	path := fmt.Sprintf("/%s/_apis/wit/workitems?ids=%s&$expand=links",
		url.PathEscape(project), strings.Join(idStrings, ","))

	var resp listResponse[WorkItem]
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// GetWorkItemType retrieves one work item type by name.
func (c *Client) GetWorkItemType(ctx context.Context, project, name string) (*WorkItemType, error) {
	var t WorkItemType
	path := fmt.Sprintf("/%s/_apis/wit/workitemtypes/%s", url.PathEscape(project), url.PathEscape(name))
	if err := c.get(ctx, path, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetRepository retrieves a git repository by name or GUID.
func (c *Client) GetRepository(ctx context.Context, project, name string) (*GitRepository, error) {
	var r GitRepository
	path := fmt.Sprintf("/%s/_apis/git/repositories/%s", url.PathEscape(project), url.PathEscape(name))
	if err := c.get(ctx, path, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GetPullRequests lists pull requests for a repository with a server-side
// filter derived from the criteria.
func (c *Client) GetPullRequests(ctx context.Context, project, repositoryID string, criteria PullRequestCriteria) ([]PullRequest, error) {
	q := url.Values{}
	if criteria.CreatorID != "" {
		q.Set("searchCriteria.creatorId", criteria.CreatorID)
	}
	if criteria.ReviewerID != "" {
		q.Set("searchCriteria.reviewerId", criteria.ReviewerID)
	}
	if criteria.Status != "" {
		q.Set("searchCriteria.status", string(criteria.Status))
	}
	path := fmt.Sprintf("/%s/_apis/git/repositories/%s/pullrequests", url.PathEscape(project), url.PathEscape(repositoryID))
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp listResponse[PullRequest]
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// GetPolicyEvaluations lists policy evaluations for a pull request artifact.
func (c *Client) GetPolicyEvaluations(ctx context.Context, project, artifactID string) ([]PolicyEvaluation, error) {
	path := fmt.Sprintf("/%s/_apis/policy/evaluations?artifactId=%s",
		url.PathEscape(project), url.QueryEscape(artifactID))
	var resp listResponse[PolicyEvaluation]
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// GetDefinition retrieves a build definition by external id.
func (c *Client) GetDefinition(ctx context.Context, project string, definitionID int64) (*BuildDefinition, error) {
	var d BuildDefinition
	path := fmt.Sprintf("/%s/_apis/build/definitions/%d", url.PathEscape(project), definitionID)
	if err := c.get(ctx, path, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// GetBuilds lists builds for a definition, most recently queued first.
func (c *Client) GetBuilds(ctx context.Context, project string, definitionID int64) ([]Build, error) {
	path := fmt.Sprintf("/%s/_apis/build/builds?definitions=%d&queryOrder=queueTimeDescending", url.PathEscape(project), definitionID)
	var resp listResponse[Build]
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// GetAvatar downloads the avatar image for an identity. The service returns
// raw image bytes rather than a JSON envelope.
func (c *Client) GetAvatar(ctx context.Context, identityID string) ([]byte, error) {
	path := fmt.Sprintf("/_apis/graph/Subjects/%s/avatars", url.PathEscape(identityID))
	return c.doRequest(ctx, http.MethodGet, path, nil)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// ParseWorkItemID extracts the work item id from an edit URL.
// URL format: https://dev.azure.com/org/project/_workitems/edit/123
func ParseWorkItemID(u string) (int64, bool) {
	idx := strings.LastIndex(u, "/")
	if idx == -1 {
		return 0, false
	}
	var id int64
	if _, err := fmt.Sscanf(u[idx+1:], "%d", &id); err != nil {
		return 0, false
	}
	return id, true
}

// WorkItemEditURL builds the browser URL for a work item.
func (c *Client) WorkItemEditURL(project string, id int64) string {
	return fmt.Sprintf("%s/%s/_workitems/edit/%d", c.BaseURL, url.PathEscape(project), id)
}
