// Package azdo wraps the Azure DevOps REST API behind the narrow LiveClient
// interface the updaters consume. Only the read surface the cache needs is
// exposed; everything else on the service is out of scope.
package azdo

import (
	"fmt"
	"time"
)

// API constants
const (
	DefaultTimeout = 30 * time.Second
	MaxBatchSize   = 200 // work item batch get limit enforced by the service
	APIVersion     = "7.0"
)

// RemoteError reports a failed call to the remote service. Status is zero
// for transport-level failures that never produced an HTTP response.
type RemoteError struct {
	Status int
	Detail string
}

func (e *RemoteError) Error() string {
	if e.Status == 0 {
		return "remote error: " + e.Detail
	}
	return fmt.Sprintf("remote error %d: %s", e.Status, e.Detail)
}

// QueryType is the evaluation shape of a saved work item query.
type QueryType string

const (
	QueryFlat   QueryType = "flat"
	QueryTree   QueryType = "tree"
	QueryOneHop QueryType = "oneHop"
)

// Query is a saved work item query's metadata.
type Query struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	QueryType   QueryType `json:"queryType"`
	IsPublic    bool      `json:"isPublic"`
	HasChildren bool      `json:"hasChildren"`
}

// WorkItemRef is a reference to a work item in WIQL results.
type WorkItemRef struct {
	ID  int64  `json:"id"`
	URL string `json:"url"`
}

// WorkItemLink is a source/target pair in tree and one-hop WIQL results.
type WorkItemLink struct {
	Source *WorkItemRef `json:"source,omitempty"`
	Target *WorkItemRef `json:"target"`
	Rel    string       `json:"rel,omitempty"`
}

// WIQLResult is the outcome of evaluating a query (saved or literal WIQL).
// Flat queries populate WorkItems; tree and one-hop queries populate
// WorkItemRelations instead.
type WIQLResult struct {
	QueryType         QueryType      `json:"queryType"`
	AsOf              string         `json:"asOf"`
	WorkItems         []WorkItemRef  `json:"workItems"`
	WorkItemRelations []WorkItemLink `json:"workItemRelations,omitempty"`
}

// WorkItem is an Azure DevOps work item with the fields the cache mirrors.
type WorkItem struct {
	ID     int64          `json:"id"`
	Rev    int            `json:"rev"`
	URL    string         `json:"url"`
	Fields WorkItemFields `json:"fields"`
	Links  *ResourceLinks `json:"_links,omitempty"`
}

// WorkItemFields contains the work item field values keyed by reference name.
type WorkItemFields struct {
	Title        string    `json:"System.Title"`
	State        string    `json:"System.State"`
	Reason       string    `json:"System.Reason"`
	WorkItemType string    `json:"System.WorkItemType"`
	AssignedTo   *Identity `json:"System.AssignedTo,omitempty"`
	CreatedBy    *Identity `json:"System.CreatedBy,omitempty"`
	ChangedBy    *Identity `json:"System.ChangedBy,omitempty"`
	CreatedDate  string    `json:"System.CreatedDate"`
	ChangedDate  string    `json:"System.ChangedDate"`
}

// HTMLURL returns the browser link for the work item, falling back to the
// API URL when the hypermedia section is absent.
func (w *WorkItem) HTMLURL() string {
	if w.Links != nil && w.Links.HTML.Href != "" {
		return w.Links.HTML.Href
	}
	return w.URL
}

// WorkItemType describes one work item type within a project.
type WorkItemType struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Icon        Icon   `json:"icon"`
}

// Icon is a work item type icon reference.
type Icon struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Identity represents a user identity on the service.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// Project is a team project.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	State       string `json:"state"`
	Visibility  string `json:"visibility"`
}

// GitRepository is a git repository within a project.
type GitRepository struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	RemoteURL string  `json:"remoteUrl"`
	WebURL    string  `json:"webUrl"`
	Project   Project `json:"project"`
}

// IsPrivate reports whether the owning project is non-public.
func (r *GitRepository) IsPrivate() bool {
	return r.Project.Visibility != "public"
}

// PullRequestStatus is the lifecycle state of a pull request.
type PullRequestStatus string

const (
	PRActive    PullRequestStatus = "active"
	PRAbandoned PullRequestStatus = "abandoned"
	PRCompleted PullRequestStatus = "completed"
)

// PullRequest is a pull request with the fields the cache mirrors.
type PullRequest struct {
	ID            int64             `json:"pullRequestId"`
	Title         string            `json:"title"`
	Status        PullRequestStatus `json:"status"`
	CreatedBy     Identity          `json:"createdBy"`
	CreationDate  string            `json:"creationDate"`
	SourceRefName string            `json:"sourceRefName"`
	TargetRefName string            `json:"targetRefName"`
	URL           string            `json:"url"`
	Repository    GitRepository     `json:"repository"`
	ArtifactID    string            `json:"artifactId"`
}

// PolicyEvaluationStatus is a single policy's outcome for a pull request.
type PolicyEvaluationStatus string

const (
	PolicyApproved      PolicyEvaluationStatus = "approved"
	PolicyRunning       PolicyEvaluationStatus = "running"
	PolicyQueued        PolicyEvaluationStatus = "queued"
	PolicyRejected      PolicyEvaluationStatus = "rejected"
	PolicyBroken        PolicyEvaluationStatus = "broken"
	PolicyNotApplicable PolicyEvaluationStatus = "notApplicable"
)

// PolicyEvaluation is the service's assessment of one policy against a PR.
type PolicyEvaluation struct {
	EvaluationID  string                 `json:"evaluationId"`
	Status        PolicyEvaluationStatus `json:"status"`
	Configuration PolicyConfiguration    `json:"configuration"`
}

// PolicyConfiguration carries the policy's display info.
type PolicyConfiguration struct {
	IsBlocking bool       `json:"isBlocking"`
	IsEnabled  bool       `json:"isEnabled"`
	Type       PolicyType `json:"type"`
}

// PolicyType names a policy kind ("Build", "Minimum number of reviewers", ...).
type PolicyType struct {
	DisplayName string `json:"displayName"`
}

// BuildDefinition is a pipeline definition.
type BuildDefinition struct {
	ID           int64          `json:"id"`
	Name         string         `json:"name"`
	URL          string         `json:"url"`
	CreatedDate  string         `json:"createdDate"`
	Project      Project        `json:"project"`
	Links        *ResourceLinks `json:"_links,omitempty"`
}

// HTMLURL returns the browser link for the definition.
func (d *BuildDefinition) HTMLURL() string {
	if d.Links != nil && d.Links.Web.Href != "" {
		return d.Links.Web.Href
	}
	return d.URL
}

// Build is one run of a pipeline definition.
type Build struct {
	ID             int64    `json:"id"`
	BuildNumber    string   `json:"buildNumber"`
	Status         string   `json:"status"` // notStarted, inProgress, completed, ...
	Result         string   `json:"result"` // succeeded, failed, canceled, ...
	QueueTime      string   `json:"queueTime"`
	StartTime      string   `json:"startTime"`
	FinishTime     string   `json:"finishTime"`
	URL          string            `json:"url"`
	SourceBranch string            `json:"sourceBranch"`
	TriggerInfo  map[string]string `json:"triggerInfo"`
	RequestedFor Identity          `json:"requestedFor"`
	Definition   struct {
		ID int64 `json:"id"`
	} `json:"definition"`
}

// TriggerMessage returns the CI trigger message, if the build carries one.
func (b *Build) TriggerMessage() string {
	return b.TriggerInfo["ci.message"]
}

// ResourceLinks is the _links hypermedia section common to API resources.
type ResourceLinks struct {
	Self Link `json:"self"`
	HTML Link `json:"html"`
	Web  Link `json:"web"`
}

// Link is a hypermedia link.
type Link struct {
	Href string `json:"href"`
}

// listResponse is the generic {count, value} envelope list endpoints return.
type listResponse[T any] struct {
	Count int `json:"count"`
	Value []T `json:"value"`
}

// ParseTimestamp parses the timestamp formats the service emits.
func ParseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	formats := []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05.0000000Z",
		"2006-01-02T15:04:05Z",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %s", ts)
}
