// Package storage holds the entity types, sentinel errors, and value helpers
// shared by the SQLite cache store and persistent store implementations in
// the sqlite sub-package.
//
// Two stores exist. The cache store materializes remote state and is
// disposable: it is rebuilt whenever its schema version changes and purged on
// sign-out. The persistent store records user intent (saved searches) and
// survives both. Rows carry local monotonic ids; referential integrity is
// enforced here at the entity layer, not with database foreign keys, so the
// two schemas can evolve independently.
package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrInaccessible is returned when the underlying database file cannot be
// opened or recreated. All updater entry points fail fast on it.
var ErrInaccessible = errors.New("data store inaccessible")

// ToTicks converts a wall-clock time to the stored representation: signed
// 64-bit nanoseconds since the Unix epoch, UTC. The zero time maps to zero.
func ToTicks(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

// FromTicks converts a stored tick count back to a UTC time.
func FromTicks(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Organization is a cached Azure DevOps organization (or on-prem collection).
type Organization struct {
	ID           int64
	Name         string
	Connection   string // canonical organization URL, unique
	TimeUpdated  int64
	TimeLastSync int64
}

// Project is a cached team project.
type Project struct {
	ID             int64
	Name           string
	ExternalID     string // project GUID, unique
	Description    string
	OrganizationID int64
	TimeUpdated    int64
}

// Identity is a cached user identity with its avatar.
type Identity struct {
	ID          int64
	Name        string
	ExternalID  string // identity GUID, unique
	Avatar      []byte
	LoginID     string
	TimeUpdated int64
}

// Repository is a cached git repository.
type Repository struct {
	ID          int64
	Name        string
	ExternalID  string
	ProjectID   int64
	CloneURL    string
	IsPrivate   bool
	TimeUpdated int64
}

// Query is a cached query search parent row. Synthesized my-work-items
// queries use external id "my-work-items:{org}|{project}". Uniqueness is
// (ExternalID, Username) so two accounts never share a result set.
type Query struct {
	ID          int64
	ExternalID  string
	DisplayName string
	Username    string
	ProjectID   int64
	TimeUpdated int64
}

// WorkItem is a cached work item.
type WorkItem struct {
	ID             int64
	ExternalID     int64
	Title          string
	HTMLURL        string
	State          string
	Reason         string
	AssignedToID   int64
	CreatedDate    int64
	CreatedByID    int64
	ChangedDate    int64
	ChangedByID    int64
	WorkItemTypeID int64
}

// WorkItemRow is a work item joined with its type name, as read back for
// rendering.
type WorkItemRow struct {
	WorkItem
	TypeName string
}

// WorkItemType is a cached work item type; unique on (Name, ProjectID).
type WorkItemType struct {
	ID          int64
	Name        string
	Icon        string
	Color       string
	Description string
	ProjectID   int64
}

// QueryWorkItem joins a work item into a query's result set. Rows whose
// TimeUpdated predates the sync start are the diff's deletions.
type QueryWorkItem struct {
	ID          int64
	QueryID     int64
	WorkItemID  int64
	TimeUpdated int64
}

// PullRequestSearch is a cached PR search parent row; unique on
// (ProjectID, RepositoryID, Username, ViewID).
type PullRequestSearch struct {
	ID           int64
	RepositoryID int64
	Username     string
	ProjectID    int64
	ViewID       string
	TimeUpdated  int64
}

// PullRequest is a cached pull request with its derived policy outcome.
type PullRequest struct {
	ID                 int64
	ExternalID         int64
	Title              string
	URL                string
	RepositoryID       int64
	CreatorID          int64
	Status             string
	PolicyStatus       string
	PolicyStatusReason string
	TargetBranch       string
	CreationDate       int64
	HTMLURL            string
}

// PullRequestSearchPullRequest joins a PR into a search's result set.
type PullRequestSearchPullRequest struct {
	ID            int64
	SearchID      int64
	PullRequestID int64
	TimeUpdated   int64
}

// Definition is a cached pipeline definition, externally identified by an
// integer. Re-upsert is throttled by the definition update threshold.
type Definition struct {
	ID           int64
	ExternalID   int64
	Name         string
	ProjectID    int64
	CreationDate int64
	HTMLURL      string
	TimeUpdated  int64
}

// Build is one cached run of a definition.
type Build struct {
	ID             int64
	ExternalID     int64
	BuildNumber    string
	Status         string
	Result         string
	QueueTime      int64
	StartTime      int64
	FinishTime     int64
	URL            string
	DefinitionID   int64
	SourceBranch   string
	TriggerMessage string
	RequesterID    int64
	TimeUpdated    int64
}

// QueryDef is a persisted work item query search definition.
type QueryDef struct {
	ID         int64
	Name       string
	URL        string
	IsTopLevel bool
}

// PullRequestSearchDef is a persisted pull request search definition.
type PullRequestSearchDef struct {
	ID         int64
	URL        string
	Name       string
	View       string // mine, assigned, all
	IsTopLevel bool
}

// DefinitionSearchDef is a persisted pipeline definition search.
type DefinitionSearchDef struct {
	ID         int64
	Name       string
	ExternalID int64
	URL        string
	IsTopLevel bool
}

// ProjectSettings pins an (organization, project) pair; each row implicitly
// defines a my-work-items search.
type ProjectSettings struct {
	ID              int64
	OrganizationURL string
	ProjectName     string
}
