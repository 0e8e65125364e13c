// Package types defines the core value types shared across the cache-and-sync
// subsystem: the Search tagged union, update kinds, update parameters, and the
// events emitted as updates terminate.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SearchKind discriminates the closed set of search types. Dispatch to
// updaters is by kind; there is no open subtype hierarchy.
type SearchKind string

const (
	SearchQuery        SearchKind = "query"
	SearchPullRequests SearchKind = "pullrequests"
	SearchPipeline     SearchKind = "pipeline"
	SearchMyWorkItems  SearchKind = "myworkitems"
)

// UpdateKind selects which updaters a dispatch runs.
type UpdateKind string

const (
	UpdateAll          UpdateKind = "all"
	UpdateQuery        UpdateKind = "query"
	UpdatePullRequests UpdateKind = "pullrequests"
	UpdatePipeline     UpdateKind = "pipeline"
	UpdateMyWorkItems  UpdateKind = "myworkitems"
)

// KindFor maps a search kind to the update kind that services it.
func KindFor(sk SearchKind) UpdateKind {
	switch sk {
	case SearchQuery:
		return UpdateQuery
	case SearchPullRequests:
		return UpdatePullRequests
	case SearchPipeline:
		return UpdatePipeline
	case SearchMyWorkItems:
		return UpdateMyWorkItems
	}
	return UpdateAll
}

// PullRequestView selects the server-side filter for a pull request search.
type PullRequestView string

const (
	PRViewMine     PullRequestView = "mine"     // creator = self
	PRViewAssigned PullRequestView = "assigned" // self in reviewers
	PRViewAll      PullRequestView = "all"      // no filter
)

// Search identifies one user-defined or implicit search. Kind selects which
// of the kind-specific fields are meaningful; the rest stay zero.
type Search struct {
	Kind SearchKind

	Name            string // display name
	URL             string // definition URL as the user entered it
	OrganizationURL string // https://dev.azure.com/{org} or on-prem collection URL
	Project         string

	// Account is the login of the signed-in user the search runs as. It
	// scopes cached join rows so two users on one machine do not share
	// result sets.
	Account string

	QueryID      string          // SearchQuery: saved query GUID
	RepositoryName string        // SearchPullRequests: git repository name
	View         PullRequestView // SearchPullRequests
	DefinitionID int64           // SearchPipeline: external definition id
}

// Key returns the natural key used to locate this search's cached parent
// row. Case-insensitive on org and project, matching the remote service.
func (s Search) Key() string {
	base := strings.ToLower(s.OrganizationURL) + "|" + strings.ToLower(s.Project)
	switch s.Kind {
	case SearchQuery:
		return base + "|query:" + strings.ToLower(s.QueryID)
	case SearchPullRequests:
		return base + "|pr:" + strings.ToLower(s.RepositoryName) + ":" + string(s.View)
	case SearchPipeline:
		return fmt.Sprintf("%s|def:%d", base, s.DefinitionID)
	case SearchMyWorkItems:
		return base + "|mywork"
	}
	return base
}

// UpdateParams carries a dispatch request through the DataUpdateService.
// Search is nil for kind-wide dispatches (periodic All updates).
type UpdateParams struct {
	Kind   UpdateKind
	Search *Search
}

// EventKind classifies the single terminal event every dispatch produces.
type EventKind string

const (
	EventUpdated EventKind = "updated"
	EventCancel  EventKind = "cancel"
	EventError   EventKind = "error"
)

// UpdateEvent is delivered to LiveUpdateBus subscribers when a dispatch
// terminates. Err is non-nil only for EventError.
type UpdateEvent struct {
	Kind   EventKind
	Params UpdateParams
	Err    error
	At     time.Time
}

// ErrUnsupported is returned for query kinds the updaters cannot sync
// (temporary queries, unknown WIQL result types).
var ErrUnsupported = errors.New("unsupported")

// ErrValidation is returned for malformed user input (bad URL, unknown
// project). It never reaches the cache; the UI form surfaces it.
var ErrValidation = errors.New("validation failed")

// ErrInternal marks a should-be-unreachable state, such as a recovered panic
// inside a dispatch. Reported as an error event, never swallowed.
var ErrInternal = errors.New("internal invariant violated")
