// Package repository exposes the four search-definition repositories backed
// by the persistent store: saved queries, pull request searches, pipeline
// definition searches, and pinned projects. Writes validate user input
// through an injected Validator before touching the store.
package repository

import (
	"context"
	"fmt"

	"github.com/devpane/azdev/internal/azdo"
	"github.com/devpane/azdev/internal/debug"
	"github.com/devpane/azdev/internal/storage"
	"github.com/devpane/azdev/internal/storage/sqlite"
	"github.com/devpane/azdev/internal/types"
)

// Validator checks a definition URL before it is persisted. Implementations
// return an error wrapping types.ErrValidation for anything a user can fix.
type Validator interface {
	Validate(ctx context.Context, url string) error
}

// LiveValidator validates against the remote service: the URL must parse and
// the project it names must be reachable for the signed-in account.
type LiveValidator struct {
	Pool    *azdo.ConnectionPool
	Account string
}

// Validate parses the URL and confirms the project exists remotely.
func (v *LiveValidator) Validate(ctx context.Context, url string) error {
	info, err := azdo.ParseResourceURL(url)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	conn, err := v.Pool.Get(ctx, info.OrganizationURL, v.Account)
	if err != nil {
		return fmt.Errorf("%w: connecting to %s: %v", types.ErrValidation, info.OrganizationURL, err)
	}
	if _, err := conn.Client.GetProject(ctx, info.Project); err != nil {
		return fmt.Errorf("%w: project %q not reachable: %v", types.ErrValidation, info.Project, err)
	}
	return nil
}

// ParseOnlyValidator accepts any URL that decomposes into an organization and
// project. Used when offline or in tests.
type ParseOnlyValidator struct{}

func (ParseOnlyValidator) Validate(_ context.Context, url string) error {
	if _, err := azdo.ParseResourceURL(url); err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	return nil
}

// QueryRepository persists saved work item query definitions.
type QueryRepository struct {
	store     *sqlite.PersistentStore
	validator Validator
}

// NewQueryRepository wires a query repository.
func NewQueryRepository(store *sqlite.PersistentStore, v Validator) *QueryRepository {
	return &QueryRepository{store: store, validator: v}
}

// GetAll lists definitions, optionally only pinned ones.
func (r *QueryRepository) GetAll(ctx context.Context, topLevelOnly bool) ([]*storage.QueryDef, error) {
	return r.store.ListQueryDefs(ctx, topLevelOnly)
}

// AddOrUpdate validates then upserts by URL.
func (r *QueryRepository) AddOrUpdate(ctx context.Context, d *storage.QueryDef) (*storage.QueryDef, error) {
	if err := r.validator.Validate(ctx, d.URL); err != nil {
		return nil, err
	}
	info, err := azdo.ParseResourceURL(d.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if info.QueryID == "" {
		return nil, fmt.Errorf("%w: url does not name a saved query", types.ErrValidation)
	}
	debug.Logf("repository: saving query %q", d.Name)
	return r.store.UpsertQueryDef(ctx, d)
}

// Remove deletes by URL; storage.ErrNotFound when absent.
func (r *QueryRepository) Remove(ctx context.Context, url string) error {
	return r.store.RemoveQueryDef(ctx, url)
}

// SetTopLevel pins or unpins a definition.
func (r *QueryRepository) SetTopLevel(ctx context.Context, url string, topLevel bool) error {
	return r.store.SetQueryDefTopLevel(ctx, url, topLevel)
}

// PullRequestSearchRepository persists pull request search definitions.
type PullRequestSearchRepository struct {
	store     *sqlite.PersistentStore
	validator Validator
}

// NewPullRequestSearchRepository wires a PR search repository.
func NewPullRequestSearchRepository(store *sqlite.PersistentStore, v Validator) *PullRequestSearchRepository {
	return &PullRequestSearchRepository{store: store, validator: v}
}

func (r *PullRequestSearchRepository) GetAll(ctx context.Context, topLevelOnly bool) ([]*storage.PullRequestSearchDef, error) {
	return r.store.ListPullRequestSearchDefs(ctx, topLevelOnly)
}

// AddOrUpdate validates then upserts by (URL, view).
func (r *PullRequestSearchRepository) AddOrUpdate(ctx context.Context, d *storage.PullRequestSearchDef) (*storage.PullRequestSearchDef, error) {
	switch types.PullRequestView(d.View) {
	case types.PRViewMine, types.PRViewAssigned, types.PRViewAll:
	default:
		return nil, fmt.Errorf("%w: unknown view %q", types.ErrValidation, d.View)
	}
	if err := r.validator.Validate(ctx, d.URL); err != nil {
		return nil, err
	}
	info, err := azdo.ParseResourceURL(d.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if info.RepositoryName == "" {
		return nil, fmt.Errorf("%w: url does not name a git repository", types.ErrValidation)
	}
	debug.Logf("repository: saving pull request search %q view=%s", d.Name, d.View)
	return r.store.UpsertPullRequestSearchDef(ctx, d)
}

func (r *PullRequestSearchRepository) Remove(ctx context.Context, url, view string) error {
	return r.store.RemovePullRequestSearchDef(ctx, url, view)
}

func (r *PullRequestSearchRepository) SetTopLevel(ctx context.Context, url, view string, topLevel bool) error {
	return r.store.SetPullRequestSearchDefTopLevel(ctx, url, view, topLevel)
}

// DefinitionSearchRepository persists pipeline definition searches.
type DefinitionSearchRepository struct {
	store     *sqlite.PersistentStore
	validator Validator
}

// NewDefinitionSearchRepository wires a pipeline search repository.
func NewDefinitionSearchRepository(store *sqlite.PersistentStore, v Validator) *DefinitionSearchRepository {
	return &DefinitionSearchRepository{store: store, validator: v}
}

func (r *DefinitionSearchRepository) GetAll(ctx context.Context, topLevelOnly bool) ([]*storage.DefinitionSearchDef, error) {
	return r.store.ListDefinitionSearchDefs(ctx, topLevelOnly)
}

// AddOrUpdate validates then upserts by (URL, external id). The definition id
// may come from the URL's definitionId parameter when the field is zero.
func (r *DefinitionSearchRepository) AddOrUpdate(ctx context.Context, d *storage.DefinitionSearchDef) (*storage.DefinitionSearchDef, error) {
	if err := r.validator.Validate(ctx, d.URL); err != nil {
		return nil, err
	}
	info, err := azdo.ParseResourceURL(d.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	if d.ExternalID == 0 {
		d.ExternalID = info.DefinitionID
	}
	if d.ExternalID == 0 {
		return nil, fmt.Errorf("%w: url does not name a pipeline definition", types.ErrValidation)
	}
	debug.Logf("repository: saving definition search %q id=%d", d.Name, d.ExternalID)
	return r.store.UpsertDefinitionSearchDef(ctx, d)
}

func (r *DefinitionSearchRepository) Remove(ctx context.Context, url string, externalID int64) error {
	return r.store.RemoveDefinitionSearchDef(ctx, url, externalID)
}

func (r *DefinitionSearchRepository) SetTopLevel(ctx context.Context, url string, externalID int64, topLevel bool) error {
	return r.store.SetDefinitionSearchDefTopLevel(ctx, url, externalID, topLevel)
}

// ProjectSettingsRepository persists pinned (organization, project) pairs.
// Each pinned pair implicitly defines a my-work-items search; there is no
// top-level flag.
type ProjectSettingsRepository struct {
	store     *sqlite.PersistentStore
	validator Validator
}

// NewProjectSettingsRepository wires a project settings repository.
func NewProjectSettingsRepository(store *sqlite.PersistentStore, v Validator) *ProjectSettingsRepository {
	return &ProjectSettingsRepository{store: store, validator: v}
}

func (r *ProjectSettingsRepository) GetAll(ctx context.Context) ([]*storage.ProjectSettings, error) {
	return r.store.ListProjectSettings(ctx)
}

// AddOrUpdate validates the synthesized project URL then upserts.
func (r *ProjectSettingsRepository) AddOrUpdate(ctx context.Context, p *storage.ProjectSettings) (*storage.ProjectSettings, error) {
	url := p.OrganizationURL + "/" + p.ProjectName
	if err := r.validator.Validate(ctx, url); err != nil {
		return nil, err
	}
	debug.Logf("repository: pinning project %s in %s", p.ProjectName, p.OrganizationURL)
	return r.store.UpsertProjectSettings(ctx, p)
}

func (r *ProjectSettingsRepository) Remove(ctx context.Context, organizationURL, projectName string) error {
	return r.store.RemoveProjectSettings(ctx, organizationURL, projectName)
}
