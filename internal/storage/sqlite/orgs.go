package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/devpane/azdev/internal/storage"
)

// UpsertOrganization locates or creates the organization row for a
// connection URL, refreshing its display name and time_updated.
func (c *cacheConn) UpsertOrganization(ctx context.Context, name, connection string, now int64) (*storage.Organization, error) {
	row := c.q.QueryRowContext(ctx, `
		INSERT INTO organizations (name, connection, time_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(connection) DO UPDATE SET name = excluded.name, time_updated = excluded.time_updated
		RETURNING id, name, connection, time_updated, time_last_sync`,
		name, connection, now)
	var o storage.Organization
	if err := row.Scan(&o.ID, &o.Name, &o.Connection, &o.TimeUpdated, &o.TimeLastSync); err != nil {
		return nil, fmt.Errorf("upserting organization %q: %w", connection, err)
	}
	return &o, nil
}

// SetOrganizationLastSync records the completion time of a sync cycle.
func (c *cacheConn) SetOrganizationLastSync(ctx context.Context, id, now int64) error {
	_, err := c.q.ExecContext(ctx, "UPDATE organizations SET time_last_sync = ? WHERE id = ?", now, id)
	if err != nil {
		return fmt.Errorf("updating organization last sync: %w", err)
	}
	return nil
}

// GetOrganizationByConnection looks up an organization by its URL. Hostnames
// are case-insensitive on the service, so the comparison is too.
func (c *cacheConn) GetOrganizationByConnection(ctx context.Context, connection string) (*storage.Organization, error) {
	row := c.q.QueryRowContext(ctx,
		"SELECT id, name, connection, time_updated, time_last_sync FROM organizations WHERE connection = ? COLLATE NOCASE", connection)
	var o storage.Organization
	err := row.Scan(&o.ID, &o.Name, &o.Connection, &o.TimeUpdated, &o.TimeLastSync)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading organization %q: %w", connection, err)
	}
	return &o, nil
}

// UpsertProject upserts a project keyed by external GUID. Name and
// description are refreshed on every sync so renames on the service
// propagate into synthesized URLs.
func (c *cacheConn) UpsertProject(ctx context.Context, p *storage.Project, now int64) (*storage.Project, error) {
	row := c.q.QueryRowContext(ctx, `
		INSERT INTO projects (name, external_id, description, organization_id, time_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			organization_id = excluded.organization_id,
			time_updated = excluded.time_updated
		RETURNING id, name, external_id, description, organization_id, time_updated`,
		p.Name, p.ExternalID, p.Description, p.OrganizationID, now)
	var out storage.Project
	if err := row.Scan(&out.ID, &out.Name, &out.ExternalID, &out.Description, &out.OrganizationID, &out.TimeUpdated); err != nil {
		return nil, fmt.Errorf("upserting project %q: %w", p.Name, err)
	}
	return &out, nil
}

// GetProjectByExternalID looks up a project by GUID.
func (c *cacheConn) GetProjectByExternalID(ctx context.Context, externalID string) (*storage.Project, error) {
	row := c.q.QueryRowContext(ctx,
		"SELECT id, name, external_id, description, organization_id, time_updated FROM projects WHERE external_id = ?", externalID)
	var p storage.Project
	err := row.Scan(&p.ID, &p.Name, &p.ExternalID, &p.Description, &p.OrganizationID, &p.TimeUpdated)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading project %q: %w", externalID, err)
	}
	return &p, nil
}

// GetProjectByName looks up a project by display name within an
// organization, case-insensitively.
func (c *cacheConn) GetProjectByName(ctx context.Context, organizationID int64, name string) (*storage.Project, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, name, external_id, description, organization_id, time_updated
		FROM projects WHERE organization_id = ? AND name = ? COLLATE NOCASE`, organizationID, name)
	var p storage.Project
	err := row.Scan(&p.ID, &p.Name, &p.ExternalID, &p.Description, &p.OrganizationID, &p.TimeUpdated)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading project %q: %w", name, err)
	}
	return &p, nil
}

// GetProject looks up a project by local id.
func (c *cacheConn) GetProject(ctx context.Context, id int64) (*storage.Project, error) {
	row := c.q.QueryRowContext(ctx,
		"SELECT id, name, external_id, description, organization_id, time_updated FROM projects WHERE id = ?", id)
	var p storage.Project
	err := row.Scan(&p.ID, &p.Name, &p.ExternalID, &p.Description, &p.OrganizationID, &p.TimeUpdated)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading project %d: %w", id, err)
	}
	return &p, nil
}

// UpsertIdentity upserts an identity keyed by external GUID. A nil avatar
// leaves any previously cached blob in place.
func (c *cacheConn) UpsertIdentity(ctx context.Context, i *storage.Identity, now int64) (*storage.Identity, error) {
	row := c.q.QueryRowContext(ctx, `
		INSERT INTO identities (name, external_id, avatar, login_id, time_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			name = excluded.name,
			avatar = COALESCE(excluded.avatar, identities.avatar),
			login_id = CASE WHEN excluded.login_id != '' THEN excluded.login_id ELSE identities.login_id END,
			time_updated = excluded.time_updated
		RETURNING id, name, external_id, avatar, login_id, time_updated`,
		i.Name, i.ExternalID, i.Avatar, i.LoginID, now)
	var out storage.Identity
	if err := row.Scan(&out.ID, &out.Name, &out.ExternalID, &out.Avatar, &out.LoginID, &out.TimeUpdated); err != nil {
		return nil, fmt.Errorf("upserting identity %q: %w", i.ExternalID, err)
	}
	return &out, nil
}

// GetIdentity looks up an identity by local id.
func (c *cacheConn) GetIdentity(ctx context.Context, id int64) (*storage.Identity, error) {
	row := c.q.QueryRowContext(ctx,
		"SELECT id, name, external_id, avatar, login_id, time_updated FROM identities WHERE id = ?", id)
	var i storage.Identity
	err := row.Scan(&i.ID, &i.Name, &i.ExternalID, &i.Avatar, &i.LoginID, &i.TimeUpdated)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading identity %d: %w", id, err)
	}
	return &i, nil
}

// GetIdentityByExternalID looks up an identity by GUID.
func (c *cacheConn) GetIdentityByExternalID(ctx context.Context, externalID string) (*storage.Identity, error) {
	row := c.q.QueryRowContext(ctx,
		"SELECT id, name, external_id, avatar, login_id, time_updated FROM identities WHERE external_id = ?", externalID)
	var i storage.Identity
	err := row.Scan(&i.ID, &i.Name, &i.ExternalID, &i.Avatar, &i.LoginID, &i.TimeUpdated)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading identity %q: %w", externalID, err)
	}
	return &i, nil
}

// UpsertRepository upserts a git repository keyed by external GUID. Two
// searches against the same repository share one row.
func (c *cacheConn) UpsertRepository(ctx context.Context, r *storage.Repository, now int64) (*storage.Repository, error) {
	row := c.q.QueryRowContext(ctx, `
		INSERT INTO repositories (name, external_id, project_id, clone_url, is_private, time_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			name = excluded.name,
			project_id = excluded.project_id,
			clone_url = excluded.clone_url,
			is_private = excluded.is_private,
			time_updated = excluded.time_updated
		RETURNING id, name, external_id, project_id, clone_url, is_private, time_updated`,
		r.Name, r.ExternalID, r.ProjectID, r.CloneURL, r.IsPrivate, now)
	var out storage.Repository
	if err := row.Scan(&out.ID, &out.Name, &out.ExternalID, &out.ProjectID, &out.CloneURL, &out.IsPrivate, &out.TimeUpdated); err != nil {
		return nil, fmt.Errorf("upserting repository %q: %w", r.Name, err)
	}
	return &out, nil
}

// GetRepositoryByName looks up a repository by name within a project,
// case-insensitively.
func (c *cacheConn) GetRepositoryByName(ctx context.Context, projectID int64, name string) (*storage.Repository, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, name, external_id, project_id, clone_url, is_private, time_updated
		FROM repositories WHERE project_id = ? AND name = ? COLLATE NOCASE`, projectID, name)
	var r storage.Repository
	err := row.Scan(&r.ID, &r.Name, &r.ExternalID, &r.ProjectID, &r.CloneURL, &r.IsPrivate, &r.TimeUpdated)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading repository %q: %w", name, err)
	}
	return &r, nil
}

// GetRepository looks up a repository by local id.
func (c *cacheConn) GetRepository(ctx context.Context, id int64) (*storage.Repository, error) {
	row := c.q.QueryRowContext(ctx,
		"SELECT id, name, external_id, project_id, clone_url, is_private, time_updated FROM repositories WHERE id = ?", id)
	var r storage.Repository
	err := row.Scan(&r.ID, &r.Name, &r.ExternalID, &r.ProjectID, &r.CloneURL, &r.IsPrivate, &r.TimeUpdated)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading repository %d: %w", id, err)
	}
	return &r, nil
}
