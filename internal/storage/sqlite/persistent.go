package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/devpane/azdev/internal/storage"
)

// PersistentStore holds user-defined search definitions. It survives
// sign-out and cache rebuilds; its schema only ever migrates additively.
type PersistentStore struct {
	db   *sql.DB
	path string
}

// OpenPersistent opens the persistent database at path, applying the
// idempotent schema.
func OpenPersistent(ctx context.Context, path string) (*PersistentStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInaccessible, err)
	}
	if _, err := db.ExecContext(ctx, persistentSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: initializing schema: %v", storage.ErrInaccessible, err)
	}
	return &PersistentStore{db: db, path: path}, nil
}

// Close flushes the WAL and closes the connection.
func (s *PersistentStore) Close() error {
	return closeWithCheckpoint(s.db)
}

// Path returns the database path.
func (s *PersistentStore) Path() string {
	return s.path
}

// --- QueryDef ---

// ListQueryDefs returns saved query definitions, optionally only pinned ones.
func (s *PersistentStore) ListQueryDefs(ctx context.Context, topLevelOnly bool) ([]*storage.QueryDef, error) {
	q := "SELECT id, name, url, is_top_level FROM query_defs"
	if topLevelOnly {
		q += " WHERE is_top_level = 1"
	}
	rows, err := s.db.QueryContext(ctx, q+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing query defs: %w", err)
	}
	defer rows.Close()
	var out []*storage.QueryDef
	for rows.Next() {
		var d storage.QueryDef
		if err := rows.Scan(&d.ID, &d.Name, &d.URL, &d.IsTopLevel); err != nil {
			return nil, fmt.Errorf("scanning query def: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// UpsertQueryDef adds or updates a query definition keyed by URL.
func (s *PersistentStore) UpsertQueryDef(ctx context.Context, d *storage.QueryDef) (*storage.QueryDef, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO query_defs (name, url, is_top_level) VALUES (?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET name = excluded.name
		RETURNING id, name, url, is_top_level`,
		d.Name, d.URL, d.IsTopLevel)
	var out storage.QueryDef
	if err := row.Scan(&out.ID, &out.Name, &out.URL, &out.IsTopLevel); err != nil {
		return nil, fmt.Errorf("upserting query def: %w", err)
	}
	return &out, nil
}

// RemoveQueryDef deletes a query definition by URL.
func (s *PersistentStore) RemoveQueryDef(ctx context.Context, url string) error {
	return s.removeByKey(ctx, "DELETE FROM query_defs WHERE url = ?", url)
}

// SetQueryDefTopLevel flags or unflags a query definition as pinned.
func (s *PersistentStore) SetQueryDefTopLevel(ctx context.Context, url string, topLevel bool) error {
	return s.removeByKey(ctx, "UPDATE query_defs SET is_top_level = ? WHERE url = ?", topLevel, url)
}

// --- PullRequestSearchDef ---

// ListPullRequestSearchDefs returns saved PR search definitions.
func (s *PersistentStore) ListPullRequestSearchDefs(ctx context.Context, topLevelOnly bool) ([]*storage.PullRequestSearchDef, error) {
	q := "SELECT id, url, name, view, is_top_level FROM pull_request_search_defs"
	if topLevelOnly {
		q += " WHERE is_top_level = 1"
	}
	rows, err := s.db.QueryContext(ctx, q+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing pull request search defs: %w", err)
	}
	defer rows.Close()
	var out []*storage.PullRequestSearchDef
	for rows.Next() {
		var d storage.PullRequestSearchDef
		if err := rows.Scan(&d.ID, &d.URL, &d.Name, &d.View, &d.IsTopLevel); err != nil {
			return nil, fmt.Errorf("scanning pull request search def: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// UpsertPullRequestSearchDef adds or updates a PR search keyed by (url, view).
func (s *PersistentStore) UpsertPullRequestSearchDef(ctx context.Context, d *storage.PullRequestSearchDef) (*storage.PullRequestSearchDef, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO pull_request_search_defs (url, name, view, is_top_level) VALUES (?, ?, ?, ?)
		ON CONFLICT(url, view) DO UPDATE SET name = excluded.name
		RETURNING id, url, name, view, is_top_level`,
		d.URL, d.Name, d.View, d.IsTopLevel)
	var out storage.PullRequestSearchDef
	if err := row.Scan(&out.ID, &out.URL, &out.Name, &out.View, &out.IsTopLevel); err != nil {
		return nil, fmt.Errorf("upserting pull request search def: %w", err)
	}
	return &out, nil
}

// RemovePullRequestSearchDef deletes a PR search definition by (url, view).
func (s *PersistentStore) RemovePullRequestSearchDef(ctx context.Context, url, view string) error {
	return s.removeByKey(ctx, "DELETE FROM pull_request_search_defs WHERE url = ? AND view = ?", url, view)
}

// SetPullRequestSearchDefTopLevel flags or unflags a PR search as pinned.
func (s *PersistentStore) SetPullRequestSearchDefTopLevel(ctx context.Context, url, view string, topLevel bool) error {
	return s.removeByKey(ctx, "UPDATE pull_request_search_defs SET is_top_level = ? WHERE url = ? AND view = ?", topLevel, url, view)
}

// --- DefinitionSearchDef ---

// ListDefinitionSearchDefs returns saved pipeline definition searches.
func (s *PersistentStore) ListDefinitionSearchDefs(ctx context.Context, topLevelOnly bool) ([]*storage.DefinitionSearchDef, error) {
	q := "SELECT id, name, external_id, url, is_top_level FROM definition_search_defs"
	if topLevelOnly {
		q += " WHERE is_top_level = 1"
	}
	rows, err := s.db.QueryContext(ctx, q+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing definition search defs: %w", err)
	}
	defer rows.Close()
	var out []*storage.DefinitionSearchDef
	for rows.Next() {
		var d storage.DefinitionSearchDef
		if err := rows.Scan(&d.ID, &d.Name, &d.ExternalID, &d.URL, &d.IsTopLevel); err != nil {
			return nil, fmt.Errorf("scanning definition search def: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

// UpsertDefinitionSearchDef adds or updates a pipeline search keyed by
// (url, external_id).
func (s *PersistentStore) UpsertDefinitionSearchDef(ctx context.Context, d *storage.DefinitionSearchDef) (*storage.DefinitionSearchDef, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO definition_search_defs (name, external_id, url, is_top_level) VALUES (?, ?, ?, ?)
		ON CONFLICT(url, external_id) DO UPDATE SET name = excluded.name
		RETURNING id, name, external_id, url, is_top_level`,
		d.Name, d.ExternalID, d.URL, d.IsTopLevel)
	var out storage.DefinitionSearchDef
	if err := row.Scan(&out.ID, &out.Name, &out.ExternalID, &out.URL, &out.IsTopLevel); err != nil {
		return nil, fmt.Errorf("upserting definition search def: %w", err)
	}
	return &out, nil
}

// RemoveDefinitionSearchDef deletes a pipeline search by (url, external_id).
func (s *PersistentStore) RemoveDefinitionSearchDef(ctx context.Context, url string, externalID int64) error {
	return s.removeByKey(ctx, "DELETE FROM definition_search_defs WHERE url = ? AND external_id = ?", url, externalID)
}

// SetDefinitionSearchDefTopLevel flags or unflags a pipeline search as pinned.
func (s *PersistentStore) SetDefinitionSearchDefTopLevel(ctx context.Context, url string, externalID int64, topLevel bool) error {
	return s.removeByKey(ctx, "UPDATE definition_search_defs SET is_top_level = ? WHERE url = ? AND external_id = ?", topLevel, url, externalID)
}

// --- ProjectSettings ---

// ListProjectSettings returns every pinned (organization, project) pair.
func (s *PersistentStore) ListProjectSettings(ctx context.Context) ([]*storage.ProjectSettings, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, organization_url, project_name FROM project_settings ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing project settings: %w", err)
	}
	defer rows.Close()
	var out []*storage.ProjectSettings
	for rows.Next() {
		var p storage.ProjectSettings
		if err := rows.Scan(&p.ID, &p.OrganizationURL, &p.ProjectName); err != nil {
			return nil, fmt.Errorf("scanning project settings: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// UpsertProjectSettings adds a pinned project, keyed by (org URL, name).
func (s *PersistentStore) UpsertProjectSettings(ctx context.Context, p *storage.ProjectSettings) (*storage.ProjectSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO project_settings (organization_url, project_name) VALUES (?, ?)
		ON CONFLICT(organization_url, project_name) DO UPDATE SET project_name = excluded.project_name
		RETURNING id, organization_url, project_name`,
		p.OrganizationURL, p.ProjectName)
	var out storage.ProjectSettings
	if err := row.Scan(&out.ID, &out.OrganizationURL, &out.ProjectName); err != nil {
		return nil, fmt.Errorf("upserting project settings: %w", err)
	}
	return &out, nil
}

// RemoveProjectSettings deletes a pinned project by (org URL, name).
func (s *PersistentStore) RemoveProjectSettings(ctx context.Context, organizationURL, projectName string) error {
	return s.removeByKey(ctx,
		"DELETE FROM project_settings WHERE organization_url = ? AND project_name = ?", organizationURL, projectName)
}

// removeByKey runs a single-row mutation and maps zero affected rows to
// storage.ErrNotFound.
func (s *PersistentStore) removeByKey(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mutating definition: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
