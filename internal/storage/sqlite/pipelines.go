package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/devpane/azdev/internal/storage"
)

// GetDefinition looks up a pipeline definition by (project, external id).
func (c *cacheConn) GetDefinition(ctx context.Context, projectID, externalID int64) (*storage.Definition, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, external_id, name, project_id, creation_date, html_url, time_updated
		FROM definitions WHERE project_id = ? AND external_id = ?`, projectID, externalID)
	var d storage.Definition
	err := row.Scan(&d.ID, &d.ExternalID, &d.Name, &d.ProjectID, &d.CreationDate, &d.HTMLURL, &d.TimeUpdated)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading definition %d: %w", externalID, err)
	}
	return &d, nil
}

// UpsertDefinition upserts a pipeline definition keyed by
// (external_id, project_id). The caller enforces the update threshold; this
// always writes.
func (c *cacheConn) UpsertDefinition(ctx context.Context, d *storage.Definition, now int64) (*storage.Definition, error) {
	row := c.q.QueryRowContext(ctx, `
		INSERT INTO definitions (external_id, name, project_id, creation_date, html_url, time_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id, project_id) DO UPDATE SET
			name = excluded.name,
			creation_date = excluded.creation_date,
			html_url = excluded.html_url,
			time_updated = excluded.time_updated
		RETURNING id, external_id, name, project_id, creation_date, html_url, time_updated`,
		d.ExternalID, d.Name, d.ProjectID, d.CreationDate, d.HTMLURL, now)
	var out storage.Definition
	if err := row.Scan(&out.ID, &out.ExternalID, &out.Name, &out.ProjectID, &out.CreationDate, &out.HTMLURL, &out.TimeUpdated); err != nil {
		return nil, fmt.Errorf("upserting definition %d: %w", d.ExternalID, err)
	}
	return &out, nil
}

// UpsertBuild upserts a build keyed by external id.
func (c *cacheConn) UpsertBuild(ctx context.Context, b *storage.Build, now int64) (*storage.Build, error) {
	row := c.q.QueryRowContext(ctx, `
		INSERT INTO builds (external_id, build_number, status, result, queue_time, start_time,
			finish_time, url, definition_id, source_branch, trigger_message, requester_id, time_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			build_number = excluded.build_number,
			status = excluded.status,
			result = excluded.result,
			queue_time = excluded.queue_time,
			start_time = excluded.start_time,
			finish_time = excluded.finish_time,
			url = excluded.url,
			definition_id = excluded.definition_id,
			source_branch = excluded.source_branch,
			trigger_message = excluded.trigger_message,
			requester_id = excluded.requester_id,
			time_updated = excluded.time_updated
		RETURNING id, external_id, build_number, status, result, queue_time, start_time,
			finish_time, url, definition_id, source_branch, trigger_message, requester_id, time_updated`,
		b.ExternalID, b.BuildNumber, b.Status, b.Result, b.QueueTime, b.StartTime,
		b.FinishTime, b.URL, b.DefinitionID, b.SourceBranch, b.TriggerMessage, b.RequesterID, now)
	var out storage.Build
	if err := row.Scan(&out.ID, &out.ExternalID, &out.BuildNumber, &out.Status, &out.Result,
		&out.QueueTime, &out.StartTime, &out.FinishTime, &out.URL, &out.DefinitionID,
		&out.SourceBranch, &out.TriggerMessage, &out.RequesterID, &out.TimeUpdated); err != nil {
		return nil, fmt.Errorf("upserting build %d: %w", b.ExternalID, err)
	}
	return &out, nil
}

// ListBuildsForDefinition returns a definition's builds, most recently
// queued first.
func (c *cacheConn) ListBuildsForDefinition(ctx context.Context, definitionID int64) ([]*storage.Build, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, external_id, build_number, status, result, queue_time, start_time,
			finish_time, url, definition_id, source_branch, trigger_message, requester_id, time_updated
		FROM builds WHERE definition_id = ?
		ORDER BY queue_time DESC`, definitionID)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	defer rows.Close()

	var out []*storage.Build
	for rows.Next() {
		var b storage.Build
		if err := rows.Scan(&b.ID, &b.ExternalID, &b.BuildNumber, &b.Status, &b.Result,
			&b.QueueTime, &b.StartTime, &b.FinishTime, &b.URL, &b.DefinitionID,
			&b.SourceBranch, &b.TriggerMessage, &b.RequesterID, &b.TimeUpdated); err != nil {
			return nil, fmt.Errorf("scanning build row: %w", err)
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// PruneOldBuilds TTL-prunes builds whose time_updated predates the cutoff.
func (c *cacheConn) PruneOldBuilds(ctx context.Context, cutoff int64) (int64, error) {
	res, err := c.q.ExecContext(ctx, "DELETE FROM builds WHERE time_updated < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning old builds: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneOrphanDefinitions deletes definitions referenced by no build row.
// Runs after the build TTL prune so freshly orphaned definitions go in the
// same pass.
func (c *cacheConn) PruneOrphanDefinitions(ctx context.Context) (int64, error) {
	res, err := c.q.ExecContext(ctx,
		"DELETE FROM definitions WHERE id NOT IN (SELECT definition_id FROM builds)")
	if err != nil {
		return 0, fmt.Errorf("pruning orphan definitions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
