package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/devpane/azdev/internal/storage"
)

// UpsertQuery upserts a query parent row keyed by (external_id, username).
func (c *cacheConn) UpsertQuery(ctx context.Context, q *storage.Query, now int64) (*storage.Query, error) {
	row := c.q.QueryRowContext(ctx, `
		INSERT INTO queries (external_id, display_name, username, project_id, time_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(external_id, username) DO UPDATE SET
			display_name = excluded.display_name,
			project_id = excluded.project_id,
			time_updated = excluded.time_updated
		RETURNING id, external_id, display_name, username, project_id, time_updated`,
		q.ExternalID, q.DisplayName, q.Username, q.ProjectID, now)
	var out storage.Query
	if err := row.Scan(&out.ID, &out.ExternalID, &out.DisplayName, &out.Username, &out.ProjectID, &out.TimeUpdated); err != nil {
		return nil, fmt.Errorf("upserting query %q: %w", q.ExternalID, err)
	}
	return &out, nil
}

// GetQueryByKey looks up a query row by its natural key.
func (c *cacheConn) GetQueryByKey(ctx context.Context, externalID, username string) (*storage.Query, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, external_id, display_name, username, project_id, time_updated
		FROM queries WHERE external_id = ? COLLATE NOCASE AND username = ? COLLATE NOCASE`, externalID, username)
	var q storage.Query
	err := row.Scan(&q.ID, &q.ExternalID, &q.DisplayName, &q.Username, &q.ProjectID, &q.TimeUpdated)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading query %q: %w", externalID, err)
	}
	return &q, nil
}

// UpsertWorkItemType upserts a work item type keyed by (name, project_id).
func (c *cacheConn) UpsertWorkItemType(ctx context.Context, t *storage.WorkItemType) (*storage.WorkItemType, error) {
	row := c.q.QueryRowContext(ctx, `
		INSERT INTO work_item_types (name, icon, color, description, project_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name, project_id) DO UPDATE SET
			icon = excluded.icon,
			color = excluded.color,
			description = excluded.description
		RETURNING id, name, icon, color, description, project_id`,
		t.Name, t.Icon, t.Color, t.Description, t.ProjectID)
	var out storage.WorkItemType
	if err := row.Scan(&out.ID, &out.Name, &out.Icon, &out.Color, &out.Description, &out.ProjectID); err != nil {
		return nil, fmt.Errorf("upserting work item type %q: %w", t.Name, err)
	}
	return &out, nil
}

// UpsertWorkItem upserts a work item keyed by external id.
func (c *cacheConn) UpsertWorkItem(ctx context.Context, w *storage.WorkItem) (*storage.WorkItem, error) {
	row := c.q.QueryRowContext(ctx, `
		INSERT INTO work_items (external_id, title, html_url, state, reason, assigned_to_id,
			created_date, created_by_id, changed_date, changed_by_id, work_item_type_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			title = excluded.title,
			html_url = excluded.html_url,
			state = excluded.state,
			reason = excluded.reason,
			assigned_to_id = excluded.assigned_to_id,
			created_date = excluded.created_date,
			created_by_id = excluded.created_by_id,
			changed_date = excluded.changed_date,
			changed_by_id = excluded.changed_by_id,
			work_item_type_id = excluded.work_item_type_id
		RETURNING id, external_id, title, html_url, state, reason, assigned_to_id,
			created_date, created_by_id, changed_date, changed_by_id, work_item_type_id`,
		w.ExternalID, w.Title, w.HTMLURL, w.State, w.Reason, w.AssignedToID,
		w.CreatedDate, w.CreatedByID, w.ChangedDate, w.ChangedByID, w.WorkItemTypeID)
	var out storage.WorkItem
	if err := row.Scan(&out.ID, &out.ExternalID, &out.Title, &out.HTMLURL, &out.State, &out.Reason,
		&out.AssignedToID, &out.CreatedDate, &out.CreatedByID, &out.ChangedDate, &out.ChangedByID, &out.WorkItemTypeID); err != nil {
		return nil, fmt.Errorf("upserting work item %d: %w", w.ExternalID, err)
	}
	return &out, nil
}

// UpsertQueryWorkItem refreshes the (query, work item) join row's timestamp.
// Rows untouched by the current sync keep their old timestamp and are the
// diff's deletions.
func (c *cacheConn) UpsertQueryWorkItem(ctx context.Context, queryID, workItemID, now int64) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO query_work_items (query_id, work_item_id, time_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(query_id, work_item_id) DO UPDATE SET time_updated = excluded.time_updated`,
		queryID, workItemID, now)
	if err != nil {
		return fmt.Errorf("upserting query work item join: %w", err)
	}
	return nil
}

// DeleteStaleQueryWorkItems removes join rows for one query whose timestamp
// predates the sync start; those items fell out of the remote result.
func (c *cacheConn) DeleteStaleQueryWorkItems(ctx context.Context, queryID, cutoff int64) (int64, error) {
	res, err := c.q.ExecContext(ctx,
		"DELETE FROM query_work_items WHERE query_id = ? AND time_updated < ?", queryID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting stale query work items: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneQueryWorkItems TTL-prunes join rows older than cutoff. When
// synthesizedOnly is set, only rows belonging to synthesized my-work-items
// queries are touched (their TTL is much tighter).
func (c *cacheConn) PruneQueryWorkItems(ctx context.Context, cutoff int64, synthesizedOnly bool) (int64, error) {
	match := "NOT LIKE"
	if synthesizedOnly {
		match = "LIKE"
	}
	res, err := c.q.ExecContext(ctx, `
		DELETE FROM query_work_items WHERE time_updated < ? AND query_id IN (
			SELECT id FROM queries WHERE external_id `+match+` 'my-work-items:%'
		)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning query work items: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ListQueryWorkItems returns the work items joined into a query, newest
// change first. Kind-specific presentation ordering happens in the updater.
func (c *cacheConn) ListQueryWorkItems(ctx context.Context, queryID int64) ([]*storage.WorkItemRow, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT w.id, w.external_id, w.title, w.html_url, w.state, w.reason, w.assigned_to_id,
			w.created_date, w.created_by_id, w.changed_date, w.changed_by_id, w.work_item_type_id,
			COALESCE(t.name, '')
		FROM query_work_items j
		JOIN work_items w ON w.id = j.work_item_id
		LEFT JOIN work_item_types t ON t.id = w.work_item_type_id
		WHERE j.query_id = ?
		ORDER BY w.changed_date DESC`, queryID)
	if err != nil {
		return nil, fmt.Errorf("listing query work items: %w", err)
	}
	defer rows.Close()

	var out []*storage.WorkItemRow
	for rows.Next() {
		var r storage.WorkItemRow
		if err := rows.Scan(&r.ID, &r.ExternalID, &r.Title, &r.HTMLURL, &r.State, &r.Reason,
			&r.AssignedToID, &r.CreatedDate, &r.CreatedByID, &r.ChangedDate, &r.ChangedByID,
			&r.WorkItemTypeID, &r.TypeName); err != nil {
			return nil, fmt.Errorf("scanning work item row: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// CountQueryWorkItems returns the join row count for a query.
func (c *cacheConn) CountQueryWorkItems(ctx context.Context, queryID int64) (int64, error) {
	var n int64
	err := c.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM query_work_items WHERE query_id = ?", queryID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting query work items: %w", err)
	}
	return n, nil
}

// PruneOrphanWorkItems deletes work items referenced by no join row.
func (c *cacheConn) PruneOrphanWorkItems(ctx context.Context) (int64, error) {
	res, err := c.q.ExecContext(ctx,
		"DELETE FROM work_items WHERE id NOT IN (SELECT work_item_id FROM query_work_items)")
	if err != nil {
		return 0, fmt.Errorf("pruning orphan work items: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
