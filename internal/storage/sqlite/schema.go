package sqlite

// CacheSchemaVersion is compared against the cache file's user_version on
// open. On mismatch the file is deleted and rebuilt from cacheSchema; the
// cache holds only mirrored remote state, so a rebuild costs one sync cycle.
const CacheSchemaVersion = 16

// All timestamps are signed 64-bit nanosecond ticks since the Unix epoch,
// UTC. No database-level foreign keys: referential integrity lives at the
// entity layer so the two schemas can evolve independently.
const cacheSchema = `
CREATE TABLE IF NOT EXISTS organizations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    connection TEXT NOT NULL UNIQUE,
    time_updated INTEGER NOT NULL DEFAULT 0,
    time_last_sync INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS projects (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    external_id TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    organization_id INTEGER NOT NULL,
    time_updated INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS identities (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    external_id TEXT NOT NULL UNIQUE,
    avatar BLOB,
    login_id TEXT NOT NULL DEFAULT '',
    time_updated INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS repositories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    external_id TEXT NOT NULL UNIQUE,
    project_id INTEGER NOT NULL,
    clone_url TEXT NOT NULL DEFAULT '',
    is_private INTEGER NOT NULL DEFAULT 0,
    time_updated INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS queries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    username TEXT NOT NULL,
    project_id INTEGER NOT NULL,
    time_updated INTEGER NOT NULL DEFAULT 0,
    UNIQUE(external_id, username)
);

CREATE TABLE IF NOT EXISTS work_item_types (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    icon TEXT NOT NULL DEFAULT '',
    color TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    project_id INTEGER NOT NULL,
    UNIQUE(name, project_id)
);

CREATE TABLE IF NOT EXISTS work_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id INTEGER NOT NULL UNIQUE,
    title TEXT NOT NULL DEFAULT '',
    html_url TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    assigned_to_id INTEGER NOT NULL DEFAULT 0,
    created_date INTEGER NOT NULL DEFAULT 0,
    created_by_id INTEGER NOT NULL DEFAULT 0,
    changed_date INTEGER NOT NULL DEFAULT 0,
    changed_by_id INTEGER NOT NULL DEFAULT 0,
    work_item_type_id INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS query_work_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    query_id INTEGER NOT NULL,
    work_item_id INTEGER NOT NULL,
    time_updated INTEGER NOT NULL DEFAULT 0,
    UNIQUE(query_id, work_item_id)
);

CREATE INDEX IF NOT EXISTS idx_query_work_items_query ON query_work_items(query_id);
CREATE INDEX IF NOT EXISTS idx_query_work_items_work_item ON query_work_items(work_item_id);

CREATE TABLE IF NOT EXISTS pull_request_searches (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    repository_id INTEGER NOT NULL,
    username TEXT NOT NULL,
    project_id INTEGER NOT NULL,
    view_id TEXT NOT NULL,
    time_updated INTEGER NOT NULL DEFAULT 0,
    UNIQUE(project_id, repository_id, username, view_id)
);

CREATE TABLE IF NOT EXISTS pull_requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id INTEGER NOT NULL UNIQUE,
    title TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL DEFAULT '',
    repository_id INTEGER NOT NULL,
    creator_id INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT '',
    policy_status TEXT NOT NULL DEFAULT '',
    policy_status_reason TEXT NOT NULL DEFAULT '',
    target_branch TEXT NOT NULL DEFAULT '',
    creation_date INTEGER NOT NULL DEFAULT 0,
    html_url TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS pull_request_search_pull_requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    search_id INTEGER NOT NULL,
    pull_request_id INTEGER NOT NULL,
    time_updated INTEGER NOT NULL DEFAULT 0,
    UNIQUE(search_id, pull_request_id)
);

CREATE INDEX IF NOT EXISTS idx_prspr_search ON pull_request_search_pull_requests(search_id);
CREATE INDEX IF NOT EXISTS idx_prspr_pull_request ON pull_request_search_pull_requests(pull_request_id);

CREATE TABLE IF NOT EXISTS definitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id INTEGER NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    project_id INTEGER NOT NULL,
    creation_date INTEGER NOT NULL DEFAULT 0,
    html_url TEXT NOT NULL DEFAULT '',
    time_updated INTEGER NOT NULL DEFAULT 0,
    UNIQUE(external_id, project_id)
);

CREATE TABLE IF NOT EXISTS builds (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    external_id INTEGER NOT NULL UNIQUE,
    build_number TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    result TEXT NOT NULL DEFAULT '',
    queue_time INTEGER NOT NULL DEFAULT 0,
    start_time INTEGER NOT NULL DEFAULT 0,
    finish_time INTEGER NOT NULL DEFAULT 0,
    url TEXT NOT NULL DEFAULT '',
    definition_id INTEGER NOT NULL,
    source_branch TEXT NOT NULL DEFAULT '',
    trigger_message TEXT NOT NULL DEFAULT '',
    requester_id INTEGER NOT NULL DEFAULT 0,
    time_updated INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_builds_definition ON builds(definition_id);

CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// cacheTables lists every cache table for Purge; drop order is irrelevant
// with no database-level foreign keys.
var cacheTables = []string{
	"organizations", "projects", "identities", "repositories",
	"queries", "work_item_types", "work_items", "query_work_items",
	"pull_request_searches", "pull_requests", "pull_request_search_pull_requests",
	"definitions", "builds", "metadata",
}

// The persistent store is migrated additively: the DDL is idempotent and new
// columns arrive through guarded ALTERs, never by rebuilding the file.
const persistentSchema = `
CREATE TABLE IF NOT EXISTS query_defs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL DEFAULT '',
    url TEXT NOT NULL UNIQUE,
    is_top_level INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pull_request_search_defs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    url TEXT NOT NULL,
    name TEXT NOT NULL DEFAULT '',
    view TEXT NOT NULL,
    is_top_level INTEGER NOT NULL DEFAULT 0,
    UNIQUE(url, view)
);

CREATE TABLE IF NOT EXISTS definition_search_defs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL DEFAULT '',
    external_id INTEGER NOT NULL,
    url TEXT NOT NULL,
    is_top_level INTEGER NOT NULL DEFAULT 0,
    UNIQUE(url, external_id)
);

CREATE TABLE IF NOT EXISTS project_settings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    organization_url TEXT NOT NULL,
    project_name TEXT NOT NULL,
    UNIQUE(organization_url, project_name)
);
`
