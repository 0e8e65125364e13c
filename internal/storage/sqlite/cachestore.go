package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/devpane/azdev/internal/debug"
	"github.com/devpane/azdev/internal/storage"
)

// CacheStore is the volatile store of materialized remote state. It is safe
// for concurrent readers; writes are serialized upstream by the single
// in-flight update guarantee.
type CacheStore struct {
	cacheConn
	db   *sql.DB
	path string
}

// CacheTx exposes the cache entity operations within one transaction. Each
// updater wraps one search's diff/apply phase in a single CacheTx so readers
// never observe half-synced state.
type CacheTx struct {
	cacheConn
}

// cacheConn carries the entity operations shared by CacheStore and CacheTx.
type cacheConn struct {
	q querier
}

// OpenCache opens (or rebuilds) the cache database at path. A user_version
// mismatch deletes the file and recreates it from the schema: the cache only
// mirrors remote state, so the cost is one sync cycle, never data loss.
func OpenCache(ctx context.Context, path string) (*CacheStore, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInaccessible, err)
	}

	version, err := userVersion(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", storage.ErrInaccessible, err)
	}

	fileBacked := path != ":memory:" && !strings.HasPrefix(path, "file:")
	if version != 0 && version != CacheSchemaVersion && fileBacked {
		debug.Logf("cache schema version %d != %d, rebuilding %s", version, CacheSchemaVersion, path)
		_ = db.Close()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: removing stale cache: %v", storage.ErrInaccessible, err)
		}
		db, err = openDB(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrInaccessible, err)
		}
	}

	if _, err := db.ExecContext(ctx, cacheSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: initializing schema: %v", storage.ErrInaccessible, err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", CacheSchemaVersion)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: setting schema version: %v", storage.ErrInaccessible, err)
	}

	return &CacheStore{cacheConn: cacheConn{q: db}, db: db, path: path}, nil
}

func userVersion(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading user_version: %w", err)
	}
	return v, nil
}

// Close flushes the WAL and closes the connection.
func (s *CacheStore) Close() error {
	return closeWithCheckpoint(s.db)
}

// Path returns the database path.
func (s *CacheStore) Path() string {
	return s.path
}

// RunInTransaction executes fn within one transaction. An error or panic in
// fn rolls everything back; a nil return commits.
func (s *CacheStore) RunInTransaction(ctx context.Context, fn func(tx *CacheTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&CacheTx{cacheConn{q: tx}}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Purge drops and recreates every cache table. User definitions live in the
// persistent store and are untouched.
func (s *CacheStore) Purge(ctx context.Context) error {
	for _, table := range cacheTables {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("dropping %s: %w", table, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, cacheSchema); err != nil {
		return fmt.Errorf("recreating cache schema: %w", err)
	}
	debug.Logf("cache purged")
	return nil
}

// GetMetadata reads one metadata value; storage.ErrNotFound when absent.
func (c *cacheConn) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := c.q.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading metadata %q: %w", key, err)
	}
	return value, nil
}

// SetMetadata upserts one metadata value.
func (c *cacheConn) SetMetadata(ctx context.Context, key, value string) error {
	_, err := c.q.ExecContext(ctx,
		`INSERT INTO metadata (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("writing metadata %q: %w", key, err)
	}
	return nil
}
