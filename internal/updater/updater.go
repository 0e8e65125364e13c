// Package updater turns searches into cached rows. One updater exists per
// search kind; all four share the same shape: resolve the connection and
// parent rows, fetch the remote result, then diff/apply inside a single
// transaction keyed by the sync start time.
package updater

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/devpane/azdev/internal/auth"
	"github.com/devpane/azdev/internal/azdo"
	"github.com/devpane/azdev/internal/config"
	"github.com/devpane/azdev/internal/debug"
	"github.com/devpane/azdev/internal/repository"
	"github.com/devpane/azdev/internal/storage"
	"github.com/devpane/azdev/internal/storage/sqlite"
	"github.com/devpane/azdev/internal/types"
)

// Updater is the uniform contract the update service dispatches on. Children
// are returned ordered as rendered; the concrete element type depends on the
// kind (*storage.WorkItemRow, *storage.PullRequest, *storage.Build).
type Updater interface {
	Kind() types.UpdateKind

	// UpdateData syncs one search, or every saved search of this kind when
	// params.Search is nil. Cancellable through ctx.
	UpdateData(ctx context.Context, params types.UpdateParams) error

	// CachedSearch looks up the cached parent row by natural key;
	// storage.ErrNotFound on a cold miss.
	CachedSearch(ctx context.Context, s *types.Search) (any, error)

	// CachedChildren returns the cached result rows for a search, ordered
	// as rendered.
	CachedChildren(ctx context.Context, s *types.Search) ([]any, error)

	// IsNewOrStale reports whether a refresh would do work: the search has
	// no cached row yet, or the row is older than the cooldown.
	IsNewOrStale(ctx context.Context, s *types.Search, cooldown time.Duration) bool

	// PruneObsoleteData applies this kind's TTL and orphan pruning.
	PruneObsoleteData(ctx context.Context) error
}

// Deps carries the collaborators shared by all updaters. Config is a getter
// so live reloads propagate without re-wiring.
type Deps struct {
	Cache    *sqlite.CacheStore
	Auth     auth.Provider
	Pool     *azdo.ConnectionPool
	Searches *repository.Searches
	Config   func() config.Config
}

// ErrNotSignedIn fails every sync attempted without an account.
var ErrNotSignedIn = errors.New("not signed in")

// syncContext is the resolved environment one search syncs in: the
// authenticated connection, the caller's identity, and the org/project parent
// rows. SyncStart is the diff cutoff; join rows it did not touch are stale.
type syncContext struct {
	conn      *azdo.Connection
	me        *azdo.Identity
	org       *storage.Organization
	project   *storage.Project
	syncStart int64
}

// beginSync resolves the connection and upserts the organization and project
// parent rows. The parent upserts run outside the per-search transaction;
// they are idempotent and shared across searches.
func (d *Deps) beginSync(ctx context.Context, s *types.Search) (*syncContext, error) {
	if !d.Auth.IsSignedIn() {
		return nil, ErrNotSignedIn
	}
	conn, err := d.Pool.Get(ctx, s.OrganizationURL, s.Account)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", s.OrganizationURL, err)
	}
	me, err := conn.Client.AuthorizedIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving identity: %w", err)
	}
	remote, err := conn.Client.GetProject(ctx, s.Project)
	if err != nil {
		return nil, fmt.Errorf("resolving project %q: %w", s.Project, err)
	}

	now := storage.ToTicks(time.Now())
	org, err := d.Cache.UpsertOrganization(ctx, organizationName(s.OrganizationURL), conn.OrganizationURL, now)
	if err != nil {
		return nil, err
	}
	// Name refreshed every sync so a service-side rename propagates into
	// synthesized URLs.
	project, err := d.Cache.UpsertProject(ctx, &storage.Project{
		Name:           remote.Name,
		ExternalID:     remote.ID,
		Description:    remote.Description,
		OrganizationID: org.ID,
	}, now)
	if err != nil {
		return nil, err
	}

	return &syncContext{
		conn:      conn,
		me:        me,
		org:       org,
		project:   project,
		syncStart: now,
	}, nil
}

// organizationName extracts the org or collection label from its URL.
func organizationName(organizationURL string) string {
	if info, err := azdo.ParseResourceURL(strings.TrimSuffix(organizationURL, "/") + "/_"); err == nil {
		return info.Organization
	}
	trimmed := strings.TrimSuffix(organizationURL, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

// locateProject resolves a search's cached project row without touching the
// network. Used by the read-side lookups.
func (d *Deps) locateProject(ctx context.Context, s *types.Search) (*storage.Project, error) {
	org, err := d.Cache.GetOrganizationByConnection(ctx, strings.TrimSuffix(s.OrganizationURL, "/"))
	if err != nil {
		return nil, err
	}
	return d.Cache.GetProjectByName(ctx, org.ID, s.Project)
}

// upsertIdentityTx caches an identity referenced by a synced row. Nil
// identities map to row id zero. A nil avatar keeps whatever blob the row
// already carries.
func upsertIdentityTx(ctx context.Context, tx *sqlite.CacheTx, id *azdo.Identity, avatars map[string][]byte, now int64) (int64, error) {
	if id == nil || id.ID == "" {
		return 0, nil
	}
	row, err := tx.UpsertIdentity(ctx, &storage.Identity{
		Name:       id.DisplayName,
		ExternalID: id.ID,
		Avatar:     avatars[strings.ToLower(id.ID)],
		LoginID:    id.UniqueName,
	}, now)
	if err != nil {
		return 0, err
	}
	return row.ID, nil
}

// fetchMissingAvatars fetches avatar blobs for identities the cache carries
// no avatar for, one request per distinct GUID per cycle. Fetch failures are
// non-fatal; the identity keeps a nil avatar.
func fetchMissingAvatars(ctx context.Context, client azdo.LiveClient, cache *sqlite.CacheStore, identities []*azdo.Identity) map[string][]byte {
	avatars := make(map[string][]byte)
	seen := make(map[string]bool)
	for _, id := range identities {
		if id == nil || id.ID == "" {
			continue
		}
		key := strings.ToLower(id.ID)
		if seen[key] {
			continue
		}
		seen[key] = true
		if row, err := cache.GetIdentityByExternalID(ctx, id.ID); err == nil && len(row.Avatar) > 0 {
			continue
		}
		blob, err := client.GetAvatar(ctx, id.ID)
		if err != nil {
			if ctx.Err() != nil {
				return avatars
			}
			debug.Logf("updater: avatar for %s not fetched: %v", id.ID, err)
			continue
		}
		avatars[key] = blob
	}
	return avatars
}

// stalenessOf implements the shared IsNewOrStale policy against a parent
// row's time_updated.
func stalenessOf(timeUpdated int64, cooldown time.Duration) bool {
	if timeUpdated == 0 {
		return true
	}
	return time.Since(storage.FromTicks(timeUpdated)) > cooldown
}

// forEachSearch runs fn for every saved search of a kind, stopping on
// cancellation. Individual search failures abort the cycle; the caller
// reports them as one terminal event.
func (d *Deps) forEachSearch(ctx context.Context, kind types.SearchKind, fn func(*types.Search) error) error {
	if !d.Auth.IsSignedIn() {
		return ErrNotSignedIn
	}
	acct, err := d.Auth.DefaultAccount(ctx)
	if err != nil {
		return err
	}
	searches, err := d.Searches.ForKind(ctx, kind, acct.Login)
	if err != nil {
		return err
	}
	for _, s := range searches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	return nil
}

// logDiff records how a search's cached result set changed this cycle.
func logDiff(kind types.SearchKind, name string, upserted int, removed int64) {
	debug.Logf("updater: %s %q synced %d rows, removed %d stale", kind, name, upserted, removed)
}
