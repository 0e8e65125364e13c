package updater

import (
	"context"
	"errors"
	"time"

	"github.com/devpane/azdev/internal/azdo"
	"github.com/devpane/azdev/internal/storage"
	"github.com/devpane/azdev/internal/storage/sqlite"
	"github.com/devpane/azdev/internal/types"
)

// PipelineUpdater syncs pipeline definition searches: the definition row
// itself, throttled by the update threshold, and its builds, which refresh on
// every cycle.
type PipelineUpdater struct {
	deps *Deps
}

// NewPipelineUpdater wires a pipeline updater.
func NewPipelineUpdater(deps *Deps) *PipelineUpdater {
	return &PipelineUpdater{deps: deps}
}

func (u *PipelineUpdater) Kind() types.UpdateKind { return types.UpdatePipeline }

// UpdateData syncs one pipeline search, or all of them when params.Search is
// nil.
func (u *PipelineUpdater) UpdateData(ctx context.Context, params types.UpdateParams) error {
	if params.Search == nil {
		return u.deps.forEachSearch(ctx, types.SearchPipeline, func(s *types.Search) error {
			return u.updateOne(ctx, s)
		})
	}
	return u.updateOne(ctx, params.Search)
}

func (u *PipelineUpdater) updateOne(ctx context.Context, s *types.Search) error {
	sc, err := u.deps.beginSync(ctx, s)
	if err != nil {
		return err
	}

	cached, err := u.deps.Cache.GetDefinition(ctx, sc.project.ID, s.DefinitionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	threshold := u.deps.Config().DefinitionUpdateThreshold
	refreshDefinition := cached == nil ||
		time.Since(storage.FromTicks(cached.TimeUpdated)) >= threshold

	var remoteDef *azdo.BuildDefinition
	if refreshDefinition {
		remoteDef, err = sc.conn.Client.GetDefinition(ctx, sc.project.Name, s.DefinitionID)
		if err != nil {
			return err
		}
	}

	builds, err := sc.conn.Client.GetBuilds(ctx, sc.project.Name, s.DefinitionID)
	if err != nil {
		return err
	}

	requesters := make([]*azdo.Identity, len(builds))
	for i := range builds {
		requesters[i] = &builds[i].RequestedFor
	}
	avatars := fetchMissingAvatars(ctx, sc.conn.Client, u.deps.Cache, requesters)

	return u.deps.Cache.RunInTransaction(ctx, func(tx *sqlite.CacheTx) error {
		defRow := cached
		if refreshDefinition {
			created, _ := azdo.ParseTimestamp(remoteDef.CreatedDate)
			defRow, err = tx.UpsertDefinition(ctx, &storage.Definition{
				ExternalID:   remoteDef.ID,
				Name:         remoteDef.Name,
				ProjectID:    sc.project.ID,
				CreationDate: storage.ToTicks(created),
				HTMLURL:      remoteDef.HTMLURL(),
			}, sc.syncStart)
			if err != nil {
				return err
			}
		}

		for _, b := range builds {
			if err := ctx.Err(); err != nil {
				return err
			}
			requester, err := upsertIdentityTx(ctx, tx, &b.RequestedFor, avatars, sc.syncStart)
			if err != nil {
				return err
			}
			queued, _ := azdo.ParseTimestamp(b.QueueTime)
			started, _ := azdo.ParseTimestamp(b.StartTime)
			finished, _ := azdo.ParseTimestamp(b.FinishTime)
			if _, err := tx.UpsertBuild(ctx, &storage.Build{
				ExternalID:     b.ID,
				BuildNumber:    b.BuildNumber,
				Status:         b.Status,
				Result:         b.Result,
				QueueTime:      storage.ToTicks(queued),
				StartTime:      storage.ToTicks(started),
				FinishTime:     storage.ToTicks(finished),
				URL:            b.URL,
				DefinitionID:   defRow.ID,
				SourceBranch:   b.SourceBranch,
				TriggerMessage: b.TriggerMessage(),
				RequesterID:    requester,
			}, sc.syncStart); err != nil {
				return err
			}
		}

		if err := tx.SetOrganizationLastSync(ctx, sc.org.ID, sc.syncStart); err != nil {
			return err
		}
		logDiff(types.SearchPipeline, s.Name, len(builds), 0)
		return nil
	})
}

// locateDefinition resolves the cached definition row without the network.
func (u *PipelineUpdater) locateDefinition(ctx context.Context, s *types.Search) (*storage.Definition, error) {
	project, err := u.deps.locateProject(ctx, s)
	if err != nil {
		return nil, err
	}
	return u.deps.Cache.GetDefinition(ctx, project.ID, s.DefinitionID)
}

// CachedSearch returns the definition row.
func (u *PipelineUpdater) CachedSearch(ctx context.Context, s *types.Search) (any, error) {
	return u.locateDefinition(ctx, s)
}

// CachedChildren returns the definition's builds, most recently queued first.
func (u *PipelineUpdater) CachedChildren(ctx context.Context, s *types.Search) ([]any, error) {
	defRow, err := u.locateDefinition(ctx, s)
	if err != nil {
		return nil, err
	}
	rows, err := u.deps.Cache.ListBuildsForDefinition(ctx, defRow.ID)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out, nil
}

// IsNewOrStale keys staleness off the newest cached build rather than the
// throttled definition row, which can legitimately be hours old.
func (u *PipelineUpdater) IsNewOrStale(ctx context.Context, s *types.Search, cooldown time.Duration) bool {
	defRow, err := u.locateDefinition(ctx, s)
	if err != nil {
		return true
	}
	builds, err := u.deps.Cache.ListBuildsForDefinition(ctx, defRow.ID)
	if err != nil || len(builds) == 0 {
		return true
	}
	newest := builds[0].TimeUpdated
	for _, b := range builds {
		if b.TimeUpdated > newest {
			newest = b.TimeUpdated
		}
	}
	return stalenessOf(newest, cooldown)
}

// PruneObsoleteData TTL-prunes old builds first so definitions they orphan
// are collected in the same pass.
func (u *PipelineUpdater) PruneObsoleteData(ctx context.Context) error {
	cutoff := storage.ToTicks(time.Now().Add(-u.deps.Config().BuildRetention))
	if _, err := u.deps.Cache.PruneOldBuilds(ctx, cutoff); err != nil {
		return err
	}
	_, err := u.deps.Cache.PruneOrphanDefinitions(ctx)
	return err
}
