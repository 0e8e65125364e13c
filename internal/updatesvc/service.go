// Package updatesvc dispatches update requests to the updater for their kind
// and guarantees exactly one terminal event per dispatch: Updated, Cancel, or
// Error. A dispatch that panics still terminates with an Error event; a
// swallowed exception here would wedge the cache manager in a non-idle state.
package updatesvc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/devpane/azdev/internal/debug"
	"github.com/devpane/azdev/internal/eventbus"
	"github.com/devpane/azdev/internal/storage"
	"github.com/devpane/azdev/internal/storage/sqlite"
	"github.com/devpane/azdev/internal/telemetry"
	"github.com/devpane/azdev/internal/types"
	"github.com/devpane/azdev/internal/updater"
)

// lastUpdatedKey is the metadata row tracking the last successful dispatch.
const lastUpdatedKey = "last_updated"

// Service routes update dispatches to updaters and publishes their terminal
// events.
type Service struct {
	cache    *sqlite.CacheStore
	updaters map[types.UpdateKind]updater.Updater
	order    []types.UpdateKind
	bus      *eventbus.Bus[types.UpdateEvent]
}

// New wires a service over the given updaters. The All dispatch runs them in
// the order given.
func New(cache *sqlite.CacheStore, updaters ...updater.Updater) *Service {
	s := &Service{
		cache:    cache,
		updaters: make(map[types.UpdateKind]updater.Updater, len(updaters)),
		bus:      eventbus.New[types.UpdateEvent](),
	}
	for _, u := range updaters {
		s.updaters[u.Kind()] = u
		s.order = append(s.order, u.Kind())
	}
	return s
}

// Subscribe registers a terminal-event handler; the returned function removes
// it.
func (s *Service) Subscribe(h func(types.UpdateEvent)) (unsubscribe func()) {
	return s.bus.Subscribe(h)
}

// Updater returns the updater for a kind, or nil for All and unknown kinds.
func (s *Service) Updater(kind types.UpdateKind) updater.Updater {
	return s.updaters[kind]
}

// Dispatch runs one update to completion and publishes its terminal event.
// The returned event mirrors what subscribers saw.
func (s *Service) Dispatch(ctx context.Context, params types.UpdateParams) types.UpdateEvent {
	started := time.Now()
	err := s.run(ctx, params)

	event := types.UpdateEvent{Params: params, At: time.Now()}
	switch {
	case err == nil:
		event.Kind = types.EventUpdated
		if werr := s.cache.SetMetadata(ctx, lastUpdatedKey,
			strconv.FormatInt(storage.ToTicks(event.At), 10)); werr != nil {
			debug.Logf("updatesvc: recording last update time: %v", werr)
		}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		event.Kind = types.EventCancel
	default:
		event.Kind = types.EventError
		event.Err = err
		debug.Logf("updatesvc: %s dispatch failed: %v", params.Kind, err)
	}

	telemetry.RecordSync(context.WithoutCancel(ctx), string(params.Kind), string(event.Kind), time.Since(started))
	s.bus.Publish(event)
	return event
}

// run executes the dispatch body, converting panics into ErrInternal so the
// terminal event still fires.
func (s *Service) run(ctx context.Context, params types.UpdateParams) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic in %s dispatch: %v", types.ErrInternal, params.Kind, r)
		}
	}()

	if params.Kind == types.UpdateAll {
		return s.runAll(ctx)
	}
	u, ok := s.updaters[params.Kind]
	if !ok {
		return fmt.Errorf("%w: update kind %q", types.ErrUnsupported, params.Kind)
	}
	return u.UpdateData(ctx, params)
}

// runAll invokes every updater and aggregates their failures. Cancellation
// wins over other errors so the event classifies as Cancel.
func (s *Service) runAll(ctx context.Context) error {
	var errs []error
	for _, kind := range s.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.updaters[kind].UpdateData(ctx, types.UpdateParams{Kind: kind}); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return s.PruneObsoleteData(ctx)
}

// IsNewOrStale delegates to the kind's updater. All and unknown kinds are
// always considered stale.
func (s *Service) IsNewOrStale(ctx context.Context, params types.UpdateParams, cooldown time.Duration) bool {
	u, ok := s.updaters[params.Kind]
	if !ok || params.Search == nil {
		return true
	}
	return u.IsNewOrStale(ctx, params.Search, cooldown)
}

// LastUpdated reads the wall-clock time of the last successful dispatch; zero
// when none has completed.
func (s *Service) LastUpdated(ctx context.Context) (time.Time, error) {
	raw, err := s.cache.GetMetadata(ctx, lastUpdatedKey)
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	ticks, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt %s metadata: %w", lastUpdatedKey, err)
	}
	return storage.FromTicks(ticks), nil
}

// PruneObsoleteData runs every updater's pruning. Each updater applies its
// TTL prune before its orphan prune.
func (s *Service) PruneObsoleteData(ctx context.Context) error {
	var errs []error
	for _, kind := range s.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.updaters[kind].PruneObsoleteData(ctx); err != nil {
			errs = append(errs, fmt.Errorf("pruning %s: %w", kind, err))
		}
	}
	return errors.Join(errs...)
}

// PurgeAllData drops and recreates every cache table. Saved definitions are
// untouched.
func (s *Service) PurgeAllData(ctx context.Context) error {
	return s.cache.Purge(ctx)
}
