// Package livedata is the read-side façade over the cache. Warm reads return
// cached rows immediately and kick a background refresh; only a cold miss
// blocks, and only until the next terminal update event.
package livedata

import (
	"context"
	"errors"
	"fmt"

	"github.com/devpane/azdev/internal/cachemgr"
	"github.com/devpane/azdev/internal/debug"
	"github.com/devpane/azdev/internal/storage"
	"github.com/devpane/azdev/internal/types"
	"github.com/devpane/azdev/internal/updatesvc"
)

// Provider resolves searches against the cache, refreshing through the cache
// manager.
type Provider struct {
	svc *updatesvc.Service
	mgr *cachemgr.Manager
}

// New wires a provider.
func New(svc *updatesvc.Service, mgr *cachemgr.Manager) *Provider {
	return &Provider{svc: svc, mgr: mgr}
}

// SearchData returns the cached parent row for a search. Warm hits return
// immediately and schedule a refresh; a cold miss blocks until the refresh's
// terminal event.
func (p *Provider) SearchData(ctx context.Context, s *types.Search) (any, error) {
	u := p.svc.Updater(types.KindFor(s.Kind))
	if u == nil {
		return nil, fmt.Errorf("%w: search kind %q", types.ErrUnsupported, s.Kind)
	}
	params := types.UpdateParams{Kind: u.Kind(), Search: s}

	row, err := u.CachedSearch(ctx, s)
	if err == nil {
		p.mgr.Refresh(params)
		return row, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if err := p.awaitRefresh(ctx, params); err != nil {
		return nil, err
	}
	row, err = u.CachedSearch(ctx, s)
	if errors.Is(err, storage.ErrNotFound) {
		// The refresh terminated without materializing the search
		// (error or cancel); the caller sees an empty result, not a
		// failure.
		return nil, nil
	}
	return row, err
}

// ContentData returns the cached children for a search, ordered as rendered.
// Same warm/cold behavior as SearchData.
func (p *Provider) ContentData(ctx context.Context, s *types.Search) ([]any, error) {
	u := p.svc.Updater(types.KindFor(s.Kind))
	if u == nil {
		return nil, fmt.Errorf("%w: search kind %q", types.ErrUnsupported, s.Kind)
	}
	params := types.UpdateParams{Kind: u.Kind(), Search: s}

	rows, err := u.CachedChildren(ctx, s)
	if err == nil {
		p.mgr.Refresh(params)
		return rows, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if err := p.awaitRefresh(ctx, params); err != nil {
		return nil, err
	}
	rows, err = u.CachedChildren(ctx, s)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return rows, err
}

// awaitRefresh subscribes a one-shot listener, requests the refresh, and
// waits for the next terminal event.
func (p *Provider) awaitRefresh(ctx context.Context, params types.UpdateParams) error {
	terminal := make(chan types.UpdateEvent, 1)
	unsubscribe := p.mgr.Subscribe(func(ev types.UpdateEvent) {
		select {
		case terminal <- ev:
		default:
		}
	})
	defer unsubscribe()

	debug.Logf("livedata: cold miss for %s, awaiting refresh", params.Kind)
	p.mgr.Refresh(params)

	select {
	case ev := <-terminal:
		if ev.Err != nil {
			debug.Logf("livedata: refresh for %s terminated with error: %v", params.Kind, ev.Err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ContentDataAs returns a search's children as their concrete row type.
func ContentDataAs[T any](ctx context.Context, p *Provider, s *types.Search) ([]T, error) {
	rows, err := p.ContentData(ctx, s)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		v, ok := r.(T)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected row type %T", types.ErrInternal, r)
		}
		out = append(out, v)
	}
	return out, nil
}

// SearchDataAs returns a search's parent row as its concrete type. The
// boolean is false when the search has no cached row.
func SearchDataAs[T any](ctx context.Context, p *Provider, s *types.Search) (T, bool, error) {
	var zero T
	row, err := p.SearchData(ctx, s)
	if err != nil || row == nil {
		return zero, false, err
	}
	v, ok := row.(T)
	if !ok {
		return zero, false, fmt.Errorf("%w: unexpected row type %T", types.ErrInternal, row)
	}
	return v, true, nil
}
