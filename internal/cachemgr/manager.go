// Package cachemgr serializes cache updates behind a five-state machine. One
// mutex guards every transition; at most one dispatch is in flight
// repository-wide. Long-running work executes outside the lock and reports
// back through the update service's terminal events.
package cachemgr

import (
	"context"
	"sync"
	"time"

	"github.com/devpane/azdev/internal/auth"
	"github.com/devpane/azdev/internal/config"
	"github.com/devpane/azdev/internal/debug"
	"github.com/devpane/azdev/internal/eventbus"
	"github.com/devpane/azdev/internal/types"
	"github.com/devpane/azdev/internal/updatesvc"
)

// State is the manager's position in the update lifecycle.
type State string

const (
	// Idle: no work in flight.
	Idle State = "idle"
	// Refreshing: a user-triggered refresh for one search is running.
	Refreshing State = "refreshing"
	// PeriodicUpdating: a timer-triggered All refresh is running.
	PeriodicUpdating State = "periodic-updating"
	// PendingRefresh: a refresh arrived while other work ran; deferred.
	PendingRefresh State = "pending-refresh"
	// PendingClearCache: a sign-out arrived while an update ran; deferred.
	PendingClearCache State = "pending-clear-cache"
)

// Manager owns the update lifecycle: user refreshes, the periodic timer, and
// sign-out cache clearing.
type Manager struct {
	svc    *updatesvc.Service
	config func() config.Config
	bus    *eventbus.Bus[types.UpdateEvent]

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc  // cancels the in-flight dispatch
	pending *types.UpdateParams // stashed refresh for PendingRefresh

	baseCtx  context.Context
	stop     context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}

	unsubSvc  func()
	unsubAuth func()
}

// New wires a manager over the update service. It subscribes to the
// service's terminal events and to sign-out notifications; Start launches the
// periodic timer.
func New(svc *updatesvc.Service, mediator *auth.Mediator, cfg func() config.Config) *Manager {
	baseCtx, stop := context.WithCancel(context.Background())
	m := &Manager{
		svc:     svc,
		config:  cfg,
		bus:     eventbus.New[types.UpdateEvent](),
		state:   Idle,
		baseCtx: baseCtx,
		stop:    stop,
		done:    make(chan struct{}),
	}
	m.unsubSvc = svc.Subscribe(m.handleUpdate)
	if mediator != nil {
		m.unsubAuth = mediator.Subscribe(func(e auth.Event) {
			if e.Kind == auth.SignedOut {
				m.ClearCache()
			}
		})
	}
	return m
}

// Subscribe registers a terminal-event observer; events arrive in the order
// the manager returns to Idle.
func (m *Manager) Subscribe(h func(types.UpdateEvent)) (unsubscribe func()) {
	return m.bus.Subscribe(h)
}

// State returns the current state. Test hook.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start launches the periodic All refresh, cold start included.
func (m *Manager) Start() {
	go func() {
		defer close(m.done)
		m.periodicTick()
		ticker := time.NewTicker(m.config().PeriodicInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.baseCtx.Done():
				return
			case <-ticker.C:
				m.periodicTick()
			}
		}
	}()
}

// Stop cancels any in-flight dispatch and shuts the timer down.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		if m.cancel != nil {
			m.cancel()
		}
		m.mu.Unlock()
		m.stop()
		<-m.done
		m.unsubSvc()
		if m.unsubAuth != nil {
			m.unsubAuth()
		}
	})
}

// Refresh requests an update for one search (or a kind-wide update when
// params.Search is nil). Within the cooldown it is a no-op; while other work
// is in flight the request cancels it and is deferred.
func (m *Manager) Refresh(params types.UpdateParams) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Idle:
		if !m.svc.IsNewOrStale(m.baseCtx, params, m.config().RefreshCooldown) {
			debug.Logf("cachemgr: refresh %s within cooldown, skipping", params.Kind)
			return
		}
		m.launch(params, Refreshing)
	case Refreshing, PeriodicUpdating:
		m.cancel()
		m.pending = &params
		m.state = PendingRefresh
	case PendingRefresh:
		m.pending = &params
	case PendingClearCache:
		// The cache is about to be purged; the refresh is moot.
	}
}

// periodicTick starts an All update when idle; re-entry while any work is in
// flight is dropped.
func (m *Manager) periodicTick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Idle {
		return
	}
	m.launch(types.UpdateParams{Kind: types.UpdateAll}, PeriodicUpdating)
}

// ClearCache purges all cached data. While an update is in flight the purge
// is deferred until its terminal event; it takes precedence over any pending
// refresh.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case Idle:
		m.purgeLocked()
	case Refreshing, PeriodicUpdating, PendingRefresh:
		if m.cancel != nil {
			m.cancel()
		}
		m.pending = nil
		m.state = PendingClearCache
	case PendingClearCache:
	}
}

// handleUpdate is the terminal-event edge of the state machine: back to Idle,
// then drain deferred work. PendingClearCache outranks PendingRefresh.
func (m *Manager) handleUpdate(ev types.UpdateEvent) {
	m.mu.Lock()

	switch m.state {
	case Refreshing, PeriodicUpdating:
		m.toIdleLocked()
	case PendingRefresh:
		params := m.pending
		m.pending = nil
		m.toIdleLocked()
		if params != nil && m.svc.IsNewOrStale(m.baseCtx, *params, m.config().RefreshCooldown) {
			m.launch(*params, Refreshing)
		}
	case PendingClearCache:
		m.toIdleLocked()
		m.purgeLocked()
	case Idle:
		// A dispatch this manager did not launch; pass the event through.
	}

	m.mu.Unlock()
	m.bus.Publish(ev)
}

// launch starts a dispatch outside the lock and records its cancel handle.
// Caller holds m.mu.
func (m *Manager) launch(params types.UpdateParams, next State) {
	ctx, cancel := context.WithCancel(m.baseCtx)
	m.cancel = cancel
	m.state = next
	debug.Logf("cachemgr: -> %s (%s)", next, params.Kind)
	go func() {
		defer cancel()
		m.svc.Dispatch(ctx, params)
	}()
}

// toIdleLocked clears the in-flight handle. Caller holds m.mu.
func (m *Manager) toIdleLocked() {
	m.cancel = nil
	m.state = Idle
}

// purgeLocked drops the cached data. Caller holds m.mu; the purge is a few
// DDL statements against the local file.
func (m *Manager) purgeLocked() {
	if err := m.svc.PurgeAllData(context.WithoutCancel(m.baseCtx)); err != nil {
		debug.Logf("cachemgr: purge failed: %v", err)
	}
	m.state = Idle
}

// PurgeAllData clears the cache immediately or defers it behind the in-flight
// update, same as a sign-out.
func (m *Manager) PurgeAllData() {
	m.ClearCache()
}
