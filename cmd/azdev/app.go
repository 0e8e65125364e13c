package main

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/devpane/azdev/internal/auth"
	"github.com/devpane/azdev/internal/azdo"
	"github.com/devpane/azdev/internal/cachemgr"
	"github.com/devpane/azdev/internal/config"
	"github.com/devpane/azdev/internal/debug"
	"github.com/devpane/azdev/internal/livedata"
	"github.com/devpane/azdev/internal/repository"
	"github.com/devpane/azdev/internal/storage/sqlite"
	"github.com/devpane/azdev/internal/telemetry"
	"github.com/devpane/azdev/internal/updater"
	"github.com/devpane/azdev/internal/updatesvc"
)

// app wires the full sync core for one CLI invocation.
type app struct {
	cfg        atomic.Pointer[config.Config]
	cache      *sqlite.CacheStore
	persistent *sqlite.PersistentStore
	authp      *auth.EnvProvider
	mediator   *auth.Mediator
	pool       *azdo.ConnectionPool
	searches   *repository.Searches
	svc        *updatesvc.Service
	mgr        *cachemgr.Manager
	provider   *livedata.Provider

	telemetryShutdown func(context.Context) error
	unsubAuth         func()
}

// newApp opens the stores and wires the components. configDir empty means
// defaults only.
func newApp(ctx context.Context, configDir string) (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	a := &app{}
	a.cfg.Store(&cfg)

	a.telemetryShutdown, err = telemetry.Init(ctx)
	if err != nil {
		return nil, err
	}

	a.mediator = auth.NewMediator()
	a.authp = auth.NewEnvProvider(a.mediator)
	a.pool = azdo.NewConnectionPool(a.authp)
	// Stale tokens must never outlive the session.
	a.unsubAuth = a.mediator.Subscribe(func(e auth.Event) {
		if e.Kind == auth.SignedOut {
			a.pool.Reset()
		}
	})

	a.cache, err = sqlite.OpenCache(ctx, cfg.CachePath())
	if err != nil {
		return nil, err
	}
	a.persistent, err = sqlite.OpenPersistent(ctx, cfg.PersistentPath())
	if err != nil {
		_ = a.cache.Close()
		return nil, err
	}

	var validator repository.Validator = repository.ParseOnlyValidator{}
	if a.authp.IsSignedIn() {
		acct, err := a.authp.DefaultAccount(ctx)
		if err == nil {
			validator = &repository.LiveValidator{Pool: a.pool, Account: acct.Login}
		}
	}
	a.searches = &repository.Searches{
		Queries:      repository.NewQueryRepository(a.persistent, validator),
		PullRequests: repository.NewPullRequestSearchRepository(a.persistent, validator),
		Definitions:  repository.NewDefinitionSearchRepository(a.persistent, validator),
		Projects:     repository.NewProjectSettingsRepository(a.persistent, validator),
	}

	deps := &updater.Deps{
		Cache:    a.cache,
		Auth:     a.authp,
		Pool:     a.pool,
		Searches: a.searches,
		Config:   a.config,
	}
	a.svc = updatesvc.New(a.cache,
		updater.NewQueryUpdater(deps),
		updater.NewMyWorkItemsUpdater(deps),
		updater.NewPullRequestUpdater(deps),
		updater.NewPipelineUpdater(deps),
	)
	a.mgr = cachemgr.New(a.svc, a.mediator, a.config)
	a.provider = livedata.New(a.svc, a.mgr)

	if configDir != "" {
		if err := config.Watch(configDir, func(c config.Config) {
			a.cfg.Store(&c)
		}); err != nil {
			debug.Logf("config watch unavailable: %v", err)
		}
	}

	return a, nil
}

// config is the live configuration getter handed to the components.
func (a *app) config() config.Config {
	return *a.cfg.Load()
}

// close releases the stores. The manager, if started, must be stopped first.
func (a *app) close(ctx context.Context) {
	if a.unsubAuth != nil {
		a.unsubAuth()
	}
	if a.persistent != nil {
		if err := a.persistent.Close(); err != nil {
			debug.Logf("closing persistent store: %v", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			debug.Logf("closing cache store: %v", err)
		}
	}
	if a.telemetryShutdown != nil {
		if err := a.telemetryShutdown(ctx); err != nil {
			debug.Logf("telemetry shutdown: %v", err)
		}
	}
}

// account returns the signed-in login or an error.
func (a *app) account(ctx context.Context) (string, error) {
	acct, err := a.authp.DefaultAccount(ctx)
	if err != nil {
		return "", err
	}
	return acct.Login, nil
}
