// Package app assembles the page repository, script loader, registry and
// dispatcher from a configuration.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/manydesigns/portofino/internal/config"
	"github.com/manydesigns/portofino/internal/dispatcher"
	"github.com/manydesigns/portofino/internal/pageactions"
	"github.com/manydesigns/portofino/internal/pageactions/selftest"
	"github.com/manydesigns/portofino/internal/pages"
	"github.com/manydesigns/portofino/internal/scripts"
	"github.com/manydesigns/portofino/internal/store"
	"github.com/manydesigns/portofino/internal/watch"
)

// App holds every long-lived component.
type App struct {
	Config     config.Config
	Log        *zap.Logger
	Metrics    *prometheus.Registry
	Store      *store.Store
	Pages      *pages.Repository
	Scripts    *scripts.Loader
	Templates  *pageactions.Templates
	Registry   *dispatcher.Registry
	Env        *dispatcher.Env
	Dispatcher *dispatcher.Dispatcher

	watcher *watch.Watcher
	cancel  context.CancelFunc
}

// New builds the application. Nothing runs in the background until Start.
func New(cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	root, err := filepath.Abs(cfg.Pages.Root)
	if err != nil {
		return nil, fmt.Errorf("pages.root: %w", err)
	}
	a := &App{
		Config:  cfg,
		Log:     log,
		Metrics: prometheus.NewRegistry(),
		Store:   store.NewOS(root),
	}
	a.Metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.Pages, err = pages.NewRepository(pages.Options{
		PageCacheSize:             cfg.PageCache.Size,
		PageCacheRefresh:          cfg.PageCache.RefreshAfter(),
		ConfigurationCacheSize:    cfg.ConfigurationCache.Size,
		ConfigurationCacheRefresh: cfg.ConfigurationCache.RefreshAfter(),
		Logger:                    log,
		Registerer:                a.Metrics,
	})
	if err != nil {
		return nil, err
	}
	a.Scripts, err = scripts.NewLoader(scripts.Options{
		CacheSize:  cfg.ScriptCache.Size,
		Refresh:    cfg.ScriptCache.RefreshAfter(),
		Logger:     log,
		Registerer: a.Metrics,
	})
	if err != nil {
		a.Pages.Close()
		return nil, err
	}
	// A new declared type may expect a different configuration type.
	a.Scripts.OnRecompile(func(dir store.Location, _ scripts.Declaration) {
		a.Pages.ConfigurationCache().Invalidate(dir.Child(pages.ConfigurationFile))
	})

	a.Templates = &pageactions.Templates{Skin: cfg.Templates.Skin, Default: cfg.Templates.Default, Log: log.Named("templates")}
	if cfg.Templates.SkinsDir != "" {
		a.Templates.Skins = store.NewOS(cfg.Templates.SkinsDir)
	}

	a.Registry, err = NewRegistry(a.Scripts, a.Templates)
	if err != nil {
		a.closeCaches()
		return nil, err
	}
	a.Env = &dispatcher.Env{
		Pages:    a.Pages,
		Scripts:  a.Scripts,
		Registry: a.Registry,
		Homes:    cfg.HomeLocations(),
		Log:      log,
	}
	a.Dispatcher = dispatcher.New(a.Env, a.Store.Root())
	return a, nil
}

// NewRegistry registers the built-in action and root types.
func NewRegistry(loader *scripts.Loader, templates *pageactions.Templates) (*dispatcher.Registry, error) {
	reg := dispatcher.NewRegistry()
	for _, t := range []dispatcher.ActionType{
		pageactions.ActionType(loader, templates),
		selftest.ActionType(loader, templates),
	} {
		if err := reg.RegisterAction(t); err != nil {
			return nil, err
		}
	}
	if err := reg.RegisterRoot(dispatcher.ApplicationRootType, dispatcher.NewApplicationRoot); err != nil {
		return nil, err
	}
	if err := reg.SetDefaultAction(pageactions.PageActionType); err != nil {
		return nil, err
	}
	return reg, nil
}

// Start launches the cache sweepers and the file watcher when configured.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	if s := a.Config.Pages.SweepInterval; s > 0 {
		interval := time.Duration(s) * time.Second
		a.Pages.StartSweepers(interval)
		a.Scripts.Cache().StartSweeper(interval)
	}
	if !a.Config.Watch.Enabled {
		return nil
	}
	w, err := watch.New(a.Store, a.Log)
	if err != nil {
		return err
	}
	w.Handle(pages.PageFile, a.Pages.PageCache())
	w.Handle(pages.ConfigurationFile, a.Pages.ConfigurationCache())
	w.Handle(scripts.File, a.Scripts.Cache())
	a.watcher = w
	go w.Run(ctx)
	a.Log.Info("watching page directories", zap.String("root", a.Store.BaseDir()))
	return nil
}

// Close stops background work and releases the caches.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
	}
	var result *multierror.Error
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close watcher: %w", err))
		}
	}
	a.closeCaches()
	return result.ErrorOrNil()
}

func (a *App) closeCaches() {
	a.Pages.Close()
	a.Scripts.Close()
}
