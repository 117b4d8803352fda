package app

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/manydesigns/portofino/api"
	"github.com/manydesigns/portofino/internal/config"
	"github.com/manydesigns/portofino/internal/dispatcher"
	"github.com/manydesigns/portofino/internal/pageactions"
	"github.com/manydesigns/portofino/internal/pageactions/selftest"
	"github.com/manydesigns/portofino/internal/pages"
	"github.com/manydesigns/portofino/internal/scripts"
)

func newApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Pages.Root = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	return a
}

func TestNew_ResolvesPages(t *testing.T) {
	a := newApp(t, func(c *config.Config) { c.Homes.HTML = "/orders" })
	ctx := context.Background()

	_, err := a.Pages.SavePage(a.Store.Root(), &api.Page{ID: "root", Title: "Home"})
	require.NoError(t, err)
	_, err = a.Pages.SavePage(a.Store.Locate("/orders"), &api.Page{ID: "orders", Title: "Orders"})
	require.NoError(t, err)
	_, err = a.Scripts.Write(ctx, a.Store.Root(), scripts.Template("App", dispatcher.ApplicationRootType))
	require.NoError(t, err)

	d, err := a.Dispatcher.Resolve(ctx, "/orders")
	require.NoError(t, err)
	require.Len(t, d.PageInstancePath, 2)
	assert.Equal(t, pageactions.PageActionType, d.Last().ActionType().Name)

	root, ok := d.Root.(*dispatcher.ApplicationRoot)
	require.True(t, ok)
	home, ok := root.Home(dispatcher.FormatHTML)
	assert.True(t, ok)
	assert.Equal(t, "/orders", home)
	_, ok = root.Home(dispatcher.FormatJSON)
	assert.False(t, ok)
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{pageactions.PageActionType, selftest.ActionTypeName}, reg.Actions())
	def, ok := reg.DefaultAction()
	require.True(t, ok)
	assert.Equal(t, pageactions.PageActionType, def.Name)
	_, ok = reg.Root(dispatcher.ApplicationRootType)
	assert.True(t, ok)
}

func TestStart_WatchInvalidatesPages(t *testing.T) {
	a := newApp(t, func(c *config.Config) { c.Watch.Enabled = true })
	ctx := context.Background()

	_, err := a.Pages.SavePage(a.Store.Root(), &api.Page{ID: "root", Title: "Home"})
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	p, err := a.Pages.GetPage(ctx, a.Store.Root())
	require.NoError(t, err)
	assert.Equal(t, "Home", p.Title)

	changed, err := pages.MarshalPage(&api.Page{ID: "root", Title: "Renamed"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(a.Store.BaseDir(), pages.PageFile), changed, 0o644))

	assert.Eventually(t, func() bool {
		p, err := a.Pages.GetPage(ctx, a.Store.Root())
		return err == nil && p.Title == "Renamed"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStart_SweepersOnly(t *testing.T) {
	a := newApp(t, func(c *config.Config) { c.Pages.SweepInterval = 1 })
	require.NoError(t, a.Start(context.Background()))
}

func TestScriptRecompileDropsConfiguration(t *testing.T) {
	a := newApp(t, nil)
	ctx := context.Background()
	dir := a.Store.Locate("/admin")

	_, err := a.Pages.SavePage(dir, &api.Page{ID: "admin", Title: "Admin"})
	require.NoError(t, err)
	loc, err := a.Pages.SaveConfiguration(dir, &selftest.Configuration{Database: "app.db"})
	require.NoError(t, err)
	_, err = a.Pages.GetConfiguration(ctx, loc, reflect.TypeOf(&selftest.Configuration{}))
	require.NoError(t, err)
	_, ok := a.Pages.ConfigurationCache().GetIfPresent(loc)
	require.True(t, ok)

	_, err = a.Scripts.Write(ctx, dir, scripts.Template("Admin", selftest.ActionTypeName))
	require.NoError(t, err)
	_, ok = a.Pages.ConfigurationCache().GetIfPresent(loc)
	assert.False(t, ok)
}
