package pageactions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/manydesigns/portofino/api"
	"github.com/manydesigns/portofino/internal/dispatcher"
	"github.com/manydesigns/portofino/internal/pages"
	"github.com/manydesigns/portofino/internal/scripts"
	"github.com/manydesigns/portofino/internal/store"
)

type fixture struct {
	store     *store.Store
	repo      *pages.Repository
	scripts   *scripts.Loader
	templates *Templates
	d         *dispatcher.Dispatcher
	logs      *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)

	repo, err := pages.NewRepository(pages.Options{Logger: log})
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	loader, err := scripts.NewLoader(scripts.Options{Logger: log})
	require.NoError(t, err)
	t.Cleanup(loader.Close)

	skins := store.NewOS(t.TempDir())
	require.NoError(t, skins.Locate("/default/templates/two-columns").MkdirAll())
	require.NoError(t, skins.Locate("/default/templates/wide").MkdirAll())
	require.NoError(t, skins.Locate("/default/templates/readme.txt").WriteFile(nil))
	templates := &Templates{Skins: skins, Log: log}

	reg := dispatcher.NewRegistry()
	require.NoError(t, reg.RegisterAction(ActionType(loader, templates)))
	require.NoError(t, reg.SetDefaultAction(PageActionType))

	s := store.NewOS(t.TempDir())
	env := &dispatcher.Env{Pages: repo, Scripts: loader, Registry: reg, Log: log}
	f := &fixture{
		store:     s,
		repo:      repo,
		scripts:   loader,
		templates: templates,
		d:         dispatcher.New(env, s.Root()),
		logs:      logs,
	}
	f.save(t, "/", &api.Page{ID: "root", Title: "Home"})
	return f
}

func (f *fixture) save(t *testing.T, dir string, p *api.Page) {
	t.Helper()
	_, err := f.repo.SavePage(f.store.Locate(dir), p)
	require.NoError(t, err)
}

func (f *fixture) resolve(t *testing.T, path string) (*dispatcher.Dispatch, *Base) {
	t.Helper()
	d, err := f.d.Resolve(context.Background(), path)
	require.NoError(t, err)
	b, ok := d.Last().Action().(*Base)
	require.True(t, ok)
	return d, b
}

func TestTemplates_Resolve(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, DefaultTemplate, f.templates.Resolve(nil))
	assert.Equal(t, DefaultTemplate, f.templates.Resolve(&api.Layout{Template: "  "}))
	assert.Equal(t, "/templates/wide", f.templates.Resolve(&api.Layout{Template: "/templates/wide"}))

	assert.Equal(t, DefaultTemplate, f.templates.Resolve(&api.Layout{Template: "/templates/gone"}))
	assert.Equal(t, 1, f.logs.FilterMessage("template does not exist, using default").Len())

	custom := &Templates{Skins: f.templates.Skins, Default: "/templates/wide"}
	assert.Equal(t, "/templates/wide", custom.Resolve(&api.Layout{}))

	var none *Templates
	assert.Equal(t, DefaultTemplate, none.Resolve(&api.Layout{Template: "/templates/wide"}))
}

func TestTemplates_SelectionProvider(t *testing.T) {
	f := newFixture(t)

	p, err := f.templates.SelectionProvider()
	require.NoError(t, err)
	var got []any
	for pair := p.Options(0).Oldest(); pair != nil; pair = pair.Next() {
		got = append(got, pair.Key)
	}
	assert.Equal(t, []any{"/templates/two-columns", "/templates/wide"}, got)

	empty := &Templates{Skins: f.templates.Skins, Skin: "nosuch"}
	p, err = empty.SelectionProvider()
	require.NoError(t, err)
	assert.Equal(t, 0, p.Options(0).Len())
}

func TestNavigationRootProvider(t *testing.T) {
	p := NavigationRootProvider()
	label, ok := p.Options(0).Get(api.NavigationGhostRoot)
	require.True(t, ok)
	assert.Equal(t, "Ghost root", label)
}

func TestBase_ReturnToParentTarget(t *testing.T) {
	f := newFixture(t)
	f.save(t, "/orders", &api.Page{ID: "orders", Title: "Orders"})
	f.save(t, "/orders/lines", &api.Page{ID: "lines", Title: "Lines"})
	f.save(t, "/ghost", &api.Page{ID: "ghost", Title: "Ghost", NavigationRoot: "GHOST_ROOT"})
	f.save(t, "/ghost/child", &api.Page{ID: "child", Title: "Child"})
	f.save(t, "/orders/island", &api.Page{ID: "island", Title: "Island", NavigationRoot: "ROOT"})

	d, b := f.resolve(t, "/orders/lines")
	assert.Equal(t, "orders", b.ReturnToParentTarget(d))

	d, b = f.resolve(t, "/ghost/child")
	assert.Equal(t, "", b.ReturnToParentTarget(d), "a ghost root hides itself from its children")

	d, b = f.resolve(t, "/orders/island")
	assert.Equal(t, "", b.ReturnToParentTarget(d), "a navigation root starts a new chain")

	d, _ = f.resolve(t, "/")
	root := d.Last().Action().(*Base)
	assert.Equal(t, "", root.ReturnToParentTarget(d))

	d, _ = f.resolve(t, "/orders/lines")
	middle := d.PageInstancePath[1].Action().(*Base)
	assert.Equal(t, "", middle.ReturnToParentTarget(d), "the root directory's page has no description")
}

func TestBase_Portlets(t *testing.T) {
	f := newFixture(t)
	f.save(t, "/orders", &api.Page{ID: "orders", Title: "Orders", Layout: &api.Layout{
		Self: &api.Self{Container: "main", Order: "5"},
		ChildPages: []api.ChildPage{
			{Name: "lines", Container: "main", Order: "1"},
			{Name: "notes", Container: "side", Order: "2"},
			{Name: "hidden"},
			{Name: "history", Container: "side", Order: "2"},
			{Name: "summary", Container: "main", Order: "5"},
		},
	}})
	f.save(t, "/plain", &api.Page{ID: "plain", Title: "Plain"})

	d, b := f.resolve(t, "/orders/")
	ps := b.Portlets(d, "/views/orders")

	main, ok := ps.Get("main")
	require.True(t, ok)
	assert.Equal(t, []Portlet{
		{ID: "clines", Order: 1, Path: "/orders/lines"},
		{ID: "p", Order: 5, Path: "/views/orders"},
		{ID: "csummary", Order: 5, Path: "/orders/summary"},
	}, main)
	side, _ := ps.Get("side")
	assert.Equal(t, []Portlet{
		{ID: "cnotes", Order: 2, Path: "/orders/notes"},
		{ID: "chistory", Order: 2, Path: "/orders/history"},
	}, side)
	assert.Equal(t, 2, ps.Len())

	d, b = f.resolve(t, "/plain")
	ps = b.Portlets(d, "/views/plain")
	def, ok := ps.Get(DefaultLayoutContainer)
	require.True(t, ok)
	assert.Equal(t, []Portlet{{ID: "p", Path: "/views/plain"}}, def)
}

func TestBase_PageTemplate(t *testing.T) {
	f := newFixture(t)
	f.save(t, "/a", &api.Page{ID: "a", Title: "A", Layout: &api.Layout{Template: "/templates/two-columns"}})
	f.save(t, "/b", &api.Page{ID: "b", Title: "B", Layout: &api.Layout{Template: "/templates/missing"}})

	_, a := f.resolve(t, "/a")
	assert.Equal(t, "/templates/two-columns", a.PageTemplate())
	_, b := f.resolve(t, "/b")
	assert.Equal(t, DefaultTemplate, b.PageTemplate())
}

func TestBase_UpdatePageConfiguration(t *testing.T) {
	f := newFixture(t)
	f.save(t, "/orders", &api.Page{ID: "orders", Title: "Orders"})
	f.save(t, "/orders/lines", &api.Page{ID: "lines", Title: "Lines"})
	f.save(t, "/orders/detail", &api.Page{ID: "detail", Title: "Detail"})
	f.save(t, "/orders/detail/items", &api.Page{ID: "items", Title: "Items"})
	require.NoError(t, f.store.Locate("/orders/assets").MkdirAll())

	_, b := f.resolve(t, "/orders")
	cached := b.Page()

	edit := b.PrepareEdit()
	assert.Equal(t, "Orders", edit.Title)
	assert.Equal(t, DefaultTemplate, edit.Template)
	assert.Equal(t, api.NavigationInherit, edit.NavigationRoot)
	assert.Nil(t, edit.Script)

	edit.Title = "  "
	_, err := b.UpdatePageConfiguration(context.Background(), edit)
	assert.ErrorIs(t, err, ErrTitleRequired)

	script := scripts.Template("Orders", PageActionType)
	edit.Title = " All orders "
	edit.Template = "/templates/wide"
	edit.DetailTemplate = "/templates/two-columns"
	edit.NavigationRoot = api.NavigationRootMode
	edit.ApplyTemplateRecursively = true
	edit.Script = &script
	report, err := b.UpdatePageConfiguration(context.Background(), edit)
	require.NoError(t, err)
	assert.Equal(t, "Orders", cached.Title, "the cached page object is not mutated")

	saved, err := f.repo.GetPage(context.Background(), f.store.Locate("/orders"))
	require.NoError(t, err)
	assert.Equal(t, "All orders", saved.Title)
	assert.Equal(t, api.NavigationRootMode, saved.ActualNavigationRoot())
	assert.Equal(t, "/templates/wide", saved.Layout.Template)
	assert.True(t, saved.ApplyTemplateRecursively)

	require.NotNil(t, report)
	assert.ElementsMatch(t, []string{"/orders/detail/items", "/orders/lines"}, report.Updated)
	require.Error(t, report.Err(), "a directory without page.xml is reported")
	assert.Len(t, report.Errors.Errors, 1)
	assert.ErrorIs(t, report.Errors.Errors[0], pages.ErrLoad)

	detail, err := pages.LoadPage(f.store.Locate("/orders/detail/page.xml"))
	require.NoError(t, err)
	assert.Equal(t, "", detail.Layout.Template, "the detail directory itself is skipped")
	items, err := pages.LoadPage(f.store.Locate("/orders/detail/items/page.xml"))
	require.NoError(t, err)
	assert.Equal(t, "/templates/wide", items.Layout.Template)
	assert.Equal(t, "/templates/two-columns", items.DetailLayout.Template)

	typ, err := f.scripts.DeclaredType(context.Background(), f.store.Locate("/orders"))
	require.NoError(t, err)
	assert.Equal(t, PageActionType, typ)
	assert.Equal(t, 1, f.logs.FilterMessage("could not set template").Len())
}

func TestBase_UpdatePageConfigurationBadScript(t *testing.T) {
	f := newFixture(t)
	f.save(t, "/orders", &api.Page{ID: "orders", Title: "Orders"})
	_, b := f.resolve(t, "/orders")

	bad := "no class here"
	edit := b.PrepareEdit()
	edit.Script = &bad
	_, err := b.UpdatePageConfiguration(context.Background(), edit)
	assert.ErrorIs(t, err, scripts.ErrNoDeclaration)

	saved, err := f.repo.GetPage(context.Background(), f.store.Locate("/orders"))
	require.NoError(t, err)
	assert.Equal(t, "Orders", saved.Title, "the page is saved before the script")
}
