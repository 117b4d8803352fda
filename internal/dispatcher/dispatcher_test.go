package dispatcher

import (
	"context"
	"encoding/xml"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/manydesigns/portofino/api"
	"github.com/manydesigns/portofino/internal/pages"
	"github.com/manydesigns/portofino/internal/scripts"
	"github.com/manydesigns/portofino/internal/store"
)

type pageConfig struct {
	XMLName xml.Name `xml:"pageConfig"`
	Color   string   `xml:"color,attr"`
}

type testAction struct {
	inst *PageInstance
}

func (a *testAction) SetPageInstance(p *PageInstance) { a.inst = p }
func (a *testAction) PageInstance() *PageInstance     { return a.inst }

type fixture struct {
	store   *store.Store
	repo    *pages.Repository
	scripts *scripts.Loader
	env     *Env
	logs    *observer.ObservedLogs
	d       *Dispatcher
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

	reg := NewRegistry()
	require.NoError(t, reg.RegisterAction(ActionType{
		Name:          "page",
		New:           func(*Env) PageAction { return &testAction{} },
		Configuration: reflect.TypeOf(&pageConfig{}),
	}))
	require.NoError(t, reg.RegisterAction(ActionType{
		Name:           "crud",
		New:            func(*Env) PageAction { return &testAction{} },
		SupportsDetail: true,
	}))
	require.NoError(t, reg.SetDefaultAction("page"))
	require.NoError(t, reg.RegisterRoot(ApplicationRootType, NewApplicationRoot))

	s := store.NewOS(t.TempDir())
	env := &Env{
		Pages:    repo,
		Scripts:  loader,
		Registry: reg,
		Homes:    map[string]string{FormatHTML: "/home", FormatJSON: "/api/home"},
		Log:      log,
	}
	f := &fixture{store: s, repo: repo, scripts: loader, env: env, logs: logs}
	f.d = New(env, s.Root())
	f.page(t, "/")
	return f
}

func (f *fixture) page(t *testing.T, dir string) store.Location {
	t.Helper()
	loc := f.store.Locate(dir)
	_, err := f.repo.SavePage(loc, &api.Page{ID: loc.Name(), Title: loc.Name()})
	require.NoError(t, err)
	return loc
}

func (f *fixture) declare(t *testing.T, dir, base string) {
	t.Helper()
	_, err := f.scripts.Write(context.Background(), f.store.Locate(dir), scripts.Template("Declared", base))
	require.NoError(t, err)
}

func paths(d *Dispatch) []string {
	var out []string
	for _, pi := range d.PageInstancePath {
		out = append(out, pi.Path())
	}
	return out
}

func TestResolve_FullChain(t *testing.T) {
	f := newFixture(t)
	f.page(t, "/orders")
	f.page(t, "/orders/lines")

	d, err := f.d.Resolve(context.Background(), "/orders/lines")
	require.NoError(t, err)

	assert.Equal(t, []string{"", "/orders", "/orders/lines"}, paths(d))
	assert.True(t, d.Complete())
	assert.Equal(t, "/orders/lines", d.OriginalPath)
	assert.Equal(t, "/orders/lines", d.RewrittenPath)
	assert.IsType(t, &BaseRoot{}, d.Root)

	leaf := d.Last()
	assert.Equal(t, "lines", leaf.Page().Title)
	assert.Equal(t, "page", leaf.ActionType().Name)
	assert.Same(t, leaf, leaf.Action().PageInstance())
	assert.Same(t, d.PageInstancePath[1], leaf.ParentPageInstance())
	assert.Nil(t, d.PageInstancePath[0].ParentPageInstance())
	assert.Equal(t, d.Root, d.PageInstancePath[0].Parent())
}

func TestResolve_StopsAtFirstUnknownSegment(t *testing.T) {
	f := newFixture(t)
	f.page(t, "/orders")
	require.NoError(t, f.store.Locate("/orders/plain/readme.txt").WriteFile([]byte("not a page")))

	d, err := f.d.Resolve(context.Background(), "orders/plain/extra/")
	require.NoError(t, err)

	assert.Equal(t, []string{"", "/orders"}, paths(d))
	assert.Equal(t, []string{"plain", "extra"}, d.Remaining)
	assert.Equal(t, "/orders", d.RewrittenPath)
	assert.False(t, d.Complete())
}

func TestResolve_RefusesParentSegments(t *testing.T) {
	f := newFixture(t)
	f.page(t, "/orders")

	d, err := f.d.Resolve(context.Background(), "/orders/../orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"", "/orders"}, paths(d))
	assert.Equal(t, []string{"..", "orders"}, d.Remaining)
}

func TestResolve_DetailParameter(t *testing.T) {
	f := newFixture(t)
	f.page(t, "/orders")
	f.declare(t, "/orders", "crud")
	f.page(t, "/orders/detail/lines")

	d, err := f.d.Resolve(context.Background(), "/orders/42/lines/x")
	require.NoError(t, err)

	assert.Equal(t, []string{"", "/orders/42", "/orders/42/lines"}, paths(d))
	assert.Equal(t, []string{"42"}, d.PageInstancePath[1].Parameters())
	assert.Equal(t, "crud", d.PageInstancePath[1].ActionType().Name)
	assert.Equal(t, []string{"x"}, d.Remaining)
	assert.Equal(t, "/orders/42/lines", d.RewrittenPath)
	assert.Equal(t, "/orders/detail/lines", d.Last().Directory().Path())
}

func TestResolve_InactivePageFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Locate("/broken/page.xml").WriteFile([]byte("<page id=")))

	_, err := f.d.Resolve(context.Background(), "/broken")
	var pna *pages.PageNotActiveError
	require.ErrorAs(t, err, &pna)
	assert.Equal(t, "/broken", pna.Path)
}

func TestResolve_UnknownDeclaredAction(t *testing.T) {
	f := newFixture(t)
	f.page(t, "/orders")
	f.declare(t, "/orders", "nosuch")

	_, err := f.d.Resolve(context.Background(), "/orders")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestResolve_CanceledContext(t *testing.T) {
	f := newFixture(t)
	f.page(t, "/orders")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.d.Resolve(ctx, "/orders")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigurePageAction_Idempotent(t *testing.T) {
	f := newFixture(t)
	dir := f.page(t, "/orders")
	_, err := f.repo.SaveConfiguration(dir, &pageConfig{Color: "red"})
	require.NoError(t, err)

	d, err := f.d.Resolve(context.Background(), "/orders")
	require.NoError(t, err)
	inst := d.Last()
	cfg, ok := inst.Configuration().(*pageConfig)
	require.True(t, ok)
	assert.Equal(t, "red", cfg.Color)

	// Even a changed file is not re-read for an already configured instance.
	_, err = f.repo.SaveConfiguration(dir, &pageConfig{Color: "blue"})
	require.NoError(t, err)
	first := inst.Action()
	ConfigurePageAction(context.Background(), f.env, &testAction{}, inst)

	assert.Same(t, cfg, inst.Configuration())
	assert.Same(t, first, inst.Action())
	assert.Equal(t, 1, f.logs.FilterMessage("page instance is already configured").Len())
}

func TestConfigurePageAction_SharesCachedConfiguration(t *testing.T) {
	f := newFixture(t)
	dir := f.page(t, "/orders")
	_, err := f.repo.SaveConfiguration(dir, &pageConfig{Color: "red"})
	require.NoError(t, err)

	a, err := f.d.Resolve(context.Background(), "/orders")
	require.NoError(t, err)
	b, err := f.d.Resolve(context.Background(), "/orders")
	require.NoError(t, err)

	assert.NotSame(t, a.Last(), b.Last(), "page instances are per dispatch")
	assert.Same(t, a.Last().Configuration(), b.Last().Configuration())
}

func TestConfigurePageAction_MissingOrBrokenConfiguration(t *testing.T) {
	f := newFixture(t)
	f.page(t, "/plain")
	f.page(t, "/broken")
	require.NoError(t, f.store.Locate("/broken/configuration.xml").WriteFile([]byte("<pageConfig")))

	d, err := f.d.Resolve(context.Background(), "/plain")
	require.NoError(t, err)
	assert.Nil(t, d.Last().Configuration())
	assert.NotNil(t, d.Last().Action())

	d, err = f.d.Resolve(context.Background(), "/broken")
	require.NoError(t, err, "configuration failures never fail the resolution")
	assert.Nil(t, d.Last().Configuration())
	assert.Equal(t, 1, f.logs.FilterLevelExact(zapcore.ErrorLevel).FilterMessage("couldn't load configuration").Len())
}

func TestResolveRoot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := ResolveRoot(ctx, f.env, f.store.Locate("/missing"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = ResolveRoot(ctx, f.env, f.store.Locate("/page.xml"))
	assert.ErrorIs(t, err, store.ErrNotFound)

	r, err := ResolveRoot(ctx, f.env, f.store.Root())
	require.NoError(t, err)
	assert.IsType(t, &BaseRoot{}, r)
	assert.Equal(t, "", r.Path())
	assert.Nil(t, r.Parent())
	assert.ErrorIs(t, r.SetParent(r), ErrRootParent)

	f.declare(t, "/", ApplicationRootType)
	r, err = ResolveRoot(ctx, f.env, f.store.Root())
	require.NoError(t, err)
	app, ok := r.(*ApplicationRoot)
	require.True(t, ok)
	home, ok := app.Home(FormatHTML)
	assert.True(t, ok)
	assert.Equal(t, "/home", home)
	_, ok = app.Home(FormatYAML)
	assert.False(t, ok)
}

func TestResolveRoot_NonRootDeclarationFallsBack(t *testing.T) {
	f := newFixture(t)
	f.declare(t, "/", "crud")

	r, err := ResolveRoot(context.Background(), f.env, f.store.Root())
	require.NoError(t, err)
	assert.IsType(t, &BaseRoot{}, r)
	assert.Equal(t, 1, f.logs.FilterMessage("declared type is not a root, ignoring").Len())
}
