package selftest

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/manydesigns/portofino/api"
	"github.com/manydesigns/portofino/internal/dispatcher"
	"github.com/manydesigns/portofino/internal/pageactions"
	"github.com/manydesigns/portofino/internal/pages"
	"github.com/manydesigns/portofino/internal/scripts"
	"github.com/manydesigns/portofino/internal/store"
)

func createDB(t *testing.T) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "app.db")
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	for _, stmt := range []string{
		"CREATE TABLE orders (id INTEGER PRIMARY KEY, customer text, total REAL)",
		"CREATE TABLE customers (id INTEGER PRIMARY KEY, name TEXT)",
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return dsn
}

func TestReadModel(t *testing.T) {
	dsn := createDB(t)

	tables, err := ReadModel(context.Background(), dsn)
	require.NoError(t, err)
	assert.Equal(t, []Table{
		{Name: "customers", Columns: []Column{{"id", "INTEGER"}, {"name", "TEXT"}}},
		{Name: "orders", Columns: []Column{{"id", "INTEGER"}, {"customer", "TEXT"}, {"total", "REAL"}}},
	}, tables)
}

type fakeRows struct {
	names  []string
	cur    string
	err    error
	closed bool
}

func (r *fakeRows) Next() bool {
	if len(r.names) == 0 {
		return false
	}
	r.cur, r.names = r.names[0], r.names[1:]
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	*dest[0].(*string) = r.cur
	return nil
}

func (r *fakeRows) Err() error { return r.err }

func (r *fakeRows) Close() error {
	r.closed = true
	return nil
}

func TestTableNames(t *testing.T) {
	rows := &fakeRows{names: []string{"customers", "orders"}}
	names, err := tableNames(rows)
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, names)
	assert.True(t, rows.closed)

	interrupted := errors.New("interrupted")
	rows = &fakeRows{names: []string{"customers"}, err: interrupted}
	_, err = tableNames(rows)
	assert.ErrorIs(t, err, interrupted, "an iteration error must not yield a truncated model")
	assert.True(t, rows.closed)
}

func TestDiff(t *testing.T) {
	same := []Table{{Name: "t", Columns: []Column{{"id", "INTEGER"}}}}
	r, err := Diff(same, same)
	require.NoError(t, err)
	assert.True(t, r.Equal)
	assert.Empty(t, r.Diff)

	r, err = Diff(same, []Table{{Name: "t", Columns: []Column{{"id", "INTEGER"}, {"x", "TEXT"}}}})
	require.NoError(t, err)
	assert.False(t, r.Equal)
	assert.Contains(t, r.Diff, "--- In-memory model")
	assert.Contains(t, r.Diff, "+++ Database model")
	assert.Contains(t, r.Diff, "+  x TEXT")
}

func TestAction_RunAndSync(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	repo, err := pages.NewRepository(pages.Options{Logger: log})
	require.NoError(t, err)
	defer repo.Close()
	loader, err := scripts.NewLoader(scripts.Options{Logger: log})
	require.NoError(t, err)
	defer loader.Close()

	reg := dispatcher.NewRegistry()
	require.NoError(t, reg.RegisterAction(pageactions.ActionType(loader, nil)))
	require.NoError(t, reg.RegisterAction(ActionType(loader, nil)))
	require.NoError(t, reg.SetDefaultAction(pageactions.PageActionType))

	s := store.NewOS(t.TempDir())
	for _, dir := range []string{"/", "/admin"} {
		_, err := repo.SavePage(s.Locate(dir), &api.Page{ID: "p", Title: "P"})
		require.NoError(t, err)
	}
	_, err = loader.Write(ctx, s.Locate("/admin"), scripts.Template("Admin", ActionTypeName))
	require.NoError(t, err)

	dsn := createDB(t)
	_, err = repo.SaveConfiguration(s.Locate("/admin"), &Configuration{
		Database: dsn,
		Tables:   []Table{{Name: "orders", Columns: []Column{{Name: "id", Type: "integer"}}}},
	})
	require.NoError(t, err)

	d := dispatcher.New(&dispatcher.Env{Pages: repo, Scripts: loader, Registry: reg, Log: log}, s.Root())
	dispatch, err := d.Resolve(ctx, "/admin")
	require.NoError(t, err)
	action, ok := dispatch.Last().Action().(*Action)
	require.True(t, ok)

	cfg, err := action.Configuration()
	require.NoError(t, err)
	assert.Equal(t, "INTEGER", cfg.Tables[0].Columns[0].Type, "Init normalizes types")

	res, err := action.Run(ctx)
	require.NoError(t, err)
	assert.False(t, res.Equal)
	assert.Contains(t, res.Diff, "+table customers")

	res, err = action.Sync(ctx)
	require.NoError(t, err)
	assert.True(t, res.Equal)
	require.NotNil(t, res.Configuration)
	assert.Len(t, res.Configuration.Tables, 2)
	unchanged, err := action.Configuration()
	require.NoError(t, err)
	assert.Same(t, cfg, unchanged, "Sync must not replace the attached configuration")
	assert.Len(t, unchanged.Tables, 1)

	dispatch, err = d.Resolve(ctx, "/admin")
	require.NoError(t, err)
	synced, err := dispatch.Last().Action().(*Action).Configuration()
	require.NoError(t, err)
	assert.Len(t, synced.Tables, 2)
	assert.Equal(t, dsn, synced.Database)
}

func TestAction_NotConfigured(t *testing.T) {
	a := &Action{Base: &pageactions.Base{}}
	a.SetPageInstance(dispatcher.NewPageInstance(nil, store.NewMemory().Root(), &api.Page{}, dispatcher.ActionType{}))

	_, err := a.Run(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}
