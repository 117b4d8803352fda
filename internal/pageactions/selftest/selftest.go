// Package selftest compares the table model configured for a page with the
// schema of the live SQLite database it points at.
package selftest

import (
	"context"
	"database/sql"
	"encoding/xml"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/manydesigns/portofino/internal/dispatcher"
	"github.com/manydesigns/portofino/internal/pageactions"
	"github.com/manydesigns/portofino/internal/scripts"
)

// ActionTypeName is the registered name of the self-test action.
const ActionTypeName = "selftest"

// ErrNotConfigured is returned when the page has no self-test configuration.
var ErrNotConfigured = errors.New("self test is not configured")

// Configuration is the configuration.xml of a self-test page.
type Configuration struct {
	XMLName xml.Name `xml:"selfTest"`
	// Database is the data source name of the SQLite database.
	Database string  `xml:"database,attr"`
	Tables   []Table `xml:"tables>table"`
}

type Table struct {
	Name    string   `xml:"name,attr"`
	Columns []Column `xml:"column"`
}

type Column struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr,omitempty"`
}

// Init normalizes column types to upper case.
func (c *Configuration) Init() error {
	if strings.TrimSpace(c.Database) == "" {
		return errors.New("selfTest: database is required")
	}
	for i := range c.Tables {
		for j := range c.Tables[i].Columns {
			c.Tables[i].Columns[j].Type = strings.ToUpper(c.Tables[i].Columns[j].Type)
		}
	}
	return nil
}

// Action is the self-test page action.
type Action struct {
	*pageactions.Base
}

// ActionType registers the self-test action.
func ActionType(loader *scripts.Loader, templates *pageactions.Templates) dispatcher.ActionType {
	return dispatcher.ActionType{
		Name: ActionTypeName,
		New: func(env *dispatcher.Env) dispatcher.PageAction {
			return &Action{Base: pageactions.NewBase(env, loader, templates)}
		},
		Configuration: reflect.TypeOf(&Configuration{}),
	}
}

// Description names the page in navigation.
func (a *Action) Description() string { return "Self test: " + a.PageInstance().Name() }

// Configuration returns the attached configuration.
func (a *Action) Configuration() (*Configuration, error) {
	cfg, ok := a.PageInstance().Configuration().(*Configuration)
	if !ok || cfg == nil {
		return nil, ErrNotConfigured
	}
	return cfg, nil
}

// Result is the outcome of a model comparison.
type Result struct {
	// Diff is a unified diff from the configured to the database model.
	Diff  string
	Equal bool
	// Configuration is the model the diff was taken from. After Sync it is
	// the saved configuration, which later dispatches attach.
	Configuration *Configuration
}

// Run diffs the configured model against the database.
func (a *Action) Run(ctx context.Context) (*Result, error) {
	cfg, err := a.Configuration()
	if err != nil {
		return nil, err
	}
	live, err := ReadModel(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	res, err := Diff(cfg.Tables, live)
	if err != nil {
		return nil, err
	}
	res.Configuration = cfg
	return res, nil
}

// Sync replaces the configured model with the database model and saves it.
// The page instance keeps the configuration it was dispatched with.
func (a *Action) Sync(ctx context.Context) (*Result, error) {
	cfg, err := a.Configuration()
	if err != nil {
		return nil, err
	}
	live, err := ReadModel(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	next := *cfg
	next.Tables = live
	if _, err := a.Pages.SaveConfiguration(a.PageInstance().Directory(), &next); err != nil {
		return nil, err
	}
	a.Log.Info("saved model synchronized to database model",
		zap.String("database", cfg.Database), zap.Int("tables", len(live)))
	res, err := Diff(next.Tables, live)
	if err != nil {
		return nil, err
	}
	res.Configuration = &next
	return res, nil
}

// ReadModel reads the user tables of a SQLite database, sorted by name.
func ReadModel(ctx context.Context, dsn string) ([]Table, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dsn, err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	names, err := tableNames(rows)
	if err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		cols, err := readColumns(ctx, db, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, Table{Name: name, Columns: cols})
	}
	return tables, nil
}

// rowSet is the part of *sql.Rows read by tableNames.
type rowSet interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func tableNames(rows rowSet) ([]string, error) {
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

func readColumns(ctx context.Context, db *sql.DB, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []Column
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("columns of %s: %w", table, err)
		}
		cols = append(cols, Column{Name: name, Type: strings.ToUpper(typ)})
	}
	return cols, rows.Err()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Diff renders both models and diffs them.
func Diff(configured, live []Table) (*Result, error) {
	a, b := render(configured), render(live)
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: "In-memory model",
		ToFile:   "Database model",
		Context:  3,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Diff: text, Equal: text == ""}, nil
}

func render(tables []Table) []string {
	var lines []string
	for _, t := range tables {
		lines = append(lines, "table "+t.Name+"\n")
		for _, c := range t.Columns {
			lines = append(lines, fmt.Sprintf("  %s %s\n", c.Name, c.Type))
		}
	}
	return lines
}
