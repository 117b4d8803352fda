// Package scripts reads, writes and compiles the action.script file that
// declares which registered action type drives a page directory.
//
// A script declares its action with a class header such as
//
//	class OrdersAction extends CrudAction { ... }
//
// Compiling a script extracts that declaration; the body is opaque.
package scripts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/manydesigns/portofino/internal/cache"
	"github.com/manydesigns/portofino/internal/store"
)

// File is the script file name inside a page directory.
const File = "action.script"

// ErrNoDeclaration reports a script without a class header.
var ErrNoDeclaration = errors.New("script declares no action class")

var declRe = regexp.MustCompile(`(?m)^\s*(?:public\s+)?class\s+(\w+)\s+extends\s+([\w.]+)`)

// Declaration is the compiled form of a script.
type Declaration struct {
	// Name is the class declared by the script.
	Name string
	// Base is the registered action type it extends.
	Base string
}

// CompileError wraps a script that could not be compiled.
type CompileError struct {
	Path string
	Err  error
}

func (e *CompileError) Error() string { return fmt.Sprintf("compile %s: %v", e.Path, e.Err) }
func (e *CompileError) Unwrap() error { return e.Err }

// Compile extracts the declaration from source.
func Compile(source string) (Declaration, error) {
	m := declRe.FindStringSubmatch(source)
	if m == nil {
		return Declaration{}, ErrNoDeclaration
	}
	return Declaration{Name: m[1], Base: m[2]}, nil
}

// Template returns the source of a new script extending base.
func Template(name, base string) string {
	return fmt.Sprintf("class %s extends %s {\n}\n", name, base)
}

// Location returns the script location of a page directory.
func Location(dir store.Location) store.Location {
	return dir.Child(File)
}

// Options configures a Loader.
type Options struct {
	CacheSize  int
	Refresh    time.Duration
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// RecompileHook is called after a script was written and compiled.
type RecompileHook func(dir store.Location, decl Declaration)

// Loader caches compiled scripts.
type Loader struct {
	compiled *cache.Cache[Declaration]
	log      *zap.Logger

	mu    sync.Mutex
	hooks []RecompileHook
}

// NewLoader builds a Loader.
func NewLoader(opts Options) (*Loader, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	refresh := opts.Refresh
	if refresh <= 0 {
		refresh = cache.DefaultRefreshAfter
	}
	l := &Loader{log: opts.Logger.Named("scripts")}
	c, err := cache.New(cache.Options[Declaration]{
		Name:         "scripts",
		MaxSize:      opts.CacheSize,
		RefreshAfter: refresh,
		Load:         l.load,
		Logger:       opts.Logger,
		Registerer:   opts.Registerer,
		Now:          opts.Now,
	})
	if err != nil {
		return nil, err
	}
	l.compiled = c
	return l, nil
}

// Cache exposes the compiled script cache for invalidation by watchers.
func (l *Loader) Cache() *cache.Cache[Declaration] { return l.compiled }

// Close stops background refreshes.
func (l *Loader) Close() { l.compiled.Close() }

// OnRecompile registers a hook run after every Write.
func (l *Loader) OnRecompile(h RecompileHook) {
	l.mu.Lock()
	l.hooks = append(l.hooks, h)
	l.mu.Unlock()
}

func (l *Loader) load(_ context.Context, loc store.Location, _ *cache.Entry[Declaration]) (cache.Entry[Declaration], error) {
	mod, err := loc.ModTime()
	if err != nil {
		return cache.Entry[Declaration]{}, err
	}
	src, err := loc.ReadFile()
	if err != nil {
		return cache.Entry[Declaration]{}, err
	}
	decl, err := Compile(string(src))
	if err != nil {
		return cache.Entry[Declaration]{}, &CompileError{Path: loc.Path(), Err: err}
	}
	return cache.NewEntry(decl, mod), nil
}

// Read returns the script source of dir. ok is false when dir has no script.
func (l *Loader) Read(dir store.Location) (source string, ok bool, err error) {
	data, err := Location(dir).ReadFile()
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// Write replaces the script of dir, drops its compiled form and recompiles
// it. Hooks run only when compilation succeeds.
func (l *Loader) Write(ctx context.Context, dir store.Location, source string) (Declaration, error) {
	loc := Location(dir)
	if err := loc.WriteFile([]byte(source)); err != nil {
		return Declaration{}, fmt.Errorf("write script %s: %w", loc.Path(), err)
	}
	l.compiled.Invalidate(loc)
	e, err := l.compiled.Get(ctx, loc)
	if err != nil {
		return Declaration{}, err
	}
	l.log.Info("script recompiled", zap.String("path", loc.Path()), zap.String("extends", e.Value.Base))

	l.mu.Lock()
	hooks := append([]RecompileHook(nil), l.hooks...)
	l.mu.Unlock()
	for _, h := range hooks {
		h(dir, e.Value)
	}
	return e.Value, nil
}

// DeclaredType returns the action type declared by the script of dir, or ""
// when dir has no script. A script that disappeared after being cached also
// yields "".
func (l *Loader) DeclaredType(ctx context.Context, dir store.Location) (string, error) {
	loc := Location(dir)
	if !loc.Exists() {
		return "", nil
	}
	e, err := l.compiled.Get(ctx, loc)
	if err != nil {
		return "", err
	}
	if e.Err {
		return "", nil
	}
	return e.Value.Base, nil
}
