// Package pages persists page definitions and per-action configuration
// objects as XML and serves them through the definition caches.
package pages

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/manydesigns/portofino/api"
	"github.com/manydesigns/portofino/internal/cache"
	"github.com/manydesigns/portofino/internal/store"
)

const (
	// PageFile is the page definition inside a page directory.
	PageFile = "page.xml"
	// ConfigurationFile is the action configuration inside a page directory.
	ConfigurationFile = "configuration.xml"
)

// Injector populates collaborators on a freshly loaded configuration.
type Injector interface {
	Inject(ctx context.Context, target any) error
}

// InjectorFunc adapts a function to Injector.
type InjectorFunc func(ctx context.Context, target any) error

func (f InjectorFunc) Inject(ctx context.Context, target any) error { return f(ctx, target) }

// Initializer is implemented by configurations with a post-load hook.
type Initializer interface {
	Init() error
}

// Options configures a Repository. Zero values take the cache defaults.
type Options struct {
	PageCacheSize             int
	PageCacheRefresh          time.Duration
	ConfigurationCacheSize    int
	ConfigurationCacheRefresh time.Duration
	Injector                  Injector
	Logger                    *zap.Logger
	Registerer                prometheus.Registerer
	Now                       func() time.Time
}

// Repository owns the page cache and the configuration cache.
type Repository struct {
	pages          *cache.Cache[*api.Page]
	configurations *cache.Cache[any]
	injector       Injector
	log            *zap.Logger
}

// NewRepository builds both caches.
func NewRepository(opts Options) (*Repository, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := &Repository{
		injector: opts.Injector,
		log:      opts.Logger.Named("pages"),
	}

	var err error
	r.pages, err = cache.New(cache.Options[*api.Page]{
		Name:         "pages",
		MaxSize:      opts.PageCacheSize,
		RefreshAfter: refreshOrDefault(opts.PageCacheRefresh),
		Load:         r.loadPageEntry,
		Logger:       opts.Logger,
		Registerer:   opts.Registerer,
		Now:          opts.Now,
	})
	if err != nil {
		return nil, err
	}

	// Configurations have no initial loader: the expected type is only known
	// to GetConfiguration, which populates the cache itself.
	r.configurations, err = cache.New(cache.Options[any]{
		Name:         "configurations",
		MaxSize:      opts.ConfigurationCacheSize,
		RefreshAfter: refreshOrDefault(opts.ConfigurationCacheRefresh),
		Reload:       r.reloadConfigurationEntry,
		Logger:       opts.Logger,
		Registerer:   opts.Registerer,
		Now:          opts.Now,
	})
	if err != nil {
		r.pages.Close()
		return nil, err
	}
	return r, nil
}

func refreshOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return cache.DefaultRefreshAfter
	}
	return d
}

// StartSweepers refreshes both caches every interval without waiting for reads.
func (r *Repository) StartSweepers(interval time.Duration) {
	r.pages.StartSweeper(interval)
	r.configurations.StartSweeper(interval)
}

// Close stops background refreshes.
func (r *Repository) Close() {
	r.pages.Close()
	r.configurations.Close()
}

// PageCache exposes the page cache for invalidation by watchers.
func (r *Repository) PageCache() *cache.Cache[*api.Page] { return r.pages }

// ConfigurationCache exposes the configuration cache for invalidation by watchers.
func (r *Repository) ConfigurationCache() *cache.Cache[any] { return r.configurations }

// MarshalPage renders a page document. Missing layouts are written as empty
// elements so that a loaded page marshals to the same bytes.
func MarshalPage(p *api.Page) ([]byte, error) {
	cp := *p
	if cp.Layout == nil {
		cp.Layout = &api.Layout{}
	}
	if cp.DetailLayout == nil {
		cp.DetailLayout = &api.Layout{}
	}
	return marshal(&cp)
}

func marshal(v any) ([]byte, error) {
	out, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(xml.Header) + len(out) + 1)
	buf.WriteString(xml.Header)
	buf.Write(out)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// SavePage writes dir/page.xml and invalidates its cache entry before returning.
func (r *Repository) SavePage(dir store.Location, p *api.Page) (store.Location, error) {
	loc := dir.Child(PageFile)
	data, err := MarshalPage(p)
	if err != nil {
		return loc, &SaveError{Path: loc.Path(), Err: err}
	}
	if err := loc.WriteFile(data); err != nil {
		return loc, &SaveError{Path: loc.Path(), Err: err}
	}
	r.pages.Invalidate(loc)
	return loc, nil
}

// LoadPage reads and initialises the page document at loc, bypassing the cache.
func LoadPage(loc store.Location) (*api.Page, error) {
	data, err := loc.ReadFile()
	if err != nil {
		return nil, &LoadError{Path: loc.Path(), Err: err}
	}
	var p api.Page
	if err := xml.Unmarshal(data, &p); err != nil {
		return nil, &LoadError{Path: loc.Path(), Err: err}
	}
	p.Init()
	return &p, nil
}

func (r *Repository) loadPageEntry(_ context.Context, loc store.Location, _ *cache.Entry[*api.Page]) (cache.Entry[*api.Page], error) {
	mod, err := loc.ModTime()
	if err != nil {
		return cache.Entry[*api.Page]{}, &LoadError{Path: loc.Path(), Err: err}
	}
	p, err := LoadPage(loc)
	if err != nil {
		return cache.Entry[*api.Page]{}, err
	}
	return cache.NewEntry(p, mod), nil
}

// GetPage returns the cached page of a page directory. Missing, malformed
// and errored pages all surface as *PageNotActiveError.
func (r *Repository) GetPage(ctx context.Context, dir store.Location) (*api.Page, error) {
	e, err := r.pages.Get(ctx, dir.Child(PageFile))
	if err != nil {
		return nil, &PageNotActiveError{Path: dir.Path(), Err: err}
	}
	if e.Err {
		return nil, &PageNotActiveError{Path: dir.Path()}
	}
	return e.Value, nil
}

// ValidateConfigurationType checks that typ can hold an XML configuration.
func ValidateConfigurationType(typ reflect.Type) error {
	if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("configuration type %v is not a pointer to struct", typ)
	}
	return nil
}

// SaveConfiguration writes dir/configuration.xml and invalidates its cache entry.
func (r *Repository) SaveConfiguration(dir store.Location, cfg any) (store.Location, error) {
	loc := dir.Child(ConfigurationFile)
	data, err := marshal(cfg)
	if err != nil {
		return loc, &SaveError{Path: loc.Path(), Err: err}
	}
	if err := loc.WriteFile(data); err != nil {
		return loc, &SaveError{Path: loc.Path(), Err: err}
	}
	r.configurations.Invalidate(loc)
	return loc, nil
}

// LoadConfiguration reads the configuration at loc into a new value of typ,
// injects its collaborators and runs its Init hook. A nil typ yields nil.
func (r *Repository) LoadConfiguration(ctx context.Context, loc store.Location, typ reflect.Type) (any, error) {
	if typ == nil {
		return nil, nil
	}
	if err := ValidateConfigurationType(typ); err != nil {
		return nil, &LoadError{Path: loc.Path(), Err: err}
	}
	data, err := loc.ReadFile()
	if err != nil {
		return nil, &LoadError{Path: loc.Path(), Err: err}
	}
	cfg := reflect.New(typ.Elem()).Interface()
	if err := xml.Unmarshal(data, cfg); err != nil {
		return nil, &LoadError{Path: loc.Path(), Err: err}
	}
	if r.injector != nil {
		if err := r.injector.Inject(ctx, cfg); err != nil {
			return nil, &LoadError{Path: loc.Path(), Err: fmt.Errorf("inject: %w", err)}
		}
	}
	if in, ok := cfg.(Initializer); ok {
		if err := in.Init(); err != nil {
			return nil, &LoadError{Path: loc.Path(), Err: fmt.Errorf("init: %w", err)}
		}
	}
	return cfg, nil
}

func (r *Repository) reloadConfigurationEntry(ctx context.Context, loc store.Location, prev *cache.Entry[any]) (cache.Entry[any], error) {
	if prev == nil || prev.Type == nil {
		return cache.Entry[any]{}, errors.New("no configuration type recorded")
	}
	mod, err := loc.ModTime()
	if err != nil {
		return cache.Entry[any]{}, err
	}
	cfg, err := r.LoadConfiguration(ctx, loc, prev.Type)
	if err != nil {
		return cache.Entry[any]{}, err
	}
	return cache.NewEntry(cfg, mod), nil
}

// GetConfiguration returns the cached configuration at loc, loading it when
// it is absent, in error, or of a type other than typ.
func (r *Repository) GetConfiguration(ctx context.Context, loc store.Location, typ reflect.Type) (any, error) {
	if typ == nil {
		return nil, nil
	}
	accept := func(e cache.Entry[any]) bool { return !e.Err && e.Type == typ }
	load := func(ctx context.Context, loc store.Location, prev *cache.Entry[any]) (cache.Entry[any], error) {
		switch {
		case prev == nil:
		case prev.Err:
			r.log.Warn("cached configuration is in error state, forcing a reload", zap.String("path", loc.Path()))
		default:
			r.log.Warn("cached configuration has the wrong type, forcing a reload",
				zap.String("path", loc.Path()), zap.Stringer("cached", prev.Type), zap.Stringer("expected", typ))
		}
		mod, err := loc.ModTime()
		if err != nil {
			return cache.Entry[any]{}, &LoadError{Path: loc.Path(), Err: err}
		}
		cfg, err := r.LoadConfiguration(ctx, loc, typ)
		if err != nil {
			return cache.Entry[any]{}, err
		}
		return cache.NewEntry(cfg, mod), nil
	}
	e, err := r.configurations.GetOrLoad(ctx, loc, typeKey(typ), accept, load)
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

// typeKey names typ uniquely enough to keep loads of different types apart.
func typeKey(typ reflect.Type) string {
	if typ.Kind() == reflect.Pointer {
		return typ.Elem().PkgPath() + " " + typ.String()
	}
	return typ.PkgPath() + " " + typ.String()
}

// ClearConfigurationCache removes the cached configurations whose recorded
// type is exactly typ. A nil typ clears the whole cache.
func (r *Repository) ClearConfigurationCache(typ reflect.Type) int {
	if typ == nil {
		n := r.configurations.Len()
		r.configurations.Purge()
		return n
	}
	return r.configurations.InvalidateAll(func(_ string, e cache.Entry[any]) bool {
		return e.Type == typ
	})
}
