// Package cache implements the definition cache sitting between the
// dispatcher and the on-disk page and configuration documents.
//
// Entries are refreshed after write: a read of an entry older than the
// refresh interval returns the cached entry immediately and schedules a
// background revalidation of the backing file. Revalidation replaces the
// entry with an error entry when the file disappeared, reloads it when the
// file is newer than the cached copy, and otherwise keeps it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/manydesigns/portofino/internal/store"
)

const (
	DefaultMaxSize      = 1000
	DefaultRefreshAfter = 5 * time.Second
	DefaultWorkers      = 8

	refreshTimeout = 30 * time.Second
)

// Options configures a Cache.
type Options[T any] struct {
	// Name labels log lines and metrics.
	Name string
	// MaxSize bounds the number of entries (least recently used evicted first).
	MaxSize int
	// RefreshAfter is the age after which a read triggers a refresh.
	// Zero disables refreshing.
	RefreshAfter time.Duration
	// Load performs the synchronous initial load on a miss. Optional.
	Load LoadFunc[T]
	// Reload reloads a stale entry whose file changed. Defaults to Load.
	Reload LoadFunc[T]
	// Workers bounds concurrent refresh tasks.
	Workers    int
	Logger     *zap.Logger
	Registerer prometheus.Registerer
	// Now is the clock, overridable in tests.
	Now func() time.Time
}

type item[T any] struct {
	loc       store.Location
	entry     Entry[T]
	writtenAt time.Time
}

// Cache maps locations to typed entries.
type Cache[T any] struct {
	name         string
	refreshAfter time.Duration
	load         LoadFunc[T]
	reload       LoadFunc[T]
	now          func() time.Time
	log          *zap.Logger
	metrics      *metrics

	mu       sync.Mutex
	lru      *simplelru.LRU[string, *item[T]]
	gens     map[string]uint64
	inflight map[string]struct{}
	closed   bool

	loads  singleflight.Group
	sem    chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Cache. Missing options take the package defaults.
func New[T any](opts Options[T]) (*Cache[T], error) {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Reload == nil {
		opts.Reload = opts.Load
	}
	l, err := simplelru.NewLRU[string, *item[T]](opts.MaxSize, nil)
	if err != nil {
		return nil, fmt.Errorf("cache %s: %w", opts.Name, err)
	}
	return &Cache[T]{
		name:         opts.Name,
		refreshAfter: opts.RefreshAfter,
		load:         opts.Load,
		reload:       opts.Reload,
		now:          opts.Now,
		log:          opts.Logger.Named("cache").With(zap.String("cache", opts.Name)),
		metrics:      newMetrics(opts.Name, opts.Registerer),
		lru:          l,
		gens:         make(map[string]uint64),
		inflight:     make(map[string]struct{}),
		sem:          make(chan struct{}, opts.Workers),
		stopCh:       make(chan struct{}),
	}, nil
}

// Get returns the entry for loc. On a miss the initial loader runs
// synchronously; concurrent misses for the same key share one load and the
// loader's error is returned to every waiting caller.
func (c *Cache[T]) Get(ctx context.Context, loc store.Location) (Entry[T], error) {
	if e, ok := c.lookup(loc); ok {
		return e, nil
	}
	c.metrics.misses.Inc()
	if c.load == nil {
		return Entry[T]{}, ErrNoLoader
	}
	return c.loadShared(ctx, loc, "", nil, c.load)
}

// GetOrLoad returns the cached entry for loc when accept approves it and
// otherwise loads it with load, which receives the rejected entry as prev.
// Concurrent calls with the same loc and variant share one load. A load
// overtaken by Invalidate is returned to its callers but not cached.
func (c *Cache[T]) GetOrLoad(ctx context.Context, loc store.Location, variant string, accept func(Entry[T]) bool, load LoadFunc[T]) (Entry[T], error) {
	if e, ok := c.lookup(loc); ok && accept(e) {
		return e, nil
	}
	c.metrics.misses.Inc()
	return c.loadShared(ctx, loc, variant, accept, load)
}

func (c *Cache[T]) loadShared(ctx context.Context, loc store.Location, variant string, accept func(Entry[T]) bool, load LoadFunc[T]) (Entry[T], error) {
	key := loc.Path()
	c.mu.Lock()
	gen := c.gens[key]
	c.mu.Unlock()

	v, err, _ := c.loads.Do(fmt.Sprintf("%s#%d#%s", key, gen, variant), func() (any, error) {
		// A previous flight for this generation may have completed between
		// our miss and this call.
		var prev *Entry[T]
		if e, ok := c.peek(key); ok {
			if accept == nil || accept(e) {
				return e, nil
			}
			prev = &e
		}
		c.metrics.loads.Inc()
		e, err := load(ctx, loc, prev)
		if err != nil {
			c.metrics.loadErrors.Inc()
			return nil, err
		}
		c.insert(loc, e, gen)
		return e, nil
	})
	if err != nil {
		return Entry[T]{}, err
	}
	return v.(Entry[T]), nil
}

// GetIfPresent returns the cached entry without loading. Stale entries still
// schedule a refresh.
func (c *Cache[T]) GetIfPresent(loc store.Location) (Entry[T], bool) {
	e, ok := c.lookup(loc)
	if !ok {
		c.metrics.misses.Inc()
	}
	return e, ok
}

// Invalidate removes the entry for loc. Loads and refreshes started before
// the call never write their result back, so the next Get loads afresh.
func (c *Cache[T]) Invalidate(loc store.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(loc.Path())
}

// InvalidateAll removes every entry for which pred returns true.
func (c *Cache[T]) InvalidateAll(pred func(key string, e Entry[T]) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, key := range c.lru.Keys() {
		it, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if pred == nil || pred(key, it.entry) {
			c.invalidateLocked(key)
			n++
		}
	}
	return n
}

// Purge removes every entry.
func (c *Cache[T]) Purge() {
	c.InvalidateAll(nil)
}

// Len returns the number of cached entries.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys returns the cached keys from oldest to newest use.
func (c *Cache[T]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// StartSweeper refreshes entries past their refresh interval every interval,
// without waiting for a read. It is stopped by Close.
func (c *Cache[T]) StartSweeper(interval time.Duration) {
	if interval <= 0 || c.refreshAfter <= 0 {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-t.C:
				c.sweep()
			}
		}
	}()
}

// Close stops the sweeper and waits for running refresh tasks.
func (c *Cache[T]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stopCh)
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Cache[T]) invalidateLocked(key string) {
	c.gens[key]++
	if c.lru.Remove(key) {
		c.metrics.invalidations.Inc()
	}
}

func (c *Cache[T]) lookup(loc store.Location) (Entry[T], bool) {
	c.mu.Lock()
	it, ok := c.lru.Get(loc.Path())
	if !ok {
		c.mu.Unlock()
		return Entry[T]{}, false
	}
	e := it.entry
	stale := c.isStale(it)
	c.mu.Unlock()

	c.metrics.hits.Inc()
	if stale {
		c.scheduleRefresh(loc.Path())
	}
	return e, true
}

func (c *Cache[T]) peek(key string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.lru.Peek(key)
	if !ok {
		return Entry[T]{}, false
	}
	return it.entry, true
}

func (c *Cache[T]) insert(loc store.Location, e Entry[T], gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[loc.Path()] != gen {
		return
	}
	if c.lru.Add(loc.Path(), &item[T]{loc: loc, entry: e, writtenAt: c.now()}) {
		c.metrics.evictions.Inc()
	}
}

func (c *Cache[T]) isStale(it *item[T]) bool {
	return c.refreshAfter > 0 && c.now().Sub(it.writtenAt) >= c.refreshAfter
}

func (c *Cache[T]) sweep() {
	c.mu.Lock()
	var stale []string
	for _, key := range c.lru.Keys() {
		if it, ok := c.lru.Peek(key); ok && c.isStale(it) {
			stale = append(stale, key)
		}
	}
	c.mu.Unlock()
	for _, key := range stale {
		c.scheduleRefresh(key)
	}
}

// scheduleRefresh starts at most one refresh task per key. When every worker
// is busy the refresh is dropped; the next stale read schedules it again.
func (c *Cache[T]) scheduleRefresh(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, busy := c.inflight[key]; busy {
		return
	}
	it, ok := c.lru.Peek(key)
	if !ok {
		return
	}
	select {
	case c.sem <- struct{}{}:
	default:
		c.metrics.dropped.Inc()
		return
	}
	c.inflight[key] = struct{}{}
	gen := c.gens[key]
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() { <-c.sem }()
		defer func() {
			c.mu.Lock()
			delete(c.inflight, key)
			c.mu.Unlock()
		}()
		c.refresh(it, gen)
	}()
}

func (c *Cache[T]) refresh(it *item[T], gen uint64) {
	c.metrics.refreshes.Inc()
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	c.mu.Lock()
	old := it.entry
	c.mu.Unlock()

	next := c.revalidate(ctx, it.loc, old)

	c.mu.Lock()
	defer c.mu.Unlock()
	key := it.loc.Path()
	if c.gens[key] != gen {
		return
	}
	if cur, ok := c.lru.Peek(key); !ok || cur != it {
		return
	}
	it.entry = next
	it.writtenAt = c.now()
}

func (c *Cache[T]) revalidate(ctx context.Context, loc store.Location, old Entry[T]) Entry[T] {
	mod, err := loc.ModTime()
	if err != nil {
		c.log.Debug("backing file gone, marking entry in error", zap.String("path", loc.Path()), zap.Error(err))
		c.metrics.refreshErrors.Inc()
		return ErrorEntry[T](time.Time{}, old.Type)
	}
	if !mod.After(old.LastModified) {
		return old
	}
	if c.reload == nil {
		c.metrics.refreshErrors.Inc()
		return ErrorEntry[T](mod, old.Type)
	}
	next, err := c.reload(ctx, loc, &old)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.log.Error("could not reload cached definition, marking entry in error",
				zap.String("path", loc.Path()), zap.Error(err))
		}
		c.metrics.refreshErrors.Inc()
		return ErrorEntry[T](mod, old.Type)
	}
	return next
}
