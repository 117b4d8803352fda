package cache

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	loads         prometheus.Counter
	loadErrors    prometheus.Counter
	refreshes     prometheus.Counter
	refreshErrors prometheus.Counter
	dropped       prometheus.Counter
	evictions     prometheus.Counter
	invalidations prometheus.Counter
}

func newMetrics(name string, reg prometheus.Registerer) *metrics {
	counter := func(metric, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "portofino",
			Subsystem:   "cache",
			Name:        metric,
			Help:        help,
			ConstLabels: prometheus.Labels{"cache": name},
		})
		if reg == nil {
			return c
		}
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
					return existing
				}
			}
		}
		return c
	}
	return &metrics{
		hits:          counter("hits_total", "Reads served from the cache."),
		misses:        counter("misses_total", "Reads that found no entry."),
		loads:         counter("loads_total", "Synchronous initial loads."),
		loadErrors:    counter("load_errors_total", "Failed synchronous initial loads."),
		refreshes:     counter("refreshes_total", "Background refresh tasks run."),
		refreshErrors: counter("refresh_errors_total", "Refresh tasks that produced an error entry."),
		dropped:       counter("refreshes_dropped_total", "Refreshes skipped because the worker pool was full."),
		evictions:     counter("evictions_total", "Entries evicted by the size bound."),
		invalidations: counter("invalidations_total", "Entries removed explicitly."),
	}
}
