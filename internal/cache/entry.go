package cache

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/manydesigns/portofino/internal/store"
)

// ErrNoLoader is returned by Get on a miss when the cache has no initial
// loader. Such caches are populated by their callers through GetOrLoad.
var ErrNoLoader = errors.New("cache has no loader")

// Entry is a cached definition together with the metadata used to decide
// whether it is still fresh.
//
// An error entry (Err == true) carries the zero Value. A non-error entry
// always carries a usable Value.
type Entry[T any] struct {
	Value        T
	LastModified time.Time
	Err          bool
	// Type records the runtime type of Value for caches holding objects of
	// heterogeneous types. It is kept on error entries as a reload hint.
	Type reflect.Type
}

// NewEntry builds a non-error entry.
func NewEntry[T any](v T, lastModified time.Time) Entry[T] {
	return Entry[T]{Value: v, LastModified: lastModified, Type: reflect.TypeOf(v)}
}

// ErrorEntry builds an error entry. typ is an optional reload hint.
func ErrorEntry[T any](lastModified time.Time, typ reflect.Type) Entry[T] {
	return Entry[T]{LastModified: lastModified, Err: true, Type: typ}
}

// LoadFunc loads the definition stored at loc. prev is the entry being
// refreshed, or nil on an initial load.
type LoadFunc[T any] func(ctx context.Context, loc store.Location, prev *Entry[T]) (Entry[T], error)
