package dispatcher

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/manydesigns/portofino/internal/pages"
	"github.com/manydesigns/portofino/internal/store"
)

var (
	// ErrDuplicateType is returned when a type name is registered twice.
	ErrDuplicateType = errors.New("type already registered")
	// ErrUnknownType is returned for names that were never registered.
	ErrUnknownType = errors.New("unknown type")
)

// PageAction is the behaviour bound to a page directory.
type PageAction interface {
	SetPageInstance(*PageInstance)
	PageInstance() *PageInstance
}

// ActionType describes a registered page action.
type ActionType struct {
	Name string
	// New instantiates the action for one resolution.
	New func(env *Env) PageAction
	// Configuration is the pointer-to-struct type read from
	// configuration.xml, or nil when the action takes no configuration.
	Configuration reflect.Type
	// SupportsDetail makes the action consume one path segment as a
	// detail parameter; children are then looked up under detail/.
	SupportsDetail bool
}

// RootFactory builds a root for a directory.
type RootFactory func(loc store.Location, env *Env) (Root, error)

// Registry maps declared type names to action types and root factories.
// Every entry is validated when registered.
type Registry struct {
	mu            sync.RWMutex
	actions       map[string]ActionType
	roots         map[string]RootFactory
	defaultAction string
}

func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]ActionType),
		roots:   make(map[string]RootFactory),
	}
}

// RegisterAction adds an action type.
func (r *Registry) RegisterAction(t ActionType) error {
	if t.Name == "" {
		return errors.New("action type has no name")
	}
	if t.New == nil {
		return fmt.Errorf("action type %s: no constructor", t.Name)
	}
	if t.Configuration != nil {
		if err := pages.ValidateConfigurationType(t.Configuration); err != nil {
			return fmt.Errorf("action type %s: %w", t.Name, err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[t.Name]; ok {
		return fmt.Errorf("action %s: %w", t.Name, ErrDuplicateType)
	}
	if _, ok := r.roots[t.Name]; ok {
		return fmt.Errorf("action %s: %w", t.Name, ErrDuplicateType)
	}
	r.actions[t.Name] = t
	return nil
}

// RegisterRoot adds a root factory.
func (r *Registry) RegisterRoot(name string, f RootFactory) error {
	if name == "" {
		return errors.New("root type has no name")
	}
	if f == nil {
		return fmt.Errorf("root type %s: no factory", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roots[name]; ok {
		return fmt.Errorf("root %s: %w", name, ErrDuplicateType)
	}
	if _, ok := r.actions[name]; ok {
		return fmt.Errorf("root %s: %w", name, ErrDuplicateType)
	}
	r.roots[name] = f
	return nil
}

// SetDefaultAction selects the action used by directories without a
// declaration. The action must already be registered.
func (r *Registry) SetDefaultAction(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[name]; !ok {
		return fmt.Errorf("default action %s: %w", name, ErrUnknownType)
	}
	r.defaultAction = name
	return nil
}

func (r *Registry) Action(name string) (ActionType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.actions[name]
	return t, ok
}

func (r *Registry) Root(name string) (RootFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.roots[name]
	return f, ok
}

// DefaultAction returns the action used when a directory declares none.
func (r *Registry) DefaultAction() (ActionType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultAction == "" {
		return ActionType{}, false
	}
	t, ok := r.actions[r.defaultAction]
	return t, ok
}

// ConfigurationType returns the configuration type of an action, or nil.
func (r *Registry) ConfigurationType(name string) reflect.Type {
	t, ok := r.Action(name)
	if !ok {
		return nil
	}
	return t.Configuration
}

// Actions lists the registered action names in order.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
