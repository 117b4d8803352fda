package dispatcher

import (
	"errors"

	"github.com/manydesigns/portofino/internal/store"
)

// ErrRootParent is returned when a parent is assigned to a root.
var ErrRootParent = errors.New("cannot set the parent of the root")

// Resource is a node of the resource tree.
type Resource interface {
	Parent() Resource
	SetParent(Resource) error
	// Path is the request path of the node; the root's path is "".
	Path() string
	Location() store.Location
}

// Root is the top of a resource tree. Implementations embed *BaseRoot.
type Root interface {
	Resource
	base() *BaseRoot
}

// BaseRoot is the plain root used when a directory declares no root type.
type BaseRoot struct {
	location store.Location
	env      *Env
}

// NewBaseRoot returns a plain root at loc.
func NewBaseRoot(loc store.Location, env *Env) *BaseRoot {
	return &BaseRoot{location: loc, env: env}
}

func (r *BaseRoot) Parent() Resource         { return nil }
func (r *BaseRoot) SetParent(Resource) error { return ErrRootParent }
func (r *BaseRoot) Path() string             { return "" }
func (r *BaseRoot) Location() store.Location { return r.location }
func (r *BaseRoot) Env() *Env                { return r.env }
func (r *BaseRoot) base() *BaseRoot          { return r }

// Home formats served by ApplicationRoot.
const (
	FormatHTML = "html"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ApplicationRootType is the registered name of ApplicationRoot.
const ApplicationRootType = "ApplicationRoot"

// ApplicationRoot is a root that redirects requests for the application
// home to a configured location per response format.
type ApplicationRoot struct {
	*BaseRoot
	homes map[string]string
}

// NewApplicationRoot is a RootFactory. Home locations come from env.Homes.
func NewApplicationRoot(loc store.Location, env *Env) (Root, error) {
	homes := make(map[string]string)
	if env != nil {
		for format, home := range env.Homes {
			if home != "" {
				homes[format] = home
			}
		}
	}
	return &ApplicationRoot{BaseRoot: NewBaseRoot(loc, env), homes: homes}, nil
}

// Home returns the home location for format; ok is false when none is set.
func (r *ApplicationRoot) Home(format string) (string, bool) {
	h, ok := r.homes[format]
	return h, ok
}
