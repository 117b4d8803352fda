// Package pageactions provides the behaviour shared by every page action:
// navigation, portlet placement, template selection and page editing.
package pageactions

import (
	"sort"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"

	"github.com/manydesigns/portofino/api"
	"github.com/manydesigns/portofino/internal/dispatcher"
	"github.com/manydesigns/portofino/internal/pages"
	"github.com/manydesigns/portofino/internal/scripts"
)

// DefaultLayoutContainer receives placements that name no container.
const DefaultLayoutContainer = "default"

// PageActionType is the registered name of the plain page action.
const PageActionType = "page"

// Describer is implemented by actions with a human readable description.
type Describer interface {
	Description() string
}

// Embedder is implemented by Base and by every action embedding it.
type Embedder interface {
	BaseAction() *Base
}

// Base is the plain page action. Other actions embed it.
type Base struct {
	Pages     *pages.Repository
	Scripts   *scripts.Loader
	Templates *Templates
	Log       *zap.Logger

	inst *dispatcher.PageInstance
}

// NewBase builds a Base wired to env.
func NewBase(env *dispatcher.Env, loader *scripts.Loader, templates *Templates) *Base {
	log := zap.NewNop()
	if env.Log != nil {
		log = env.Log.Named("pageactions")
	}
	return &Base{Pages: env.Pages, Scripts: loader, Templates: templates, Log: log}
}

// ActionType registers Base as the plain page action.
func ActionType(loader *scripts.Loader, templates *Templates) dispatcher.ActionType {
	return dispatcher.ActionType{
		Name: PageActionType,
		New: func(env *dispatcher.Env) dispatcher.PageAction {
			return NewBase(env, loader, templates)
		},
	}
}

func (b *Base) BaseAction() *Base                           { return b }
func (b *Base) SetPageInstance(p *dispatcher.PageInstance) { b.inst = p }
func (b *Base) PageInstance() *dispatcher.PageInstance     { return b.inst }
func (b *Base) Page() *api.Page                            { return b.inst.Page() }

// Description names the page in navigation.
func (b *Base) Description() string {
	return b.inst.Name()
}

// ReturnToParentTarget describes the page a "return to parent" link leads
// to, or "" when the navigation chain stops at this page.
func (b *Base) ReturnToParentTarget(d *dispatcher.Dispatch) string {
	chain := d.PageInstancePath
	pos := len(chain) - 1
	for i, pi := range chain {
		if pi == b.inst {
			pos = i
			break
		}
	}
	if pos < 1 || b.Page().ActualNavigationRoot() != api.NavigationInherit {
		return ""
	}
	previous := chain[pos-1]
	if previous.Page().ActualNavigationRoot() == api.NavigationGhostRoot {
		return ""
	}
	if desc, ok := previous.Action().(Describer); ok {
		return desc.Description()
	}
	return ""
}

// PageTemplate is the template used to render this page.
func (b *Base) PageTemplate() string {
	return b.Templates.Resolve(b.inst.Layout())
}

// Portlet is one page embedded in a layout container.
type Portlet struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
	Path  string `json:"path"`
}

// Portlets places this page (rendered by myself) and its embedded children
// into layout containers. Each container is sorted by order; equal orders
// keep placement order.
func (b *Base) Portlets(d *dispatcher.Dispatch, myself string) *orderedmap.OrderedMap[string, []Portlet] {
	out := orderedmap.New[string, []Portlet]()
	add := func(container string, p Portlet) {
		list, _ := out.Get(container)
		out.Set(container, append(list, p))
	}

	layout := b.inst.Layout()
	if layout == nil {
		add(DefaultLayoutContainer, Portlet{ID: "p", Path: myself})
		return out
	}
	container := DefaultLayoutContainer
	if layout.Self != nil && layout.Self.Container != "" {
		container = layout.Self.Container
	}
	add(container, Portlet{ID: "p", Order: layout.Self.ActualOrder(), Path: myself})

	base := strings.TrimSuffix(d.OriginalPath, "/")
	for _, child := range layout.ChildPages {
		if child.Container == "" {
			continue
		}
		add(child.Container, Portlet{
			ID:    "c" + child.Name,
			Order: child.ActualOrder(),
			Path:  base + "/" + child.Name,
		})
	}
	for p := out.Oldest(); p != nil; p = p.Next() {
		list := p.Value
		sort.SliceStable(list, func(i, j int) bool { return list[i].Order < list[j].Order })
	}
	return out
}
