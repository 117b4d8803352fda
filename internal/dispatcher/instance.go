package dispatcher

import (
	"strings"

	"github.com/manydesigns/portofino/api"
	"github.com/manydesigns/portofino/internal/store"
)

// DetailDirectory holds the child pages shown under a detail object.
const DetailDirectory = "detail"

// PageInstance is a page directory bound to its page, configuration and
// action for the duration of one resolution.
type PageInstance struct {
	parent        Resource
	directory     store.Location
	name          string
	page          *api.Page
	configuration any
	actionType    ActionType
	action        PageAction
	parameters    []string
}

// NewPageInstance binds a directory to its loaded page.
func NewPageInstance(parent Resource, dir store.Location, page *api.Page, at ActionType) *PageInstance {
	return &PageInstance{
		parent:     parent,
		directory:  dir,
		name:       dir.Name(),
		page:       page,
		actionType: at,
	}
}

func (p *PageInstance) Parent() Resource { return p.parent }

func (p *PageInstance) SetParent(r Resource) error {
	p.parent = r
	return nil
}

// ParentPageInstance returns the enclosing page instance, nil for the
// instance bound to the root directory.
func (p *PageInstance) ParentPageInstance() *PageInstance {
	pi, _ := p.parent.(*PageInstance)
	return pi
}

// Path is the request path resolved so far, detail parameters included.
func (p *PageInstance) Path() string {
	if _, isRoot := p.parent.(Root); isRoot || p.parent == nil {
		return strings.Join(append([]string{""}, p.parameters...), "/")
	}
	parts := append([]string{p.parent.Path(), p.name}, p.parameters...)
	return strings.Join(parts, "/")
}

func (p *PageInstance) Location() store.Location  { return p.directory }
func (p *PageInstance) Directory() store.Location { return p.directory }
func (p *PageInstance) Name() string              { return p.name }
func (p *PageInstance) Page() *api.Page           { return p.page }
func (p *PageInstance) ActionType() ActionType    { return p.actionType }
func (p *PageInstance) Action() PageAction        { return p.action }
func (p *PageInstance) Configuration() any        { return p.configuration }

// Parameters returns the detail parameters consumed by this instance.
func (p *PageInstance) Parameters() []string {
	return append([]string(nil), p.parameters...)
}

// AddParameter records a path segment consumed as a detail parameter.
func (p *PageInstance) AddParameter(s string) { p.parameters = append(p.parameters, s) }

// ChildrenDirectory is where child pages live: the page directory, or its
// detail directory once a detail parameter was consumed.
func (p *PageInstance) ChildrenDirectory() store.Location {
	if len(p.parameters) > 0 {
		return p.directory.Child(DetailDirectory)
	}
	return p.directory
}

// ChildDirectory resolves the directory of the child page name.
func (p *PageInstance) ChildDirectory(name string) store.Location {
	return p.ChildrenDirectory().Child(name)
}

// Layout is the detail layout when showing a detail object, else the layout.
func (p *PageInstance) Layout() *api.Layout {
	if len(p.parameters) > 0 {
		return p.page.DetailLayout
	}
	return p.page.Layout
}
