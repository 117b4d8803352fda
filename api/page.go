package api

import (
	"encoding/xml"
	"sort"
	"strconv"
	"strings"
)

// NavigationRoot controls how a page contributes to the "return to parent"
// navigation chain.
type NavigationRoot string

const (
	// NavigationInherit keeps the parent in the navigation chain.
	NavigationInherit NavigationRoot = "INHERIT"
	// NavigationRootMode starts a new navigation chain at this page.
	NavigationRootMode NavigationRoot = "ROOT"
	// NavigationGhostRoot starts a new chain and hides the page from its children.
	NavigationGhostRoot NavigationRoot = "GHOST_ROOT"
)

// ParseNavigationRoot maps a persisted value to a NavigationRoot.
// Blank or unknown values resolve to NavigationInherit.
func ParseNavigationRoot(s string) NavigationRoot {
	switch NavigationRoot(strings.ToUpper(strings.TrimSpace(s))) {
	case NavigationRootMode:
		return NavigationRootMode
	case NavigationGhostRoot:
		return NavigationGhostRoot
	default:
		return NavigationInherit
	}
}

// Page is the declarative definition stored as page.xml in a page directory.
type Page struct {
	XMLName xml.Name `xml:"page"`
	// ID is the stable identifier of the page.
	ID string `xml:"id,attr"`
	// Title shown in navigation and page headers.
	Title string `xml:"title,attr"`
	// Description is free text for administrators.
	Description string `xml:"description,attr,omitempty"`
	// NavigationRoot is the persisted navigation mode (see NavigationRoot).
	NavigationRoot string `xml:"navigationRoot,attr,omitempty"`
	// ApplyTemplateRecursively propagates template changes to descendants.
	ApplyTemplateRecursively bool `xml:"applyTemplateRecursively,attr,omitempty"`
	// Layout places the page itself and its children.
	Layout *Layout `xml:"layout"`
	// DetailLayout is used when the page shows a single detail object.
	DetailLayout *Layout `xml:"detailLayout,omitempty"`

	actualNavigationRoot NavigationRoot
}

// Layout describes the template and the placement of embedded pages.
type Layout struct {
	// Template is a path relative to the active skin. Blank means default.
	Template string `xml:"template,attr,omitempty"`
	// Self places the owning page inside its own layout.
	Self *Self `xml:"self,omitempty"`
	// ChildPages lists embedded children in document order.
	ChildPages []ChildPage `xml:"childPages>childPage,omitempty"`
}

// Self is the placement of the owning page.
type Self struct {
	Container string `xml:"container,attr,omitempty"`
	Order     string `xml:"order,attr,omitempty"`
}

// ChildPage is the placement of a child page inside a layout container.
type ChildPage struct {
	Name             string `xml:"name,attr"`
	Container        string `xml:"container,attr,omitempty"`
	Order            string `xml:"order,attr,omitempty"`
	ShowInNavigation bool   `xml:"showInNavigation,attr,omitempty"`
}

// Init runs after unmarshalling. It guarantees a Layout and a DetailLayout
// and resolves the navigation mode. Persisted fields are left untouched
// apart from materialising missing layouts.
func (p *Page) Init() {
	if p.Layout == nil {
		p.Layout = &Layout{}
	}
	if p.DetailLayout == nil {
		p.DetailLayout = &Layout{}
	}
	p.actualNavigationRoot = ParseNavigationRoot(p.NavigationRoot)
}

// ActualNavigationRoot returns the navigation mode computed by Init.
func (p *Page) ActualNavigationRoot() NavigationRoot {
	if p.actualNavigationRoot == "" {
		return ParseNavigationRoot(p.NavigationRoot)
	}
	return p.actualNavigationRoot
}

// SetNavigationRoot updates both the persisted and the computed mode.
func (p *Page) SetNavigationRoot(n NavigationRoot) {
	p.NavigationRoot = string(n)
	p.actualNavigationRoot = n
}

// ActualOrder returns the numeric order of the placement. Blank or invalid
// orders count as 0.
func (s *Self) ActualOrder() int {
	if s == nil {
		return 0
	}
	return parseOrder(s.Order)
}

// ActualOrder returns the numeric order of the placement.
func (c ChildPage) ActualOrder() int {
	return parseOrder(c.Order)
}

// SortedChildPages returns the child placements ordered by ActualOrder.
// Equal orders keep document order.
func (l *Layout) SortedChildPages() []ChildPage {
	if l == nil {
		return nil
	}
	out := make([]ChildPage, len(l.ChildPages))
	copy(out, l.ChildPages)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ActualOrder() < out[j].ActualOrder()
	})
	return out
}

// ChildPage finds a placement by child directory name.
func (l *Layout) ChildPage(name string) (ChildPage, bool) {
	if l == nil {
		return ChildPage{}, false
	}
	for _, c := range l.ChildPages {
		if c.Name == name {
			return c, true
		}
	}
	return ChildPage{}, false
}

func parseOrder(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
