package server

import (
	"fmt"
	"reflect"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/manydesigns/portofino/internal/dispatcher"
	"github.com/manydesigns/portofino/internal/pageactions"
)

// DispatchView is the JSON rendering of a resolved path.
type DispatchView struct {
	Path          string     `json:"path"`
	RewrittenPath string     `json:"rewrittenPath"`
	Root          string     `json:"root"`
	Complete      bool       `json:"complete"`
	Remaining     []string   `json:"remaining"`
	Pages         []PageView `json:"pages"`
	// Template and Portlets describe the last page.
	Template string                                                `json:"template,omitempty"`
	Portlets *orderedmap.OrderedMap[string, []pageactions.Portlet] `json:"portlets,omitempty"`
}

// PageView is one instance of the resolved chain.
type PageView struct {
	Path          string   `json:"path"`
	Directory     string   `json:"directory"`
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	ActionType    string   `json:"actionType"`
	Parameters    []string `json:"parameters,omitempty"`
	Configuration string   `json:"configuration,omitempty"`
}

type templated interface {
	PageTemplate() string
}

type portletLayout interface {
	Portlets(d *dispatcher.Dispatch, myself string) *orderedmap.OrderedMap[string, []pageactions.Portlet]
}

// NewDispatchView renders d.
func NewDispatchView(d *dispatcher.Dispatch) *DispatchView {
	v := &DispatchView{
		Path:          d.OriginalPath,
		RewrittenPath: d.RewrittenPath,
		Root:          reflect.TypeOf(d.Root).Elem().Name(),
		Complete:      d.Complete(),
		Remaining:     append([]string{}, d.Remaining...),
	}
	for _, inst := range d.PageInstancePath {
		pv := PageView{
			Path:       pathOf(inst),
			Directory:  inst.Directory().Path(),
			ID:         inst.Page().ID,
			Title:      inst.Page().Title,
			ActionType: inst.ActionType().Name,
			Parameters: inst.Parameters(),
		}
		if desc, ok := inst.Action().(pageactions.Describer); ok {
			pv.Description = desc.Description()
		}
		if cfg := inst.Configuration(); cfg != nil {
			pv.Configuration = reflect.TypeOf(cfg).String()
		}
		v.Pages = append(v.Pages, pv)
	}
	last := d.Last().Action()
	if t, ok := last.(templated); ok {
		v.Template = t.PageTemplate()
	}
	if p, ok := last.(portletLayout); ok {
		v.Portlets = p.Portlets(d, d.OriginalPath)
	}
	return v
}

// Select evaluates a JSONPath expression against the JSON form of v.
func Select(v any, expr string) ([]any, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", expr, err)
	}
	data, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	return x.Get(data), nil
}

func toGeneric(v any) (any, error) {
	b, err := marshalJSON(v)
	if err != nil {
		return nil, err
	}
	return oj.Parse(b)
}

func pathOf(inst *dispatcher.PageInstance) string {
	if p := inst.Path(); p != "" {
		return p
	}
	return "/"
}
