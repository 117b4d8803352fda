package pageactions

import (
	"errors"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/manydesigns/portofino/api"
	"github.com/manydesigns/portofino/internal/options"
	"github.com/manydesigns/portofino/internal/store"
)

const (
	// DefaultTemplate is used for blank and missing templates.
	DefaultTemplate = "/templates/default"
	// DefaultSkin is the skin used when none is configured.
	DefaultSkin = "default"
)

// Templates resolves layout templates against the active skin. Skins is a
// store rooted at the skins directory; each skin keeps its templates under
// <skin>/templates/<name>.
type Templates struct {
	Skins   *store.Store
	Skin    string
	Default string
	Log     *zap.Logger
}

func (t *Templates) skin() string {
	if t.Skin == "" {
		return DefaultSkin
	}
	return t.Skin
}

func (t *Templates) defaultTemplate() string {
	if t == nil || t.Default == "" {
		return DefaultTemplate
	}
	return t.Default
}

func (t *Templates) logger() *zap.Logger {
	if t.Log == nil {
		return zap.NewNop()
	}
	return t.Log
}

// Resolve returns the template of layout. Blank templates and templates the
// active skin does not provide resolve to the default template.
func (t *Templates) Resolve(layout *api.Layout) string {
	if layout == nil || strings.TrimSpace(layout.Template) == "" {
		return t.defaultTemplate()
	}
	if t == nil || t.Skins == nil {
		return t.defaultTemplate()
	}
	tmpl := layout.Template
	loc := t.Skins.Locate(path.Join(t.skin(), tmpl))
	if !loc.Exists() {
		t.logger().Warn("template does not exist, using default",
			zap.String("template", tmpl), zap.String("skin", t.skin()))
		return t.defaultTemplate()
	}
	return tmpl
}

// SelectionProvider offers the templates available in the active skin.
func (t *Templates) SelectionProvider() (*options.Provider, error) {
	var values []any
	var labels []string
	if t != nil && t.Skins != nil {
		dirs, err := t.Skins.Locate(path.Join(t.skin(), "templates")).ChildDirectories()
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		for _, d := range dirs {
			values = append(values, "/templates/"+d.Name())
			labels = append(labels, d.Name())
		}
	}
	return options.NewSingle("template", values, labels)
}

// NavigationRootProvider offers the navigation modes of a page.
func NavigationRootProvider() *options.Provider {
	p, err := options.NewSingle("navigationRoot",
		[]any{api.NavigationInherit, api.NavigationRootMode, api.NavigationGhostRoot},
		[]string{"Inherit", "Root", "Ghost root"})
	if err != nil {
		panic(err)
	}
	return p
}
