package pageactions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/manydesigns/portofino/api"
	"github.com/manydesigns/portofino/internal/dispatcher"
	"github.com/manydesigns/portofino/internal/pages"
	"github.com/manydesigns/portofino/internal/store"
)

// ErrTitleRequired is returned when a page is saved with a blank title.
var ErrTitleRequired = errors.New("page title is required")

// EditPage is the editable part of a page definition.
type EditPage struct {
	Title                    string
	Description              string
	NavigationRoot           api.NavigationRoot
	Template                 string
	DetailTemplate           string
	ApplyTemplateRecursively bool
	// Script replaces the page script when non-nil.
	Script *string
}

// TemplateUpdate reports a recursive template change.
type TemplateUpdate struct {
	// Updated lists the directories whose page was rewritten.
	Updated []string
	// Errors collects the directories that could not be updated.
	Errors *multierror.Error
}

// Err returns the collected failures, nil when there were none.
func (u *TemplateUpdate) Err() error {
	if u == nil {
		return nil
	}
	return u.Errors.ErrorOrNil()
}

// PrepareEdit returns the current values of the page, with templates
// resolved as they would render.
func (b *Base) PrepareEdit() EditPage {
	p := b.Page()
	e := EditPage{
		Title:                    p.Title,
		Description:              p.Description,
		NavigationRoot:           p.ActualNavigationRoot(),
		Template:                 b.Templates.Resolve(p.Layout),
		DetailTemplate:           b.Templates.Resolve(p.DetailLayout),
		ApplyTemplateRecursively: p.ApplyTemplateRecursively,
	}
	if b.Scripts != nil {
		src, ok, err := b.Scripts.Read(b.inst.Directory())
		if err != nil {
			b.Log.Warn("couldn't load script", zap.String("page", p.ID), zap.Error(err))
		} else if ok {
			e.Script = &src
		}
	}
	return e
}

// UpdatePageConfiguration saves the edited page, propagates its templates to
// the subtree when requested and rewrites the script. Propagation failures
// are reported in the returned TemplateUpdate, never as the error.
func (b *Base) UpdatePageConfiguration(ctx context.Context, edit EditPage) (*TemplateUpdate, error) {
	title := strings.TrimSpace(edit.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}

	page := clonePage(b.Page())
	page.Title = title
	page.Description = edit.Description
	page.SetNavigationRoot(edit.NavigationRoot)
	page.Layout.Template = edit.Template
	page.DetailLayout.Template = edit.DetailTemplate
	page.ApplyTemplateRecursively = edit.ApplyTemplateRecursively

	dir := b.inst.Directory()
	loc, err := b.Pages.SavePage(dir, page)
	if err != nil {
		return nil, err
	}
	b.Log.Info("page saved", zap.String("location", loc.Path()))

	var report *TemplateUpdate
	if edit.ApplyTemplateRecursively {
		report = UpdateTemplate(b.Pages, dir, edit.Template, edit.DetailTemplate, b.Log)
	}

	if edit.Script != nil && b.Scripts != nil {
		if _, err := b.Scripts.Write(ctx, dir, *edit.Script); err != nil {
			return report, fmt.Errorf("update script: %w", err)
		}
	}
	return report, nil
}

// UpdateTemplate sets the templates of every page below dir, depth first.
// Detail directories are not updated themselves but their descendants are.
// A failing directory is logged and the walk goes on.
func UpdateTemplate(repo *pages.Repository, dir store.Location, template, detailTemplate string, log *zap.Logger) *TemplateUpdate {
	if log == nil {
		log = zap.NewNop()
	}
	report := &TemplateUpdate{}
	updateTemplate(repo, dir, template, detailTemplate, log, report)
	if err := report.Err(); err != nil {
		log.Warn("template propagation finished with errors",
			zap.Int("updated", len(report.Updated)), zap.Int("failed", len(report.Errors.Errors)))
	}
	return report
}

func updateTemplate(repo *pages.Repository, dir store.Location, template, detailTemplate string, log *zap.Logger, report *TemplateUpdate) {
	children, err := dir.ChildDirectories()
	if err != nil {
		log.Warn("could not list directory", zap.String("location", dir.Path()), zap.Error(err))
		report.Errors = multierror.Append(report.Errors, fmt.Errorf("%s: %w", dir.Path(), err))
		return
	}
	for _, child := range children {
		if child.Name() != dispatcher.DetailDirectory {
			if err := setTemplate(repo, child, template, detailTemplate); err != nil {
				log.Warn("could not set template", zap.String("location", child.Path()), zap.Error(err))
				report.Errors = multierror.Append(report.Errors, err)
			} else {
				report.Updated = append(report.Updated, child.Path())
			}
		}
		updateTemplate(repo, child, template, detailTemplate, log, report)
	}
}

func setTemplate(repo *pages.Repository, dir store.Location, template, detailTemplate string) error {
	page, err := pages.LoadPage(dir.Child(pages.PageFile))
	if err != nil {
		return err
	}
	page.Layout.Template = template
	page.DetailLayout.Template = detailTemplate
	_, err = repo.SavePage(dir, page)
	return err
}

// clonePage copies the parts of a page that editing mutates, leaving the
// cached original untouched.
func clonePage(p *api.Page) *api.Page {
	cp := *p
	cp.Layout = cloneLayout(p.Layout)
	cp.DetailLayout = cloneLayout(p.DetailLayout)
	return &cp
}

func cloneLayout(l *api.Layout) *api.Layout {
	if l == nil {
		return &api.Layout{}
	}
	cp := *l
	if l.Self != nil {
		self := *l.Self
		cp.Self = &self
	}
	cp.ChildPages = append([]api.ChildPage(nil), l.ChildPages...)
	return &cp
}
