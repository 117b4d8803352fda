// Package dispatcher resolves request paths against the tree of page
// directories into chains of configured page instances.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"go.uber.org/zap"

	"github.com/manydesigns/portofino/internal/pages"
	"github.com/manydesigns/portofino/internal/store"
)

// ErrNoAction is returned when a page directory declares no action type and
// the registry has no default.
var ErrNoAction = errors.New("no action type for page")

// Dispatch is the result of resolving one path.
type Dispatch struct {
	OriginalPath  string
	RewrittenPath string
	Root          Root
	// PageInstancePath runs from the root directory's instance to the leaf.
	PageInstancePath []*PageInstance
	// Remaining holds the segments left after the last resolved page.
	Remaining []string
}

// Last returns the deepest resolved instance.
func (d *Dispatch) Last() *PageInstance {
	return d.PageInstancePath[len(d.PageInstancePath)-1]
}

// Complete reports whether every segment resolved to a page or parameter.
func (d *Dispatch) Complete() bool { return len(d.Remaining) == 0 }

// Dispatcher resolves paths below one root directory.
type Dispatcher struct {
	env  *Env
	root store.Location
	log  *zap.Logger
}

func New(env *Env, root store.Location) *Dispatcher {
	return &Dispatcher{env: env, root: root, log: env.logger().Named("dispatcher")}
}

// Env returns the collaborators shared by every resolution.
func (d *Dispatcher) Env() *Env { return d.env }

// Root returns the root directory.
func (d *Dispatcher) Root() store.Location { return d.root }

// ResolveRoot builds the root for loc. A declared root type is instantiated
// through its registered factory; any other declaration is ignored with a
// warning and a plain root is used.
func ResolveRoot(ctx context.Context, env *Env, loc store.Location) (Root, error) {
	if err := loc.RequireDir(); err != nil {
		return nil, err
	}
	declared, err := env.declaredType(ctx, loc)
	if err != nil {
		env.logger().Warn("cannot read root declaration, using a plain root",
			zap.String("location", loc.Path()), zap.Error(err))
		return NewBaseRoot(loc, env), nil
	}
	if declared == "" {
		return NewBaseRoot(loc, env), nil
	}
	if env.Registry != nil {
		if f, ok := env.Registry.Root(declared); ok {
			return f(loc, env)
		}
	}
	env.logger().Warn("declared type is not a root, ignoring",
		zap.String("type", declared), zap.String("location", loc.Path()))
	return NewBaseRoot(loc, env), nil
}

// Resolve walks path one segment at a time. A segment that names no page
// directory ends the walk; it and the segments after it are returned in
// Dispatch.Remaining. Inactive pages fail the resolution.
func (d *Dispatcher) Resolve(ctx context.Context, path string) (*Dispatch, error) {
	segments := splitPath(path)

	root, err := ResolveRoot(ctx, d.env, d.root)
	if err != nil {
		return nil, err
	}
	current, err := d.instantiate(ctx, root, d.root)
	if err != nil {
		return nil, err
	}
	chain := []*PageInstance{current}

	i := 0
	for ; i < len(segments); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg := segments[i]
		if seg == ".." {
			break
		}
		dir := current.ChildDirectory(seg)
		if dir.Child(pages.PageFile).Exists() {
			next, err := d.instantiate(ctx, current, dir)
			if err != nil {
				return nil, err
			}
			chain = append(chain, next)
			current = next
			continue
		}
		if current.actionType.SupportsDetail && len(current.parameters) == 0 {
			current.AddParameter(seg)
			continue
		}
		break
	}

	consumed := segments[:i]
	d.log.Debug("resolved path",
		zap.String("path", path),
		zap.Int("pages", len(chain)),
		zap.Strings("remaining", segments[i:]))
	return &Dispatch{
		OriginalPath:     path,
		RewrittenPath:    "/" + strings.Join(consumed, "/"),
		Root:             root,
		PageInstancePath: chain,
		Remaining:        append([]string(nil), segments[i:]...),
	}, nil
}

func (d *Dispatcher) instantiate(ctx context.Context, parent Resource, dir store.Location) (*PageInstance, error) {
	page, err := d.env.Pages.GetPage(ctx, dir)
	if err != nil {
		return nil, err
	}
	at, err := d.actionType(ctx, dir)
	if err != nil {
		return nil, err
	}
	inst := NewPageInstance(parent, dir, page, at)
	ConfigurePageAction(ctx, d.env, at.New(d.env), inst)
	return inst, nil
}

func (d *Dispatcher) actionType(ctx context.Context, dir store.Location) (ActionType, error) {
	declared, err := d.env.declaredType(ctx, dir)
	if err != nil {
		return ActionType{}, fmt.Errorf("%s: %w", dir.Path(), err)
	}
	reg := d.env.Registry
	if reg == nil {
		return ActionType{}, fmt.Errorf("%s: %w", dir.Path(), ErrNoAction)
	}
	// A root declaration configures the tree, not the page of its directory.
	if _, isRoot := reg.Root(declared); declared != "" && !isRoot {
		at, ok := reg.Action(declared)
		if !ok {
			return ActionType{}, fmt.Errorf("%s: action %s: %w", dir.Path(), declared, ErrUnknownType)
		}
		return at, nil
	}
	at, ok := reg.DefaultAction()
	if !ok {
		return ActionType{}, fmt.Errorf("%s: %w", dir.Path(), ErrNoAction)
	}
	return at, nil
}

// ConfigurePageAction attaches the configuration of the instance's directory
// and links action to the instance. An instance that already carries a
// configuration is left untouched. Load failures are logged, not returned.
func ConfigurePageAction(ctx context.Context, env *Env, action PageAction, inst *PageInstance) {
	log := env.logger().Named("dispatcher")
	if inst.configuration != nil {
		log.Debug("page instance is already configured", zap.String("path", inst.Path()))
		return
	}
	loc := inst.directory.Child(pages.ConfigurationFile)
	cfg, err := env.Pages.GetConfiguration(ctx, loc, inst.actionType.Configuration)
	switch {
	case err == nil:
		inst.configuration = cfg
	case errors.Is(err, fs.ErrNotExist):
		log.Debug("page has no configuration", zap.String("location", loc.Path()))
	default:
		log.Error("couldn't load configuration", zap.String("location", loc.Path()), zap.Error(err))
	}
	inst.action = action
	if action != nil {
		action.SetPageInstance(inst)
	}
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" && s != "." {
			out = append(out, s)
		}
	}
	return out
}
