package dispatcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/manydesigns/portofino/internal/pages"
	"github.com/manydesigns/portofino/internal/store"
)

// ActionResolver reports the action type a directory declares for itself,
// or "" when it declares none.
type ActionResolver interface {
	DeclaredType(ctx context.Context, dir store.Location) (string, error)
}

// Env carries the collaborators used while resolving a path. It is built
// once at startup and shared read-only by every resolution.
type Env struct {
	Pages    *pages.Repository
	Scripts  ActionResolver
	Registry *Registry
	// Homes maps a response format (html, json, yaml) to its home location.
	Homes map[string]string
	Log   *zap.Logger
}

func (e *Env) logger() *zap.Logger {
	if e == nil || e.Log == nil {
		return zap.NewNop()
	}
	return e.Log
}

func (e *Env) declaredType(ctx context.Context, dir store.Location) (string, error) {
	if e.Scripts == nil {
		return "", nil
	}
	return e.Scripts.DeclaredType(ctx, dir)
}
