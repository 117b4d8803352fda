package pages

import (
	"errors"
	"fmt"
)

var (
	// ErrLoad reports a definition that could not be read or parsed.
	ErrLoad = errors.New("cannot load definition")
	// ErrSave reports a definition that could not be written.
	ErrSave = errors.New("cannot save definition")
	// ErrPageNotActive reports a page directory whose page.xml is missing,
	// malformed or marked in error by the cache.
	ErrPageNotActive = errors.New("page not active")
)

// LoadError wraps a failure to read or unmarshal a definition file.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// SaveError wraps a failure to create or write a definition file.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save %s: %v", e.Path, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

func (e *SaveError) Is(target error) bool { return target == ErrSave }

// PageNotActiveError names the page directory that could not be activated.
// Err is the underlying load failure, if any.
type PageNotActiveError struct {
	Path string
	Err  error
}

func (e *PageNotActiveError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Path, ErrPageNotActive)
	}
	return fmt.Sprintf("%s: %v: %v", e.Path, ErrPageNotActive, e.Err)
}

func (e *PageNotActiveError) Unwrap() error { return e.Err }

func (e *PageNotActiveError) Is(target error) bool { return target == ErrPageNotActive }
