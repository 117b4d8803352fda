// Package store provides file handles over a billy.Filesystem. Page
// directories, page documents, configuration documents and scripts are all
// addressed through Location values.
package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// ErrNotFound reports a missing location or one of the wrong type.
var ErrNotFound = errors.New("location not found")

// NotFoundError carries the offending path.
type NotFoundError struct {
	Path   string
	Reason string
}

func (e *NotFoundError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %v", e.Path, ErrNotFound)
	}
	return fmt.Sprintf("%s: %v (%s)", e.Path, ErrNotFound, e.Reason)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// Store is a hierarchical file system rooted at a base directory.
type Store struct {
	fs   billy.Filesystem
	base string
}

// New wraps an existing billy filesystem.
func New(fsys billy.Filesystem) *Store {
	return &Store{fs: fsys}
}

// NewOS returns a Store backed by the operating system, rooted at dir.
func NewOS(dir string) *Store {
	return &Store{fs: osfs.New(dir), base: dir}
}

// NewMemory returns an in-memory Store.
func NewMemory() *Store {
	return &Store{fs: memfs.New()}
}

// BaseDir returns the OS directory backing the store, or "" when the store
// is not backed by the operating system.
func (s *Store) BaseDir() string {
	return s.base
}

// OSPath maps a location to its operating system path. It returns "" for
// stores that are not OS backed.
func (s *Store) OSPath(l Location) string {
	if s.base == "" {
		return ""
	}
	return filepath.Join(s.base, filepath.FromSlash(l.path))
}

// Root returns the location of the store root.
func (s *Store) Root() Location {
	return Location{fs: s.fs, path: "/"}
}

// Locate returns the location for a slash separated path.
func (s *Store) Locate(p string) Location {
	return Location{fs: s.fs, path: clean(p)}
}

// Location is a handle to a file system entry. Its identity (filesystem and
// path) is immutable; the underlying content is not.
type Location struct {
	fs   billy.Filesystem
	path string
}

// Path returns the cleaned, slash-rooted path of the location.
func (l Location) Path() string { return l.path }

// Name returns the last path element.
func (l Location) Name() string {
	if l.path == "/" {
		return ""
	}
	return path.Base(l.path)
}

// String implements fmt.Stringer.
func (l Location) String() string { return l.path }

// IsZero reports whether the location was never initialised.
func (l Location) IsZero() bool { return l.fs == nil }

// Child resolves name relative to l.
func (l Location) Child(name string) Location {
	return Location{fs: l.fs, path: clean(path.Join(l.path, name))}
}

// Parent returns the containing directory. The parent of the root is the root.
func (l Location) Parent() Location {
	return Location{fs: l.fs, path: clean(path.Dir(l.path))}
}

// Stat returns file info for the location.
func (l Location) Stat() (os.FileInfo, error) {
	return l.fs.Stat(l.path)
}

// Exists reports whether the entry exists.
func (l Location) Exists() bool {
	_, err := l.fs.Stat(l.path)
	return err == nil
}

// IsDir reports whether the entry exists and is a directory.
func (l Location) IsDir() bool {
	fi, err := l.fs.Stat(l.path)
	return err == nil && fi.IsDir()
}

// ModTime returns the last-modified time of the entry.
func (l Location) ModTime() (time.Time, error) {
	fi, err := l.fs.Stat(l.path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime(), nil
}

// Open opens the entry for reading.
func (l Location) Open() (io.ReadCloser, error) {
	return l.fs.Open(l.path)
}

// Create opens the entry for writing, creating parent directories and the
// file itself when absent and truncating existing content.
func (l Location) Create() (io.WriteCloser, error) {
	if err := l.fs.MkdirAll(path.Dir(l.path), 0o755); err != nil {
		return nil, err
	}
	return l.fs.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// ReadFile returns the whole content of the entry.
func (l Location) ReadFile() ([]byte, error) {
	return util.ReadFile(l.fs, l.path)
}

// WriteFile replaces the content of the entry.
func (l Location) WriteFile(data []byte) error {
	w, err := l.Create()
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// MkdirAll creates the directory and any missing parents.
func (l Location) MkdirAll() error {
	return l.fs.MkdirAll(l.path, 0o755)
}

// Remove deletes the entry.
func (l Location) Remove() error {
	return l.fs.Remove(l.path)
}

// Children lists the entries of a directory sorted by name.
func (l Location) Children() ([]Location, error) {
	infos, err := l.fs.ReadDir(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &NotFoundError{Path: l.path}
		}
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	out := make([]Location, 0, len(infos))
	for _, fi := range infos {
		out = append(out, l.Child(fi.Name()))
	}
	return out, nil
}

// ChildDirectories lists the subdirectories of a directory sorted by name.
func (l Location) ChildDirectories() ([]Location, error) {
	children, err := l.Children()
	if err != nil {
		return nil, err
	}
	out := children[:0]
	for _, c := range children {
		if c.IsDir() {
			out = append(out, c)
		}
	}
	return out, nil
}

// RequireDir returns a NotFoundError unless l is an existing directory.
func (l Location) RequireDir() error {
	fi, err := l.fs.Stat(l.path)
	if err != nil {
		return &NotFoundError{Path: l.path}
	}
	if !fi.IsDir() {
		return &NotFoundError{Path: l.path, Reason: "not a directory"}
	}
	return nil
}

func clean(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}
