// Package stdlib provides the platform standard library: a table of
// primitive types that is always resident, and stub class sources that are
// compiled on first use and kept for the lifetime of a Loader.
package stdlib

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/jward/grove/internal/compiler"
	"github.com/jward/grove/internal/symbols"
)

//go:embed stubs
var stubFS embed.FS

// ErrNotFound is returned by LoadClass for paths with no stub.
var ErrNotFound = errors.New("standard library class not found")

// Loader compiles standard library classes on demand. It is safe for
// concurrent use; concurrent loads of one class compile it once.
type Loader struct {
	logger *slog.Logger
	index  map[string]string // lower "ns/class" -> embedded file path

	group  singleflight.Group
	mu     sync.RWMutex
	tables map[string]*symbols.SymbolTable
}

// Option configures a Loader.
type Option func(*Loader)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(ld *Loader) { ld.logger = l }
}

// New creates a Loader over the embedded stubs.
func New(opts ...Option) *Loader {
	l := &Loader{
		logger: slog.Default(),
		index:  make(map[string]string),
		tables: make(map[string]*symbols.SymbolTable),
	}
	for _, o := range opts {
		o(l)
	}
	_ = fs.WalkDir(stubFS, "stubs", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !compiler.IsSource(p) {
			return err
		}
		rel := strings.TrimPrefix(p, "stubs/")
		l.index[NormalizePath(rel)] = p
		return nil
	})
	return l
}

// NormalizePath canonicalizes a class path: "System.Math", "System/Math"
// and "system/math.cls" all become "system/math".
func NormalizePath(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	p = strings.TrimSuffix(p, ".cls")
	return strings.ReplaceAll(p, ".", "/")
}

// HasClass reports whether a stub exists for path.
func (l *Loader) HasClass(p string) bool {
	_, ok := l.index[NormalizePath(p)]
	return ok
}

// Classes returns every known class path, sorted.
func (l *Loader) Classes() []string {
	out := make([]string, 0, len(l.index))
	for p := range l.index {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Loaded returns how many classes have been compiled so far.
func (l *Loader) Loaded() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.tables)
}

// LoadClass returns the compiled symbol table for path. Every symbol in it
// is flagged built-in and its file path uses Scheme. The result is shared;
// callers must not modify it.
func (l *Loader) LoadClass(ctx context.Context, p string) (*symbols.SymbolTable, error) {
	key := NormalizePath(p)
	l.mu.RLock()
	t, ok := l.tables[key]
	l.mu.RUnlock()
	if ok {
		return t, nil
	}
	file, ok := l.index[key]
	if !ok {
		return nil, fmt.Errorf("stdlib: %s: %w", p, ErrNotFound)
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		return l.compile(ctx, key, file)
	})
	if err != nil {
		return nil, err
	}
	return v.(*symbols.SymbolTable), nil
}

func (l *Loader) compile(ctx context.Context, key, file string) (*symbols.SymbolTable, error) {
	l.mu.RLock()
	t, ok := l.tables[key]
	l.mu.RUnlock()
	if ok {
		return t, nil
	}

	src, err := stubFS.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("stdlib: read %s: %w", file, err)
	}
	rel := strings.TrimPrefix(file, "stubs/")
	ns := path.Dir(rel)
	table, err := compiler.Compile(ctx, Scheme+rel, src)
	if err != nil {
		return nil, fmt.Errorf("stdlib: compile %s: %w", rel, err)
	}
	table.Namespace = ns
	for _, s := range table.Symbols {
		s.Modifiers.BuiltIn = true
		if s.Modifiers.Visibility == symbols.VisibilityDefault {
			s.Modifiers.Visibility = symbols.VisibilityGlobal
		}
	}

	l.mu.Lock()
	l.tables[key] = table
	l.mu.Unlock()
	l.logger.Debug("compiled standard library class", "class", key, "symbols", len(table.Symbols))
	return table, nil
}

// Close drops every compiled table.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tables = make(map[string]*symbols.SymbolTable)
	return nil
}
