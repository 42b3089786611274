package grove

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jward/grove/internal/cache"
	"github.com/jward/grove/internal/config"
	"github.com/jward/grove/internal/graph"
	"github.com/jward/grove/internal/stdlib"
	"github.com/jward/grove/internal/symbols"
)

// ErrClosed is returned by mutating calls on a closed Engine.
var ErrClosed = errors.New("grove: engine closed")

const tracerName = "github.com/jward/grove"

// StdlibLoader provides the standard library. LoadClass results are expected
// to be cached by the loader for its own lifetime.
type StdlibLoader interface {
	HasClass(path string) bool
	LoadClass(ctx context.Context, path string) (*SymbolTable, error)
}

// Engine is the resolution engine: it owns one symbol graph and one query
// cache, ingests symbol tables, and answers lookups.
//
// Writers (AddSymbolTable, RemoveFile, IngestTables) are serialized so one
// file's ingestion, including deferred-reference replay, completes before
// the next begins. Queries only read and may run concurrently.
type Engine struct {
	graph  *graph.Graph
	cache  *cache.Cache
	stdlib StdlibLoader
	cfg    *config.Config
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	ownsStdlib bool
	soft       map[string]bool // cache categories stored in the soft tier

	writeMu sync.Mutex

	mu     sync.RWMutex
	refs   map[string][]symbols.TypeReference // captured references per file
	closed bool

	builtinMu sync.Mutex
	builtins  map[string]string    // class path -> builtin file, once ingested
	detached  map[string][]*Symbol // builtin file -> symbols seen by queries only
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration. The config is validated by
// New.
func WithConfig(cfg *config.Config) Option {
	return func(e *Engine) {
		if cfg != nil {
			e.cfg = cfg
		}
	}
}

// WithLogger sets the logger for the engine and the graph and cache it owns.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithStdlib sets the standard library loader. Passing nil disables built-in
// resolution except for primitive types. By default the Engine creates and
// owns an embedded stdlib.Loader.
func WithStdlib(l StdlibLoader) Option {
	return func(e *Engine) {
		e.stdlib = l
		e.ownsStdlib = false
	}
}

// WithClock replaces time.Now for the cache and deferred-reference scheduling.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTracerProvider sets the provider for batch operation spans. Defaults to
// the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// New creates an empty Engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:        config.Default(),
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		ownsStdlib: true,
		refs:       make(map[string][]symbols.TypeReference),
		builtins:   make(map[string]string),
		detached:   make(map[string][]*Symbol),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("grove: %w", err)
	}
	if e.ownsStdlib && e.stdlib == nil {
		e.stdlib = stdlib.New(stdlib.WithLogger(e.logger))
	}

	e.graph = graph.New(
		graph.WithLogger(e.logger),
		graph.WithRetryBudget(e.cfg.Graph.RetryBudget),
		graph.WithRetryDelay(e.cfg.Graph.RetryBaseDelay),
		graph.WithRedeferOnRemove(e.cfg.Graph.RedeferOnRemove),
		graph.WithClock(e.now),
	)
	e.cache = cache.New(
		cache.WithLogger(e.logger),
		cache.WithMaxEntries(e.cfg.Cache.MaxEntries),
		cache.WithMaxBytes(e.cfg.Cache.MaxBytes),
		cache.WithTTL(e.cfg.Cache.TTL),
		cache.WithClock(e.now),
	)
	e.soft = make(map[string]bool, len(e.cfg.Cache.SoftCategories))
	for _, c := range e.cfg.Cache.SoftCategories {
		e.soft[c] = true
	}
	return e, nil
}

// Close releases the cache and, when the Engine created it, the standard
// library loader. Closing twice is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.refs = make(map[string][]symbols.TypeReference)
	e.mu.Unlock()

	e.cache.Clear()
	if c, ok := e.stdlib.(io.Closer); ok && e.ownsStdlib {
		return c.Close()
	}
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Graph returns the underlying symbol graph for direct read access.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Config returns the configuration in effect.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// prepared is a canonicalized symbol table ready for the single writer.
type prepared struct {
	file    string
	symbols []*Symbol
	refs    []symbols.TypeReference
}

func prepare(t *SymbolTable) prepared {
	syms, _ := t.Canonicalize()
	return prepared{file: t.File, symbols: syms, refs: t.References}
}

// AddSymbolTable ingests the table for one file, replacing whatever was
// ingested for that file before. Every symbol is inserted first, then every
// captured reference becomes an edge or a deferred reference. ctx bounds
// standard library loading only.
func (e *Engine) AddSymbolTable(ctx context.Context, table *SymbolTable) error {
	if e.isClosed() {
		return ErrClosed
	}
	if table == nil || table.File == "" {
		e.logger.Warn("skip symbol table without file")
		return nil
	}
	p := prepare(table)

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.ingestLocked(ctx, p)
	return nil
}

// ingestLocked runs one file's ingestion. Callers hold writeMu.
func (e *Engine) ingestLocked(ctx context.Context, p prepared) {
	defer e.recoverFault("ingest", slog.String("file", p.file))

	names := namesOf(e.graph.SymbolsInFile(p.file))
	e.graph.RemoveFile(p.file)

	added := 0
	for _, s := range p.symbols {
		if e.graph.AddSymbol(s, p.file) {
			added++
		}
	}
	names = append(names, namesOf(p.symbols)...)

	e.mu.Lock()
	if len(p.refs) > 0 {
		e.refs[p.file] = p.refs
	} else {
		delete(e.refs, p.file)
	}
	e.mu.Unlock()

	linked := 0
	for _, tr := range p.refs {
		if e.linkReference(ctx, p.file, tr) {
			linked++
		}
	}
	e.invalidate(p.file, names)
	e.logger.Debug("ingest symbol table",
		slog.String("file", p.file),
		slog.Int("symbols", added),
		slog.Int("references", linked))
}

// RemoveFile removes every symbol and reference owned by file. Removing an
// unknown file is a no-op.
func (e *Engine) RemoveFile(file string) error {
	if e.isClosed() {
		return ErrClosed
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	names := namesOf(e.graph.SymbolsInFile(file))
	n := e.graph.RemoveFile(file)

	e.mu.Lock()
	delete(e.refs, file)
	e.mu.Unlock()

	e.invalidate(file, names)
	e.logger.Debug("remove file", slog.String("file", file), slog.Int("symbols", n))
	return nil
}

// Files returns every file with at least one ingested symbol.
func (e *Engine) Files() []string {
	return e.graph.Files()
}

// Optimize is periodic maintenance: it sweeps expired cache entries and
// advances deferred references that are due for a retry.
func (e *Engine) Optimize() (cache.OptimizeResult, graph.TickResult) {
	res := e.cache.Optimize()
	tick := e.graph.Tick(e.now())
	if tick.Resolved > 0 || tick.Expired > 0 {
		e.cache.InvalidatePattern(derivedPattern)
	}
	return res, tick
}

// ReleaseMemory drops the soft cache tier in response to memory pressure.
// Returns the number of entries dropped.
func (e *Engine) ReleaseMemory() int {
	return e.cache.ReleaseSoft()
}

// Stats returns a statistics snapshot.
func (e *Engine) Stats() Stats {
	e.builtinMu.Lock()
	n := len(e.builtins)
	e.builtinMu.Unlock()
	return Stats{
		Graph:          e.graph.Stats(),
		Cache:          e.cache.Stats(),
		BuiltinsLoaded: n,
	}
}

// recoverFault turns a panic in a derived computation into a logged
// internal fault. It must be deferred directly.
func (e *Engine) recoverFault(op string, attrs ...any) {
	if r := recover(); r != nil {
		args := append([]any{slog.String("op", op), slog.Any("panic", r)}, attrs...)
		e.logger.Error("internal fault", args...)
	}
}

// derivedPattern matches every cache entry that depends on edges anywhere
// in the graph rather than on one file or name.
const derivedPattern = `^(refs-to|refs-from|deps|impact|cycles|pos|precise|workspace):`

// invalidate drops cache entries affected by a change to file and to symbols
// with the given names.
func (e *Engine) invalidate(file string, names []string) {
	parts := []string{derivedPattern, `^file:` + regexp.QuoteMeta(file) + `$`}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.ToLower(n)
		if seen[n] {
			continue
		}
		seen[n] = true
		parts = append(parts, `^name:`+regexp.QuoteMeta(n)+`$`)
	}
	parts = append(parts, `^fqn:`)
	e.cache.InvalidatePattern(strings.Join(parts, "|"))
}

func namesOf(syms []*Symbol) []string {
	out := make([]string, 0, len(syms))
	for _, s := range syms {
		out = append(out, s.Name)
	}
	return out
}
