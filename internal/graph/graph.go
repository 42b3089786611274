// Package graph is the authoritative in-memory index of symbols and the
// typed references between them. All indices are guarded by one RWMutex:
// lookups run concurrently, mutations are exclusive.
package graph

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jward/grove/internal/symbols"
)

type (
	Symbol    = symbols.Symbol
	SymbolID  = symbols.SymbolID
	Reference = symbols.Reference
)

const (
	defaultRetryBudget = 5
	defaultRetryDelay  = 100 * time.Millisecond
)

// Graph stores symbols, references and deferred references.
type Graph struct {
	mu sync.RWMutex

	symbols  map[SymbolID]*Symbol
	byKey    map[symbols.Key]SymbolID
	byName   map[string][]SymbolID // lower-cased name
	byFQN    map[string][]SymbolID
	byFile   map[string][]SymbolID // insertion order
	children map[SymbolID][]SymbolID

	forward  map[SymbolID][]*Reference
	backward map[SymbolID][]*Reference
	edgeKeys map[edgeKey]struct{}

	deferred      map[string][]*DeferredReference // lower-cased target name
	deferredKeys  map[deferredKey]struct{}
	deferredCount int

	logger      *slog.Logger
	retryBudget int
	retryDelay  time.Duration
	now         func() time.Time
	redefer     bool
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger used for skipped and failed operations.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithRetryBudget sets how many failed resolution attempts a deferred
// reference survives before it expires.
func WithRetryBudget(n int) Option {
	return func(g *Graph) {
		if n >= 0 {
			g.retryBudget = n
		}
	}
}

// WithRetryDelay sets the base backoff between deferred-reference retries.
// The delay doubles with every failed attempt.
func WithRetryDelay(d time.Duration) Option {
	return func(g *Graph) {
		if d > 0 {
			g.retryDelay = d
		}
	}
}

// WithClock replaces time.Now for deferred-reference scheduling.
func WithClock(now func() time.Time) Option {
	return func(g *Graph) {
		if now != nil {
			g.now = now
		}
	}
}

// WithRedeferOnRemove controls whether references from other files into a
// removed file are turned back into deferred references (default true), so
// that re-adding the file re-links them.
func WithRedeferOnRemove(enabled bool) Option {
	return func(g *Graph) {
		g.redefer = enabled
	}
}

// New creates an empty Graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		symbols:      make(map[SymbolID]*Symbol),
		byKey:        make(map[symbols.Key]SymbolID),
		byName:       make(map[string][]SymbolID),
		byFQN:        make(map[string][]SymbolID),
		byFile:       make(map[string][]SymbolID),
		children:     make(map[SymbolID][]SymbolID),
		forward:      make(map[SymbolID][]*Reference),
		backward:     make(map[SymbolID][]*Reference),
		edgeKeys:     make(map[edgeKey]struct{}),
		deferred:     make(map[string][]*DeferredReference),
		deferredKeys: make(map[deferredKey]struct{}),
		logger:       slog.Default(),
		retryBudget:  defaultRetryBudget,
		retryDelay:   defaultRetryDelay,
		now:          time.Now,
		redefer:      true,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AddSymbol inserts sym as owned by file. Inserting a symbol whose
// (FQN, kind, file) key is already present is a no-op and returns false.
// On success, deferred references waiting for sym's name are replayed.
//
// The graph keeps its own copy of sym; ID, FQN and FilePath are filled in
// when empty.
func (g *Graph) AddSymbol(sym *Symbol, file string) bool {
	if sym == nil || sym.Name == "" {
		return false
	}
	s := sym.Clone()
	s.FilePath = file
	if s.FQN == "" {
		s.FQN = strings.ToLower(s.Name)
	}
	if s.ID == "" {
		s.ID = symbols.NewID(file, s.Kind, s.FQN)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := s.Key()
	if _, dup := g.byKey[key]; dup {
		g.logger.Debug("skip duplicate symbol",
			slog.String("name", s.Name),
			slog.String("kind", string(s.Kind)),
			slog.String("file", file))
		return false
	}
	if _, taken := g.symbols[s.ID]; taken {
		g.logger.Debug("skip symbol with existing id", slog.String("id", string(s.ID)))
		return false
	}

	g.symbols[s.ID] = s
	g.byKey[key] = s.ID
	name := strings.ToLower(s.Name)
	g.byName[name] = append(g.byName[name], s.ID)
	g.byFQN[s.FQN] = append(g.byFQN[s.FQN], s.ID)
	g.byFile[file] = append(g.byFile[file], s.ID)
	if s.ParentID != "" {
		g.children[s.ParentID] = append(g.children[s.ParentID], s.ID)
	}

	g.replayDeferredLocked(s)
	return true
}

// Symbol returns the symbol with the given ID, or nil. The returned value is
// shared with the graph and must not be modified.
func (g *Graph) Symbol(id SymbolID) *Symbol {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.symbols[id]
}

// SymbolsByName returns every symbol with the given name (case-insensitive)
// in insertion order.
func (g *Graph) SymbolsByName(name string) []*Symbol {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collectLocked(g.byName[strings.ToLower(name)])
}

// SymbolsByFQN returns every symbol with the given FQN (case-insensitive).
// More than one file may declare the same FQN.
func (g *Graph) SymbolsByFQN(fqn string) []*Symbol {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collectLocked(g.byFQN[strings.ToLower(fqn)])
}

// SymbolsInFile returns the symbols owned by file in insertion order.
func (g *Graph) SymbolsInFile(file string) []*Symbol {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collectLocked(g.byFile[file])
}

// Children returns the symbols whose parent is id.
func (g *Graph) Children(id SymbolID) []*Symbol {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.collectLocked(g.children[id])
}

// Select returns every symbol for which keep returns true, ordered by ID.
func (g *Graph) Select(keep func(*Symbol) bool) []*Symbol {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Symbol
	for _, s := range g.symbols {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Files returns the paths of all files with at least one symbol, sorted.
func (g *Graph) Files() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	files := make([]string, 0, len(g.byFile))
	for f := range g.byFile {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// HasFile reports whether any symbol is owned by file.
func (g *Graph) HasFile(file string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byFile[file]) > 0
}

func (g *Graph) collectLocked(ids []SymbolID) []*Symbol {
	if len(ids) == 0 {
		return nil
	}
	out := make([]*Symbol, 0, len(ids))
	for _, id := range ids {
		if s, ok := g.symbols[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Stats is a point-in-time summary of the graph.
type Stats struct {
	TotalSymbols         int `json:"total_symbols"`
	TotalFiles           int `json:"total_files"`
	TotalReferences      int `json:"total_references"`
	CircularDependencies int `json:"circular_dependencies"`
	DeferredReferences   int `json:"deferred_references"`
}

// Stats returns counts over the whole graph. Cycle counting is linear in the
// size of the graph.
func (g *Graph) Stats() Stats {
	cycles := g.DetectCircularDependencies()

	g.mu.RLock()
	defer g.mu.RUnlock()
	return Stats{
		TotalSymbols:         len(g.symbols),
		TotalFiles:           len(g.byFile),
		TotalReferences:      len(g.edgeKeys),
		CircularDependencies: len(cycles),
		DeferredReferences:   g.deferredCount,
	}
}
