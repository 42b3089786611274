package grove

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jward/grove/internal/cache"
)

// Cache categories. Entries in a category listed in config
// Cache.SoftCategories are stored in the soft tier.
const (
	categorySymbols      = "symbols"
	categoryReferences   = "references"
	categoryPosition     = "position"
	categoryDependencies = "dependencies"
	categoryImpact       = "impact"
	categoryCycles       = "cycles"
	categoryWorkspace    = "workspace"
)

func (e *Engine) setOpts(category string) []cache.SetOption {
	if e.soft[category] {
		return []cache.SetOption{cache.Soft()}
	}
	return nil
}

// cached returns the cached value for key or computes and stores it. A
// closed engine computes nothing and returns the zero value.
func cached[T any](e *Engine, key, category string, compute func() T) T {
	var zero T
	if e.isClosed() {
		return zero
	}
	v, err := cache.GetOrCompute(e.cache, key, category, func() (T, error) {
		return compute(), nil
	}, e.setOpts(category)...)
	if err != nil {
		e.logger.Error("cache lookup", slog.String("key", key), slog.Any("error", err))
		return zero
	}
	return v
}

// FindSymbolsByName returns every symbol with the given name, compared
// case-insensitively. The result is shared with the cache and must not be
// modified.
func (e *Engine) FindSymbolsByName(name string) (out []*Symbol) {
	defer e.recoverFault("find symbols by name", slog.String("name", name))
	if name == "" {
		return nil
	}
	return cached(e, "name:"+strings.ToLower(name), categorySymbols, func() []*Symbol {
		return e.graph.SymbolsByName(name)
	})
}

// FindSymbolByName returns one symbol with the given name, preferring
// workspace symbols over built-ins. Returns nil if there is none.
func (e *Engine) FindSymbolByName(name string) *Symbol {
	syms := e.FindSymbolsByName(name)
	for _, s := range syms {
		if !s.Modifiers.BuiltIn {
			return s
		}
	}
	if len(syms) > 0 {
		return syms[0]
	}
	return nil
}

// FindSymbolsByFQN returns every symbol with the given fully qualified name,
// one per file and kind that declares it.
func (e *Engine) FindSymbolsByFQN(fqn string) (out []*Symbol) {
	defer e.recoverFault("find symbols by fqn", slog.String("fqn", fqn))
	if fqn == "" {
		return nil
	}
	fqn = strings.ToLower(fqn)
	return cached(e, "fqn:"+fqn, categorySymbols, func() []*Symbol {
		return e.graph.SymbolsByFQN(fqn)
	})
}

// FindSymbolByFQN returns the first symbol with the given fully qualified
// name, or nil.
func (e *Engine) FindSymbolByFQN(fqn string) *Symbol {
	if syms := e.FindSymbolsByFQN(fqn); len(syms) > 0 {
		return syms[0]
	}
	return nil
}

// FindSymbolsInFile returns the symbols declared in file in ingestion order.
func (e *Engine) FindSymbolsInFile(file string) (out []*Symbol) {
	defer e.recoverFault("find symbols in file", slog.String("file", file))
	if file == "" {
		return nil
	}
	return cached(e, "file:"+file, categorySymbols, func() []*Symbol {
		return e.graph.SymbolsInFile(file)
	})
}

// FindReferencesTo returns every recorded reference whose target is id.
func (e *Engine) FindReferencesTo(id SymbolID) (out []Reference) {
	defer e.recoverFault("find references to", slog.String("symbol", string(id)))
	return cached(e, "refs-to:"+string(id), categoryReferences, func() []Reference {
		return e.graph.FindReferencesTo(id)
	})
}

// FindReferencesFrom returns every recorded reference whose source is id.
func (e *Engine) FindReferencesFrom(id SymbolID) (out []Reference) {
	defer e.recoverFault("find references from", slog.String("symbol", string(id)))
	return cached(e, "refs-from:"+string(id), categoryReferences, func() []Reference {
		return e.graph.FindReferencesFrom(id)
	})
}

// AnalyzeDependencies returns the direct dependencies and dependents of id
// and whether it takes part in a cycle. Returns nil for an unknown symbol.
func (e *Engine) AnalyzeDependencies(id SymbolID) (out *DependencyAnalysis) {
	defer e.recoverFault("analyze dependencies", slog.String("symbol", string(id)))
	return cached(e, "deps:"+string(id), categoryDependencies, func() *DependencyAnalysis {
		return e.graph.AnalyzeDependencies(id)
	})
}

// DetectCircularDependencies returns every cycle of structural references.
func (e *Engine) DetectCircularDependencies() (out [][]SymbolID) {
	defer e.recoverFault("detect circular dependencies")
	return cached(e, "cycles:all", categoryCycles, func() [][]SymbolID {
		return e.graph.DetectCircularDependencies()
	})
}

// DeferredReferences returns a snapshot of references still waiting for
// their target.
func (e *Engine) DeferredReferences() []DeferredReference {
	if e.isClosed() {
		return nil
	}
	return e.graph.DeferredReferences()
}

func positionKey(prefix, file string, pos Position) string {
	return fmt.Sprintf("%s:%s:%d:%d", prefix, file, pos.Line, pos.Character)
}
