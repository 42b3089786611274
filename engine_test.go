package grove

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/grove/internal/compiler"
	"github.com/jward/grove/internal/config"
	"github.com/jward/grove/internal/stdlib"
	"github.com/jward/grove/internal/symbols"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func span(l1, c1, l2, c2 int) Range {
	return Range{Start: Position{Line: l1, Character: c1}, End: Position{Line: l2, Character: c2}}
}

// tableBuilder assembles a symbol table by hand. Local IDs are sequence
// numbers; declared symbols are public unless changed afterwards.
type tableBuilder struct {
	t *SymbolTable
}

func newTable(file string) *tableBuilder {
	return &tableBuilder{t: &SymbolTable{File: file}}
}

func (b *tableBuilder) decl(parent SymbolID, name string, kind symbols.Kind, full, ident Range, detail symbols.Detail) SymbolID {
	id := SymbolID(strconv.Itoa(len(b.t.Symbols) + 1))
	b.t.Symbols = append(b.t.Symbols, &Symbol{
		ID:        id,
		Name:      name,
		Kind:      kind,
		ParentID:  parent,
		Location:  symbols.Location{Symbol: full, Identifier: ident},
		Modifiers: symbols.Modifiers{Visibility: symbols.VisibilityPublic},
		Detail:    detail,
	})
	return id
}

func (b *tableBuilder) ref(name, qualifier string, ctx symbols.ContextTag, at Range, method string) {
	b.t.References = append(b.t.References, symbols.TypeReference{
		Name:          name,
		Qualifier:     qualifier,
		Context:       ctx,
		Location:      at,
		ParentContext: method,
	})
}

// classTable is a one-class file whose class body spans the given lines and
// references each name in refs as a type from inside the class.
func classTable(file, name string, lines int, refs ...string) *SymbolTable {
	b := newTable(file)
	b.decl("", name, symbols.KindClass, span(1, 0, lines, 1), span(1, 13, 1, 13+len(name)), &symbols.TypeDetail{})
	for i, r := range refs {
		b.ref(r, "", symbols.ContextClassReference, span(2+i, 4, 2+i, 4+len(r)), "")
	}
	return b.t
}

// accountTable is a class with a field, two methods, a parameter and a
// local, plus references from inside save.
//
//	 1 public class Account {
//	 2     public String name;
//	 4     public void save(Account acc) {
//	 5         Integer total = 0;
//	 6         helper();
//	 7         acc.Name;
//	 8         total;
//	 9         Util.format();
//	10     }
//	12     public void helper() {
//	14     }
//	20 }
func accountTable() *SymbolTable {
	b := newTable("/src/Account.cls")
	cls := b.decl("", "Account", symbols.KindClass, span(1, 0, 20, 1), span(1, 13, 1, 20), &symbols.TypeDetail{})
	b.decl(cls, "name", symbols.KindField, span(2, 4, 2, 23), span(2, 18, 2, 22), &symbols.VariableDetail{Type: "String"})
	save := b.decl(cls, "save", symbols.KindMethod, span(4, 4, 10, 5), span(4, 16, 4, 20), &symbols.MethodDetail{ReturnType: "void", ParameterTypes: []string{"Account"}})
	b.decl(save, "acc", symbols.KindParameter, span(4, 21, 4, 32), span(4, 29, 4, 32), &symbols.VariableDetail{Type: "Account"})
	b.decl(save, "total", symbols.KindVariable, span(5, 8, 5, 25), span(5, 16, 5, 21), &symbols.VariableDetail{Type: "Integer"})
	b.decl(cls, "helper", symbols.KindMethod, span(12, 4, 14, 5), span(12, 16, 12, 22), &symbols.MethodDetail{ReturnType: "void"})

	b.ref("String", "", symbols.ContextClassReference, span(2, 11, 2, 17), "")
	b.ref("helper", "", symbols.ContextMethodCall, span(6, 8, 6, 14), "save")
	b.ref("Name", "acc", symbols.ContextFieldAccess, span(7, 12, 7, 16), "save")
	b.ref("total", "", symbols.ContextVariableUsage, span(8, 8, 8, 13), "save")
	b.ref("format", "Util", symbols.ContextMethodCall, span(9, 13, 9, 19), "save")
	return b.t
}

func utilTable() *SymbolTable {
	b := newTable("/src/Util.cls")
	cls := b.decl("", "Util", symbols.KindClass, span(1, 0, 5, 1), span(1, 13, 1, 17), &symbols.TypeDetail{})
	b.decl(cls, "format", symbols.KindMethod, span(2, 4, 4, 5), span(2, 25, 2, 31), &symbols.MethodDetail{ReturnType: "String"})
	return b.t
}

func ingest(t *testing.T, e *Engine, tables ...*SymbolTable) {
	t.Helper()
	for _, tb := range tables {
		require.NoError(t, e.AddSymbolTable(context.Background(), tb))
	}
}

func mustSymbol(t *testing.T, e *Engine, name string, kind symbols.Kind) *Symbol {
	t.Helper()
	for _, s := range e.FindSymbolsByName(name) {
		if s.Kind == kind {
			return s
		}
	}
	t.Fatalf("symbol %s %q not found", kind, name)
	return nil
}

func targets(refs []Reference) []SymbolID {
	out := make([]SymbolID, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.TargetID)
	}
	return out
}

func sources(refs []Reference) []SymbolID {
	out := make([]SymbolID, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.SourceID)
	}
	return out
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Batch.UnitSize = 0
	_, err := New(WithConfig(cfg))
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()
	e, err := New()
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestClosedEngine(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, utilTable())
	require.NoError(t, e.Close())

	assert.ErrorIs(t, e.AddSymbolTable(context.Background(), accountTable()), ErrClosed)
	assert.ErrorIs(t, e.RemoveFile("/src/Util.cls"), ErrClosed)
	_, err := e.IngestTables(context.Background(), []*SymbolTable{accountTable()})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = e.AnalyzeWorkspace(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	assert.Nil(t, e.FindSymbolsByName("Util"))
	assert.Nil(t, e.GetSymbolAtPosition("/src/Util.cls", Position{Line: 1, Character: 14}))
	assert.Nil(t, e.AnalyzeDependencies("x"))
}

// =============================================================================
// Ingestion
// =============================================================================

func TestAddSymbolTable_Idempotent(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, utilTable(), accountTable())
	before := e.Stats().Graph

	ingest(t, e, accountTable())
	after := e.Stats().Graph
	assert.Equal(t, before.TotalSymbols, after.TotalSymbols)
	assert.Equal(t, before.TotalReferences, after.TotalReferences)
	assert.Equal(t, before.DeferredReferences, after.DeferredReferences)
}

func TestAddSymbolTable_ReplacesPreviousContent(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, accountTable())
	require.NotEmpty(t, e.FindSymbolsByName("helper"))

	ingest(t, e, classTable("/src/Account.cls", "Account", 3))
	assert.Empty(t, e.FindSymbolsByName("helper"))
	assert.Len(t, e.FindSymbolsInFile("/src/Account.cls"), 1)
}

func TestAddSymbolTable_SkipsTableWithoutFile(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	require.NoError(t, e.AddSymbolTable(context.Background(), nil))
	require.NoError(t, e.AddSymbolTable(context.Background(), &SymbolTable{}))
	assert.Equal(t, 0, e.Stats().Graph.TotalSymbols)
}

func TestAddSymbolTable_ComputesFQNAndParents(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, accountTable())

	cls := mustSymbol(t, e, "Account", symbols.KindClass)
	save := mustSymbol(t, e, "save", symbols.KindMethod)
	total := mustSymbol(t, e, "total", symbols.KindVariable)
	assert.Equal(t, "account.save", save.FQN)
	assert.Equal(t, cls.ID, save.ParentID)
	assert.Equal(t, save.ID, total.ParentID)
	assert.Same(t, save, e.FindSymbolByFQN("Account.Save"))
}

func TestAddSymbolTable_SameLocalNameInSiblingMethods(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	b := newTable("/src/Loop.cls")
	cls := b.decl("", "Loop", symbols.KindClass, span(1, 0, 12, 1), span(1, 13, 1, 17), &symbols.TypeDetail{})
	first := b.decl(cls, "first", symbols.KindMethod, span(2, 4, 5, 5), span(2, 16, 2, 21), &symbols.MethodDetail{ReturnType: "void"})
	second := b.decl(cls, "second", symbols.KindMethod, span(6, 4, 9, 5), span(6, 16, 6, 22), &symbols.MethodDetail{ReturnType: "void"})
	b.decl(first, "i", symbols.KindVariable, span(3, 8, 3, 18), span(3, 16, 3, 17), &symbols.VariableDetail{Type: "Integer"})
	b.decl(second, "i", symbols.KindVariable, span(7, 8, 7, 18), span(7, 16, 7, 17), &symbols.VariableDetail{Type: "Integer"})
	ingest(t, e, b.t)

	var fqns []string
	for _, s := range e.FindSymbolsByName("i") {
		fqns = append(fqns, s.FQN)
	}
	assert.ElementsMatch(t, []string{"loop.first.i", "loop.second.i"}, fqns)
	assert.Equal(t, 5, e.Stats().Graph.TotalSymbols)

	// A true redeclaration in the same scope still collapses.
	b.decl(first, "i", symbols.KindVariable, span(4, 8, 4, 18), span(4, 16, 4, 17), &symbols.VariableDetail{Type: "Integer"})
	ingest(t, e, b.t)
	assert.Len(t, e.FindSymbolsByName("i"), 2)
}

// =============================================================================
// References
// =============================================================================

func TestReferences_Bidirectional(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, utilTable(), accountTable())

	save := mustSymbol(t, e, "save", symbols.KindMethod)
	format := mustSymbol(t, e, "format", symbols.KindMethod)

	assert.Contains(t, targets(e.FindReferencesFrom(save.ID)), format.ID)
	assert.Contains(t, sources(e.FindReferencesTo(format.ID)), save.ID)

	for _, s := range e.Graph().Select(func(*Symbol) bool { return true }) {
		for _, r := range e.FindReferencesFrom(s.ID) {
			assert.Contains(t, sources(e.FindReferencesTo(r.TargetID)), s.ID)
		}
	}
}

func TestReferences_ResolveWithinFile(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, utilTable(), accountTable())

	save := mustSymbol(t, e, "save", symbols.KindMethod)
	from := targets(e.FindReferencesFrom(save.ID))
	assert.Contains(t, from, mustSymbol(t, e, "helper", symbols.KindMethod).ID)
	assert.Contains(t, from, mustSymbol(t, e, "total", symbols.KindVariable).ID)
	// acc.Name resolves through the parameter's declared type.
	assert.Contains(t, from, mustSymbol(t, e, "name", symbols.KindField).ID)

	// String is a primitive: nothing recorded, nothing deferred.
	assert.Empty(t, e.DeferredReferences())
}

func TestReferences_DeferredUntilTargetAppears(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, classTable("/src/A.cls", "A", 5, "X"))
	require.Equal(t, 1, e.Stats().Graph.DeferredReferences)

	ingest(t, e, classTable("/src/X.cls", "X", 3))
	assert.Equal(t, 0, e.Stats().Graph.DeferredReferences)

	a := mustSymbol(t, e, "A", symbols.KindClass)
	x := mustSymbol(t, e, "X", symbols.KindClass)
	assert.Contains(t, sources(e.FindReferencesTo(x.ID)), a.ID)
}

func TestReferences_QualifierDeferredOnFirstSegment(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, accountTable())

	deferred := e.DeferredReferences()
	require.Len(t, deferred, 1)
	assert.Equal(t, "Util", deferred[0].Ref.TargetName)
	assert.Equal(t, symbols.RefStaticAccess, deferred[0].Ref.Type)

	ingest(t, e, utilTable())
	util := mustSymbol(t, e, "Util", symbols.KindClass)
	save := mustSymbol(t, e, "save", symbols.KindMethod)
	assert.Contains(t, sources(e.FindReferencesTo(util.ID)), save.ID)
}

func TestReferences_PrivateTypesInvisibleAcrossFiles(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	hidden := classTable("/src/Hidden.cls", "Hidden", 3)
	hidden.Symbols[0].Modifiers.Visibility = symbols.VisibilityPrivate
	ingest(t, e, hidden, classTable("/src/A.cls", "A", 5, "Hidden"))

	a := mustSymbol(t, e, "A", symbols.KindClass)
	assert.Empty(t, e.FindReferencesFrom(a.ID))
	assert.Equal(t, 1, e.Stats().Graph.DeferredReferences)
}

func TestReferences_AnnotationsNeverDeferred(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	b := newTable("/src/T.cls")
	b.decl("", "T", symbols.KindClass, span(1, 0, 4, 1), span(1, 13, 1, 14), &symbols.TypeDetail{})
	b.ref("IsTest", "", symbols.ContextAnnotation, span(2, 5, 2, 11), "")
	ingest(t, e, b.t)
	assert.Empty(t, e.DeferredReferences())
}

// =============================================================================
// Built-ins
// =============================================================================

func calcTable(refs func(b *tableBuilder)) *SymbolTable {
	b := newTable("/src/Calc.cls")
	cls := b.decl("", "Calc", symbols.KindClass, span(1, 0, 10, 1), span(1, 13, 1, 17), &symbols.TypeDetail{})
	b.decl(cls, "run", symbols.KindMethod, span(2, 4, 9, 5), span(2, 16, 2, 19), &symbols.MethodDetail{ReturnType: "void"})
	refs(b)
	return b.t
}

func TestBuiltins_ReservedNamespaceLoadsStandardLibrary(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, calcTable(func(b *tableBuilder) {
		b.ref("abs", "Math", symbols.ContextMethodCall, span(3, 13, 3, 16), "run")
	}))

	run := mustSymbol(t, e, "run", symbols.KindMethod)
	refs := e.FindReferencesFrom(run.ID)
	require.Len(t, refs, 1)
	abs := e.Graph().Symbol(refs[0].TargetID)
	require.NotNil(t, abs)
	assert.Equal(t, "abs", abs.Name)
	assert.True(t, abs.Modifiers.BuiltIn)
	assert.True(t, stdlib.IsBuiltInPath(abs.FilePath))
	assert.Equal(t, 1, e.Stats().BuiltinsLoaded)
}

func TestBuiltins_QualifiedTypeInReservedNamespace(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, calcTable(func(b *tableBuilder) {
		b.ref("SaveResult", "Database", symbols.ContextClassReference, span(3, 17, 3, 27), "run")
	}))

	run := mustSymbol(t, e, "run", symbols.KindMethod)
	refs := e.FindReferencesFrom(run.ID)
	require.Len(t, refs, 1)
	assert.Equal(t, "database.saveresult", e.Graph().Symbol(refs[0].TargetID).FQN)
}

func TestBuiltins_NoFallbackOutsideReservedNamespaces(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, calcTable(func(b *tableBuilder) {
		b.ref("Math", "Acme", symbols.ContextClassReference, span(3, 13, 3, 17), "run")
	}))

	run := mustSymbol(t, e, "run", symbols.KindMethod)
	assert.Empty(t, e.FindReferencesFrom(run.ID))
	assert.Equal(t, 0, e.Stats().BuiltinsLoaded)
	deferred := e.DeferredReferences()
	require.Len(t, deferred, 1)
	assert.Equal(t, "Acme", deferred[0].Ref.TargetName)
}

func TestBuiltins_DisabledLoader(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, WithStdlib(nil))
	ingest(t, e, calcTable(func(b *tableBuilder) {
		b.ref("abs", "Math", symbols.ContextMethodCall, span(3, 13, 3, 16), "run")
		b.ref("String", "", symbols.ContextClassReference, span(4, 8, 4, 14), "run")
	}))
	assert.Equal(t, 0, e.Stats().BuiltinsLoaded)
	// The unknown qualifier waits; the primitive is still known.
	assert.Len(t, e.DeferredReferences(), 1)
}

// gatedStdlib hides every class until opened.
type gatedStdlib struct {
	StdlibLoader
	open atomic.Bool
}

func (g *gatedStdlib) HasClass(path string) bool {
	return g.open.Load() && g.StdlibLoader.HasClass(path)
}

func TestBuiltins_PositionQueryLeavesGraphUntouched(t *testing.T) {
	t.Parallel()
	loader := stdlib.New()
	t.Cleanup(func() { loader.Close() })
	gate := &gatedStdlib{StdlibLoader: loader}
	e := newTestEngine(t, WithStdlib(gate))
	ingest(t, e, calcTable(func(b *tableBuilder) {
		b.ref("abs", "Math", symbols.ContextMethodCall, span(3, 13, 3, 16), "run")
	}))
	require.Len(t, e.DeferredReferences(), 1)
	before := e.Stats()

	gate.open.Store(true)
	abs := e.GetSymbolAtPosition("/src/Calc.cls", Position{Line: 3, Character: 14})
	require.NotNil(t, abs)
	assert.Equal(t, "abs", abs.Name)
	assert.True(t, abs.Modifiers.BuiltIn)
	assert.Nil(t, e.Graph().Symbol(abs.ID))

	after := e.Stats()
	assert.Equal(t, before.Graph.TotalSymbols, after.Graph.TotalSymbols)
	assert.Equal(t, before.Graph.TotalReferences, after.Graph.TotalReferences)
	assert.Equal(t, 0, after.BuiltinsLoaded)
	assert.Len(t, e.DeferredReferences(), 1)

	// Ingestion still loads the class into the graph.
	ingest(t, e, calcTable(func(b *tableBuilder) {
		b.ref("abs", "Math", symbols.ContextMethodCall, span(3, 13, 3, 16), "run")
	}))
	assert.Equal(t, 1, e.Stats().BuiltinsLoaded)
	abs = e.GetSymbolAtPosition("/src/Calc.cls", Position{Line: 3, Character: 14})
	require.NotNil(t, abs)
	assert.NotNil(t, e.Graph().Symbol(abs.ID))
}

// =============================================================================
// Cycles and removal
// =============================================================================

func TestDetectCircularDependencies(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, classTable("/src/A.cls", "A", 5, "B"), classTable("/src/B.cls", "B", 5, "A"))

	a := mustSymbol(t, e, "A", symbols.KindClass)
	b := mustSymbol(t, e, "B", symbols.KindClass)
	cycles := e.DetectCircularDependencies()
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []SymbolID{a.ID, b.ID}, cycles[0])

	da := e.AnalyzeDependencies(a.ID)
	require.NotNil(t, da)
	assert.True(t, da.Circular)
	assert.Equal(t, 1, da.ImpactScore)
}

func TestDetectCircularDependencies_AcyclicChain(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e,
		classTable("/src/A.cls", "A", 5, "B"),
		classTable("/src/B.cls", "B", 5, "C"),
		classTable("/src/C.cls", "C", 3))
	assert.Empty(t, e.DetectCircularDependencies())
}

func TestRemoveFile_Complete(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, utilTable(), accountTable())
	util := e.FindSymbolsInFile("/src/Util.cls")
	require.Len(t, util, 2)

	require.NoError(t, e.RemoveFile("/src/Util.cls"))
	assert.Empty(t, e.FindSymbolsInFile("/src/Util.cls"))
	assert.Empty(t, e.FindSymbolsByName("format"))
	assert.Nil(t, e.FindSymbolByFQN("util.format"))
	for _, s := range util {
		assert.Nil(t, e.Graph().Symbol(s.ID))
		assert.Empty(t, e.FindReferencesTo(s.ID))
		assert.Nil(t, e.AnalyzeDependencies(s.ID))
	}
	save := mustSymbol(t, e, "save", symbols.KindMethod)
	for _, r := range e.FindReferencesFrom(save.ID) {
		assert.Equal(t, "/src/Account.cls", e.Graph().Symbol(r.TargetID).FilePath)
	}
	assert.NotContains(t, e.Files(), "/src/Util.cls")
}

func TestRemoveFile_ReingestRelinksReferences(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, utilTable(), accountTable())
	require.NoError(t, e.RemoveFile("/src/Util.cls"))
	assert.Equal(t, 1, e.Stats().Graph.DeferredReferences)

	ingest(t, e, utilTable())
	assert.Equal(t, 0, e.Stats().Graph.DeferredReferences)
	save := mustSymbol(t, e, "save", symbols.KindMethod)
	format := mustSymbol(t, e, "format", symbols.KindMethod)
	assert.Contains(t, sources(e.FindReferencesTo(format.ID)), save.ID)
}

func TestRemoveFile_Unknown(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	require.NoError(t, e.RemoveFile("/nope.cls"))
}

// =============================================================================
// Cache behaviour
// =============================================================================

func TestLookups_CachedAndInvalidated(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	assert.Empty(t, e.FindSymbolsByName("Util"))

	ingest(t, e, utilTable())
	assert.Len(t, e.FindSymbolsByName("util"), 1)
	hits := e.Stats().Cache.HitCount
	assert.Len(t, e.FindSymbolsByName("UTIL"), 1)
	assert.Equal(t, hits+1, e.Stats().Cache.HitCount)

	require.NoError(t, e.RemoveFile("/src/Util.cls"))
	assert.Empty(t, e.FindSymbolsByName("Util"))
	assert.Nil(t, e.FindSymbolByName("Util"))
}

func TestReleaseMemory_DropsSoftTier(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, classTable("/src/A.cls", "A", 5, "B"), classTable("/src/B.cls", "B", 3))
	a := mustSymbol(t, e, "A", symbols.KindClass)

	require.NotNil(t, e.AnalyzeDependencies(a.ID))
	e.DetectCircularDependencies()
	require.NotNil(t, e.GetImpactAnalysis(a.ID))
	require.Equal(t, 3, e.Stats().Cache.SoftEntries)

	evictions := e.Stats().Cache.EvictionCount
	assert.Equal(t, 3, e.ReleaseMemory())
	st := e.Stats().Cache
	assert.Equal(t, 0, st.SoftEntries)
	assert.Equal(t, evictions+3, st.EvictionCount)
	assert.GreaterOrEqual(t, st.TotalSize, int64(0))
}

func TestOptimize_ExpiresDeferredReferences(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	cfg := config.Default()
	cfg.Graph.RetryBudget = 1
	cfg.Graph.RetryBaseDelay = 10 * time.Millisecond
	e := newTestEngine(t, WithConfig(cfg), WithClock(clock))
	ingest(t, e, classTable("/src/A.cls", "A", 5, "Ghost"))
	require.Equal(t, 1, e.Stats().Graph.DeferredReferences)

	_, tick := e.Optimize()
	assert.Equal(t, 1, tick.Waiting, "not due yet")

	advance(time.Second)
	_, tick = e.Optimize()
	assert.Equal(t, 0, tick.Expired)
	assert.Equal(t, 1, tick.Waiting)

	advance(time.Second)
	_, tick = e.Optimize()
	assert.Equal(t, 1, tick.Expired)
	assert.Equal(t, 0, e.Stats().Graph.DeferredReferences)
}

// =============================================================================
// Impact and workspace analysis
// =============================================================================

func chainEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := newTestEngine(t, opts...)
	ingest(t, e,
		classTable("/src/A.cls", "A", 3),
		classTable("/src/B.cls", "B", 5, "A"),
		classTable("/src/C.cls", "C", 5, "B"))
	return e
}

func TestGetImpactAnalysis(t *testing.T) {
	t.Parallel()
	e := chainEngine(t)
	a := mustSymbol(t, e, "A", symbols.KindClass)
	b := mustSymbol(t, e, "B", symbols.KindClass)
	c := mustSymbol(t, e, "C", symbols.KindClass)

	impact := e.GetImpactAnalysis(a.ID)
	require.NotNil(t, impact)
	assert.Equal(t, []SymbolID{b.ID}, impact.DirectImpact)
	assert.Equal(t, []SymbolID{c.ID}, impact.IndirectImpact)
	assert.Equal(t, 2, impact.TotalAffected)
	assert.Equal(t, RiskLow, impact.Risk)

	assert.Nil(t, e.GetImpactAnalysis("missing"))
}

func TestGetImpactAnalysis_TunableThresholds(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Resolution.ImpactMaxHops = 1
	cfg.Resolution.ImpactMediumThreshold = 1
	cfg.Resolution.ImpactHighThreshold = 2
	e := chainEngine(t, WithConfig(cfg))
	a := mustSymbol(t, e, "A", symbols.KindClass)

	impact := e.GetImpactAnalysis(a.ID)
	require.NotNil(t, impact)
	assert.Empty(t, impact.IndirectImpact, "hop limit")
	assert.Equal(t, 1, impact.TotalAffected)
	assert.Equal(t, RiskMedium, impact.Risk)
}

func TestAnalyzeWorkspace(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	b := newTable("/src/A.cls")
	cls := b.decl("", "A", symbols.KindClass, span(1, 0, 6, 1), span(1, 13, 1, 14), &symbols.TypeDetail{})
	b.decl(cls, "m", symbols.KindMethod, span(2, 4, 5, 5), span(2, 16, 2, 17), &symbols.MethodDetail{ReturnType: "void"})
	b.ref("B", "", symbols.ContextClassReference, span(3, 8, 3, 9), "m")
	ingest(t, e, b.t, classTable("/src/B.cls", "B", 3))

	res, err := e.AnalyzeWorkspace(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Types, 2)
	assert.Equal(t, "B", res.Types[0].Name)
	assert.Equal(t, 1, res.Types[0].ImpactScore)
	assert.Equal(t, "A", res.Types[1].Name)
	assert.Equal(t, []SymbolID{res.Types[0].SymbolID}, res.Types[1].Dependencies)
	assert.Empty(t, res.Cycles)
}

func TestAnalyzeWorkspace_Cancelled(t *testing.T) {
	t.Parallel()
	e := chainEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.AnalyzeWorkspace(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	// A failed run is not cached.
	res, err := e.AnalyzeWorkspace(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Types, 3)
}

// =============================================================================
// Batch ingestion
// =============================================================================

func TestIngestTables(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Batch.UnitSize = 1
	cfg.Batch.Workers = 2
	e := newTestEngine(t, WithConfig(cfg))

	n, err := e.IngestTables(context.Background(), []*SymbolTable{
		accountTable(), nil, utilTable(), {File: ""},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, e.DeferredReferences(), "Util.format linked once Util arrived")
	assert.ElementsMatch(t, []string{"/src/Account.cls", "/src/Util.cls"}, e.Files())
}

func TestIngestTables_Cancelled(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := e.IngestTables(ctx, []*SymbolTable{accountTable(), utilTable()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, e.Stats().Graph.TotalSymbols)
}

func TestConcurrentReadsDuringIngestion(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, utilTable())

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				e.FindSymbolsByName("format")
				e.GetSymbolAtPosition("/src/Util.cls", Position{Line: 2, Character: 26})
				e.DetectCircularDependencies()
			}
		}()
		if i%2 == 0 {
			require.NoError(t, e.AddSymbolTable(context.Background(), accountTable()))
		}
	}
	wg.Wait()
	assert.Len(t, e.FindSymbolsByName("format"), 1)
}

// =============================================================================
// End to end through the compiler
// =============================================================================

func compileTable(t *testing.T, file, src string) *SymbolTable {
	t.Helper()
	table, err := compiler.Compile(context.Background(), file, []byte(src))
	require.NoError(t, err)
	return table
}

func TestEndToEnd_ClassWithMethod(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e, compileTable(t, "/src/Foo.cls", `public class Foo {
    public void bar() {
    }
}
`))

	foos := e.FindSymbolsByName("Foo")
	require.Len(t, foos, 1)
	assert.Equal(t, symbols.KindClass, foos[0].Kind)

	bars := e.FindSymbolsByName("bar")
	require.Len(t, bars, 1)
	assert.Equal(t, symbols.KindMethod, bars[0].Kind)
	assert.Equal(t, foos[0].ID, bars[0].ParentID)

	require.NoError(t, e.RemoveFile("/src/Foo.cls"))
	assert.Equal(t, 0, e.Stats().Graph.TotalSymbols)
}

func TestEndToEnd_CrossFileCall(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	ingest(t, e,
		compileTable(t, "/src/Svc.cls", `public class Svc {
    public void run() {
        Util.format('x');
    }
}
`),
		compileTable(t, "/src/Util.cls", `public class Util {
    public static String format(String s) {
        return s;
    }
}
`))

	format := mustSymbol(t, e, "format", symbols.KindMethod)
	got := e.GetSymbolAtPositionPrecise("/src/Svc.cls", Position{Line: 3, Character: 15})
	require.NotNil(t, got)
	assert.Equal(t, format.ID, got.ID)

	run := mustSymbol(t, e, "run", symbols.KindMethod)
	util := mustSymbol(t, e, "Util", symbols.KindClass)
	assert.Contains(t, sources(e.FindReferencesTo(util.ID)), run.ID)
}
