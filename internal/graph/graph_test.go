package graph

import (
	"fmt"
	"testing"
	"time"

	"github.com/jward/grove/internal/symbols"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loc(line, col int) symbols.Range {
	return symbols.Range{
		Start: symbols.Position{Line: line, Character: col},
		End:   symbols.Position{Line: line, Character: col + 3},
	}
}

// addSym inserts a public symbol and returns its canonical ID.
func addSym(t *testing.T, g *Graph, file, name string, kind symbols.Kind) SymbolID {
	t.Helper()
	s := &Symbol{
		Name:      name,
		Kind:      kind,
		Modifiers: symbols.Modifiers{Visibility: symbols.VisibilityPublic},
	}
	require.True(t, g.AddSymbol(s, file))
	found := g.SymbolsByFQN(name)
	for _, f := range found {
		if f.FilePath == file && f.Kind == kind {
			return f.ID
		}
	}
	t.Fatalf("symbol %s not found after insert", name)
	return ""
}

func typeRef(from, to SymbolID, line int) Reference {
	return Reference{SourceID: from, TargetID: to, Type: symbols.RefTypeReference, Location: loc(line, 0)}
}

func refIDs(refs []Reference, end func(Reference) SymbolID) []SymbolID {
	var out []SymbolID
	for _, r := range refs {
		out = append(out, end(r))
	}
	return out
}

// =============================================================================
// AddSymbol
// =============================================================================

func TestAddSymbol_IdempotentForSameKey(t *testing.T) {
	t.Parallel()
	g := New()
	s := &Symbol{Name: "Foo", Kind: symbols.KindClass}

	assert.True(t, g.AddSymbol(s, "/a.cls"))
	assert.False(t, g.AddSymbol(s, "/a.cls"))
	assert.Equal(t, 1, g.Stats().TotalSymbols)

	// Same name, different kind or file is a different symbol.
	assert.True(t, g.AddSymbol(&Symbol{Name: "Foo", Kind: symbols.KindMethod}, "/a.cls"))
	assert.True(t, g.AddSymbol(s, "/b.cls"))
	assert.Equal(t, 3, g.Stats().TotalSymbols)
	assert.Equal(t, 2, g.Stats().TotalFiles)
}

func TestAddSymbol_CaseInsensitiveNameLookup(t *testing.T) {
	t.Parallel()
	g := New()
	addSym(t, g, "/a.cls", "AccountService", symbols.KindClass)

	got := g.SymbolsByName("accountservice")
	require.Len(t, got, 1)
	assert.Equal(t, "AccountService", got[0].Name)
	assert.Equal(t, "accountservice", got[0].FQN)
}

func TestAddSymbol_ChildrenIndex(t *testing.T) {
	t.Parallel()
	g := New()
	foo := addSym(t, g, "/a.cls", "Foo", symbols.KindClass)
	require.True(t, g.AddSymbol(&Symbol{Name: "bar", Kind: symbols.KindMethod, ParentID: foo, FQN: "foo.bar"}, "/a.cls"))

	kids := g.Children(foo)
	require.Len(t, kids, 1)
	assert.Equal(t, "bar", kids[0].Name)
}

func TestAddSymbol_IgnoresNilAndUnnamed(t *testing.T) {
	t.Parallel()
	g := New()
	assert.False(t, g.AddSymbol(nil, "/a.cls"))
	assert.False(t, g.AddSymbol(&Symbol{Kind: symbols.KindClass}, "/a.cls"))
	assert.Equal(t, 0, g.Stats().TotalSymbols)
}

// =============================================================================
// AddReference
// =============================================================================

func TestAddReference_BidirectionalIntegrity(t *testing.T) {
	t.Parallel()
	g := New()
	a := addSym(t, g, "/a.cls", "A", symbols.KindClass)
	b := addSym(t, g, "/b.cls", "B", symbols.KindClass)

	assert.Equal(t, Recorded, g.AddReference(typeRef(a, b, 3)))

	from := refIDs(g.FindReferencesFrom(a), func(r Reference) SymbolID { return r.TargetID })
	to := refIDs(g.FindReferencesTo(b), func(r Reference) SymbolID { return r.SourceID })
	assert.Equal(t, []SymbolID{b}, from)
	assert.Equal(t, []SymbolID{a}, to)
	assert.Equal(t, 1, g.Stats().TotalReferences)
}

func TestAddReference_DeduplicatesSameTuple(t *testing.T) {
	t.Parallel()
	g := New()
	a := addSym(t, g, "/a.cls", "A", symbols.KindClass)
	b := addSym(t, g, "/a.cls", "B", symbols.KindClass)

	assert.Equal(t, Recorded, g.AddReference(typeRef(a, b, 3)))
	assert.Equal(t, Duplicate, g.AddReference(typeRef(a, b, 3)))
	// A different location is a different reference.
	assert.Equal(t, Recorded, g.AddReference(typeRef(a, b, 4)))
	assert.Len(t, g.FindReferencesFrom(a), 2)
}

func TestAddReference_UnknownSourceRejected(t *testing.T) {
	t.Parallel()
	g := New()
	b := addSym(t, g, "/a.cls", "B", symbols.KindClass)

	assert.Equal(t, Rejected, g.AddReference(typeRef("missing", b, 1)))
	assert.Empty(t, g.FindReferencesTo(b))
	stats := g.Stats()
	assert.Equal(t, 0, stats.TotalReferences)
	assert.Equal(t, 0, stats.DeferredReferences)
}

func TestAddReference_ResolvesByNamePreferringSameFile(t *testing.T) {
	t.Parallel()
	g := New()
	other := addSym(t, g, "/other.cls", "Helper", symbols.KindClass)
	local := addSym(t, g, "/a.cls", "Helper", symbols.KindClass)
	a := addSym(t, g, "/a.cls", "A", symbols.KindClass)

	out := g.AddReference(Reference{SourceID: a, TargetName: "helper", Type: symbols.RefTypeReference, Location: loc(2, 0)})
	require.Equal(t, Recorded, out)
	assert.Len(t, g.FindReferencesTo(local), 1)
	assert.Empty(t, g.FindReferencesTo(other))
}

func TestAddReference_SkipsKindsTheTypeCannotTarget(t *testing.T) {
	t.Parallel()
	g := New()
	a := addSym(t, g, "/a.cls", "A", symbols.KindClass)
	addSym(t, g, "/a.cls", "run", symbols.KindMethod)

	out := g.AddReference(Reference{SourceID: a, TargetName: "run", Type: symbols.RefTypeReference, Location: loc(2, 0)})
	assert.Equal(t, Deferred, out)
}

func TestFindReferences_UnknownSymbolEmpty(t *testing.T) {
	t.Parallel()
	g := New()
	assert.Empty(t, g.FindReferencesTo("nope"))
	assert.Empty(t, g.FindReferencesFrom("nope"))
	assert.Nil(t, g.AnalyzeDependencies("nope"))
}

// =============================================================================
// Deferred references
// =============================================================================

func TestDeferred_ResolvedWhenTargetAppears(t *testing.T) {
	t.Parallel()
	g := New()
	a := addSym(t, g, "/a.cls", "A", symbols.KindClass)

	out := g.AddReference(Reference{SourceID: a, TargetName: "X", Type: symbols.RefTypeReference, Location: loc(5, 2)})
	require.Equal(t, Deferred, out)
	assert.Equal(t, 1, g.Stats().DeferredReferences)

	x := addSym(t, g, "/x.cls", "X", symbols.KindClass)

	assert.Equal(t, 0, g.Stats().DeferredReferences)
	to := g.FindReferencesTo(x)
	require.Len(t, to, 1)
	assert.Equal(t, a, to[0].SourceID)
	assert.Equal(t, symbols.RefTypeReference, to[0].Type)
}

func TestDeferred_DuplicateNotCountedTwice(t *testing.T) {
	t.Parallel()
	g := New()
	a := addSym(t, g, "/a.cls", "A", symbols.KindClass)
	ref := Reference{SourceID: a, TargetName: "X", Type: symbols.RefTypeReference, Location: loc(5, 2)}

	assert.Equal(t, Deferred, g.AddReference(ref))
	assert.Equal(t, Duplicate, g.AddReference(ref))
	assert.Equal(t, 1, g.Stats().DeferredReferences)
}

func TestDeferred_ExpiresAfterRetryBudget(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := New(WithRetryBudget(2), WithRetryDelay(time.Second), WithClock(func() time.Time { return now }))
	a := addSym(t, g, "/a.cls", "A", symbols.KindClass)
	g.AddReference(Reference{SourceID: a, TargetName: "Ghost", Type: symbols.RefTypeReference, Location: loc(1, 0)})

	// Not yet due.
	res := g.Tick(now)
	assert.Equal(t, TickResult{Waiting: 1}, res)

	// Attempt 1 and 2 fail and reschedule with backoff.
	res = g.Tick(now.Add(time.Second))
	assert.Equal(t, 0, res.Expired)
	pending := g.DeferredReferences()
	require.Len(t, pending, 1)
	assert.Equal(t, Retrying, pending[0].State)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, time.Second, pending[0].Delay)

	res = g.Tick(now.Add(2 * time.Second))
	assert.Equal(t, 0, res.Expired)
	assert.Equal(t, 2*time.Second, g.DeferredReferences()[0].Delay)

	// Third failure exceeds the budget of 2.
	res = g.Tick(now.Add(time.Hour))
	assert.Equal(t, 1, res.Expired)
	assert.Equal(t, 0, res.Waiting)
	assert.Equal(t, 0, g.Stats().DeferredReferences)
}

func TestDeferred_TickResolvesLateSymbol(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g := New(WithClock(func() time.Time { return now }))
	a := addSym(t, g, "/a.cls", "A", symbols.KindClass)
	g.AddReference(Reference{SourceID: a, TargetName: "run", Type: symbols.RefMethodCall, Location: loc(1, 0)})

	// A class named "run" cannot be a call target: the reference keeps waiting
	// without spending an attempt.
	addSym(t, g, "/b.cls", "run", symbols.KindClass)
	require.Equal(t, 1, g.Stats().DeferredReferences)
	assert.Equal(t, Pending, g.DeferredReferences()[0].State)
	assert.Equal(t, 0, g.DeferredReferences()[0].Attempts)

	// Nothing new under the name: the tick counts a failed attempt.
	g.Tick(now.Add(time.Hour))
	require.Equal(t, 1, g.Stats().DeferredReferences)
	assert.Equal(t, Retrying, g.DeferredReferences()[0].State)

	run := addSym(t, g, "/a.cls", "run", symbols.KindMethod)
	assert.Equal(t, 0, g.Stats().DeferredReferences)
	assert.Len(t, g.FindReferencesTo(run), 1)
}

func TestDeferred_SameNameOtherKindsKeepRetryBudget(t *testing.T) {
	t.Parallel()
	g := New(WithRetryBudget(2))
	a := addSym(t, g, "/a.cls", "A", symbols.KindClass)
	require.Equal(t, Deferred, g.AddReference(Reference{SourceID: a, TargetName: "Account", Type: symbols.RefTypeReference, Location: loc(3, 4)}))

	// Variables are declared under the type's name all the time.
	for i := range 6 {
		addSym(t, g, fmt.Sprintf("/v%d.cls", i), "account", symbols.KindVariable)
	}
	pending := g.DeferredReferences()
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].Attempts)

	account := addSym(t, g, "/account.cls", "Account", symbols.KindClass)
	assert.Equal(t, 0, g.Stats().DeferredReferences)
	to := g.FindReferencesTo(account)
	require.Len(t, to, 1)
	assert.Equal(t, a, to[0].SourceID)
}

// =============================================================================
// Cycles and dependencies
// =============================================================================

func TestDetectCircularDependencies_TwoNodeCycle(t *testing.T) {
	t.Parallel()
	g := New()
	a := addSym(t, g, "/a.cls", "A", symbols.KindClass)
	b := addSym(t, g, "/b.cls", "B", symbols.KindClass)
	g.AddReference(typeRef(a, b, 1))
	g.AddReference(typeRef(b, a, 1))

	cycles := g.DetectCircularDependencies()
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []SymbolID{a, b}, cycles[0])
	assert.Equal(t, 1, g.Stats().CircularDependencies)

	analysis := g.AnalyzeDependencies(a)
	require.NotNil(t, analysis)
	assert.True(t, analysis.Circular)
	assert.ElementsMatch(t, []SymbolID{a, b}, analysis.Cycle)
}

func TestDetectCircularDependencies_ChainIsAcyclic(t *testing.T) {
	t.Parallel()
	g := New()
	a := addSym(t, g, "/a.cls", "A", symbols.KindClass)
	b := addSym(t, g, "/b.cls", "B", symbols.KindClass)
	c := addSym(t, g, "/c.cls", "C", symbols.KindClass)
	g.AddReference(typeRef(a, b, 1))
	g.AddReference(typeRef(b, c, 1))

	cycles := g.DetectCircularDependencies()
	assert.NotNil(t, cycles)
	assert.Empty(t, cycles)
}

func TestDetectCircularDependencies_ReportsEachCycleOnce(t *testing.T) {
	t.Parallel()
	g := New()
	a := addSym(t, g, "/a.cls", "A", symbols.KindClass)
	b := addSym(t, g, "/b.cls", "B", symbols.KindClass)
	c := addSym(t, g, "/c.cls", "C", symbols.KindClass)
	d := addSym(t, g, "/d.cls", "D", symbols.KindClass)
	// A -> B -> C -> A, with D entering the cycle from outside at two points.
	g.AddReference(typeRef(a, b, 1))
	g.AddReference(typeRef(b, c, 1))
	g.AddReference(typeRef(c, a, 1))
	g.AddReference(typeRef(d, a, 1))
	g.AddReference(typeRef(d, c, 2))

	cycles := g.DetectCircularDependencies()
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []SymbolID{a, b, c}, cycles[0])
	assert.Equal(t, a, cycles[0][0])
}

func TestDetectCircularDependencies_SelfLoopAndBehaviouralEdges(t *testing.T) {
	t.Parallel()
	g := New()
	a := addSym(t, g, "/a.cls", "A", symbols.KindClass)
	m := addSym(t, g, "/a.cls", "go", symbols.KindMethod)
	n := addSym(t, g, "/b.cls", "stop", symbols.KindMethod)

	g.AddReference(typeRef(a, a, 1))
	// Mutual method calls are not structural dependencies.
	g.AddReference(Reference{SourceID: m, TargetID: n, Type: symbols.RefMethodCall, Location: loc(2, 0)})
	g.AddReference(Reference{SourceID: n, TargetID: m, Type: symbols.RefMethodCall, Location: loc(3, 0)})

	cycles := g.DetectCircularDependencies()
	require.Len(t, cycles, 1)
	assert.Equal(t, []SymbolID{a}, cycles[0])
}

func TestDetectCircularDependencies_ComponentReportedAsPath(t *testing.T) {
	t.Parallel()
	g := New()
	a := addSym(t, g, "/a.cls", "A", symbols.KindClass)
	b := addSym(t, g, "/b.cls", "B", symbols.KindClass)
	c := addSym(t, g, "/c.cls", "C", symbols.KindClass)
	// A <-> B and B <-> C form one component with no cycle through all three.
	g.AddReference(typeRef(a, b, 1))
	g.AddReference(typeRef(b, a, 1))
	g.AddReference(typeRef(b, c, 2))
	g.AddReference(typeRef(c, b, 1))

	cycles := g.DetectCircularDependencies()
	require.Len(t, cycles, 1)
	cycle := cycles[0]
	assert.Equal(t, a, cycle[0])
	assert.Equal(t, []SymbolID{a, b}, cycle)
	for i, id := range cycle {
		next := cycle[(i+1)%len(cycle)]
		targets := refIDs(g.FindReferencesFrom(id), func(r Reference) SymbolID { return r.TargetID })
		assert.Contains(t, targets, next, "%s should reference %s", id, next)
	}

	analysis := g.AnalyzeDependencies(c)
	require.NotNil(t, analysis)
	assert.True(t, analysis.Circular)
	assert.Equal(t, []SymbolID{c, b}, analysis.Cycle)
}

func TestAnalyzeDependencies_ImpactScoreCountsDependents(t *testing.T) {
	t.Parallel()
	g := New()
	core := addSym(t, g, "/core.cls", "Core", symbols.KindClass)
	a := addSym(t, g, "/a.cls", "A", symbols.KindClass)
	b := addSym(t, g, "/b.cls", "B", symbols.KindClass)
	g.AddReference(typeRef(a, core, 1))
	g.AddReference(typeRef(a, core, 2))
	g.AddReference(typeRef(b, core, 1))
	g.AddReference(typeRef(core, b, 9))

	analysis := g.AnalyzeDependencies(core)
	require.NotNil(t, analysis)
	assert.ElementsMatch(t, []SymbolID{a, b}, analysis.Dependents)
	assert.Equal(t, []SymbolID{b}, analysis.Dependencies)
	assert.Equal(t, 2, analysis.ImpactScore)
}

// =============================================================================
// RemoveFile
// =============================================================================

func TestRemoveFile_Completeness(t *testing.T) {
	t.Parallel()
	g := New()
	foo := addSym(t, g, "/foo.cls", "Foo", symbols.KindClass)
	require.True(t, g.AddSymbol(&Symbol{Name: "bar", Kind: symbols.KindMethod, ParentID: foo, FQN: "foo.bar"}, "/foo.cls"))
	other := addSym(t, g, "/other.cls", "Other", symbols.KindClass)
	g.AddReference(typeRef(foo, other, 1))
	g.AddReference(typeRef(other, foo, 2))
	g.AddReference(Reference{SourceID: foo, TargetName: "Missing", Type: symbols.RefTypeReference, Location: loc(3, 0)})

	removed := g.RemoveFile("/foo.cls")
	assert.Equal(t, 2, removed)

	assert.Empty(t, g.SymbolsInFile("/foo.cls"))
	assert.Empty(t, g.SymbolsByName("Foo"))
	assert.Empty(t, g.SymbolsByName("bar"))
	assert.Empty(t, g.SymbolsByFQN("foo.bar"))
	assert.Nil(t, g.Symbol(foo))
	assert.Empty(t, g.Children(foo))
	assert.Empty(t, g.FindReferencesTo(other))
	assert.Empty(t, g.FindReferencesFrom(other))
	assert.NotContains(t, g.Files(), "/foo.cls")

	for _, d := range g.DeferredReferences() {
		assert.NotEqual(t, foo, d.Ref.SourceID)
	}
	stats := g.Stats()
	assert.Equal(t, 1, stats.TotalSymbols)
	assert.Equal(t, 0, stats.TotalReferences)
}

func TestRemoveFile_ReaddRelinksIncomingReferences(t *testing.T) {
	t.Parallel()
	g := New()
	foo := addSym(t, g, "/foo.cls", "Foo", symbols.KindClass)
	user := addSym(t, g, "/user.cls", "User", symbols.KindClass)
	g.AddReference(typeRef(user, foo, 4))

	g.RemoveFile("/foo.cls")
	assert.Equal(t, 1, g.Stats().DeferredReferences)

	again := addSym(t, g, "/foo.cls", "Foo", symbols.KindClass)
	assert.Equal(t, foo, again)
	assert.Equal(t, 0, g.Stats().DeferredReferences)
	assert.Len(t, g.FindReferencesTo(again), 1)
}

func TestRemoveFile_WithoutRedefer(t *testing.T) {
	t.Parallel()
	g := New(WithRedeferOnRemove(false))
	foo := addSym(t, g, "/foo.cls", "Foo", symbols.KindClass)
	user := addSym(t, g, "/user.cls", "User", symbols.KindClass)
	g.AddReference(typeRef(user, foo, 4))

	g.RemoveFile("/foo.cls")
	assert.Equal(t, 0, g.Stats().DeferredReferences)
	assert.Empty(t, g.FindReferencesFrom(user))
}

func TestRemoveFile_UnknownFileNoop(t *testing.T) {
	t.Parallel()
	g := New()
	addSym(t, g, "/a.cls", "A", symbols.KindClass)
	assert.Equal(t, 0, g.RemoveFile("/nope.cls"))
	assert.Equal(t, 1, g.Stats().TotalSymbols)
}
