package grove

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/jward/grove/internal/stdlib"
	"github.com/jward/grove/internal/symbols"
)

// maxInheritanceDepth bounds superclass walks during member lookup.
const maxInheritanceDepth = 16

// target is the outcome of resolving one captured reference. When symbol is
// nil and deferName is set, the reference waits for a symbol of that name.
type target struct {
	symbol    *Symbol
	deferName string
	deferType symbols.ReferenceType
}

// linkReference turns a captured reference into a graph edge or a deferred
// reference. Returns false when the reference was dropped.
func (e *Engine) linkReference(ctx context.Context, file string, tr symbols.TypeReference) bool {
	source := e.sourceFor(file, tr)
	if source == nil {
		e.logger.Debug("skip reference outside any declaration",
			slog.String("file", file),
			slog.String("name", tr.QualifiedName()))
		return false
	}

	ref := Reference{
		SourceID: source.ID,
		Type:     tr.Context.ReferenceType(),
		Location: tr.Location,
		Context:  symbols.RefContext{MethodName: tr.ParentContext, IsStatic: tr.IsStatic},
	}
	t := e.resolveTarget(ctx, file, tr)
	switch {
	case t.symbol != nil:
		// Primitive types resolve without ever entering the graph.
		if e.graph.Symbol(t.symbol.ID) == nil {
			return false
		}
		ref.TargetID = t.symbol.ID
		ref.TargetName = t.symbol.Name
	case t.deferName != "":
		ref.TargetName = t.deferName
		if t.deferType != "" {
			ref.Type = t.deferType
		}
	default:
		e.logger.Debug("drop unresolvable reference",
			slog.String("file", file),
			slog.String("name", tr.QualifiedName()),
			slog.String("context", string(tr.Context)))
		return false
	}
	return e.graph.AddReference(ref) != 0
}

// sourceFor picks the declaration a reference is recorded from: the
// innermost type, callable, trigger, field or property containing it. A
// reference outside all of them falls back to its enclosing method by name
// and then to the file's first top-level symbol.
func (e *Engine) sourceFor(file string, tr symbols.TypeReference) *Symbol {
	syms := e.graph.SymbolsInFile(file)
	at := tr.Location.Start

	var best *Symbol
	for _, s := range syms {
		if !isOwnerKind(s.Kind) || !s.Location.Symbol.Contains(at) {
			continue
		}
		if best == nil || s.Location.Symbol.Size() < best.Location.Symbol.Size() {
			best = s
		}
	}
	if best != nil {
		return best
	}
	if tr.ParentContext != "" {
		for _, s := range syms {
			if s.Kind.IsCallable() && strings.EqualFold(s.Name, tr.ParentContext) {
				return s
			}
		}
	}
	for _, s := range syms {
		if s.ParentID == "" && s.Kind != symbols.KindBlock {
			return s
		}
	}
	return nil
}

func isOwnerKind(k symbols.Kind) bool {
	switch k {
	case symbols.KindField, symbols.KindProperty, symbols.KindTrigger:
		return true
	}
	return k.IsType() || k.IsCallable()
}

type readOnlyKey struct{}

// readOnly marks ctx as serving a query. Resolution under it never mutates
// the graph: standard library classes that were not ingested yet resolve to
// detached symbols.
func readOnly(ctx context.Context) context.Context {
	return context.WithValue(ctx, readOnlyKey{}, true)
}

func isReadOnly(ctx context.Context) bool {
	v, _ := ctx.Value(readOnlyKey{}).(bool)
	return v
}

// resolveTarget resolves tr as seen from file. Outside a read-only context
// the graph is mutated to ingest standard library classes on first use; the
// caller must then hold writeMu.
func (e *Engine) resolveTarget(ctx context.Context, file string, tr symbols.TypeReference) target {
	typ := tr.Context.ReferenceType()
	at := tr.Location.Start

	if tr.Qualifier == "" {
		if s := e.resolveName(ctx, file, at, tr.Name, typ); s != nil {
			return target{symbol: s}
		}
		// Platform annotations are never declared in source.
		if typ == symbols.RefAnnotation {
			return target{}
		}
		return target{deferName: tr.Name}
	}

	// A qualified built-in type such as Database.SaveResult.
	if typ.Accepts(symbols.KindClass) {
		if s := e.builtinType(ctx, tr.QualifiedName()); s != nil {
			return target{symbol: s}
		}
	}

	container, missing := e.resolveQualifier(ctx, file, at, tr.Qualifier)
	if container == nil {
		if missing == "" {
			return target{}
		}
		return target{deferName: missing, deferType: symbols.RefStaticAccess}
	}
	if m := e.memberOf(ctx, container, tr.Name, typ); m != nil {
		return target{symbol: m}
	}
	if typ == symbols.RefFieldAccess {
		return target{symbol: container}
	}
	return target{}
}

// resolveQualifier resolves a dotted qualifier to the symbol its last
// segment names. When the first segment is unknown it is returned as the
// name to wait for; any other failure returns nil and "".
func (e *Engine) resolveQualifier(ctx context.Context, file string, at Position, qualifier string) (*Symbol, string) {
	segs := strings.Split(qualifier, ".")
	for _, s := range segs {
		if s == "" || strings.ContainsAny(s, "()[]<> ") {
			return nil, ""
		}
	}

	var cur *Symbol
	i := 1
	switch strings.ToLower(segs[0]) {
	case "this":
		cur = e.enclosingType(file, at)
	case "super":
		if t := e.enclosingType(file, at); t != nil {
			cur = e.superType(ctx, t)
		}
	default:
		if len(segs) > 1 && stdlib.IsReservedNamespace(segs[0]) {
			if s := e.builtinType(ctx, segs[0]+"."+segs[1]); s != nil {
				cur, i = s, 2
			}
		}
		if cur == nil {
			cur = e.resolveName(ctx, file, at, segs[0], symbols.RefStaticAccess)
			if cur == nil {
				return nil, segs[0]
			}
		}
	}
	for ; cur != nil && i < len(segs); i++ {
		cur = e.memberOf(ctx, cur, segs[i], symbols.RefStaticAccess)
	}
	return cur, ""
}

// resolveName resolves an unqualified name. Same-file symbols in scope at
// the position win, innermost scope first; then symbols from other files
// visible from file; then, for type positions, the standard library.
func (e *Engine) resolveName(ctx context.Context, file string, at Position, name string, typ symbols.ReferenceType) *Symbol {
	var best, visible *Symbol
	bestScope := math.MaxInt
	for _, s := range e.graph.SymbolsByName(name) {
		if s.Kind == symbols.KindBlock || !typ.Accepts(s.Kind) {
			continue
		}
		if s.FilePath == file {
			if size, ok := e.scopeSize(s, at); ok && (best == nil || size < bestScope) {
				best, bestScope = s, size
			}
			continue
		}
		if visible == nil && !s.Modifiers.BuiltIn && s.IsVisibleFrom(file) {
			visible = s
		}
	}
	if best != nil {
		return best
	}
	if visible != nil {
		return visible
	}
	if typ.Accepts(symbols.KindClass) {
		return e.builtinType(ctx, name)
	}
	return nil
}

// scopeSize reports whether s is in scope at the position and the size of
// its enclosing scope. Top-level symbols are in scope everywhere.
func (e *Engine) scopeSize(s *Symbol, at Position) (int, bool) {
	if s.ParentID == "" {
		return math.MaxInt, true
	}
	parent := e.graph.Symbol(s.ParentID)
	if parent == nil {
		return math.MaxInt, true
	}
	if !parent.Location.Symbol.Contains(at) {
		return 0, false
	}
	return parent.Location.Symbol.Size(), true
}

// enclosingType returns the innermost type declared in file around at.
func (e *Engine) enclosingType(file string, at Position) *Symbol {
	var best *Symbol
	for _, s := range e.graph.SymbolsInFile(file) {
		if !s.Kind.IsType() || !s.Location.Symbol.Contains(at) {
			continue
		}
		if best == nil || s.Location.Symbol.Size() < best.Location.Symbol.Size() {
			best = s
		}
	}
	return best
}

// memberOf finds a member named name of container, following the declared
// type of value and callable containers and walking up superclasses.
func (e *Engine) memberOf(ctx context.Context, container *Symbol, name string, typ symbols.ReferenceType) *Symbol {
	cur := e.memberContainer(ctx, container)
	seen := make(map[SymbolID]bool)
	for depth := 0; cur != nil && depth < maxInheritanceDepth && !seen[cur.ID]; depth++ {
		seen[cur.ID] = true
		if m := e.findMember(cur, name, typ); m != nil {
			return m
		}
		cur = e.superType(ctx, cur)
	}
	return nil
}

// memberContainer maps a variable or method to the type whose members it
// exposes. Types are their own container.
func (e *Engine) memberContainer(ctx context.Context, s *Symbol) *Symbol {
	var typeName string
	switch {
	case s.VariableInfo() != nil:
		typeName = s.VariableInfo().Type
	case s.MethodInfo() != nil:
		typeName = s.MethodInfo().ReturnType
	default:
		return s
	}
	if typeName == "" {
		return nil
	}
	return e.resolveTypeName(ctx, s.FilePath, s.Location.Symbol.Start, typeName)
}

// findMember looks for name among the children of container and falls back
// to a name and kind match within the container's file for symbols with no
// parent linkage.
func (e *Engine) findMember(container *Symbol, name string, typ symbols.ReferenceType) *Symbol {
	children := e.graph.Children(container.ID)
	if len(children) == 0 {
		children = e.detachedChildren(container)
	}
	for _, c := range children {
		if c.Kind != symbols.KindBlock && typ.Accepts(c.Kind) && strings.EqualFold(c.Name, name) {
			return c
		}
	}
	for _, s := range e.graph.SymbolsInFile(container.FilePath) {
		if s.ID == container.ID || s.Kind == symbols.KindBlock || !typ.Accepts(s.Kind) || !strings.EqualFold(s.Name, name) {
			continue
		}
		if s.ParentID == "" || e.graph.Symbol(s.ParentID) == nil {
			return s
		}
	}
	return nil
}

func (e *Engine) superType(ctx context.Context, t *Symbol) *Symbol {
	info := t.TypeInfo()
	if info == nil || info.SuperClass == "" {
		return nil
	}
	return e.resolveTypeName(ctx, t.FilePath, t.Location.Symbol.Start, info.SuperClass)
}

// resolveTypeName resolves a type as written in a declaration. Generic
// arguments and array brackets are ignored.
func (e *Engine) resolveTypeName(ctx context.Context, file string, at Position, name string) *Symbol {
	name = baseTypeName(name)
	if name == "" {
		return nil
	}
	if !strings.Contains(name, ".") {
		return e.resolveName(ctx, file, at, name, symbols.RefTypeReference)
	}
	if s := e.builtinType(ctx, name); s != nil {
		return s
	}
	q, member := name[:strings.LastIndex(name, ".")], name[strings.LastIndex(name, ".")+1:]
	container, _ := e.resolveQualifier(ctx, file, at, q)
	if container == nil {
		return nil
	}
	return e.findMember(container, member, symbols.RefTypeReference)
}

func baseTypeName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, '<'); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(strings.TrimSuffix(name, "[]"))
}

// builtinType resolves a type name against the primitive table and the
// standard library. Names qualified by anything but a reserved namespace
// never resolve here.
func (e *Engine) builtinType(ctx context.Context, name string) *Symbol {
	if p := stdlib.Primitive(name); p != nil {
		return p
	}
	if e.stdlib == nil {
		return nil
	}
	path, ok := stdlib.PathFor(name)
	if !ok || !e.stdlib.HasClass(path) {
		return nil
	}
	if isReadOnly(ctx) {
		return e.peekBuiltin(ctx, path)
	}
	file, err := e.ensureBuiltin(ctx, path)
	if err != nil {
		e.logger.Debug("built-in class unavailable", slog.String("class", path), slog.Any("error", err))
		return nil
	}
	return topLevelType(e.graph.SymbolsInFile(file))
}

func topLevelType(syms []*Symbol) *Symbol {
	for _, s := range syms {
		if s.ParentID == "" && s.Kind.IsType() {
			return s
		}
	}
	return nil
}

// peekBuiltin resolves a standard library class without touching the graph.
// An ingested class comes from the graph; any other is canonicalized once
// and kept aside so its members stay reachable through findMember.
func (e *Engine) peekBuiltin(ctx context.Context, path string) *Symbol {
	e.builtinMu.Lock()
	defer e.builtinMu.Unlock()
	if file, ok := e.builtins[path]; ok {
		return topLevelType(e.graph.SymbolsInFile(file))
	}
	t, err := e.stdlib.LoadClass(ctx, path)
	if err != nil {
		e.logger.Debug("built-in class unavailable", slog.String("class", path), slog.Any("error", err))
		return nil
	}
	syms, ok := e.detached[t.File]
	if !ok {
		syms, _ = t.Canonicalize()
		e.detached[t.File] = syms
	}
	return topLevelType(syms)
}

// detachedChildren returns the members of a built-in type that queries
// resolved without ingesting it.
func (e *Engine) detachedChildren(container *Symbol) []*Symbol {
	if !container.Modifiers.BuiltIn {
		return nil
	}
	e.builtinMu.Lock()
	defer e.builtinMu.Unlock()
	var out []*Symbol
	for _, s := range e.detached[container.FilePath] {
		if s.ParentID == container.ID {
			out = append(out, s)
		}
	}
	return out
}

// ensureBuiltin ingests a standard library class into the graph once and
// returns its file path.
func (e *Engine) ensureBuiltin(ctx context.Context, path string) (string, error) {
	e.builtinMu.Lock()
	defer e.builtinMu.Unlock()
	if file, ok := e.builtins[path]; ok {
		return file, nil
	}
	t, err := e.stdlib.LoadClass(ctx, path)
	if err != nil {
		return "", fmt.Errorf("load %s: %w", path, err)
	}
	syms, _ := t.Canonicalize()
	for _, s := range syms {
		e.graph.AddSymbol(s, t.File)
	}
	e.builtins[path] = t.File
	delete(e.detached, t.File)
	e.invalidate(t.File, namesOf(syms))
	return t.File, nil
}
