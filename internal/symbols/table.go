package symbols

import "strings"

// ContextTag is the compiler's classification of where a reference appears.
type ContextTag string

const (
	ContextMethodCall          ContextTag = "method-call"
	ContextFieldAccess         ContextTag = "field-access"
	ContextClassReference      ContextTag = "class-reference"
	ContextConstructorCall     ContextTag = "constructor-call"
	ContextVariableUsage       ContextTag = "variable-usage"
	ContextParameterType       ContextTag = "parameter-type"
	ContextReturnType          ContextTag = "return-type"
	ContextVariableDeclaration ContextTag = "variable-declaration"
	ContextGenericArgument     ContextTag = "generic-argument"
	ContextCastType            ContextTag = "cast-type"
	ContextExtends             ContextTag = "extends"
	ContextImplements          ContextTag = "implements"
	ContextAnnotation          ContextTag = "annotation"
)

// ReferenceType maps a context tag to the reference type recorded in the
// graph.
func (c ContextTag) ReferenceType() ReferenceType {
	switch c {
	case ContextMethodCall:
		return RefMethodCall
	case ContextFieldAccess:
		return RefFieldAccess
	case ContextConstructorCall:
		return RefConstructorCall
	case ContextVariableUsage:
		return RefVariableUsage
	case ContextParameterType:
		return RefParameterType
	case ContextReturnType:
		return RefReturnType
	case ContextGenericArgument:
		return RefGenericArgument
	case ContextCastType:
		return RefCastType
	case ContextExtends:
		return RefInheritance
	case ContextImplements:
		return RefInterfaceImplementation
	case ContextAnnotation:
		return RefAnnotation
	}
	return RefTypeReference
}

// TypeReference is a reference captured by the compiler, before resolution.
type TypeReference struct {
	Name          string
	Qualifier     string // "" when unqualified
	Context       ContextTag
	Location      Range
	ParentContext string // enclosing method name, if any
	IsStatic      bool
}

// QualifiedName returns "qualifier.name" or just the name.
func (r TypeReference) QualifiedName() string {
	if r.Qualifier == "" {
		return r.Name
	}
	return r.Qualifier + "." + r.Name
}

// SymbolTable is the per-file output of a compiler. Symbol IDs and ParentIDs
// are local to the table until Canonicalize rewrites them.
type SymbolTable struct {
	File       string
	Namespace  string // optional FQN prefix for top-level symbols
	Symbols    []*Symbol
	References []TypeReference
}

// Canonicalize returns copies of the table's symbols with FilePath set,
// FQNs computed from the parent chain, and IDs rewritten to canonical form.
// ParentIDs pointing outside the table are kept as given. The second result
// maps table-local IDs to canonical IDs.
func (t *SymbolTable) Canonicalize() ([]*Symbol, map[SymbolID]SymbolID) {
	byLocal := make(map[SymbolID]*Symbol, len(t.Symbols))
	for _, s := range t.Symbols {
		if s != nil && s.ID != "" {
			byLocal[s.ID] = s
		}
	}

	out := make([]*Symbol, 0, len(t.Symbols))
	remap := make(map[SymbolID]SymbolID, len(t.Symbols))
	for _, s := range t.Symbols {
		if s == nil {
			continue
		}
		c := s.Clone()
		c.FilePath = t.File
		c.FQN = ComputeFQN(s, t.Namespace, func(id SymbolID) *Symbol { return byLocal[id] })
		c.ID = NewID(t.File, c.Kind, c.FQN)
		if s.ID != "" {
			remap[s.ID] = c.ID
		}
		out = append(out, c)
	}
	for _, c := range out {
		if c.ParentID == "" {
			continue
		}
		if id, ok := remap[c.ParentID]; ok {
			c.ParentID = id
		}
	}
	return out, remap
}

// maxScopeDepth bounds parent-chain walks so malformed tables with parent
// cycles terminate.
const maxScopeDepth = 64

// ComputeFQN builds the lower-case dotted name of s from its ancestor chain.
// Blocks take part in the chain under their position-derived names, which
// keeps same-named locals in sibling blocks distinct. namespace, when set,
// prefixes the outermost name.
func ComputeFQN(s *Symbol, namespace string, parent func(SymbolID) *Symbol) string {
	parts := []string{s.Name}
	seen := map[SymbolID]bool{s.ID: true}
	cur := s
	for depth := 0; cur.ParentID != "" && depth < maxScopeDepth; depth++ {
		p := parent(cur.ParentID)
		if p == nil || seen[p.ID] {
			break
		}
		seen[p.ID] = true
		parts = append(parts, p.Name)
		cur = p
	}
	if namespace != "" {
		parts = append(parts, namespace)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.ToLower(strings.Join(parts, "."))
}
