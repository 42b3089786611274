// Package compiler turns Apex source into symbols.SymbolTable values: the
// declared symbols of a file, their ranges and modifiers, and every type,
// member and variable reference found in method bodies.
//
// Parsing uses tree-sitter with the Java grammar after a normalization pass
// that rewrites Apex-only syntax in place without moving any byte.
package compiler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/grove/internal/symbols"
)

// Compile parses src and returns the symbol table for file. Syntax errors do
// not fail compilation; whatever the parser recovered is returned. Symbol IDs
// in the result are local to the table.
func Compile(ctx context.Context, file string, src []byte) (*symbols.SymbolTable, error) {
	norm := normalize(src)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(apexGrammar())

	tree, err := parser.ParseCtx(ctx, nil, norm.src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	defer tree.Close()

	w := &walker{
		src:      norm.src,
		original: src,
		norm:     norm,
		table:    &symbols.SymbolTable{File: file},
	}
	w.walkChildren(tree.RootNode(), scope{})
	return w.table, nil
}

// scope is the declaration context a node is visited in.
type scope struct {
	parent   symbols.SymbolID
	method   string // enclosing method name, "" outside methods
	typeName string // enclosing type name
}

type walker struct {
	src      []byte // normalized source
	original []byte
	norm     *normalized
	table    *symbols.SymbolTable
	nextID   int
}

func (w *walker) newID() symbols.SymbolID {
	w.nextID++
	return symbols.SymbolID(strconv.Itoa(w.nextID))
}

func (w *walker) text(n *sitter.Node) string {
	return n.Content(w.src)
}

func (w *walker) addSymbol(s *symbols.Symbol) *symbols.Symbol {
	s.ID = w.newID()
	s.FilePath = w.table.File
	w.table.Symbols = append(w.table.Symbols, s)
	return s
}

func (w *walker) addRef(ref symbols.TypeReference) {
	if ref.Name == "" {
		return
	}
	w.table.References = append(w.table.References, ref)
}

func (w *walker) walkChildren(n *sitter.Node, sc scope) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.walk(n.NamedChild(i), sc)
	}
}

func (w *walker) walk(n *sitter.Node, sc scope) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "class_declaration":
		if w.norm.trigger != nil && sc.parent == "" {
			w.triggerDecl(n)
			return
		}
		w.typeDecl(n, sc, symbols.KindClass)
	case "interface_declaration":
		w.typeDecl(n, sc, symbols.KindInterface)
	case "enum_declaration":
		w.enumDecl(n, sc)
	case "method_declaration":
		w.methodDecl(n, sc, false)
	case "constructor_declaration":
		w.methodDecl(n, sc, true)
	case "field_declaration", "constant_declaration":
		w.variableDecl(n, sc, symbols.KindField)
	case "local_variable_declaration":
		w.variableDecl(n, sc, symbols.KindVariable)
	case "block":
		w.blockScope(n, sc, n)
	case "for_statement", "enhanced_for_statement":
		w.loop(n, sc)
	case "catch_clause":
		w.catchClause(n, sc)
	case "method_invocation":
		w.invocation(n, sc)
	case "field_access":
		w.fieldAccess(n, sc)
	case "object_creation_expression":
		w.typeRefs(n.ChildByFieldName("type"), symbols.ContextConstructorCall, sc)
		w.walk(n.ChildByFieldName("arguments"), sc)
		w.walk(n.ChildByFieldName("body"), sc)
	case "cast_expression":
		w.typeRefs(n.ChildByFieldName("type"), symbols.ContextCastType, sc)
		w.walk(n.ChildByFieldName("value"), sc)
	case "instanceof_expression":
		w.walk(n.ChildByFieldName("left"), sc)
		w.typeRefs(n.ChildByFieldName("right"), symbols.ContextClassReference, sc)
	case "identifier":
		w.identifier(n, sc)
	case "modifiers", "marker_annotation", "annotation", "line_comment", "block_comment":
	default:
		w.walkChildren(n, sc)
	}
}

// =============================================================================
// Declarations
// =============================================================================

func (w *walker) typeDecl(n *sitter.Node, sc scope, kind symbols.Kind) {
	name := n.ChildByFieldName("name")
	if name == nil {
		return
	}
	detail := &symbols.TypeDetail{}
	sym := w.addSymbol(&symbols.Symbol{
		Name:      w.text(name),
		Kind:      kind,
		Location:  w.location(n, name),
		ParentID:  sc.parent,
		Modifiers: w.modifiers(n, name),
		Detail:    detail,
	})
	inner := scope{parent: sym.ID, typeName: sym.Name}

	if sup := n.ChildByFieldName("superclass"); sup != nil && sup.NamedChildCount() > 0 {
		t := sup.NamedChild(0)
		detail.SuperClass = compact(w.text(t))
		w.typeRefs(t, symbols.ContextExtends, inner)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "super_interfaces":
			for _, t := range typeList(c) {
				detail.Interfaces = append(detail.Interfaces, compact(w.text(t)))
				w.typeRefs(t, symbols.ContextImplements, inner)
			}
		case "extends_interfaces":
			// Interfaces extending interfaces inherit from them.
			for _, t := range typeList(c) {
				detail.Interfaces = append(detail.Interfaces, compact(w.text(t)))
				w.typeRefs(t, symbols.ContextExtends, inner)
			}
		}
	}
	w.annotationRefs(n, inner)
	w.walk(n.ChildByFieldName("body"), inner)
}

func (w *walker) enumDecl(n *sitter.Node, sc scope) {
	name := n.ChildByFieldName("name")
	if name == nil {
		return
	}
	detail := &symbols.EnumDetail{}
	sym := w.addSymbol(&symbols.Symbol{
		Name:      w.text(name),
		Kind:      symbols.KindEnum,
		Location:  w.location(n, name),
		ParentID:  sc.parent,
		Modifiers: w.modifiers(n, name),
		Detail:    detail,
	})
	inner := scope{parent: sym.ID, typeName: sym.Name}

	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		c := body.NamedChild(i)
		if c.Type() != "enum_constant" {
			w.walk(c, inner)
			continue
		}
		cname := c.ChildByFieldName("name")
		if cname == nil {
			continue
		}
		value := w.text(cname)
		detail.Values = append(detail.Values, value)
		w.addSymbol(&symbols.Symbol{
			Name:      value,
			Kind:      symbols.KindEnumValue,
			Location:  w.location(c, cname),
			ParentID:  sym.ID,
			Modifiers: symbols.Modifiers{Visibility: sym.Modifiers.Visibility, Static: true},
			Detail:    &symbols.VariableDetail{Type: sym.Name},
		})
	}
}

func (w *walker) triggerDecl(n *sitter.Node) {
	th := w.norm.trigger
	body := n.ChildByFieldName("body")
	sym := w.addSymbol(&symbols.Symbol{
		Name: th.name,
		Kind: symbols.KindTrigger,
		Location: symbols.Location{
			Symbol:     w.clampRange(nodeRange(n)),
			Identifier: symbols.Range{Start: w.pointAt(th.nameStart), End: w.pointAt(th.nameEnd)},
		},
		Modifiers: symbols.Modifiers{Visibility: symbols.VisibilityPublic},
		Detail:    &symbols.TriggerDetail{SObject: th.sobject, Events: th.events},
	})
	w.addRef(symbols.TypeReference{
		Name:     th.sobject,
		Context:  symbols.ContextClassReference,
		Location: symbols.Range{Start: w.pointAt(th.sobjectStart), End: w.pointAt(th.sobjectEnd)},
	})
	if body == nil {
		return
	}
	inner := scope{parent: sym.ID, method: th.name, typeName: th.name}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		c := body.NamedChild(i)
		if c.Type() == "method_declaration" && w.isSyntheticTriggerMethod(c) {
			if b := c.ChildByFieldName("body"); b != nil {
				w.walkChildren(b, inner)
			}
			continue
		}
		w.walk(c, inner)
	}
}

func (w *walker) isSyntheticTriggerMethod(n *sitter.Node) bool {
	name := n.ChildByFieldName("name")
	th := w.norm.trigger
	return name != nil && int(name.StartByte()) >= th.start && int(name.EndByte()) <= th.end
}

func (w *walker) methodDecl(n *sitter.Node, sc scope, constructor bool) {
	name := n.ChildByFieldName("name")
	if name == nil {
		return
	}
	kind := symbols.KindMethod
	detail := &symbols.MethodDetail{Constructor: constructor}
	if constructor {
		kind = symbols.KindConstructor
	} else if t := n.ChildByFieldName("type"); t != nil {
		detail.ReturnType = compact(w.text(t))
	}
	sym := w.addSymbol(&symbols.Symbol{
		Name:      w.text(name),
		Kind:      kind,
		Location:  w.location(n, name),
		ParentID:  sc.parent,
		Modifiers: w.modifiers(n, name),
		Detail:    detail,
	})
	inner := scope{parent: sym.ID, method: sym.Name, typeName: sc.typeName}

	if !constructor {
		w.typeRefs(n.ChildByFieldName("type"), symbols.ContextReturnType, inner)
	}
	if params := n.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			p := params.NamedChild(i)
			if p.Type() != "formal_parameter" && p.Type() != "spread_parameter" {
				continue
			}
			t, pname := p.ChildByFieldName("type"), p.ChildByFieldName("name")
			if t == nil {
				t = firstNamedOfType(p, "type_identifier", "generic_type", "scoped_type_identifier", "array_type")
			}
			typeName := ""
			if t != nil {
				typeName = compact(w.text(t))
			}
			detail.ParameterTypes = append(detail.ParameterTypes, typeName)
			if pname == nil {
				continue
			}
			w.addSymbol(&symbols.Symbol{
				Name:      w.text(pname),
				Kind:      symbols.KindParameter,
				Location:  w.location(p, pname),
				ParentID:  sym.ID,
				Modifiers: w.modifiers(p, pname),
				Detail:    &symbols.VariableDetail{Type: typeName},
			})
			w.typeRefs(t, symbols.ContextParameterType, inner)
		}
	}
	w.annotationRefs(n, inner)
	if body := n.ChildByFieldName("body"); body != nil {
		// The body block is the method's own scope.
		w.walkChildren(body, inner)
	}
}

func (w *walker) variableDecl(n *sitter.Node, sc scope, kind symbols.Kind) {
	t := n.ChildByFieldName("type")
	typeName := ""
	if t != nil {
		typeName = compact(w.text(t))
	}
	w.typeRefs(t, symbols.ContextVariableDeclaration, sc)
	if kind == symbols.KindField && w.isProperty(n) {
		kind = symbols.KindProperty
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		d := n.NamedChild(i)
		if d.Type() != "variable_declarator" {
			continue
		}
		name := d.ChildByFieldName("name")
		if name == nil {
			continue
		}
		loc := w.location(n, name)
		if kind == symbols.KindVariable {
			// Locals span from their declarator, not the whole statement.
			loc = w.location(d, name)
		}
		w.addSymbol(&symbols.Symbol{
			Name:      w.text(name),
			Kind:      kind,
			Location:  loc,
			ParentID:  sc.parent,
			Modifiers: w.modifiers(n, name),
			Detail:    &symbols.VariableDetail{Type: typeName},
		})
		w.walk(d.ChildByFieldName("value"), sc)
	}
	w.annotationRefs(n, sc)
}

// isProperty reports whether a field declaration ended in a rewritten
// accessor block.
func (w *walker) isProperty(n *sitter.Node) bool {
	for i := int(n.ChildCount()) - 1; i >= 0; i-- {
		c := n.Child(i)
		if c.Type() == ";" {
			return w.norm.properties[int(c.StartByte())]
		}
	}
	return false
}

// =============================================================================
// Scopes
// =============================================================================

func (w *walker) blockScope(n *sitter.Node, sc scope, body *sitter.Node) scope {
	start := n.StartPoint()
	sym := w.addSymbol(&symbols.Symbol{
		Name:     fmt.Sprintf("block_%d_%d", start.Row+1, start.Column),
		Kind:     symbols.KindBlock,
		Location: symbols.Location{Symbol: nodeRange(n)},
		ParentID: sc.parent,
	})
	inner := sc
	inner.parent = sym.ID
	if body != nil {
		w.walkChildren(body, inner)
	}
	return inner
}

func (w *walker) loop(n *sitter.Node, sc scope) {
	inner := w.blockScope(n, sc, nil)
	if n.Type() == "enhanced_for_statement" {
		t, name := n.ChildByFieldName("type"), n.ChildByFieldName("name")
		if name != nil {
			typeName := ""
			if t != nil {
				typeName = compact(w.text(t))
			}
			w.addSymbol(&symbols.Symbol{
				Name:     w.text(name),
				Kind:     symbols.KindVariable,
				Location: symbols.Location{Symbol: nodeRange(name), Identifier: nodeRange(name)},
				ParentID: inner.parent,
				Detail:   &symbols.VariableDetail{Type: typeName},
			})
		}
		w.typeRefs(t, symbols.ContextVariableDeclaration, inner)
		w.walk(n.ChildByFieldName("value"), inner)
	} else {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.Type() != "block" {
				w.walk(c, inner)
			}
		}
	}
	if body := n.ChildByFieldName("body"); body != nil {
		if body.Type() == "block" {
			w.walkChildren(body, inner)
		} else if n.Type() == "enhanced_for_statement" {
			w.walk(body, inner)
		}
	}
}

func (w *walker) catchClause(n *sitter.Node, sc scope) {
	inner := w.blockScope(n, sc, nil)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "catch_formal_parameter":
			name := c.ChildByFieldName("name")
			ct := firstNamedOfType(c, "catch_type")
			typeName := ""
			var t *sitter.Node
			if ct != nil && ct.NamedChildCount() > 0 {
				t = ct.NamedChild(0)
				typeName = compact(w.text(t))
			}
			if name != nil {
				w.addSymbol(&symbols.Symbol{
					Name:     w.text(name),
					Kind:     symbols.KindVariable,
					Location: w.location(c, name),
					ParentID: inner.parent,
					Detail:   &symbols.VariableDetail{Type: typeName},
				})
			}
			w.typeRefs(t, symbols.ContextVariableDeclaration, inner)
		case "block":
			w.walkChildren(c, inner)
		}
	}
}

// =============================================================================
// References
// =============================================================================

func (w *walker) invocation(n *sitter.Node, sc scope) {
	obj := n.ChildByFieldName("object")
	if name := n.ChildByFieldName("name"); name != nil {
		ref := symbols.TypeReference{
			Name:          w.text(name),
			Context:       symbols.ContextMethodCall,
			Location:      nodeRange(name),
			ParentContext: sc.method,
		}
		if obj != nil {
			ref.Qualifier = compact(w.text(obj))
		}
		w.addRef(ref)
	}
	if obj != nil {
		w.walk(obj, sc)
	}
	w.walk(n.ChildByFieldName("arguments"), sc)
}

func (w *walker) fieldAccess(n *sitter.Node, sc scope) {
	obj := n.ChildByFieldName("object")
	if field := n.ChildByFieldName("field"); field != nil && field.Type() == "identifier" {
		ref := symbols.TypeReference{
			Name:          w.text(field),
			Context:       symbols.ContextFieldAccess,
			Location:      nodeRange(field),
			ParentContext: sc.method,
		}
		if obj != nil {
			ref.Qualifier = compact(w.text(obj))
		}
		w.addRef(ref)
	}
	w.walk(obj, sc)
}

// identifier records a plain identifier in expression position as a
// variable usage. Declaration names and member names are recorded elsewhere.
func (w *walker) identifier(n *sitter.Node, sc scope) {
	if p := n.Parent(); p != nil {
		if isField(p, "name", n) || isField(p, "field", n) || isField(p, "key", n) {
			return
		}
		switch p.Type() {
		case "scoped_identifier", "labeled_statement", "break_statement", "continue_statement":
			return
		}
	}
	w.addRef(symbols.TypeReference{
		Name:          w.text(n),
		Context:       symbols.ContextVariableUsage,
		Location:      nodeRange(n),
		ParentContext: sc.method,
	})
}

// typeRefs records the type names in a type node under ctx. Type arguments
// are recorded as generic arguments.
func (w *walker) typeRefs(n *sitter.Node, ctx symbols.ContextTag, sc scope) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "type_identifier":
		w.addRef(symbols.TypeReference{
			Name:          w.text(n),
			Context:       ctx,
			Location:      nodeRange(n),
			ParentContext: sc.method,
		})
	case "scoped_type_identifier":
		full := compact(w.text(n))
		qual, name := splitQualified(full)
		loc := nodeRange(n)
		if last := n.NamedChild(int(n.NamedChildCount()) - 1); last != nil && last.Type() == "type_identifier" {
			loc = nodeRange(last)
		}
		w.addRef(symbols.TypeReference{
			Name:          name,
			Qualifier:     qual,
			Context:       ctx,
			Location:      loc,
			ParentContext: sc.method,
		})
	case "generic_type":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			if c.Type() == "type_arguments" {
				for j := 0; j < int(c.NamedChildCount()); j++ {
					w.typeRefs(c.NamedChild(j), symbols.ContextGenericArgument, sc)
				}
				continue
			}
			w.typeRefs(c, ctx, sc)
		}
	case "array_type":
		w.typeRefs(n.ChildByFieldName("element"), ctx, sc)
	}
}

// annotationRefs records annotations on a declaration.
func (w *walker) annotationRefs(n *sitter.Node, sc scope) {
	mods := firstNamedOfType(n, "modifiers")
	if mods == nil {
		return
	}
	for i := 0; i < int(mods.NamedChildCount()); i++ {
		a := mods.NamedChild(i)
		if a.Type() != "marker_annotation" && a.Type() != "annotation" {
			continue
		}
		if name := a.ChildByFieldName("name"); name != nil {
			w.addRef(symbols.TypeReference{
				Name:          w.text(name),
				Context:       symbols.ContextAnnotation,
				Location:      nodeRange(name),
				ParentContext: sc.method,
			})
		}
	}
}

// =============================================================================
// Modifiers and positions
// =============================================================================

// modifiers collects keyword modifiers and annotations on decl, plus the
// Apex-only modifiers blanked by normalization between the start of the
// declaration's first line and its name.
func (w *walker) modifiers(decl, name *sitter.Node) symbols.Modifiers {
	var m symbols.Modifiers
	if mods := firstNamedOfType(decl, "modifiers"); mods != nil {
		for i := 0; i < int(mods.ChildCount()); i++ {
			c := mods.Child(i)
			switch c.Type() {
			case "public":
				m.Visibility = symbols.VisibilityPublic
			case "private":
				m.Visibility = symbols.VisibilityPrivate
			case "protected":
				m.Visibility = symbols.VisibilityProtected
			case "static":
				m.Static = true
			case "final":
				m.Final = true
			case "abstract":
				m.Abstract = true
			case "transient":
				m.Transient = true
			case "marker_annotation", "annotation":
				if an := c.ChildByFieldName("name"); an != nil && strings.EqualFold(w.text(an), "istest") {
					m.TestMethod = true
				}
			}
		}
	}
	from := lineStart(w.src, int(decl.StartByte()))
	for _, mk := range w.norm.markersIn(from, int(name.StartByte())) {
		switch mk.kind {
		case markerGlobal:
			m.Visibility = symbols.VisibilityGlobal
		case markerVirtual:
			m.Virtual = true
		case markerOverride:
			m.Override = true
		case markerTestMethod:
			m.TestMethod = true
		case markerWebService:
			m.WebService = true
		}
	}
	return m
}

func (w *walker) location(decl, name *sitter.Node) symbols.Location {
	return symbols.Location{Symbol: nodeRange(decl), Identifier: nodeRange(name)}
}

// pointAt converts a byte offset of the original source to a position.
func (w *walker) pointAt(offset int) symbols.Position {
	line, col := 1, 0
	for i := 0; i < offset && i < len(w.original); i++ {
		if w.original[i] == '\n' {
			line++
			col = 0
			continue
		}
		col++
	}
	return symbols.Position{Line: line, Character: col}
}

// clampRange keeps r inside the original source; the trigger rewrite
// appends a closing brace past its end.
func (w *walker) clampRange(r symbols.Range) symbols.Range {
	last := w.pointAt(len(w.original))
	if last.Before(r.End) {
		r.End = last
	}
	return r
}

func nodeRange(n *sitter.Node) symbols.Range {
	sp, ep := n.StartPoint(), n.EndPoint()
	return symbols.Range{
		Start: symbols.Position{Line: int(sp.Row) + 1, Character: int(sp.Column)},
		End:   symbols.Position{Line: int(ep.Row) + 1, Character: int(ep.Column)},
	}
}

func isField(parent *sitter.Node, field string, n *sitter.Node) bool {
	f := parent.ChildByFieldName(field)
	return f != nil && f.StartByte() == n.StartByte() && f.EndByte() == n.EndByte()
}

func firstNamedOfType(n *sitter.Node, types ...string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		for _, t := range types {
			if c.Type() == t {
				return c
			}
		}
	}
	return nil
}

// typeList returns the types listed under a super_interfaces or
// extends_interfaces node.
func typeList(n *sitter.Node) []*sitter.Node {
	list := firstNamedOfType(n, "type_list")
	if list == nil {
		list = n
	}
	var out []*sitter.Node
	for i := 0; i < int(list.NamedChildCount()); i++ {
		out = append(out, list.NamedChild(i))
	}
	return out
}

func lineStart(src []byte, offset int) int {
	for offset > 0 && src[offset-1] != '\n' {
		offset--
	}
	return offset
}

func splitQualified(s string) (qualifier, name string) {
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[:i], s[i+1:]
	}
	return "", s
}

// compact removes whitespace from a type or expression text.
func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}
