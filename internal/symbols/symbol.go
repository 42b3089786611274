// Package symbols defines the data model shared by the graph, the resolution
// engine and every producer of symbol tables: symbols, their locations and
// modifiers, typed references, and the per-file SymbolTable.
package symbols

import (
	"fmt"
	"strings"
)

// Kind identifies what a symbol declares.
type Kind string

const (
	KindClass       Kind = "class"
	KindInterface   Kind = "interface"
	KindEnum        Kind = "enum"
	KindEnumValue   Kind = "enumValue"
	KindMethod      Kind = "method"
	KindConstructor Kind = "constructor"
	KindProperty    Kind = "property"
	KindField       Kind = "field"
	KindVariable    Kind = "variable"
	KindParameter   Kind = "parameter"
	KindTrigger     Kind = "trigger"
	KindBlock       Kind = "block"
)

var allKinds = []Kind{
	KindClass, KindInterface, KindEnum, KindEnumValue, KindMethod,
	KindConstructor, KindProperty, KindField, KindVariable, KindParameter,
	KindTrigger, KindBlock,
}

// ParseKind maps a kind name (case-insensitive) to a Kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range allKinds {
		if strings.EqualFold(string(k), s) {
			return k, true
		}
	}
	return "", false
}

// IsType reports whether the kind declares a type usable in type positions.
func (k Kind) IsType() bool {
	return k == KindClass || k == KindInterface || k == KindEnum
}

// IsCallable reports whether the kind can be the target of a call.
func (k Kind) IsCallable() bool {
	return k == KindMethod || k == KindConstructor
}

// IsValue reports whether the kind holds a value (fields, locals, ...).
func (k Kind) IsValue() bool {
	switch k {
	case KindField, KindProperty, KindVariable, KindParameter, KindEnumValue:
		return true
	}
	return false
}

// Visibility is the declared access level of a symbol.
type Visibility string

const (
	VisibilityDefault   Visibility = ""
	VisibilityPrivate   Visibility = "private"
	VisibilityProtected Visibility = "protected"
	VisibilityPublic    Visibility = "public"
	VisibilityGlobal    Visibility = "global"
)

// Modifiers carries visibility and declaration flags.
type Modifiers struct {
	Visibility Visibility
	Static     bool
	Final      bool
	Abstract   bool
	Virtual    bool
	Override   bool
	Transient  bool
	TestMethod bool
	WebService bool
	BuiltIn    bool
}

// Flags returns the set flags as lower-case names in a fixed order.
func (m Modifiers) Flags() []string {
	var flags []string
	add := func(set bool, name string) {
		if set {
			flags = append(flags, name)
		}
	}
	add(m.Static, "static")
	add(m.Final, "final")
	add(m.Abstract, "abstract")
	add(m.Virtual, "virtual")
	add(m.Override, "override")
	add(m.Transient, "transient")
	add(m.TestMethod, "testmethod")
	add(m.WebService, "webservice")
	add(m.BuiltIn, "builtin")
	return flags
}

// ModifiersFromFlags is the inverse of Flags. Unknown names are ignored.
func ModifiersFromFlags(vis Visibility, flags []string) Modifiers {
	m := Modifiers{Visibility: vis}
	for _, f := range flags {
		switch strings.ToLower(f) {
		case "static":
			m.Static = true
		case "final":
			m.Final = true
		case "abstract":
			m.Abstract = true
		case "virtual":
			m.Virtual = true
		case "override":
			m.Override = true
		case "transient":
			m.Transient = true
		case "testmethod":
			m.TestMethod = true
		case "webservice":
			m.WebService = true
		case "builtin":
			m.BuiltIn = true
		}
	}
	return m
}

// SymbolID identifies a symbol across the workspace.
type SymbolID string

// NewID derives the canonical ID of a symbol from its uniqueness key.
func NewID(file string, kind Kind, fqn string) SymbolID {
	return SymbolID(fmt.Sprintf("%s#%s:%s", file, kind, strings.ToLower(fqn)))
}

// Key is the uniqueness key of a symbol: scope-qualified name, kind, file.
type Key struct {
	Name string
	Kind Kind
	File string
}

// Symbol is a declared program entity.
type Symbol struct {
	ID        SymbolID
	Name      string
	Kind      Kind
	FQN       string // lower-case, dotted, computed from the parent chain
	Location  Location
	ParentID  SymbolID // empty for top-level symbols
	Modifiers Modifiers
	FilePath  string
	Detail    Detail // nil when the kind carries no extra data
}

// Key returns the symbol's uniqueness key. Symbols without an FQN fall back
// to their lower-cased name.
func (s *Symbol) Key() Key {
	name := s.FQN
	if name == "" {
		name = strings.ToLower(s.Name)
	}
	return Key{Name: name, Kind: s.Kind, File: s.FilePath}
}

// IsVisibleFrom reports whether s can be referenced from code in file.
// Built-in, global and public symbols are visible everywhere; everything
// else only inside its declaring file.
func (s *Symbol) IsVisibleFrom(file string) bool {
	if s.Modifiers.BuiltIn {
		return true
	}
	switch s.Modifiers.Visibility {
	case VisibilityGlobal, VisibilityPublic:
		return true
	}
	return s.FilePath == file
}

// Clone returns a shallow copy of s; the Detail value is shared.
func (s *Symbol) Clone() *Symbol {
	c := *s
	return &c
}

func (s *Symbol) String() string {
	return fmt.Sprintf("%s %s (%s)", s.Kind, s.Name, s.ID)
}
