package stdlib

import (
	"sort"
	"strings"

	"github.com/jward/grove/internal/symbols"
)

// DefaultNamespace is implied for unqualified built-in type names.
const DefaultNamespace = "System"

// Scheme prefixes the file path of every built-in symbol.
const Scheme = "builtin://"

var reservedNamespaces = []string{
	"System", "Schema", "Database", "ApexPages", "Messaging", "Auth",
	"ConnectApi", "Approval", "Flow", "Process", "Search", "Dom", "Cache",
	"Canvas", "Site", "Support", "UserProvisioning", "Reports",
	"KbManagement", "Metadata", "QuickAction", "TxnSecurity", "Wave",
	"Functions", "Invocable", "Sfc",
}

var reservedIndex = func() map[string]string {
	m := make(map[string]string, len(reservedNamespaces))
	for _, ns := range reservedNamespaces {
		m[strings.ToLower(ns)] = ns
	}
	return m
}()

// IsReservedNamespace reports whether name is a platform namespace.
func IsReservedNamespace(name string) bool {
	_, ok := reservedIndex[strings.ToLower(name)]
	return ok
}

// ReservedNamespaces returns the platform namespaces, sorted.
func ReservedNamespaces() []string {
	out := append([]string(nil), reservedNamespaces...)
	sort.Strings(out)
	return out
}

// PathFor maps a type name as written in source to a class path. Names
// qualified by a reserved namespace map directly and unqualified names map
// into the default namespace. Every other name has no built-in path. The
// class itself may still be missing; see Loader.HasClass.
func PathFor(typeName string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(typeName), ".")
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return "", false
		}
		return NormalizePath(DefaultNamespace + "/" + parts[0]), true
	case 2:
		if !IsReservedNamespace(parts[0]) || parts[1] == "" {
			return "", false
		}
		return NormalizePath(parts[0] + "/" + parts[1]), true
	}
	return "", false
}

// IsBuiltInPath reports whether file is the path of a built-in unit.
func IsBuiltInPath(file string) bool {
	return strings.HasPrefix(file, Scheme)
}

// primitiveNames are the types that resolve without loading anything.
var primitiveNames = []string{
	"Blob", "Boolean", "Date", "Datetime", "Decimal", "Double", "Id",
	"Integer", "Long", "Object", "SObject", "String", "Time",
}

var primitives = func() map[string]*symbols.Symbol {
	m := make(map[string]*symbols.Symbol, len(primitiveNames))
	for _, name := range primitiveNames {
		fqn := strings.ToLower(DefaultNamespace + "." + name)
		file := Scheme + DefaultNamespace + "/" + name
		m[strings.ToLower(name)] = &symbols.Symbol{
			ID:       symbols.NewID(file, symbols.KindClass, fqn),
			Name:     name,
			Kind:     symbols.KindClass,
			FQN:      fqn,
			FilePath: file,
			Modifiers: symbols.Modifiers{
				Visibility: symbols.VisibilityGlobal,
				BuiltIn:    true,
			},
			Detail: &symbols.TypeDetail{},
		}
	}
	return m
}()

// IsPrimitive reports whether name (optionally System-qualified) is a
// primitive type.
func IsPrimitive(name string) bool {
	return Primitive(name) != nil
}

// Primitive returns a copy of the resident symbol for a primitive type, or
// nil. "String" and "System.String" are equivalent.
func Primitive(name string) *symbols.Symbol {
	lower := strings.ToLower(name)
	if ns, rest, ok := strings.Cut(lower, "."); ok {
		if ns != strings.ToLower(DefaultNamespace) {
			return nil
		}
		lower = rest
	}
	s, ok := primitives[lower]
	if !ok {
		return nil
	}
	return s.Clone()
}

// Primitives returns copies of every primitive type symbol, sorted by name.
func Primitives() []*symbols.Symbol {
	out := make([]*symbols.Symbol, 0, len(primitives))
	for _, name := range primitiveNames {
		out = append(out, primitives[strings.ToLower(name)].Clone())
	}
	return out
}
