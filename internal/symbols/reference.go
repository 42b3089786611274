package symbols

import "strings"

// ReferenceType tags what kind of use a reference records.
type ReferenceType string

const (
	RefMethodCall              ReferenceType = "method-call"
	RefFieldAccess             ReferenceType = "field-access"
	RefTypeReference           ReferenceType = "type-reference"
	RefConstructorCall         ReferenceType = "constructor-call"
	RefStaticAccess            ReferenceType = "static-access"
	RefImportReference         ReferenceType = "import-reference"
	RefInheritance             ReferenceType = "inheritance"
	RefInterfaceImplementation ReferenceType = "interface-implementation"
	RefParameterType           ReferenceType = "parameter-type"
	RefReturnType              ReferenceType = "return-type"
	RefVariableUsage           ReferenceType = "variable-usage"
	RefGenericArgument         ReferenceType = "generic-argument"
	RefCastType                ReferenceType = "cast-type"
	RefAnnotation              ReferenceType = "annotation-reference"
)

// IsStructural reports whether the reference expresses a type-level
// dependency. Only structural edges take part in cycle detection.
func (t ReferenceType) IsStructural() bool {
	switch t {
	case RefTypeReference, RefInheritance, RefInterfaceImplementation,
		RefImportReference, RefParameterType, RefReturnType,
		RefGenericArgument, RefConstructorCall, RefStaticAccess, RefCastType:
		return true
	}
	return false
}

// Accepts reports whether a symbol of the given kind is a plausible target
// for this reference type.
func (t ReferenceType) Accepts(k Kind) bool {
	switch t {
	case RefMethodCall:
		return k.IsCallable()
	case RefConstructorCall:
		return k == KindClass || k == KindConstructor
	case RefFieldAccess, RefVariableUsage:
		return k.IsValue() || k.IsType()
	case RefStaticAccess:
		return k.IsType() || k.IsCallable() || k.IsValue()
	case RefInheritance:
		return k == KindClass || k == KindInterface
	case RefInterfaceImplementation:
		return k == KindInterface
	case RefTypeReference, RefParameterType, RefReturnType,
		RefGenericArgument, RefCastType, RefImportReference, RefAnnotation:
		return k.IsType()
	}
	return true
}

// RefContext is metadata recorded with a reference.
type RefContext struct {
	MethodName string // containing method, if any
	IsStatic   bool
}

// Reference is a typed use of one symbol by another. TargetID is empty while
// the target is only known by name.
type Reference struct {
	SourceID   SymbolID
	TargetID   SymbolID
	TargetName string
	Type       ReferenceType
	Location   Range
	Context    RefContext
}

// Resolved reports whether the reference points at a concrete symbol.
func (r *Reference) Resolved() bool {
	return r.TargetID != ""
}

// NormalizedTargetName returns the lower-cased target name used for
// deferred-reference matching.
func (r *Reference) NormalizedTargetName() string {
	return strings.ToLower(r.TargetName)
}
