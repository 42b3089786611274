package symbols

// Position is a point in a source file. Lines are 1-based, characters are
// 0-based, matching compiler output.
type Position struct {
	Line      int
	Character int
}

// Before reports whether p comes strictly before q.
func (p Position) Before(q Position) bool {
	if p.Line != q.Line {
		return p.Line < q.Line
	}
	return p.Character < q.Character
}

// Range is a span between two positions, inclusive on both ends.
type Range struct {
	Start Position
	End   Position
}

// IsZero reports whether r was never set.
func (r Range) IsZero() bool {
	return r == Range{}
}

// Valid reports whether r is well-formed: non-negative and not inverted.
func (r Range) Valid() bool {
	if r.Start.Line < 0 || r.Start.Character < 0 || r.End.Line < 0 || r.End.Character < 0 {
		return false
	}
	return !r.End.Before(r.Start)
}

// Contains reports whether p falls inside r.
func (r Range) Contains(p Position) bool {
	if p.Line < r.Start.Line || p.Line > r.End.Line {
		return false
	}
	if p.Line == r.Start.Line && p.Character < r.Start.Character {
		return false
	}
	if p.Line == r.End.Line && p.Character > r.End.Character {
		return false
	}
	return true
}

// LineSpan is the number of lines r crosses beyond its first.
func (r Range) LineSpan() int {
	return r.End.Line - r.Start.Line
}

// Size is the weighted span used to rank candidates: any line difference
// dominates column differences.
func (r Range) Size() int {
	cols := r.End.Character - r.Start.Character
	if cols < 0 {
		cols = -cols
	}
	return r.LineSpan()*100 + cols
}

// Location holds the two spans recorded for a declaration.
type Location struct {
	Symbol     Range // full declaration
	Identifier Range // the name token only
}

// IdentifierOrSymbol returns the identifier span, or the declaration span
// when no identifier span was recorded.
func (l Location) IdentifierOrSymbol() Range {
	if l.Identifier.IsZero() {
		return l.Symbol
	}
	return l.Identifier
}
