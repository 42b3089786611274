package grove

import (
	"context"
	"log/slog"

	"github.com/jward/grove/internal/symbols"
)

// kindPriority ranks candidates whose spans are within the configured
// tolerance of each other. Lower wins: leaf constructs beat members, and
// members beat types.
func kindPriority(k symbols.Kind) int {
	switch k {
	case symbols.KindParameter:
		return 0
	case symbols.KindVariable:
		return 1
	case symbols.KindField, symbols.KindProperty:
		return 2
	case symbols.KindEnumValue:
		return 3
	case symbols.KindMethod, symbols.KindConstructor:
		return 4
	case symbols.KindTrigger:
		return 5
	case symbols.KindClass, symbols.KindInterface, symbols.KindEnum:
		return 6
	}
	return 7
}

// GetSymbolAtPosition returns the most specific symbol at pos in file: the
// target of a reference written there if it resolves, else the narrowest
// declaration containing pos. Returns nil if nothing covers pos.
func (e *Engine) GetSymbolAtPosition(file string, pos Position) (out *Symbol) {
	defer e.recoverFault("symbol at position", slog.String("file", file), slog.Int("line", pos.Line))
	if file == "" || pos.Line < 1 || pos.Character < 0 {
		return nil
	}
	return cached(e, positionKey("pos", file, pos), categoryPosition, func() *Symbol {
		return e.symbolAt(file, pos, false)
	})
}

// GetSymbolAtPositionPrecise is the variant for hover, definition and
// reference requests. It prefers a declaration whose identifier covers pos
// and ignores large declarations such as class bodies unless pos is on the
// line that declares a type.
func (e *Engine) GetSymbolAtPositionPrecise(file string, pos Position) (out *Symbol) {
	defer e.recoverFault("symbol at position precise", slog.String("file", file), slog.Int("line", pos.Line))
	if file == "" || pos.Line < 1 || pos.Character < 0 {
		return nil
	}
	return cached(e, positionKey("precise", file, pos), categoryPosition, func() *Symbol {
		return e.symbolAt(file, pos, true)
	})
}

func (e *Engine) symbolAt(file string, pos Position, precise bool) *Symbol {
	if tr, ok := e.referenceAt(file, pos); ok {
		if t := e.resolveTarget(readOnly(context.Background()), file, tr); t.symbol != nil {
			return t.symbol
		}
	}

	var candidates []*Symbol
	for _, s := range e.graph.SymbolsInFile(file) {
		if s.Kind != symbols.KindBlock && s.Location.Symbol.Contains(pos) {
			candidates = append(candidates, s)
		}
	}
	if !precise {
		return e.pickBest(file, candidates)
	}

	var exact []*Symbol
	for _, s := range candidates {
		if !s.Location.Identifier.IsZero() && s.Location.Identifier.Contains(pos) {
			exact = append(exact, s)
		}
	}
	if len(exact) > 0 {
		return e.pickBest(file, exact)
	}

	limit := e.cfg.Resolution.OversizedLineSpan
	kept := candidates[:0:0]
	for _, s := range candidates {
		if s.Location.Symbol.LineSpan() > limit && !(s.Kind.IsType() && pos.Line == declaringLine(s)) {
			continue
		}
		kept = append(kept, s)
	}
	return e.pickBest(file, kept)
}

// referenceAt returns the narrowest captured reference in file covering pos.
func (e *Engine) referenceAt(file string, pos Position) (symbols.TypeReference, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var best symbols.TypeReference
	found := false
	for _, tr := range e.refs[file] {
		if !tr.Location.Contains(pos) {
			continue
		}
		if !found || tr.Location.Size() < best.Location.Size() {
			best, found = tr, true
		}
	}
	return best, found
}

func declaringLine(s *Symbol) int {
	if !s.Location.Identifier.IsZero() {
		return s.Location.Identifier.Start.Line
	}
	return s.Location.Symbol.Start.Line
}

func (e *Engine) pickBest(file string, candidates []*Symbol) *Symbol {
	var best *Symbol
	for _, s := range candidates {
		if best == nil || e.better(file, s, best) {
			best = s
		}
	}
	return best
}

// better reports whether a should be chosen over b. The rules apply in
// order: same file, then span size unless the sizes are within
// SpanTolerance, then kind priority, then span size.
func (e *Engine) better(file string, a, b *Symbol) bool {
	if aLocal, bLocal := a.FilePath == file, b.FilePath == file; aLocal != bLocal {
		return aLocal
	}
	as, bs := a.Location.Symbol.Size(), b.Location.Symbol.Size()
	diff := as - bs
	if diff < 0 {
		diff = -diff
	}
	if diff > e.cfg.Resolution.SpanTolerance {
		return as < bs
	}
	if pa, pb := kindPriority(a.Kind), kindPriority(b.Kind); pa != pb {
		return pa < pb
	}
	return as < bs
}
