package grove

import (
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/jward/grove/internal/stdlib"
	"github.com/jward/grove/internal/symbols"
)

// DocumentURI maps a graph file path to a document URI. Standard library
// paths already carry their own scheme and are returned unchanged.
func DocumentURI(file string) protocol.DocumentURI {
	if stdlib.IsBuiltInPath(file) {
		return protocol.DocumentURI(file)
	}
	return protocol.DocumentURI(uri.File(file))
}

// ProtocolRange converts a range to the protocol's 0-based lines.
// Positions before the first line clamp to zero.
func ProtocolRange(r Range) protocol.Range {
	return protocol.Range{
		Start: protocolPosition(r.Start),
		End:   protocolPosition(r.End),
	}
}

func protocolPosition(p Position) protocol.Position {
	return protocol.Position{
		Line:      uint32(max(p.Line-1, 0)),
		Character: uint32(max(p.Character, 0)),
	}
}

// PositionFromProtocol converts a protocol position to a graph position.
func PositionFromProtocol(p protocol.Position) Position {
	return Position{Line: int(p.Line) + 1, Character: int(p.Character)}
}

// ProtocolLocation returns where s is declared, pointing at its identifier
// when one was recorded.
func ProtocolLocation(s *Symbol) protocol.Location {
	return protocol.Location{
		URI:   DocumentURI(s.FilePath),
		Range: ProtocolRange(s.Location.IdentifierOrSymbol()),
	}
}

// ReferenceLocation returns where a reference is written. The reference
// location is in the file of its source symbol.
func (e *Engine) ReferenceLocation(ref Reference) (protocol.Location, bool) {
	src := e.graph.Symbol(ref.SourceID)
	if src == nil {
		return protocol.Location{}, false
	}
	return protocol.Location{URI: DocumentURI(src.FilePath), Range: ProtocolRange(ref.Location)}, true
}

// ProtocolSymbolKind maps a symbol kind to the protocol's.
func ProtocolSymbolKind(k symbols.Kind) protocol.SymbolKind {
	switch k {
	case symbols.KindClass:
		return protocol.SymbolKindClass
	case symbols.KindInterface:
		return protocol.SymbolKindInterface
	case symbols.KindEnum:
		return protocol.SymbolKindEnum
	case symbols.KindEnumValue:
		return protocol.SymbolKindEnumMember
	case symbols.KindMethod:
		return protocol.SymbolKindMethod
	case symbols.KindConstructor:
		return protocol.SymbolKindConstructor
	case symbols.KindProperty:
		return protocol.SymbolKindProperty
	case symbols.KindField:
		return protocol.SymbolKindField
	case symbols.KindTrigger:
		return protocol.SymbolKindEvent
	}
	return protocol.SymbolKindVariable
}

// DocumentSymbols returns the outline of file: types, triggers and their
// members nested by parent linkage. Blocks and locals are left out.
func (e *Engine) DocumentSymbols(file string) []protocol.DocumentSymbol {
	syms := e.FindSymbolsInFile(file)
	children := make(map[SymbolID][]*Symbol)
	var roots []*Symbol
	for _, s := range syms {
		if !inOutline(s.Kind) {
			continue
		}
		if s.ParentID == "" {
			roots = append(roots, s)
			continue
		}
		children[s.ParentID] = append(children[s.ParentID], s)
	}

	var build func(s *Symbol) protocol.DocumentSymbol
	build = func(s *Symbol) protocol.DocumentSymbol {
		ds := protocol.DocumentSymbol{
			Name:           s.Name,
			Detail:         outlineDetail(s),
			Kind:           ProtocolSymbolKind(s.Kind),
			Range:          ProtocolRange(s.Location.Symbol),
			SelectionRange: ProtocolRange(s.Location.IdentifierOrSymbol()),
		}
		for _, c := range children[s.ID] {
			ds.Children = append(ds.Children, build(c))
		}
		return ds
	}
	out := make([]protocol.DocumentSymbol, 0, len(roots))
	for _, r := range roots {
		out = append(out, build(r))
	}
	return out
}

func inOutline(k symbols.Kind) bool {
	switch k {
	case symbols.KindBlock, symbols.KindVariable, symbols.KindParameter:
		return false
	}
	return true
}

func outlineDetail(s *Symbol) string {
	if m := s.MethodInfo(); m != nil {
		return m.ReturnType
	}
	if v := s.VariableInfo(); v != nil {
		return v.Type
	}
	return ""
}
