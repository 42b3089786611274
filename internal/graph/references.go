package graph

import (
	"log/slog"
	"strings"

	"github.com/jward/grove/internal/symbols"
)

// Outcome reports what AddReference did with a reference.
type Outcome int

const (
	// Rejected means the source symbol is unknown; nothing changed.
	Rejected Outcome = iota
	// Recorded means a new edge was added.
	Recorded
	// Duplicate means an identical edge or deferred reference already exists.
	Duplicate
	// Deferred means the target is not known yet and the reference waits for it.
	Deferred
)

func (o Outcome) String() string {
	switch o {
	case Recorded:
		return "recorded"
	case Duplicate:
		return "duplicate"
	case Deferred:
		return "deferred"
	}
	return "rejected"
}

// edgeKey is the deduplication key of a recorded reference.
type edgeKey struct {
	source symbols.SymbolID
	target symbols.SymbolID
	typ    symbols.ReferenceType
	loc    symbols.Range
}

func keyOf(ref *Reference) edgeKey {
	return edgeKey{source: ref.SourceID, target: ref.TargetID, typ: ref.Type, loc: ref.Location}
}

// AddReference records ref. When ref.TargetID names a known symbol the edge is
// recorded directly. Otherwise ref.TargetName is matched against known
// symbols whose kind suits the reference type; if none exists the reference
// is deferred until a symbol with that name is added. A reference whose
// source is unknown is rejected.
func (g *Graph) AddReference(ref Reference) Outcome {
	g.mu.Lock()
	defer g.mu.Unlock()

	source, ok := g.symbols[ref.SourceID]
	if !ok {
		g.logger.Warn("reject reference from unknown source",
			slog.String("source", string(ref.SourceID)),
			slog.String("target", targetLabel(&ref)),
			slog.String("type", string(ref.Type)))
		return Rejected
	}

	if ref.TargetID != "" {
		if target, ok := g.symbols[ref.TargetID]; ok {
			if ref.TargetName == "" {
				ref.TargetName = target.Name
			}
			return g.recordEdgeLocked(ref)
		}
		if ref.TargetName == "" {
			g.logger.Warn("reject reference to unknown target id",
				slog.String("source", string(ref.SourceID)),
				slog.String("target", string(ref.TargetID)))
			return Rejected
		}
		ref.TargetID = ""
	}
	if ref.TargetName == "" {
		g.logger.Warn("reject reference without target", slog.String("source", string(ref.SourceID)))
		return Rejected
	}

	if target := g.matchTargetLocked(source, &ref); target != nil {
		ref.TargetID = target.ID
		return g.recordEdgeLocked(ref)
	}
	return g.deferLocked(ref)
}

// matchTargetLocked picks the best known symbol for ref's target name:
// same file first, then the first one visible from the source's file.
// Kinds that cannot be the target of ref.Type are skipped. Deferred replay
// applies the same rule.
func (g *Graph) matchTargetLocked(source *Symbol, ref *Reference) *Symbol {
	var visible *Symbol
	for _, id := range g.byName[strings.ToLower(ref.TargetName)] {
		s := g.symbols[id]
		if s == nil || !ref.Type.Accepts(s.Kind) {
			continue
		}
		if s.FilePath == source.FilePath {
			return s
		}
		if visible == nil && s.IsVisibleFrom(source.FilePath) {
			visible = s
		}
	}
	return visible
}

func (g *Graph) recordEdgeLocked(ref Reference) Outcome {
	key := keyOf(&ref)
	if _, dup := g.edgeKeys[key]; dup {
		g.logger.Debug("skip duplicate reference",
			slog.String("source", string(ref.SourceID)),
			slog.String("target", string(ref.TargetID)),
			slog.String("type", string(ref.Type)))
		return Duplicate
	}
	stored := ref
	g.edgeKeys[key] = struct{}{}
	g.forward[ref.SourceID] = append(g.forward[ref.SourceID], &stored)
	g.backward[ref.TargetID] = append(g.backward[ref.TargetID], &stored)
	return Recorded
}

// FindReferencesTo returns every recorded reference whose target is id.
// Unknown symbols yield an empty result.
func (g *Graph) FindReferencesTo(id SymbolID) []Reference {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return copyRefs(g.backward[id])
}

// FindReferencesFrom returns every recorded reference whose source is id.
func (g *Graph) FindReferencesFrom(id SymbolID) []Reference {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return copyRefs(g.forward[id])
}

func copyRefs(refs []*Reference) []Reference {
	out := make([]Reference, 0, len(refs))
	for _, r := range refs {
		out = append(out, *r)
	}
	return out
}

func targetLabel(ref *Reference) string {
	if ref.TargetID != "" {
		return string(ref.TargetID)
	}
	return ref.TargetName
}
