package grove

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jward/grove/internal/cache"
	"github.com/jward/grove/internal/symbols"
)

// GetImpactAnalysis walks the dependents of id breadth-first up to the
// configured hop limit. Dependents one hop away are direct impact, the rest
// indirect. Returns nil for an unknown symbol.
func (e *Engine) GetImpactAnalysis(id SymbolID) (out *ImpactAnalysis) {
	defer e.recoverFault("impact analysis", slog.String("symbol", string(id)))
	return cached(e, "impact:"+string(id), categoryImpact, func() *ImpactAnalysis {
		return e.impact(id)
	})
}

func (e *Engine) impact(id SymbolID) *ImpactAnalysis {
	if e.graph.Symbol(id) == nil {
		return nil
	}
	maxHops := e.cfg.Resolution.ImpactMaxHops

	type bfsEntry struct {
		id    SymbolID
		depth int
	}
	res := &ImpactAnalysis{SymbolID: id, DirectImpact: []SymbolID{}, IndirectImpact: []SymbolID{}}
	visited := map[SymbolID]bool{id: true}
	queue := []bfsEntry{{id: id}}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxHops {
			continue
		}
		for _, dep := range e.graph.Dependents(cur.id) {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			if cur.depth == 0 {
				res.DirectImpact = append(res.DirectImpact, dep)
			} else {
				res.IndirectImpact = append(res.IndirectImpact, dep)
			}
			queue = append(queue, bfsEntry{id: dep, depth: cur.depth + 1})
		}
	}
	res.TotalAffected = len(res.DirectImpact) + len(res.IndirectImpact)
	res.Risk = e.riskFor(res.TotalAffected)
	return res
}

func (e *Engine) riskFor(total int) Risk {
	switch r := e.cfg.Resolution; {
	case total >= r.ImpactHighThreshold:
		return RiskHigh
	case total >= r.ImpactMediumThreshold:
		return RiskMedium
	}
	return RiskLow
}

// TypeRelations aggregates the references of a type and everything declared
// inside it to the type level.
type TypeRelations struct {
	SymbolID     SymbolID   `json:"symbol_id"`
	Name         string     `json:"name"`
	File         string     `json:"file"`
	Dependencies []SymbolID `json:"dependencies"` // types this type uses
	Dependents   []SymbolID `json:"dependents"`   // types that use this type
	ImpactScore  int        `json:"impact_score"`
}

// WorkspaceAnalysis is the result of AnalyzeWorkspace.
type WorkspaceAnalysis struct {
	Types  []*TypeRelations `json:"types"` // highest impact first
	Cycles [][]SymbolID     `json:"cycles"`
}

// AnalyzeWorkspace computes type-level relations for every workspace type.
// Types are processed in units of Batch.UnitSize with at most Batch.Workers
// running at once; ctx is checked between units.
func (e *Engine) AnalyzeWorkspace(ctx context.Context) (*WorkspaceAnalysis, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	return cache.GetOrCompute(e.cache, "workspace:all", categoryWorkspace, func() (*WorkspaceAnalysis, error) {
		return e.analyzeWorkspace(ctx)
	}, e.setOpts(categoryWorkspace)...)
}

func (e *Engine) analyzeWorkspace(ctx context.Context) (*WorkspaceAnalysis, error) {
	types := e.graph.Select(func(s *Symbol) bool {
		return s.Kind.IsType() && !s.Modifiers.BuiltIn
	})
	ctx, span := e.tracer.Start(ctx, "grove.AnalyzeWorkspace",
		trace.WithAttributes(attribute.Int("types", len(types))))
	defer span.End()

	results := make([]*TypeRelations, len(types))
	unit := e.cfg.Batch.UnitSize
	for start := 0; start < len(types); start += unit {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			return nil, fmt.Errorf("analyze workspace: %w", err)
		}
		end := min(start+unit, len(types))

		g := new(errgroup.Group)
		g.SetLimit(e.cfg.Batch.Workers)
		for i := start; i < end; i++ {
			g.Go(func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						err = fmt.Errorf("analyze %s: internal fault: %v", types[i].ID, r)
					}
				}()
				results[i] = e.typeRelations(types[i])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "analysis failed")
			e.logger.Error("internal fault", slog.String("op", "analyze workspace"), slog.Any("error", err))
			return nil, err
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].ImpactScore != results[j].ImpactScore {
			return results[i].ImpactScore > results[j].ImpactScore
		}
		return results[i].SymbolID < results[j].SymbolID
	})
	cycles := e.graph.DetectCircularDependencies()
	span.SetAttributes(attribute.Int("cycles", len(cycles)))
	return &WorkspaceAnalysis{Types: results, Cycles: cycles}, nil
}

// typeRelations lifts the edges of t and its members to the owning types at
// either end. Edges between t and types nested in it are ignored.
func (e *Engine) typeRelations(t *Symbol) *TypeRelations {
	members := e.descendants(t.ID)
	inside := make(map[SymbolID]bool, len(members))
	for _, id := range members {
		inside[id] = true
	}
	deps := make(map[SymbolID]bool)
	dependents := make(map[SymbolID]bool)
	for _, id := range members {
		for _, r := range e.graph.FindReferencesFrom(id) {
			if owner := e.ownerType(r.TargetID); owner != "" && !inside[owner] {
				deps[owner] = true
			}
		}
		for _, r := range e.graph.FindReferencesTo(id) {
			if owner := e.ownerType(r.SourceID); owner != "" && !inside[owner] {
				dependents[owner] = true
			}
		}
	}
	rel := &TypeRelations{
		SymbolID:     t.ID,
		Name:         t.Name,
		File:         t.FilePath,
		Dependencies: sortedIDs(deps),
		Dependents:   sortedIDs(dependents),
	}
	rel.ImpactScore = len(rel.Dependents)
	return rel
}

// descendants returns id and every symbol nested under it.
func (e *Engine) descendants(id SymbolID) []SymbolID {
	out := []SymbolID{id}
	for i := 0; i < len(out); i++ {
		for _, c := range e.graph.Children(out[i]) {
			out = append(out, c.ID)
		}
	}
	return out
}

// ownerType returns the innermost type or trigger enclosing id, or id
// itself when it is one. Returns "" when the chain has none.
func (e *Engine) ownerType(id SymbolID) SymbolID {
	for depth := 0; id != "" && depth < 64; depth++ {
		s := e.graph.Symbol(id)
		if s == nil {
			break
		}
		if s.Kind.IsType() || s.Kind == symbols.KindTrigger {
			return s.ID
		}
		id = s.ParentID
	}
	return ""
}

func sortedIDs(set map[SymbolID]bool) []SymbolID {
	out := make([]SymbolID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
