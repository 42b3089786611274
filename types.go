package grove

import (
	"github.com/jward/grove/internal/cache"
	"github.com/jward/grove/internal/graph"
	"github.com/jward/grove/internal/symbols"
)

// Public type aliases for the internal model types used in the Engine API.
// These are Go type aliases (=), so no conversion is needed.

type Symbol = symbols.Symbol
type SymbolID = symbols.SymbolID
type SymbolTable = symbols.SymbolTable
type Reference = symbols.Reference
type Position = symbols.Position
type Range = symbols.Range
type DependencyAnalysis = graph.DependencyAnalysis
type DeferredReference = graph.DeferredReference

// Risk is the coarse change-risk bucket of an impact analysis.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// ImpactAnalysis lists the symbols affected by a change to one symbol.
// DirectImpact holds dependents one hop away; IndirectImpact holds those
// reached in two or more hops, up to the configured hop limit.
type ImpactAnalysis struct {
	SymbolID       SymbolID   `json:"symbol_id"`
	DirectImpact   []SymbolID `json:"direct_impact"`
	IndirectImpact []SymbolID `json:"indirect_impact"`
	TotalAffected  int        `json:"total_affected"`
	Risk           Risk       `json:"risk"`
}

// Stats is a statistics snapshot for operational reporting.
type Stats struct {
	Graph          graph.Stats `json:"graph"`
	Cache          cache.Stats `json:"cache"`
	BuiltinsLoaded int         `json:"builtins_loaded"`
}
