package main

import (
	"github.com/jward/grove"
	"github.com/jward/grove/internal/store"
)

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLISymbol is a JSON-friendly symbol representation. Lines are 1-based,
// columns 0-based.
type CLISymbol struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	FQN        string   `json:"fqn,omitempty"`
	Visibility string   `json:"visibility,omitempty"`
	Modifiers  []string `json:"modifiers,omitempty"`
	Parent     string   `json:"parent,omitempty"`
	File       string   `json:"file,omitempty"`
	StartLine  int      `json:"start_line"`
	StartCol   int      `json:"start_col"`
	EndLine    int      `json:"end_line"`
	EndCol     int      `json:"end_col"`
}

// CLIReference is one edge of the reference graph.
type CLIReference struct {
	SourceID   string `json:"source_id"`
	SourceName string `json:"source_name,omitempty"`
	TargetID   string `json:"target_id"`
	TargetName string `json:"target_name"`
	Type       string `json:"type"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line"`
	Col        int    `json:"col"`
}

// CLIDeferred is a reference still waiting for its target.
type CLIDeferred struct {
	SourceID   string `json:"source_id"`
	TargetName string `json:"target_name"`
	Type       string `json:"type"`
	State      string `json:"state"`
	Attempts   int    `json:"attempts"`
	Line       int    `json:"line"`
	Col        int    `json:"col"`
}

// CLIDependencies is the dependency analysis of one symbol with names
// attached.
type CLIDependencies struct {
	Symbol       CLISymbol   `json:"symbol"`
	Dependencies []CLISymbol `json:"dependencies"`
	Dependents   []CLISymbol `json:"dependents"`
	ImpactScore  int         `json:"impact_score"`
	Circular     bool        `json:"circular"`
	Cycle        []string    `json:"cycle,omitempty"`
}

// CLIImpact is the impact analysis of one symbol with names attached.
type CLIImpact struct {
	Symbol         CLISymbol   `json:"symbol"`
	DirectImpact   []CLISymbol `json:"direct_impact"`
	IndirectImpact []CLISymbol `json:"indirect_impact"`
	TotalAffected  int         `json:"total_affected"`
	Risk           string      `json:"risk"`
}

// CLICycle is one circular dependency as symbol names, in cycle order.
type CLICycle struct {
	IDs   []string `json:"ids"`
	Names []string `json:"names"`
}

// CLIIndexResult reports an index run.
type CLIIndexResult struct {
	*grove.IndexResult
	Root     string `json:"root"`
	Database string `json:"database"`
	Elapsed  string `json:"elapsed"`
}

// CLIStats combines engine and snapshot statistics.
type CLIStats struct {
	Root      string      `json:"root,omitempty"`
	IndexedAt string      `json:"indexed_at,omitempty"`
	Database  string      `json:"database"`
	Snapshot  store.Stats `json:"snapshot"`
	Engine    grove.Stats `json:"engine"`
}
