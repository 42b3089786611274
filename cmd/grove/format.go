package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"go.lsp.dev/protocol"

	"github.com/jward/grove"
)

// formatSymbolsText formats CLISymbol results as aligned columns.
func formatSymbolsText(w io.Writer, syms []CLISymbol) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tVISIBILITY\tFILE\tLINE\tID")
	for _, s := range syms {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			s.Name, s.Kind, s.Visibility, s.File, s.StartLine, s.ID)
	}
	tw.Flush()
}

// formatReferencesText formats references as "file:line:col" lines with the
// source and target names.
func formatReferencesText(w io.Writer, refs []CLIReference) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LOCATION\tSOURCE\tTARGET\tTYPE")
	for _, r := range refs {
		fmt.Fprintf(tw, "%s:%d:%d\t%s\t%s\t%s\n",
			r.File, r.Line, r.Col, r.SourceName, r.TargetName, r.Type)
	}
	tw.Flush()
}

func formatDeferredText(w io.Writer, refs []CLIDeferred) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tTYPE\tSTATE\tATTEMPTS\tSOURCE")
	for _, d := range refs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", d.TargetName, d.Type, d.State, d.Attempts, d.SourceID)
	}
	tw.Flush()
}

func formatNameList(w io.Writer, title string, syms []CLISymbol) {
	fmt.Fprintf(w, "%s (%d):\n", title, len(syms))
	for _, s := range syms {
		if s.Name == "" {
			fmt.Fprintf(w, "  %s\n", s.ID)
			continue
		}
		fmt.Fprintf(w, "  %s (%s) %s:%d\n", s.Name, s.Kind, s.File, s.StartLine)
	}
}

func formatDependenciesText(w io.Writer, d CLIDependencies) {
	fmt.Fprintf(w, "Symbol: %s (%s)\n", d.Symbol.Name, d.Symbol.Kind)
	fmt.Fprintf(w, "Impact score: %d\n", d.ImpactScore)
	if d.Circular {
		fmt.Fprintf(w, "Circular: %s\n", strings.Join(d.Cycle, " -> "))
	}
	fmt.Fprintln(w)
	formatNameList(w, "Dependencies", d.Dependencies)
	formatNameList(w, "Dependents", d.Dependents)
}

func formatImpactText(w io.Writer, a CLIImpact) {
	fmt.Fprintf(w, "Symbol: %s (%s)\n", a.Symbol.Name, a.Symbol.Kind)
	fmt.Fprintf(w, "Risk: %s (%d affected)\n", a.Risk, a.TotalAffected)
	fmt.Fprintln(w)
	formatNameList(w, "Direct", a.DirectImpact)
	formatNameList(w, "Indirect", a.IndirectImpact)
}

func formatCyclesText(w io.Writer, cycles []CLICycle) {
	for _, c := range cycles {
		fmt.Fprintln(w, strings.Join(c.Names, " -> "))
	}
}

// formatOutlineText prints document symbols as an indented tree.
func formatOutlineText(w io.Writer, syms []protocol.DocumentSymbol, depth int) {
	for _, s := range syms {
		fmt.Fprintf(w, "%s%s %s", strings.Repeat("  ", depth), strings.ToLower(s.Kind.String()), s.Name)
		if s.Detail != "" {
			fmt.Fprintf(w, ": %s", s.Detail)
		}
		fmt.Fprintf(w, " [%d]\n", s.Range.Start.Line+1)
		formatOutlineText(w, s.Children, depth+1)
	}
}

func formatWorkspaceText(w io.Writer, a *grove.WorkspaceAnalysis) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tFILE\tDEPENDENCIES\tDEPENDENTS\tIMPACT")
	for _, t := range a.Types {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\n",
			t.Name, t.File, len(t.Dependencies), len(t.Dependents), t.ImpactScore)
	}
	tw.Flush()
	if len(a.Cycles) > 0 {
		fmt.Fprintf(w, "\n%d circular dependencies\n", len(a.Cycles))
	}
}

func formatIndexText(w io.Writer, r CLIIndexResult) {
	fmt.Fprintf(w, "Indexed %s in %s\n", r.Root, r.Elapsed)
	fmt.Fprintf(w, "Files: %d (compiled %d, unchanged %d, removed %d)\n",
		r.Files, r.Compiled, r.Unchanged, r.Removed)
	for _, f := range r.Failed {
		fmt.Fprintf(w, "Failed: %s\n", f)
	}
	fmt.Fprintf(w, "Database: %s\n", r.Database)
}

func formatStatsText(w io.Writer, s CLIStats) {
	fmt.Fprintln(w, "Workspace")
	fmt.Fprintln(w, "=========")
	if s.Root != "" {
		fmt.Fprintf(w, "Root: %s\n", s.Root)
	}
	if s.IndexedAt != "" {
		fmt.Fprintf(w, "Indexed at: %s\n", s.IndexedAt)
	}
	fmt.Fprintf(w, "Database: %s\n", s.Database)
	fmt.Fprintf(w, "Snapshot: %d files, %d symbols, %d references\n",
		s.Snapshot.Files, s.Snapshot.Symbols, s.Snapshot.References)
	fmt.Fprintln(w)

	g := s.Engine.Graph
	fmt.Fprintln(w, "Graph")
	fmt.Fprintln(w, "=====")
	fmt.Fprintf(w, "Symbols: %d\n", g.TotalSymbols)
	fmt.Fprintf(w, "Files: %d\n", g.TotalFiles)
	fmt.Fprintf(w, "References: %d\n", g.TotalReferences)
	fmt.Fprintf(w, "Deferred: %d\n", g.DeferredReferences)
	fmt.Fprintf(w, "Cycles: %d\n", g.CircularDependencies)
	fmt.Fprintf(w, "Built-in classes loaded: %d\n", s.Engine.BuiltinsLoaded)
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case []CLISymbol:
		formatSymbolsText(w, v)
	case CLISymbol:
		formatSymbolsText(w, []CLISymbol{v})
	case []CLIReference:
		formatReferencesText(w, v)
	case []CLIDeferred:
		formatDeferredText(w, v)
	case CLIDependencies:
		formatDependenciesText(w, v)
	case CLIImpact:
		formatImpactText(w, v)
	case []CLICycle:
		formatCyclesText(w, v)
	case []protocol.DocumentSymbol:
		formatOutlineText(w, v, 0)
	case *grove.WorkspaceAnalysis:
		formatWorkspaceText(w, v)
	case CLIIndexResult:
		formatIndexText(w, v)
	case CLIStats:
		formatStatsText(w, v)
	case string:
		fmt.Fprintln(w, v)
	case nil:
		// No output for nil results (e.g., at with no match).
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
