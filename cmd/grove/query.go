package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jward/grove"
	"github.com/jward/grove/internal/stdlib"
	"github.com/jward/grove/internal/store"
)

var (
	flagID      string
	flagFQN     bool
	flagFrom    bool
	flagPrecise bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the symbol graph",
	Long:  "Load the snapshot written by 'grove index' and run a query against it. Lines are 1-based and columns 0-based.",
}

func init() {
	queryCmd.PersistentFlags().StringVar(&flagID, "id", "", "symbol ID (overrides positional arguments)")

	symbolCmd.Flags().BoolVar(&flagFQN, "fqn", false, "match fully qualified names instead of simple names")
	atCmd.Flags().BoolVar(&flagPrecise, "precise", false, "reject large enclosing symbols and prefer identifier matches")
	refsCmd.Flags().BoolVar(&flagFrom, "from", false, "list references made by the symbol instead of to it")

	queryCmd.AddCommand(symbolCmd)
	queryCmd.AddCommand(symbolsCmd)
	queryCmd.AddCommand(outlineCmd)
	queryCmd.AddCommand(atCmd)
	queryCmd.AddCommand(refsCmd)
	queryCmd.AddCommand(depsCmd)
	queryCmd.AddCommand(impactCmd)
	queryCmd.AddCommand(cyclesCmd)
	queryCmd.AddCommand(deferredCmd)
	queryCmd.AddCommand(workspaceCmd)
}

// --- Session ---

// session is an engine loaded from the snapshot, plus the workspace root the
// snapshot was indexed from.
type session struct {
	ctx    context.Context
	engine *grove.Engine
	store  *store.Store
	root   string
	dbPath string
}

func (s *session) Close() {
	s.engine.Close()
	s.store.Close()
}

// openSession opens the snapshot from the --db flag path (or default) and
// loads it into a new engine.
func openSession(ctx context.Context) (*session, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting cwd: %w", err)
	}
	repoRoot := findRepoRoot(cwd)
	dbPath := resolveDBPath(repoRoot)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: %s (run 'grove index' first)", dbPath)
	}

	cfg, err := loadConfig(repoRoot)
	if err != nil {
		return nil, err
	}
	st, err := store.NewStore(dbPath)
	if err != nil {
		return nil, err
	}
	engine, err := grove.New(grove.WithConfig(cfg), grove.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	sess := &session{ctx: ctx, engine: engine, store: st, root: repoRoot, dbPath: dbPath}
	if root, ok, err := st.Meta(grove.MetaRoot); err == nil && ok {
		sess.root = root
	}
	if _, err := grove.NewIndexer(engine, st).Load(ctx); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

// relPath converts a file argument to the path the snapshot stores: relative
// to the indexed root. Built-in paths are returned as-is.
func (s *session) relPath(file string) (string, error) {
	if stdlib.IsBuiltInPath(file) {
		return file, nil
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolving file path %q: %w", file, err)
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside the indexed root %s", file, s.root)
	}
	return rel, nil
}

// resolveSymbol resolves a symbol from the --id flag, <file> <line> <col>
// arguments, or a single name argument. A name containing a dot is tried as
// a fully qualified name first.
func (s *session) resolveSymbol(args []string) (*grove.Symbol, error) {
	if flagID != "" {
		sym := s.engine.Graph().Symbol(grove.SymbolID(flagID))
		if sym == nil {
			return nil, fmt.Errorf("no symbol with id %q", flagID)
		}
		return sym, nil
	}

	switch len(args) {
	case 1:
		name := args[0]
		if strings.Contains(name, ".") {
			if sym := s.engine.FindSymbolByFQN(name); sym != nil {
				return sym, nil
			}
		}
		if sym := s.engine.FindSymbolByName(name); sym != nil {
			return sym, nil
		}
		return nil, fmt.Errorf("no symbol named %q", name)
	case 3:
		file, pos, err := s.position(args)
		if err != nil {
			return nil, err
		}
		sym := s.engine.GetSymbolAtPosition(file, pos)
		if sym == nil {
			return nil, fmt.Errorf("no symbol found at %s:%d:%d", file, pos.Line, pos.Character)
		}
		return sym, nil
	}
	return nil, fmt.Errorf("requires a <name>, <file> <line> <col> arguments, or the --id flag")
}

func (s *session) position(args []string) (string, grove.Position, error) {
	file, err := s.relPath(args[0])
	if err != nil {
		return "", grove.Position{}, err
	}
	line, err := parseIntArg(args[1], "line")
	if err != nil {
		return "", grove.Position{}, err
	}
	if line < 1 {
		return "", grove.Position{}, fmt.Errorf("invalid line %q: lines start at 1", args[1])
	}
	col, err := parseIntArg(args[2], "col")
	if err != nil {
		return "", grove.Position{}, err
	}
	return file, grove.Position{Line: line, Character: col}, nil
}

// --- Helpers ---

// parseIntArg parses a positional argument as an integer with a clear error.
func parseIntArg(value, name string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", name, value)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be non-negative", name, value)
	}
	return n, nil
}

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(os.Stdout, result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

// runSession wraps a query body with session setup and error output.
func runSession(command string, fn func(s *session, args []string) (any, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(cmd.Context())
		if err != nil {
			return outputError(command, err)
		}
		defer sess.Close()
		results, err := fn(sess, args)
		if err != nil {
			return outputError(command, err)
		}
		return outputResult(CLIResult{Command: command, Results: results})
	}
}

// --- Conversions ---

func symbolToCLI(s *grove.Symbol) CLISymbol {
	r := s.Location.Symbol
	return CLISymbol{
		ID:         string(s.ID),
		Name:       s.Name,
		Kind:       string(s.Kind),
		FQN:        s.FQN,
		Visibility: string(s.Modifiers.Visibility),
		Modifiers:  s.Modifiers.Flags(),
		Parent:     string(s.ParentID),
		File:       s.FilePath,
		StartLine:  r.Start.Line,
		StartCol:   r.Start.Character,
		EndLine:    r.End.Line,
		EndCol:     r.End.Character,
	}
}

func symbolsToCLI(syms []*grove.Symbol) []CLISymbol {
	out := make([]CLISymbol, 0, len(syms))
	for _, s := range syms {
		out = append(out, symbolToCLI(s))
	}
	return out
}

// idsToCLI looks up each ID. IDs no longer in the graph are kept with only
// the ID set.
func (s *session) idsToCLI(ids []grove.SymbolID) []CLISymbol {
	out := make([]CLISymbol, 0, len(ids))
	for _, id := range ids {
		if sym := s.engine.Graph().Symbol(id); sym != nil {
			out = append(out, symbolToCLI(sym))
			continue
		}
		out = append(out, CLISymbol{ID: string(id)})
	}
	return out
}

func (s *session) referencesToCLI(refs []grove.Reference) []CLIReference {
	out := make([]CLIReference, 0, len(refs))
	for _, r := range refs {
		cr := CLIReference{
			SourceID:   string(r.SourceID),
			TargetID:   string(r.TargetID),
			TargetName: r.TargetName,
			Type:       string(r.Type),
			Line:       r.Location.Start.Line,
			Col:        r.Location.Start.Character,
		}
		if src := s.engine.Graph().Symbol(r.SourceID); src != nil {
			cr.SourceName = src.Name
			cr.File = src.FilePath
		}
		out = append(out, cr)
	}
	return out
}

// --- Commands ---

var symbolCmd = &cobra.Command{
	Use:   "symbol <name>",
	Short: "Find symbols by name",
	Args:  cobra.ExactArgs(1),
	RunE: runSession("symbol", func(s *session, args []string) (any, error) {
		if flagFQN {
			return symbolsToCLI(s.engine.FindSymbolsByFQN(args[0])), nil
		}
		return symbolsToCLI(s.engine.FindSymbolsByName(args[0])), nil
	}),
}

var symbolsCmd = &cobra.Command{
	Use:   "symbols <file>",
	Short: "List the symbols declared in a file",
	Args:  cobra.ExactArgs(1),
	RunE: runSession("symbols", func(s *session, args []string) (any, error) {
		file, err := s.relPath(args[0])
		if err != nil {
			return nil, err
		}
		return symbolsToCLI(s.engine.FindSymbolsInFile(file)), nil
	}),
}

var outlineCmd = &cobra.Command{
	Use:   "outline <file>",
	Short: "Show the document outline of a file",
	Long:  "Show the document outline of a file as language server document symbols. Protocol positions are 0-based.",
	Args:  cobra.ExactArgs(1),
	RunE: runSession("outline", func(s *session, args []string) (any, error) {
		file, err := s.relPath(args[0])
		if err != nil {
			return nil, err
		}
		return s.engine.DocumentSymbols(file), nil
	}),
}

var atCmd = &cobra.Command{
	Use:   "at <file> <line> <col>",
	Short: "Find the symbol at a position",
	Args:  cobra.ExactArgs(3),
	RunE: runSession("at", func(s *session, args []string) (any, error) {
		file, pos, err := s.position(args)
		if err != nil {
			return nil, err
		}
		var sym *grove.Symbol
		if flagPrecise {
			sym = s.engine.GetSymbolAtPositionPrecise(file, pos)
		} else {
			sym = s.engine.GetSymbolAtPosition(file, pos)
		}
		if sym == nil {
			return nil, nil
		}
		return symbolToCLI(sym), nil
	}),
}

var refsCmd = &cobra.Command{
	Use:   "refs [<name> | <file> <line> <col>]",
	Short: "List references to (or from) a symbol",
	Args:  cobra.RangeArgs(0, 3),
	RunE: runSession("refs", func(s *session, args []string) (any, error) {
		sym, err := s.resolveSymbol(args)
		if err != nil {
			return nil, err
		}
		if flagFrom {
			return s.referencesToCLI(s.engine.FindReferencesFrom(sym.ID)), nil
		}
		return s.referencesToCLI(s.engine.FindReferencesTo(sym.ID)), nil
	}),
}

var depsCmd = &cobra.Command{
	Use:   "deps [<name> | <file> <line> <col>]",
	Short: "Show the dependencies and dependents of a symbol",
	Args:  cobra.RangeArgs(0, 3),
	RunE: runSession("deps", func(s *session, args []string) (any, error) {
		sym, err := s.resolveSymbol(args)
		if err != nil {
			return nil, err
		}
		a := s.engine.AnalyzeDependencies(sym.ID)
		if a == nil {
			return nil, fmt.Errorf("no dependency analysis for %s", sym.ID)
		}
		out := CLIDependencies{
			Symbol:       symbolToCLI(sym),
			Dependencies: s.idsToCLI(a.Dependencies),
			Dependents:   s.idsToCLI(a.Dependents),
			ImpactScore:  a.ImpactScore,
			Circular:     a.Circular,
		}
		for _, id := range a.Cycle {
			out.Cycle = append(out.Cycle, string(id))
		}
		return out, nil
	}),
}

var impactCmd = &cobra.Command{
	Use:   "impact [<name> | <file> <line> <col>]",
	Short: "Show what a change to a symbol would affect",
	Args:  cobra.RangeArgs(0, 3),
	RunE: runSession("impact", func(s *session, args []string) (any, error) {
		sym, err := s.resolveSymbol(args)
		if err != nil {
			return nil, err
		}
		a := s.engine.GetImpactAnalysis(sym.ID)
		if a == nil {
			return nil, fmt.Errorf("no impact analysis for %s", sym.ID)
		}
		return CLIImpact{
			Symbol:         symbolToCLI(sym),
			DirectImpact:   s.idsToCLI(a.DirectImpact),
			IndirectImpact: s.idsToCLI(a.IndirectImpact),
			TotalAffected:  a.TotalAffected,
			Risk:           string(a.Risk),
		}, nil
	}),
}

var cyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "List circular type dependencies",
	Args:  cobra.NoArgs,
	RunE: runSession("cycles", func(s *session, _ []string) (any, error) {
		return s.cyclesToCLI(s.engine.DetectCircularDependencies()), nil
	}),
}

func (s *session) cyclesToCLI(cycles [][]grove.SymbolID) []CLICycle {
	out := make([]CLICycle, 0, len(cycles))
	for _, c := range cycles {
		var cc CLICycle
		for _, id := range c {
			cc.IDs = append(cc.IDs, string(id))
			name := string(id)
			if sym := s.engine.Graph().Symbol(id); sym != nil {
				name = sym.Name
			}
			cc.Names = append(cc.Names, name)
		}
		out = append(out, cc)
	}
	return out
}

var deferredCmd = &cobra.Command{
	Use:   "deferred",
	Short: "List references still waiting for their target",
	Args:  cobra.NoArgs,
	RunE: runSession("deferred", func(s *session, _ []string) (any, error) {
		pending := s.engine.DeferredReferences()
		out := make([]CLIDeferred, 0, len(pending))
		for _, d := range pending {
			out = append(out, CLIDeferred{
				SourceID:   string(d.Ref.SourceID),
				TargetName: d.Ref.TargetName,
				Type:       string(d.Ref.Type),
				State:      d.State.String(),
				Attempts:   d.Attempts,
				Line:       d.Ref.Location.Start.Line,
				Col:        d.Ref.Location.Start.Character,
			})
		}
		return out, nil
	}),
}

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Analyze type-level relations across the workspace",
	Args:  cobra.NoArgs,
	RunE: runSession("workspace", func(s *session, _ []string) (any, error) {
		return s.engine.AnalyzeWorkspace(s.ctx)
	}),
}
