package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/grove"
	"github.com/jward/grove/internal/store"
)

var (
	flagForce   bool
	flagWorkers int
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index an Apex workspace",
	Long:  "Compiles changed .cls, .trigger and .apex files, links their references, and writes the symbol tables to the SQLite snapshot. Unchanged files are not recompiled.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "delete database and reindex from scratch")
	indexCmd.Flags().IntVar(&flagWorkers, "workers", 0, "files compiled in parallel (default: batch.workers from config)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()

	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return outputError("index", err)
	}
	repoRoot := findRepoRoot(targetDir)
	dbPath := resolveDBPath(repoRoot)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return outputError("index", fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err))
	}
	if flagForce {
		for _, p := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return outputError("index", fmt.Errorf("removing database for --force: %w", err))
			}
		}
		logger.Info("cleared database", slog.String("path", dbPath))
	}

	cfg, err := loadConfig(repoRoot)
	if err != nil {
		return outputError("index", err)
	}
	s, err := store.NewStore(dbPath)
	if err != nil {
		return outputError("index", err)
	}
	defer s.Close()
	if err := s.Migrate(); err != nil {
		return outputError("index", err)
	}

	engine, err := grove.New(grove.WithConfig(cfg), grove.WithLogger(logger))
	if err != nil {
		return outputError("index", fmt.Errorf("creating engine: %w", err))
	}
	defer engine.Close()

	ix := grove.NewIndexer(engine, s, grove.WithWorkers(flagWorkers))
	res, err := ix.IndexDirectory(cmd.Context(), targetDir)
	if err != nil {
		return outputError("index", fmt.Errorf("indexing: %w", err))
	}

	return outputResult(CLIResult{
		Command: "index",
		Results: CLIIndexResult{
			IndexResult: res,
			Root:        targetDir,
			Database:    dbPath,
			Elapsed:     time.Since(start).Round(time.Millisecond).String(),
		},
	})
}
