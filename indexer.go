package grove

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jward/grove/internal/compiler"
	"github.com/jward/grove/internal/discover"
	"github.com/jward/grove/internal/store"
)

// Meta keys written by IndexDirectory.
const (
	MetaRoot      = "root"
	MetaIndexedAt = "indexed_at"
)

// Indexer keeps an Engine and a snapshot Store in step with a workspace
// directory. Only files whose content hash changed are recompiled.
type Indexer struct {
	engine  *Engine
	store   *store.Store
	logger  *slog.Logger
	workers int
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithIndexerLogger sets the logger. Defaults to the engine's.
func WithIndexerLogger(l *slog.Logger) IndexerOption {
	return func(ix *Indexer) {
		if l != nil {
			ix.logger = l
		}
	}
}

// WithWorkers bounds how many files compile at once. Defaults to the
// engine's Batch.Workers.
func WithWorkers(n int) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.workers = n
		}
	}
}

// NewIndexer creates an Indexer writing to e and s. The store must be
// migrated.
func NewIndexer(e *Engine, s *store.Store, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		engine:  e,
		store:   s,
		logger:  e.logger,
		workers: e.cfg.Batch.Workers,
	}
	for _, o := range opts {
		o(ix)
	}
	if ix.workers < 1 {
		ix.workers = runtime.NumCPU()
	}
	return ix
}

// IndexResult summarizes one IndexDirectory run.
type IndexResult struct {
	Files     int      `json:"files"`
	Compiled  int      `json:"compiled"`
	Unchanged int      `json:"unchanged"`
	Removed   int      `json:"removed"`
	Failed    []string `json:"failed,omitempty"`
}

// compileItem is one changed file waiting for Phase B.
type compileItem struct {
	file *store.File
	src  []byte
}

// IndexDirectory brings the store and the engine up to date with root:
//
//	Phase A (serial):   discover files, drop vanished ones, hash-check the
//	                    rest and load unchanged files the engine lacks.
//	Phase B (parallel): compile changed files into a BatchedStore.
//	Phase C (serial):   commit the batch, record hashes, ingest every new
//	                    table into the engine.
func (ix *Indexer) IndexDirectory(ctx context.Context, root string) (*IndexResult, error) {
	start := time.Now()
	entries, err := discover.Files(root)
	if err != nil {
		return nil, fmt.Errorf("index %s: discover: %w", root, err)
	}
	namespace := readNamespace(root)

	// ---- Phase A: serial preparation ----
	keep := make([]string, len(entries))
	for i, fe := range entries {
		keep[i] = fe.Path
	}
	removed, err := ix.store.DeleteFilesNotIn(keep)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", root, err)
	}
	for _, p := range removed {
		if err := ix.engine.RemoveFile(p); err != nil {
			return nil, err
		}
	}

	res := &IndexResult{Files: len(entries), Removed: len(removed)}
	var items []compileItem
	var tables []*SymbolTable
	for _, fe := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, table, err := ix.prepareFile(root, fe, namespace)
		if err != nil {
			return nil, err
		}
		switch {
		case item != nil:
			items = append(items, *item)
		case table != nil:
			tables = append(tables, table)
			res.Unchanged++
		default:
			res.Unchanged++
		}
	}

	// ---- Phase B: parallel compilation ----
	batch := store.NewBatchedStore(ix.store)
	compiled := make([]*SymbolTable, len(items))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for i, item := range items {
		g.Go(func() error {
			t, err := compiler.Compile(gctx, item.file.Path, item.src)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				ix.logger.Warn("compile failed", slog.String("file", item.file.Path), slog.Any("error", err))
				mu.Lock()
				res.Failed = append(res.Failed, item.file.Path)
				mu.Unlock()
				return nil
			}
			t.Namespace = namespace
			compiled[i] = t
			return batch.PutTable(item.file.ID, t)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("index %s: compile: %w", root, err)
	}

	// ---- Phase C: serial commit ----
	if err := ix.store.CommitBatch(batch); err != nil {
		return nil, fmt.Errorf("index %s: %w", root, err)
	}
	now := time.Now().Truncate(time.Second)
	for i, item := range items {
		if compiled[i] == nil {
			continue
		}
		item.file.Hash = store.ContentHash(item.src)
		item.file.LastIndexed = now
		if err := ix.store.UpdateFile(item.file); err != nil {
			return nil, fmt.Errorf("index %s: %w", root, err)
		}
		tables = append(tables, compiled[i])
		res.Compiled++
	}

	if _, err := ix.engine.IngestTables(ctx, tables); err != nil {
		return nil, err
	}
	if err := ix.store.SetMeta(MetaRoot, root); err != nil {
		return nil, err
	}
	if err := ix.store.SetMeta(MetaIndexedAt, now.UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}
	ix.logger.Info("indexed workspace",
		slog.String("root", root),
		slog.Int("files", res.Files),
		slog.Int("compiled", res.Compiled),
		slog.Int("removed", res.Removed),
		slog.Duration("elapsed", time.Since(start)))
	return res, nil
}

// prepareFile hash-checks one file. A changed file yields a compile item
// and has its row created or updated with the hash cleared until its table
// is committed. An unchanged file yields its stored table when the engine
// has not ingested it yet.
func (ix *Indexer) prepareFile(root string, fe discover.FileEntry, namespace string) (*compileItem, *SymbolTable, error) {
	src, err := os.ReadFile(filepath.Join(root, fe.Path))
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", fe.Path, err)
	}
	hash := store.ContentHash(src)

	f, err := ix.store.FileByPath(fe.Path)
	if err != nil {
		return nil, nil, err
	}
	if f != nil && f.Hash == hash && f.Namespace == namespace {
		if ix.engine.Graph().HasFile(fe.Path) {
			return nil, nil, nil
		}
		t, err := ix.store.LoadTable(fe.Path)
		return nil, t, err
	}

	if f == nil {
		f = &store.File{Path: fe.Path, Unit: fe.Unit, Namespace: namespace}
		if _, err := ix.store.InsertFile(f); err != nil {
			return nil, nil, err
		}
	} else {
		f.Unit, f.Namespace, f.Hash = fe.Unit, namespace, ""
		if err := ix.store.UpdateFile(f); err != nil {
			return nil, nil, err
		}
	}
	return &compileItem{file: f, src: src}, nil, nil
}

// Load ingests every table in the store into the engine without touching
// the workspace.
func (ix *Indexer) Load(ctx context.Context) (int, error) {
	tables, err := ix.store.LoadTables(ctx)
	if err != nil {
		return 0, fmt.Errorf("load snapshot: %w", err)
	}
	return ix.engine.IngestTables(ctx, tables)
}

// readNamespace returns the package namespace declared in the project file
// at root, or "" when there is none.
func readNamespace(root string) string {
	data, err := os.ReadFile(filepath.Join(root, "sfdx-project.json"))
	if err != nil {
		return ""
	}
	var project struct {
		Namespace string `json:"namespace"`
	}
	if err := json.Unmarshal(data, &project); err != nil {
		return ""
	}
	return project.Namespace
}
