package grove

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// IngestTables ingests many symbol tables using a two-phase pipeline:
//
//	Phase A (parallel): canonicalize every table with bounded fan-out.
//	Phase B (serial):   ingest in units of Batch.UnitSize under the writer
//	                    lock, releasing it between units.
//
// ctx is checked before each unit. On cancellation the tables of completed
// units stay ingested and the count of ingested tables is returned with the
// context error. Nil tables and tables without a file are skipped.
func (e *Engine) IngestTables(ctx context.Context, tables []*SymbolTable) (int, error) {
	if e.isClosed() {
		return 0, ErrClosed
	}
	ctx, span := e.tracer.Start(ctx, "grove.IngestTables",
		trace.WithAttributes(attribute.Int("tables", len(tables))))
	defer span.End()
	start := time.Now()

	// ---- Phase A: parallel preparation ----
	items := make([]prepared, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Batch.Workers)
	for i, t := range tables {
		if t == nil || t.File == "" {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			items[i] = prepare(t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "prepare failed")
		return 0, fmt.Errorf("ingest tables: prepare: %w", err)
	}

	// ---- Phase B: serial ingestion in units ----
	n := 0
	unit := e.cfg.Batch.UnitSize
	for lo := 0; lo < len(items); lo += unit {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "cancelled")
			span.SetAttributes(attribute.Int("ingested", n))
			return n, fmt.Errorf("ingest tables: %w", err)
		}
		hi := min(lo+unit, len(items))
		n += e.ingestUnit(ctx, items[lo:hi])
	}

	span.SetAttributes(attribute.Int("ingested", n))
	e.logger.Debug("ingest tables",
		slog.Int("tables", n),
		slog.Duration("elapsed", time.Since(start)))
	return n, nil
}

func (e *Engine) ingestUnit(ctx context.Context, items []prepared) int {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	n := 0
	for _, p := range items {
		if p.file == "" {
			continue
		}
		e.ingestLocked(ctx, p)
		n++
	}
	return n
}
