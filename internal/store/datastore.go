package store

import "github.com/jward/grove/internal/symbols"

// TableSink receives compiled symbol tables for files whose rows already
// exist. Store writes straight to SQLite; BatchedStore buffers in memory so
// parallel workers never contend on the database.
type TableSink interface {
	PutTable(fileID int64, table *symbols.SymbolTable) error
}

// Compile-time checks.
var (
	_ TableSink = (*Store)(nil)
	_ TableSink = (*BatchedStore)(nil)
)
