package store

import (
	"database/sql"
	"fmt"

	"github.com/jward/grove/internal/symbols"
)

// CommitBatch writes every table buffered in batch within a single
// transaction and empties the buffer. Each file's previous rows are
// replaced. On error nothing is written and the buffer is lost.
func (s *Store) CommitBatch(batch *BatchedStore) error {
	pending := batch.drain()
	if len(pending) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	for _, p := range pending {
		if err := deleteFileDataTx(tx, p.fileID); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		if err := insertTableTx(tx, p.fileID, p.table); err != nil {
			return fmt.Errorf("commit batch: %s: %w", p.table.File, err)
		}
	}
	return tx.Commit()
}

// insertTableTx inserts the symbols and references of table in source order.
func insertTableTx(tx *sql.Tx, fileID int64, table *symbols.SymbolTable) error {
	symStmt, err := tx.Prepare(`INSERT INTO symbols
		(file_id, ordinal, local_id, parent_local_id, name, kind, visibility, modifiers, detail,
		 start_line, start_col, end_line, end_col,
		 ident_start_line, ident_start_col, ident_end_line, ident_end_col)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare symbol insert: %w", err)
	}
	defer symStmt.Close()

	for i, sym := range table.Symbols {
		if sym == nil {
			continue
		}
		detail, err := symbols.MarshalDetail(sym.Detail)
		if err != nil {
			return fmt.Errorf("symbol %q: %w", sym.Name, err)
		}
		loc := sym.Location
		if _, err := symStmt.Exec(
			fileID, i, string(sym.ID), string(sym.ParentID), sym.Name, string(sym.Kind),
			string(sym.Modifiers.Visibility), marshalModifiers(sym.Modifiers.Flags()), detail,
			loc.Symbol.Start.Line, loc.Symbol.Start.Character, loc.Symbol.End.Line, loc.Symbol.End.Character,
			loc.Identifier.Start.Line, loc.Identifier.Start.Character, loc.Identifier.End.Line, loc.Identifier.End.Character,
		); err != nil {
			return fmt.Errorf("insert symbol %q: %w", sym.Name, err)
		}
	}

	refStmt, err := tx.Prepare(`INSERT INTO type_references
		(file_id, ordinal, name, qualifier, context, parent_context, is_static,
		 start_line, start_col, end_line, end_col)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare reference insert: %w", err)
	}
	defer refStmt.Close()

	for i, r := range table.References {
		if _, err := refStmt.Exec(
			fileID, i, r.Name, r.Qualifier, string(r.Context), r.ParentContext, r.IsStatic,
			r.Location.Start.Line, r.Location.Start.Character, r.Location.End.Line, r.Location.End.Character,
		); err != nil {
			return fmt.Errorf("insert reference %q: %w", r.Name, err)
		}
	}
	return nil
}
