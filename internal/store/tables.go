package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jward/grove/internal/symbols"
)

// InsertFile inserts a file row and sets f.ID.
func (s *Store) InsertFile(f *File) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO files (path, unit, namespace, hash, last_indexed) VALUES (?, ?, ?, ?, ?)",
		f.Path, f.Unit, f.Namespace, f.Hash, f.LastIndexed,
	)
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	f.ID = id
	return id, nil
}

// UpdateFile rewrites the mutable columns of an existing file row.
func (s *Store) UpdateFile(f *File) error {
	_, err := s.db.Exec(
		"UPDATE files SET unit = ?, namespace = ?, hash = ?, last_indexed = ? WHERE id = ?",
		f.Unit, f.Namespace, f.Hash, f.LastIndexed, f.ID,
	)
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	return nil
}

func scanFile(scanner interface{ Scan(...any) error }) (*File, error) {
	f := &File{}
	var hash sql.NullString
	var indexed sql.NullTime
	if err := scanner.Scan(&f.ID, &f.Path, &f.Unit, &f.Namespace, &hash, &indexed); err != nil {
		return nil, err
	}
	f.Hash = hash.String
	if indexed.Valid {
		f.LastIndexed = indexed.Time
	}
	return f, nil
}

// FileByPath returns the file row for path. Returns nil, nil if not found.
func (s *Store) FileByPath(path string) (*File, error) {
	f, err := scanFile(s.db.QueryRow(
		"SELECT id, path, unit, namespace, hash, last_indexed FROM files WHERE path = ?", path,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	return f, nil
}

// Files returns every file row, ordered by path.
func (s *Store) Files() ([]*File, error) {
	rows, err := s.db.Query("SELECT id, path, unit, namespace, hash, last_indexed FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	defer rows.Close()
	var out []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// DeleteFilesNotIn removes every file whose path is not in keep and returns
// the removed paths.
func (s *Store) DeleteFilesNotIn(keep []string) ([]string, error) {
	query := "SELECT path FROM files"
	if len(keep) > 0 {
		query += " WHERE path NOT IN (" + placeholderList(len(keep)) + ")"
	}
	rows, err := s.db.Query(query, stringsToArgs(keep)...)
	if err != nil {
		return nil, fmt.Errorf("stale files: %w", err)
	}
	var stale []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale file: %w", err)
		}
		stale = append(stale, p)
	}
	rows.Close()
	for _, p := range stale {
		if err := s.DeleteFile(p); err != nil {
			return nil, err
		}
	}
	return stale, nil
}

// PutTable stores table as the content of fileID, replacing what was there.
func (s *Store) PutTable(fileID int64, table *symbols.SymbolTable) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("put table: begin: %w", err)
	}
	defer tx.Rollback()

	if err := deleteFileDataTx(tx, fileID); err != nil {
		return err
	}
	if err := insertTableTx(tx, fileID, table); err != nil {
		return fmt.Errorf("put table %s: %w", table.File, err)
	}
	return tx.Commit()
}

// SaveTable records a file and its table in one step, inserting or
// updating the file row as needed.
func (s *Store) SaveTable(f *File, table *symbols.SymbolTable) error {
	if f.LastIndexed.IsZero() {
		f.LastIndexed = time.Now().Truncate(time.Second)
	}
	existing, err := s.FileByPath(f.Path)
	if err != nil {
		return err
	}
	if existing != nil {
		f.ID = existing.ID
		if err := s.UpdateFile(f); err != nil {
			return err
		}
	} else if _, err := s.InsertFile(f); err != nil {
		return err
	}
	return s.PutTable(f.ID, table)
}

// LoadTable rebuilds the symbol table stored for path. Returns nil, nil if
// the file is unknown.
func (s *Store) LoadTable(path string) (*symbols.SymbolTable, error) {
	f, err := s.FileByPath(path)
	if err != nil || f == nil {
		return nil, err
	}
	tables, err := s.loadTables(context.Background(), []*File{f})
	if err != nil {
		return nil, err
	}
	return tables[0], nil
}

// LoadTables rebuilds every stored table, ordered by path. ctx is checked
// between files.
func (s *Store) LoadTables(ctx context.Context) ([]*symbols.SymbolTable, error) {
	files, err := s.Files()
	if err != nil {
		return nil, err
	}
	return s.loadTables(ctx, files)
}

func (s *Store) loadTables(ctx context.Context, files []*File) ([]*symbols.SymbolTable, error) {
	out := make([]*symbols.SymbolTable, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := &symbols.SymbolTable{File: f.Path, Namespace: f.Namespace}
		syms, err := s.symbolsForFile(f)
		if err != nil {
			return nil, err
		}
		t.Symbols = syms
		refs, err := s.referencesForFile(f.ID)
		if err != nil {
			return nil, err
		}
		t.References = refs
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) symbolsForFile(f *File) ([]*symbols.Symbol, error) {
	rows, err := s.db.Query(
		`SELECT local_id, parent_local_id, name, kind, visibility, modifiers, detail,
			start_line, start_col, end_line, end_col,
			ident_start_line, ident_start_col, ident_end_line, ident_end_col
		 FROM symbols WHERE file_id = ? ORDER BY ordinal`, f.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("symbols for %s: %w", f.Path, err)
	}
	defer rows.Close()

	var out []*symbols.Symbol
	for rows.Next() {
		var (
			sym              symbols.Symbol
			id, parent, kind string
			vis, mods, det   sql.NullString
			loc              = &sym.Location
		)
		if err := rows.Scan(&id, &parent, &sym.Name, &kind, &vis, &mods, &det,
			&loc.Symbol.Start.Line, &loc.Symbol.Start.Character, &loc.Symbol.End.Line, &loc.Symbol.End.Character,
			&loc.Identifier.Start.Line, &loc.Identifier.Start.Character, &loc.Identifier.End.Line, &loc.Identifier.End.Character,
		); err != nil {
			return nil, fmt.Errorf("scan symbol: %w", err)
		}
		sym.ID = symbols.SymbolID(id)
		sym.ParentID = symbols.SymbolID(parent)
		sym.Kind = symbols.Kind(kind)
		sym.FilePath = f.Path
		sym.Modifiers = symbols.ModifiersFromFlags(symbols.Visibility(vis.String), unmarshalModifiers(mods.String))
		d, err := symbols.UnmarshalDetail(det.String)
		if err != nil {
			return nil, fmt.Errorf("symbol %s detail: %w", sym.Name, err)
		}
		sym.Detail = d
		out = append(out, &sym)
	}
	return out, rows.Err()
}

func (s *Store) referencesForFile(fileID int64) ([]symbols.TypeReference, error) {
	rows, err := s.db.Query(
		`SELECT name, qualifier, context, parent_context, is_static,
			start_line, start_col, end_line, end_col
		 FROM type_references WHERE file_id = ? ORDER BY ordinal`, fileID,
	)
	if err != nil {
		return nil, fmt.Errorf("references: %w", err)
	}
	defer rows.Close()

	var out []symbols.TypeReference
	for rows.Next() {
		var r symbols.TypeReference
		var ctx string
		if err := rows.Scan(&r.Name, &r.Qualifier, &ctx, &r.ParentContext, &r.IsStatic,
			&r.Location.Start.Line, &r.Location.Start.Character, &r.Location.End.Line, &r.Location.End.Character,
		); err != nil {
			return nil, fmt.Errorf("scan reference: %w", err)
		}
		r.Context = symbols.ContextTag(ctx)
		out = append(out, r)
	}
	return out, rows.Err()
}
