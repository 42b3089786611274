// Package grove is the semantic core of an Apex language server. It keeps a
// graph of every declared symbol and the typed references between them,
// memoizes derived query results, and answers the lookups editor features
// need, most importantly which symbol sits at a given source position.
//
// # Pipeline
//
// Symbol tables arrive from a compiler, one per file:
//
//  1. Ingest: [Engine.AddSymbolTable] replaces whatever was known about the
//     file, inserts every symbol, then turns every captured reference into a
//     graph edge. References whose target does not exist yet are deferred
//     and linked when a symbol of that name appears.
//
//  2. Query: name, FQN, file and position lookups, references in both
//     directions, dependency and impact analysis, and cycle detection. Every
//     result is cached until an ingestion could have changed it.
//
// # Usage
//
//	e, err := grove.New(grove.WithConfig(cfg))
//	if err != nil { ... }
//	defer e.Close()
//
//	table, err := compiler.Compile(ctx, "classes/Foo.cls", src)
//	err = e.AddSymbolTable(ctx, table)
//
//	sym := e.GetSymbolAtPositionPrecise("classes/Foo.cls", grove.Position{Line: 3, Character: 12})
//	refs := e.FindReferencesTo(sym.ID)
//
// # Workspaces
//
// An [Indexer] keeps an Engine and a SQLite snapshot in step with a
// directory. Unchanged files are detected by content hash and loaded from
// the snapshot instead of being recompiled; [Engine.IngestTables] ingests
// them in cancellable units.
//
// # Standard library
//
// Names in reserved namespaces such as System, Schema or Database resolve
// against a resident table of primitive types and against standard library
// classes that are compiled on first use. Names outside those namespaces
// never fall back to the standard library.
//
// # Maintenance
//
// Hosts should call [Engine.Optimize] periodically to sweep expired cache
// entries and retry deferred references, and [Engine.ReleaseMemory] when the
// process is under memory pressure.
package grove
