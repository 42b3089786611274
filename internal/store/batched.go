package store

import (
	"sync"

	"github.com/jward/grove/internal/symbols"
)

// BatchedStore buffers compiled tables in memory so that parallel workers
// can hand results off without touching SQLite. CommitBatch writes the
// buffer out in one transaction.
//
// Thread safety: the mutex protects the buffer. Reads of committed data go
// through the underlying Store.
type BatchedStore struct {
	store *Store
	mu    sync.Mutex

	pending []pendingTable
}

type pendingTable struct {
	fileID int64
	table  *symbols.SymbolTable
}

// NewBatchedStore creates a BatchedStore that commits into s.
func NewBatchedStore(s *Store) *BatchedStore {
	return &BatchedStore{store: s}
}

// PutTable buffers table for fileID. A later PutTable for the same file
// replaces the earlier one.
func (b *BatchedStore) PutTable(fileID int64, table *symbols.SymbolTable) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.pending {
		if b.pending[i].fileID == fileID {
			b.pending[i].table = table
			return nil
		}
	}
	b.pending = append(b.pending, pendingTable{fileID: fileID, table: table})
	return nil
}

// Len returns the number of buffered tables.
func (b *BatchedStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// TableFor returns the buffered table for fileID, falling back to what is
// already committed. Returns nil, nil if neither has one.
func (b *BatchedStore) TableFor(fileID int64, path string) (*symbols.SymbolTable, error) {
	b.mu.Lock()
	for _, p := range b.pending {
		if p.fileID == fileID {
			b.mu.Unlock()
			return p.table, nil
		}
	}
	b.mu.Unlock()
	return b.store.LoadTable(path)
}

func (b *BatchedStore) drain() []pendingTable {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out
}
