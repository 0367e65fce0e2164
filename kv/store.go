package kv

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// ConditionFunc evaluates a stored index condition against a document. The
// engine injects its expression compiler here so the store stays free of a
// dependency on the expression package.
type ConditionFunc func(ctx context.Context, condition string, doc Document) (bool, error)

// AnalyzeFunc tokenises text for full-text index maintenance.
type AnalyzeFunc func(text string) []string

// Store is an in-memory multi-version key-value store with ordered keys.
//
// Each key maps to a version chain; committed writes append versions, and
// deletes append tombstones. The sorted key slice supports ranged scans in
// lexicographic order.
type Store struct {
	chains    map[string]*Version
	sortedKey []string
	versions  *versionManager
	snapshots *snapshotManager
	nextTxnID atomic.Uint64
	nextSeq   atomic.Uint64
	nextCatID atomic.Uint32

	// Index maintenance hooks, injected by the engine.
	condition ConditionFunc
	analyze   AnalyzeFunc

	closed bool
	mu     sync.RWMutex
}

// NewStore creates an empty store.
func NewStore() *Store {
	vm := newVersionManager()
	return &Store{
		chains:    make(map[string]*Version),
		versions:  vm,
		snapshots: newSnapshotManager(vm),
	}
}

// SetConditionFunc installs the condition evaluator used by COUNT index
// maintenance.
func (s *Store) SetConditionFunc(f ConditionFunc) { s.condition = f }

// SetAnalyzeFunc installs the tokeniser used by full-text index maintenance.
func (s *Store) SetAnalyzeFunc(f AnalyzeFunc) { s.analyze = f }

// NextSeq returns a store-wide unique sequence number, used for count-index
// delta entries.
func (s *Store) NextSeq() uint64 {
	return s.nextSeq.Add(1)
}

// nextCatalogID allocates a numeric id for a namespace, database or index
// definition.
func (s *Store) nextCatalogID() uint32 {
	return s.nextCatID.Add(1)
}

// Begin starts a new snapshot-isolated transaction.
func (s *Store) Begin() (*Transaction, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrStoreClosed
	}

	id := s.nextTxnID.Add(1)
	return &Transaction{
		ID:       id,
		store:    s,
		snapshot: s.snapshots.begin(id),
		writes:   make(map[string]writeEntry),
		status:   StatusActive,
	}, nil
}

// Close marks the store closed; transactions can no longer be started.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// insertKeyLocked adds a key to the sorted slice. Caller holds the write lock.
func (s *Store) insertKeyLocked(key string) {
	i := sort.SearchStrings(s.sortedKey, key)
	if i < len(s.sortedKey) && s.sortedKey[i] == key {
		return
	}
	s.sortedKey = append(s.sortedKey, "")
	copy(s.sortedKey[i+1:], s.sortedKey[i:])
	s.sortedKey[i] = key
}

// keysInRange returns the committed keys in [beg, end); an empty end means
// no upper bound. Caller must not retain the slice across store mutations;
// a copy is returned.
func (s *Store) keysInRange(beg, end string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo := sort.SearchStrings(s.sortedKey, beg)
	hi := len(s.sortedKey)
	if end != "" {
		hi = sort.SearchStrings(s.sortedKey, end)
	}
	if lo >= hi {
		return nil
	}
	out := make([]string, hi-lo)
	copy(out, s.sortedKey[lo:hi])
	return out
}

// head returns the version chain head for a key, or nil.
func (s *Store) head(key string) *Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chains[key]
}
