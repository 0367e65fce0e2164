package kv

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// TxnStatus is the lifecycle state of a transaction.
type TxnStatus int

const (
	StatusActive TxnStatus = iota
	StatusCommitted
	StatusAborted
)

// writeEntry is a buffered write: either a value or a tombstone.
type writeEntry struct {
	value  []byte
	delete bool
}

// Entry is one key-value pair produced by a scan.
type Entry struct {
	Key   []byte
	Value []byte
}

// Transaction is a snapshot-isolated view of the store.
//
// Reads go through the snapshot with read-your-own-writes semantics; writes
// are buffered and applied at commit with first-committer-wins conflict
// detection. The handle is shared read-only across every operator of a
// statement, so read paths are safe for concurrent use.
type Transaction struct {
	ID       uint64
	store    *Store
	snapshot *Snapshot
	writes   map[string]writeEntry
	status   TxnStatus
	mu       sync.RWMutex
}

// Status returns the transaction's lifecycle state.
func (t *Transaction) Status() TxnStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Snapshot returns the transaction's snapshot.
func (t *Transaction) Snapshot() *Snapshot { return t.snapshot }

// Get returns the value for a key, or (nil, false) when the key is not
// visible to this transaction.
func (t *Transaction) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	t.mu.RLock()
	if t.status != StatusActive {
		t.mu.RUnlock()
		return nil, false, ErrTxnNotActive
	}
	if w, ok := t.writes[string(key)]; ok {
		t.mu.RUnlock()
		if w.delete {
			return nil, false, nil
		}
		return w.value, true, nil
	}
	t.mu.RUnlock()

	head := t.store.head(string(key))
	v := t.snapshot.VisibleVersion(head)
	if v == nil || v.Tombstone {
		return nil, false, nil
	}
	return v.Data, true, nil
}

// Put buffers a write for the given key.
func (t *Transaction) Put(key, value []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusActive {
		return ErrTxnNotActive
	}
	t.writes[string(key)] = writeEntry{value: value}
	return nil
}

// Del buffers a delete for the given key.
func (t *Transaction) Del(key []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusActive {
		return ErrTxnNotActive
	}
	t.writes[string(key)] = writeEntry{delete: true}
	return nil
}

// visibleRange merges the committed keys in [beg, end) with this
// transaction's buffered writes, in key order, excluding deletions. An empty
// end means no upper bound.
func (t *Transaction) visibleRange(beg, end []byte) ([]string, error) {
	t.mu.RLock()
	if t.status != StatusActive {
		t.mu.RUnlock()
		return nil, ErrTxnNotActive
	}
	ownKeys := make(map[string]bool, len(t.writes))
	for k, w := range t.writes {
		if k >= string(beg) && (len(end) == 0 || k < string(end)) {
			ownKeys[k] = !w.delete
		}
	}
	t.mu.RUnlock()

	committed := t.store.keysInRange(string(beg), string(end))

	keys := make([]string, 0, len(committed)+len(ownKeys))
	for _, k := range committed {
		if keep, overridden := ownKeys[k]; overridden {
			if keep {
				keys = append(keys, k)
			}
			delete(ownKeys, k)
			continue
		}
		// Only keep keys with a visible, non-tombstone version.
		if v := t.snapshot.VisibleVersion(t.store.head(k)); v != nil && !v.Tombstone {
			keys = append(keys, k)
		}
	}
	for k, keep := range ownKeys {
		if keep {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Scan returns every visible entry in [beg, end), in key order. A limit of 0
// means unlimited.
func (t *Transaction) Scan(ctx context.Context, beg, end []byte, limit int) ([]Entry, error) {
	keys, err := t.visibleRange(beg, end)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		val, ok, err := t.Get(ctx, []byte(k))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		entries = append(entries, Entry{Key: []byte(k), Value: val})
		if limit > 0 && len(entries) >= limit {
			break
		}
	}
	return entries, nil
}

// Count returns the number of visible keys in [beg, end).
func (t *Transaction) Count(ctx context.Context, beg, end []byte) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	keys, err := t.visibleRange(beg, end)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// ScanBatches returns a lazy batch iterator over [beg, end). The key set is
// pinned when the iterator is created; values are fetched batch by batch as
// the iterator is pulled, and cancellation is checked at every batch.
func (t *Transaction) ScanBatches(beg, end []byte, batchSize int) (*ScanIterator, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}
	keys, err := t.visibleRange(beg, end)
	if err != nil {
		return nil, err
	}
	return &ScanIterator{txn: t, keys: keys, batchSize: batchSize}, nil
}

// ScanIterator streams a key range in batches.
type ScanIterator struct {
	txn       *Transaction
	keys      []string
	batchSize int
	pos       int
}

// NextBatch returns the next batch of entries, or (nil, nil) when exhausted.
// Keys deleted since the iterator was created are silently skipped.
func (it *ScanIterator) NextBatch(ctx context.Context) ([]Entry, error) {
	for it.pos < len(it.keys) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := it.pos + it.batchSize
		if hi > len(it.keys) {
			hi = len(it.keys)
		}
		batch := make([]Entry, 0, hi-it.pos)
		for _, k := range it.keys[it.pos:hi] {
			val, ok, err := it.txn.Get(ctx, []byte(k))
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			batch = append(batch, Entry{Key: []byte(k), Value: val})
		}
		it.pos = hi
		if len(batch) > 0 {
			return batch, nil
		}
		// Entire batch vanished mid-transaction; try the next window.
	}
	return nil, nil
}

// Commit applies the buffered writes to the store.
//
// Conflict rule: if any written key has a version that is neither visible to
// this transaction's snapshot nor written by this transaction, a concurrent
// transaction committed first and this one fails with ErrTxnConflict.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusActive {
		return ErrTxnNotActive
	}

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	// First-committer-wins conflict detection.
	for k := range t.writes {
		head := s.chains[k]
		if head != nil && head.TxnID != t.ID && !t.snapshot.IsVisible(head) {
			t.status = StatusAborted
			s.snapshots.abort(t.ID)
			return fmt.Errorf("%w: %q", ErrTxnConflict, k)
		}
	}

	ts := s.versions.newTimestamp()
	for k, w := range t.writes {
		v := &Version{Timestamp: ts, TxnID: t.ID, Data: w.value, Tombstone: w.delete}
		s.chains[k] = push(s.chains[k], v)
		s.insertKeyLocked(k)
	}

	t.status = StatusCommitted
	s.snapshots.commit(t.ID)
	return nil
}

// Rollback discards the buffered writes. Calling Rollback on a committed
// transaction is a no-op, so it is safe to defer.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusActive {
		return nil
	}
	t.status = StatusAborted
	t.writes = make(map[string]writeEntry)
	t.store.snapshots.abort(t.ID)
	return nil
}
