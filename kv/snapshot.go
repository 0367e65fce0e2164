package kv

import (
	"sync"
)

// Snapshot captures the state of the store at a specific point in time. A
// transaction reads exclusively through its snapshot, so committed writes of
// later transactions never become visible mid-statement.
type Snapshot struct {
	Timestamp   Timestamp
	MaxTxnID    uint64
	ActiveTxns  []uint64
	AbortedTxns []uint64
}

// snapshotManager tracks active and aborted transactions and produces
// snapshots.
type snapshotManager struct {
	versions    *versionManager
	activeTxns  map[uint64]bool
	abortedTxns map[uint64]bool
	maxTxnID    uint64
	mu          sync.Mutex
}

func newSnapshotManager(vm *versionManager) *snapshotManager {
	return &snapshotManager{
		versions:    vm,
		activeTxns:  make(map[uint64]bool),
		abortedTxns: make(map[uint64]bool),
	}
}

// begin creates a snapshot for the given transaction and marks it active.
func (sm *snapshotManager) begin(txnID uint64) *Snapshot {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if txnID > sm.maxTxnID {
		sm.maxTxnID = txnID
	}

	active := make([]uint64, 0, len(sm.activeTxns))
	for id := range sm.activeTxns {
		active = append(active, id)
	}
	aborted := make([]uint64, 0, len(sm.abortedTxns))
	for id := range sm.abortedTxns {
		aborted = append(aborted, id)
	}

	snapshot := &Snapshot{
		Timestamp:   sm.versions.newTimestamp(),
		MaxTxnID:    sm.maxTxnID,
		ActiveTxns:  active,
		AbortedTxns: aborted,
	}

	sm.activeTxns[txnID] = true
	return snapshot
}

// commit marks a transaction as committed. Removed from active and not added
// to aborted, so it becomes implicitly committed for later snapshots.
func (sm *snapshotManager) commit(txnID uint64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.activeTxns, txnID)
}

// abort marks a transaction as aborted.
func (sm *snapshotManager) abort(txnID uint64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.abortedTxns[txnID] = true
	delete(sm.activeTxns, txnID)
}

// contains performs a linear scan; the active/aborted lists are small.
func contains(slice []uint64, val uint64) bool {
	for _, item := range slice {
		if item == val {
			return true
		}
	}
	return false
}

// IsVisible checks if a version is visible to this snapshot.
//
// Visibility rules:
//  1. Future versions are not visible (Version.Timestamp > Snapshot.Timestamp).
//  2. Versions of transactions active at snapshot time are not visible.
//  3. Versions of aborted transactions are not visible.
//  4. Own writes are handled by the transaction's write set, not here.
//  5. Everything else was committed in the past: visible.
func (s *Snapshot) IsVisible(v *Version) bool {
	if v.Timestamp > s.Timestamp {
		return false
	}
	if v.TxnID > s.MaxTxnID {
		return false
	}
	if contains(s.ActiveTxns, v.TxnID) {
		return false
	}
	if contains(s.AbortedTxns, v.TxnID) {
		return false
	}
	return true
}

// VisibleVersion walks a chain and returns the newest visible version, or
// nil when the key did not exist for this snapshot.
func (s *Snapshot) VisibleVersion(head *Version) *Version {
	for current := head; current != nil; current = current.Next {
		if s.IsVisible(current) {
			return current
		}
	}
	return nil
}
