// Package kv implements the transactional key-value store backing the
// execution engine.
//
// It provides:
//   - Version chains: linked lists of value versions for each key.
//   - Snapshots: consistent views of the store for transactions.
//   - Visibility rules: logic to determine which version a transaction sees.
//   - Ranged scans: ordered key iteration streamed in batches.
//   - Catalog providers: schema definitions read through the transaction's
//     own view, so DDL earlier in the same transaction is visible.
//
// Writes are buffered in the transaction's write set and applied to the
// version chains at commit time, giving snapshot isolation with
// first-committer-wins conflict detection.
package kv

import (
	"sync/atomic"
)

// Timestamp is a unique, monotonically increasing logical point in time.
type Timestamp uint64

// Version is a single historical state of a key. Versions are linked in a
// reverse-chronological chain, newest first. A deleted key is represented by
// a tombstone version rather than removal, so older snapshots keep seeing
// the previous value.
type Version struct {
	Timestamp Timestamp
	TxnID     uint64
	Data      []byte
	Tombstone bool
	Next      *Version
}

// versionManager hands out timestamps and builds version chains.
type versionManager struct {
	current atomic.Uint64
}

func newVersionManager() *versionManager {
	return &versionManager{}
}

// newTimestamp generates a new unique timestamp.
func (vm *versionManager) newTimestamp() Timestamp {
	return Timestamp(vm.current.Add(1))
}

// currentTimestamp returns the latest timestamp without incrementing.
func (vm *versionManager) currentTimestamp() Timestamp {
	return Timestamp(vm.current.Load())
}

// push adds a new version to the front of a chain and returns the new head.
func push(head *Version, v *Version) *Version {
	v.Next = head
	return v
}
