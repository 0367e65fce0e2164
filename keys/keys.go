// Package keys defines the binary key layout shared by the store and the
// execution engine.
//
// All keys are ordered lexicographically. Each keyspace starts with a
// two-byte tag followed by NUL-separated components; numeric identifiers
// are encoded big-endian so that byte order matches numeric order.
//
// Keyspaces:
//
//	c!  catalog definitions (namespaces, databases, tables, fields, indexes)
//	r!  table records
//	d!  count-index signed delta entries
//	p!  full-text postings (term -> record key, term frequency)
//	l!  full-text document lengths
//	s!  full-text per-index statistics (doc count, total token length)
package keys

import (
	"encoding/binary"
	"fmt"
)

const sep = 0x00

// byte that cannot be incremented when computing a prefix upper bound
const maxByte = 0xFF

func appendUint32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

// scoped builds "<tag>{ns}{db}\x00{table}\x00" which prefixes every
// table-scoped keyspace.
func scoped(tag string, ns, db uint32, table string) []byte {
	b := make([]byte, 0, len(tag)+10+len(table))
	b = append(b, tag...)
	b = appendUint32(b, ns)
	b = appendUint32(b, db)
	b = append(b, sep)
	b = append(b, table...)
	b = append(b, sep)
	return b
}

// PrefixEnd returns the exclusive upper bound for scanning every key that
// starts with the given prefix: the prefix with trailing 0xFF bytes dropped
// and the last remaining byte incremented. Record ids and terms are arbitrary
// byte strings, so the bound must sort after every possible suffix, including
// ones that begin with 0xFF. An all-0xFF prefix has no finite upper bound;
// nil is returned and range consumers treat it as unbounded.
func PrefixEnd(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] == maxByte {
			continue
		}
		end := make([]byte, i+1)
		copy(end, prefix[:i+1])
		end[i]++
		return end
	}
	return nil
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// Record returns the key for a single record.
func Record(ns, db uint32, table, id string) []byte {
	b := scoped("r!", ns, db, table)
	return append(b, id...)
}

// RecordPrefix returns the inclusive lower bound of a table's record keyspace.
func RecordPrefix(ns, db uint32, table string) []byte {
	return scoped("r!", ns, db, table)
}

// RecordSuffix returns the exclusive upper bound of a table's record keyspace.
func RecordSuffix(ns, db uint32, table string) []byte {
	return PrefixEnd(scoped("r!", ns, db, table))
}

// DecodeRecordID extracts the record id component from a record key.
func DecodeRecordID(ns, db uint32, table string, key []byte) (string, error) {
	prefix := RecordPrefix(ns, db, table)
	if len(key) <= len(prefix) {
		return "", fmt.Errorf("record key too short: %d bytes", len(key))
	}
	return string(key[len(prefix):]), nil
}

// ---------------------------------------------------------------------------
// Catalog
// ---------------------------------------------------------------------------

// Namespace returns the catalog key for a namespace definition.
func Namespace(name string) []byte {
	return append([]byte("c!ns\x00"), name...)
}

// Database returns the catalog key for a database definition.
func Database(ns uint32, name string) []byte {
	b := []byte("c!db\x00")
	b = appendUint32(b, ns)
	b = append(b, sep)
	return append(b, name...)
}

// Table returns the catalog key for a table definition.
func Table(ns, db uint32, name string) []byte {
	b := []byte("c!tb\x00")
	b = appendUint32(b, ns)
	b = appendUint32(b, db)
	b = append(b, sep)
	return append(b, name...)
}

// Field returns the catalog key for a field definition.
func Field(ns, db uint32, table, field string) []byte {
	b := []byte("c!fd\x00")
	b = appendUint32(b, ns)
	b = appendUint32(b, db)
	b = append(b, sep)
	b = append(b, table...)
	b = append(b, sep)
	return append(b, field...)
}

// FieldPrefix returns the lower bound of a table's field definitions.
func FieldPrefix(ns, db uint32, table string) []byte {
	b := []byte("c!fd\x00")
	b = appendUint32(b, ns)
	b = appendUint32(b, db)
	b = append(b, sep)
	b = append(b, table...)
	b = append(b, sep)
	return b
}

// Index returns the catalog key for an index definition.
func Index(ns, db uint32, table, name string) []byte {
	b := []byte("c!ix\x00")
	b = appendUint32(b, ns)
	b = appendUint32(b, db)
	b = append(b, sep)
	b = append(b, table...)
	b = append(b, sep)
	return append(b, name...)
}

// IndexPrefix returns the lower bound of a table's index definitions.
func IndexPrefix(ns, db uint32, table string) []byte {
	b := []byte("c!ix\x00")
	b = appendUint32(b, ns)
	b = appendUint32(b, db)
	b = append(b, sep)
	b = append(b, table...)
	b = append(b, sep)
	return b
}

// ---------------------------------------------------------------------------
// Count-index deltas
// ---------------------------------------------------------------------------

// CountDelta returns the key of one signed delta entry in a COUNT index
// change log. The sequence number keeps entries unique and ordered.
func CountDelta(ns, db uint32, table string, index uint32, seq uint64) []byte {
	b := scoped("d!", ns, db, table)
	b = appendUint32(b, index)
	b = append(b, sep)
	return appendUint64(b, seq)
}

// CountDeltaPrefix returns the lower bound of a COUNT index's delta log.
func CountDeltaPrefix(ns, db uint32, table string, index uint32) []byte {
	b := scoped("d!", ns, db, table)
	b = appendUint32(b, index)
	b = append(b, sep)
	return b
}

// EncodeDelta encodes a signed count delta as its value.
func EncodeDelta(delta int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(delta))
	return buf[:]
}

// DecodeDelta decodes a signed count delta value.
func DecodeDelta(v []byte) (int64, error) {
	if len(v) != 8 {
		return 0, fmt.Errorf("invalid delta value length: %d", len(v))
	}
	return int64(binary.BigEndian.Uint64(v)), nil
}

// ---------------------------------------------------------------------------
// Full-text postings
// ---------------------------------------------------------------------------

// Posting returns the key of one (term, record) posting entry.
func Posting(ns, db uint32, table string, index uint32, term, id string) []byte {
	b := scoped("p!", ns, db, table)
	b = appendUint32(b, index)
	b = append(b, sep)
	b = append(b, term...)
	b = append(b, sep)
	return append(b, id...)
}

// PostingPrefix returns the lower bound of a term's postings.
func PostingPrefix(ns, db uint32, table string, index uint32, term string) []byte {
	b := scoped("p!", ns, db, table)
	b = appendUint32(b, index)
	b = append(b, sep)
	b = append(b, term...)
	b = append(b, sep)
	return b
}

// DecodePostingID extracts the record id from a posting key.
func DecodePostingID(ns, db uint32, table string, index uint32, term string, key []byte) (string, error) {
	prefix := PostingPrefix(ns, db, table, index, term)
	if len(key) <= len(prefix) {
		return "", fmt.Errorf("posting key too short: %d bytes", len(key))
	}
	return string(key[len(prefix):]), nil
}

// EncodeTermFreq encodes a term frequency as a posting value.
func EncodeTermFreq(tf uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], tf)
	return buf[:]
}

// DecodeTermFreq decodes a posting value.
func DecodeTermFreq(v []byte) (uint32, error) {
	if len(v) != 4 {
		return 0, fmt.Errorf("invalid term frequency length: %d", len(v))
	}
	return binary.BigEndian.Uint32(v), nil
}

// DocLength returns the key holding a document's token count for an index.
func DocLength(ns, db uint32, table string, index uint32, id string) []byte {
	b := scoped("l!", ns, db, table)
	b = appendUint32(b, index)
	b = append(b, sep)
	return append(b, id...)
}

// DocLengthPrefix returns the lower bound of an index's document lengths.
func DocLengthPrefix(ns, db uint32, table string, index uint32) []byte {
	b := scoped("l!", ns, db, table)
	b = appendUint32(b, index)
	b = append(b, sep)
	return b
}

// IndexStats returns the key holding an index's aggregate statistics.
func IndexStats(ns, db uint32, table string, index uint32) []byte {
	b := scoped("s!", ns, db, table)
	return appendUint32(b, index)
}

// EncodeUint64 encodes an unsigned counter value.
func EncodeUint64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

// DecodeUint64 decodes an unsigned counter value.
func DecodeUint64(v []byte) (uint64, error) {
	if len(v) != 8 {
		return 0, fmt.Errorf("invalid counter length: %d", len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}
