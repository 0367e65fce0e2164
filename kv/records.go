package kv

import (
	"context"
	"fmt"
	"strings"

	"github.com/kartikbazzad/stratum/catalog"
	"github.com/kartikbazzad/stratum/keys"
)

// Record operations. Writes maintain every index defined on the table inside
// the same transaction write set, so record and index changes commit or roll
// back together.

// GetRecord fetches a record by key. The returned document carries its id.
func (t *Transaction) GetRecord(ctx context.Context, ns, db uint32, table, key string) (Document, error) {
	data, ok, err := t.Get(ctx, keys.Record(ns, db, table, key))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRecordNotFound
	}
	doc, err := DeserializeDocument(data)
	if err != nil {
		return nil, err
	}
	doc.SetID(RecordID{Table: table, Key: key})
	return doc, nil
}

// PutRecord writes a record and updates the table's indexes. Passing the
// previous version is unnecessary; it is fetched here when needed.
func (t *Transaction) PutRecord(ctx context.Context, ns, db uint32, table, key string, doc Document) error {
	doc.SetID(RecordID{Table: table, Key: key})
	data, err := doc.Serialize()
	if err != nil {
		return err
	}

	prev, err := t.GetRecord(ctx, ns, db, table, key)
	if err != nil && err != ErrRecordNotFound {
		return err
	}

	if err := t.Put(keys.Record(ns, db, table, key), data); err != nil {
		return err
	}

	indexes, err := t.AllTableIndexes(ctx, ns, db, table)
	if err != nil {
		return err
	}
	for _, idx := range indexes {
		if err := t.indexRecord(ctx, ns, db, idx, key, prev, doc); err != nil {
			return err
		}
	}
	return nil
}

// DelRecord removes a record and its index entries. Deleting a missing
// record returns ErrRecordNotFound.
func (t *Transaction) DelRecord(ctx context.Context, ns, db uint32, table, key string) (Document, error) {
	prev, err := t.GetRecord(ctx, ns, db, table, key)
	if err != nil {
		return nil, err
	}
	if err := t.Del(keys.Record(ns, db, table, key)); err != nil {
		return nil, err
	}
	indexes, err := t.AllTableIndexes(ctx, ns, db, table)
	if err != nil {
		return nil, err
	}
	for _, idx := range indexes {
		if err := t.indexRecord(ctx, ns, db, idx, key, prev, nil); err != nil {
			return nil, err
		}
	}
	return prev, nil
}

// CountRecords returns the number of records in a table visible to this
// transaction.
func (t *Transaction) CountRecords(ctx context.Context, ns, db uint32, table string) (int64, error) {
	prefix := keys.RecordPrefix(ns, db, table)
	return t.Count(ctx, prefix, keys.PrefixEnd(prefix))
}

// indexRecord applies the index delta for a single record transition from
// prev to next. Either side may be nil (insert or delete).
func (t *Transaction) indexRecord(ctx context.Context, ns, db uint32, idx *catalog.IndexDefinition, key string, prev, next Document) error {
	switch idx.Kind {
	case catalog.IndexCount:
		return t.maintainCount(ctx, ns, db, idx, prev, next)
	case catalog.IndexFullText:
		return t.maintainFullText(ctx, ns, db, idx, key, prev, next)
	default:
		return fmt.Errorf("unknown index kind %d on index %s", idx.Kind, idx.Name)
	}
}

// maintainCount appends a signed delta to the count index change log. A
// record contributes when it matches the stored condition, or always when
// the index has no condition.
func (t *Transaction) maintainCount(ctx context.Context, ns, db uint32, idx *catalog.IndexDefinition, prev, next Document) error {
	before, err := t.matchesCondition(ctx, idx.Condition, prev)
	if err != nil {
		return err
	}
	after, err := t.matchesCondition(ctx, idx.Condition, next)
	if err != nil {
		return err
	}
	var delta int64
	switch {
	case !before && after:
		delta = 1
	case before && !after:
		delta = -1
	default:
		return nil
	}
	seq := t.store.NextSeq()
	return t.Put(keys.CountDelta(ns, db, idx.Table, idx.IndexID, seq), keys.EncodeDelta(delta))
}

func (t *Transaction) matchesCondition(ctx context.Context, condition string, doc Document) (bool, error) {
	if doc == nil {
		return false, nil
	}
	if condition == "" {
		return true, nil
	}
	if t.store.condition == nil {
		return false, fmt.Errorf("no condition evaluator installed")
	}
	return t.store.condition(ctx, condition, doc)
}

// maintainFullText removes the previous postings for a record and writes the
// new ones, and keeps the per-index document statistics current.
func (t *Transaction) maintainFullText(ctx context.Context, ns, db uint32, idx *catalog.IndexDefinition, key string, prev, next Document) error {
	if t.store.analyze == nil {
		return fmt.Errorf("no analyzer installed")
	}

	prevLen := 0
	if prev != nil {
		for term, freq := range termFrequencies(t.store.analyze, indexedText(idx, prev)) {
			if err := t.Del(keys.Posting(ns, db, idx.Table, idx.IndexID, term, key)); err != nil {
				return err
			}
			prevLen += freq
		}
		if err := t.Del(keys.DocLength(ns, db, idx.Table, idx.IndexID, key)); err != nil {
			return err
		}
	}

	nextLen := 0
	if next != nil {
		for term, freq := range termFrequencies(t.store.analyze, indexedText(idx, next)) {
			if err := t.Put(keys.Posting(ns, db, idx.Table, idx.IndexID, term, key), keys.EncodeTermFreq(uint32(freq))); err != nil {
				return err
			}
			nextLen += freq
		}
		if err := t.Put(keys.DocLength(ns, db, idx.Table, idx.IndexID, key), keys.EncodeUint64(uint64(nextLen))); err != nil {
			return err
		}
	}

	return t.adjustIndexStats(ctx, ns, db, idx, prev != nil, next != nil, int64(nextLen)-int64(prevLen))
}

// adjustIndexStats updates the (docCount, totalLen) pair stored per index.
func (t *Transaction) adjustIndexStats(ctx context.Context, ns, db uint32, idx *catalog.IndexDefinition, hadPrev, hasNext bool, lenDelta int64) error {
	statsKey := keys.IndexStats(ns, db, idx.Table, idx.IndexID)
	var docCount, totalLen uint64
	data, ok, err := t.Get(ctx, statsKey)
	if err != nil {
		return err
	}
	if ok && len(data) >= 16 {
		if docCount, err = keys.DecodeUint64(data[:8]); err != nil {
			return err
		}
		if totalLen, err = keys.DecodeUint64(data[8:16]); err != nil {
			return err
		}
	}
	if !hadPrev && hasNext {
		docCount++
	} else if hadPrev && !hasNext && docCount > 0 {
		docCount--
	}
	totalLen = uint64(int64(totalLen) + lenDelta)
	buf := append(keys.EncodeUint64(docCount), keys.EncodeUint64(totalLen)...)
	return t.Put(statsKey, buf)
}

// indexedText concatenates the indexed columns' string values.
func indexedText(idx *catalog.IndexDefinition, doc Document) string {
	var parts []string
	for _, col := range idx.Cols {
		if v, ok := doc[col]; ok {
			if s, ok := v.(string); ok {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

func termFrequencies(analyze AnalyzeFunc, text string) map[string]int {
	freqs := make(map[string]int)
	for _, term := range analyze(text) {
		freqs[term]++
	}
	return freqs
}
