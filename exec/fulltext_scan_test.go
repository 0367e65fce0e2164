package exec

import (
	"context"
	"errors"
	"testing"

	"github.com/kartikbazzad/stratum/catalog"
	"github.com/kartikbazzad/stratum/internal/fts"
	"github.com/kartikbazzad/stratum/keys"
	"github.com/kartikbazzad/stratum/kv"
)

func defineFullTextIndex(t *testing.T, ec *ExecutionContext) *catalog.IndexDefinition {
	t.Helper()
	ns, _ := ec.Namespace()
	db, _ := ec.Database()
	idx := &catalog.IndexDefinition{
		Name:  "body_fts",
		Table: "t",
		Kind:  catalog.IndexFullText,
		Cols:  []string{"body"},
	}
	if err := ec.Txn().DefineIndex(context.Background(), ns.NamespaceID, db.DatabaseID, idx); err != nil {
		t.Fatalf("DefineIndex failed: %v", err)
	}
	return idx
}

func TestFullTextScanRelevanceOrder(t *testing.T) {
	_, ec := testEnv(t)
	defineTable(t, ec, selectPerms(catalog.Full()))
	defineFullTextIndex(t, ec)
	putRecords(t, ec,
		kv.Document{"body": "rust systems programming"},
		kv.Document{"body": "streaming streaming engines process streaming data"},
		kv.Document{"body": "a streaming database"},
	)

	op := NewFullTextScan("t", "body_fts", "streaming", fts.NewAnalyzer())
	stream, err := op.Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	docs, err := Collect(context.Background(), stream)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("Expected 2 matches, got %d", len(docs))
	}
	// The document mentioning the term three times outranks the single
	// mention; the non-matching document never appears.
	if docs[0]["body"] != "streaming streaming engines process streaming data" {
		t.Errorf("Expected highest term frequency first, got %v", docs[0]["body"])
	}
	if docs[1]["body"] != "a streaming database" {
		t.Errorf("Expected single mention second, got %v", docs[1]["body"])
	}
}

func TestFullTextScanUsesSmallerBatches(t *testing.T) {
	_, ec := testEnv(t)
	defineTable(t, ec, selectPerms(catalog.Full()))
	defineFullTextIndex(t, ec)
	putRecords(t, ec,
		kv.Document{"body": "streaming one"},
		kv.Document{"body": "streaming two"},
		kv.Document{"body": "streaming three"},
	)

	op := NewFullTextScan("t", "body_fts", "streaming", fts.NewAnalyzer())
	stream, err := op.Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	// FullTextBatchSize is 1 in the test env, so three matches arrive in
	// three batches.
	batches := 0
	for {
		batch, ok, err := stream.Next(context.Background())
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ok {
			break
		}
		if batch.Len() != 1 {
			t.Errorf("Expected batch of 1, got %d", batch.Len())
		}
		batches++
	}
	if batches != 3 {
		t.Errorf("Expected 3 batches, got %d", batches)
	}
}

func TestFullTextScanCancellationMidStream(t *testing.T) {
	_, ec := testEnv(t)
	defineTable(t, ec, selectPerms(catalog.Full()))
	defineFullTextIndex(t, ec)
	putRecords(t, ec,
		kv.Document{"body": "streaming one"},
		kv.Document{"body": "streaming two"},
		kv.Document{"body": "streaming three"},
	)

	op := NewFullTextScan("t", "body_fts", "streaming", fts.NewAnalyzer())
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := op.Execute(ctx, ec)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if _, ok, err := stream.Next(ctx); err != nil || !ok {
		t.Fatalf("First batch should succeed: ok=%v err=%v", ok, err)
	}

	cancel()
	if _, _, err := stream.Next(ctx); !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected ErrCancelled after cancel, got %v", err)
	}
	// The stream is terminated for good; later polls stay exhausted.
	if _, ok, err := stream.Next(context.Background()); ok || err != nil {
		t.Errorf("Cancelled stream must stay exhausted, got ok=%v err=%v", ok, err)
	}
}

func TestFullTextScanMissingIndex(t *testing.T) {
	_, ec := testEnv(t)
	defineTable(t, ec, selectPerms(catalog.Full()))

	op := NewFullTextScan("t", "no_such_index", "streaming", fts.NewAnalyzer())
	stream, err := op.Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute must stay lazy: %v", err)
	}
	if _, _, err := stream.Next(context.Background()); !errors.Is(err, catalog.ErrIndexNotFound) {
		t.Errorf("Expected ErrIndexNotFound, got %v", err)
	}
}

func TestFullTextScanRejectsTruncatedStats(t *testing.T) {
	_, ec := testEnv(t)
	defineTable(t, ec, selectPerms(catalog.Full()))
	idx := defineFullTextIndex(t, ec)
	putRecords(t, ec, kv.Document{"body": "streaming"})

	// Overwrite the stats value with fewer than its 16 bytes. An index with
	// damaged statistics must fail the scan, not pose as an empty one.
	ns, _ := ec.Namespace()
	db, _ := ec.Database()
	statsKey := keys.IndexStats(ns.NamespaceID, db.DatabaseID, "t", idx.IndexID)
	if err := ec.Txn().Put(statsKey, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	op := NewFullTextScan("t", "body_fts", "streaming", fts.NewAnalyzer())
	stream, err := op.Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, _, err := stream.Next(context.Background()); err == nil {
		t.Error("Expected an error for truncated index stats, got none")
	}
}

func TestFullTextScanDenyYieldsNothing(t *testing.T) {
	_, ec := testEnv(t)
	defineTable(t, ec, selectPerms(catalog.None()))
	defineFullTextIndex(t, ec)
	putRecords(t, ec, kv.Document{"body": "streaming"})

	op := NewFullTextScan("t", "body_fts", "streaming", fts.NewAnalyzer())
	stream, err := op.Execute(context.Background(), ec)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if _, ok, err := stream.Next(context.Background()); ok || err != nil {
		t.Errorf("Deny should yield nothing, got ok=%v err=%v", ok, err)
	}
}
