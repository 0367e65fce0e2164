package stratum

import (
	"context"
	"testing"

	"github.com/kartikbazzad/stratum/catalog"
	"github.com/kartikbazzad/stratum/exec"
	"github.com/kartikbazzad/stratum/kv"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := Open(Options{AuthEnabled: true, BatchSize: 2, FullTextBatchSize: 1})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func TestEngineEndToEndScan(t *testing.T) {
	eng := openTestEngine(t)
	ctx := context.Background()

	txn, err := eng.Begin()
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer txn.Rollback()

	root := eng.NewContext(txn, &exec.Auth{ID: "admin", Role: exec.RoleOwner})
	ec, err := eng.DatabaseContext(ctx, root, "app", "main")
	if err != nil {
		t.Fatalf("DatabaseContext failed: %v", err)
	}
	ns, _ := ec.Namespace()
	db, _ := ec.Database()

	table := &catalog.TableDefinition{Name: "posts", Permissions: catalog.FullPermissions()}
	if err := txn.DefineTable(ctx, ns.NamespaceID, db.DatabaseID, table); err != nil {
		t.Fatalf("DefineTable failed: %v", err)
	}
	for i, body := range []string{"streaming engines", "batch processing", "streaming joins"} {
		key := string(rune('a' + i))
		if err := txn.PutRecord(ctx, ns.NamespaceID, db.DatabaseID, "posts", key, kv.Document{"body": body, "n": float64(i)}); err != nil {
			t.Fatalf("PutRecord failed: %v", err)
		}
	}

	stream, err := exec.NewTableScan("posts", nil, -1, -1).Execute(ctx, ec)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	docs, err := exec.Collect(ctx, stream)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(docs) != 3 {
		t.Errorf("Expected 3 records, got %d", len(docs))
	}
}

func TestEngineFullTextSearch(t *testing.T) {
	eng := openTestEngine(t)
	ctx := context.Background()

	txn, _ := eng.Begin()
	defer txn.Rollback()

	root := eng.NewContext(txn, &exec.Auth{ID: "admin", Role: exec.RoleOwner})
	ec, err := eng.DatabaseContext(ctx, root, "app", "main")
	if err != nil {
		t.Fatalf("DatabaseContext failed: %v", err)
	}
	ns, _ := ec.Namespace()
	db, _ := ec.Database()

	table := &catalog.TableDefinition{Name: "posts", Permissions: catalog.FullPermissions()}
	if err := txn.DefineTable(ctx, ns.NamespaceID, db.DatabaseID, table); err != nil {
		t.Fatalf("DefineTable failed: %v", err)
	}
	idx := &catalog.IndexDefinition{Name: "body_fts", Table: "posts", Kind: catalog.IndexFullText, Cols: []string{"body"}}
	if err := txn.DefineIndex(ctx, ns.NamespaceID, db.DatabaseID, idx); err != nil {
		t.Fatalf("DefineIndex failed: %v", err)
	}
	txn.PutRecord(ctx, ns.NamespaceID, db.DatabaseID, "posts", "a", kv.Document{"body": "streaming engines"})
	txn.PutRecord(ctx, ns.NamespaceID, db.DatabaseID, "posts", "b", kv.Document{"body": "batch processing"})

	stream, err := eng.FullTextScan("posts", "body_fts", "streaming").Execute(ctx, ec)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	docs, err := exec.Collect(ctx, stream)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(docs) != 1 || docs[0]["body"] != "streaming engines" {
		t.Errorf("Expected the single streaming post, got %v", docs)
	}
}

func TestEngineCommitMakesDataDurableAcrossTransactions(t *testing.T) {
	eng := openTestEngine(t)
	ctx := context.Background()

	txn, _ := eng.Begin()
	root := eng.NewContext(txn, &exec.Auth{ID: "admin", Role: exec.RoleOwner})
	ec, err := eng.DatabaseContext(ctx, root, "app", "main")
	if err != nil {
		t.Fatalf("DatabaseContext failed: %v", err)
	}
	ns, _ := ec.Namespace()
	db, _ := ec.Database()
	table := &catalog.TableDefinition{Name: "posts", Permissions: catalog.FullPermissions()}
	if err := txn.DefineTable(ctx, ns.NamespaceID, db.DatabaseID, table); err != nil {
		t.Fatalf("DefineTable failed: %v", err)
	}
	txn.PutRecord(ctx, ns.NamespaceID, db.DatabaseID, "posts", "a", kv.Document{"n": float64(1)})
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	second, _ := eng.Begin()
	defer second.Rollback()
	doc, err := second.GetRecord(ctx, ns.NamespaceID, db.DatabaseID, "posts", "a")
	if err != nil {
		t.Fatalf("GetRecord after commit failed: %v", err)
	}
	if doc["n"] != float64(1) {
		t.Errorf("Expected n=1, got %v", doc["n"])
	}
}

