package exec

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/stratum/catalog"
	"github.com/kartikbazzad/stratum/kv"
)

func TestFetchPreservesOrderWithPool(t *testing.T) {
	_, ec := testEnv(t)
	defineTable(t, ec, selectPerms(catalog.Full()))
	ns, _ := ec.Namespace()
	db, _ := ec.Database()
	ctx := context.Background()

	const n = 40
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("r%03d", i)
		err := ec.Txn().PutRecord(ctx, ns.NamespaceID, db.DatabaseID, "t", ids[i], kv.Document{"i": float64(i)})
		if err != nil {
			t.Fatalf("PutRecord failed: %v", err)
		}
	}

	pool, err := ants.NewPool(4)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Release()

	pooled := NewRootContext(ec.Txn(), nil, ec.Compiler(), pool, ec.Opts())
	nsDef, _ := ec.Namespace()
	dbDef, _ := ec.Database()
	pec, err := pooled.WithNamespace(nsDef).WithDatabase(dbDef)
	if err != nil {
		t.Fatalf("WithDatabase failed: %v", err)
	}

	docs, denied, err := FetchAndFilterRecords(ctx, pec, ns.NamespaceID, db.DatabaseID, "t", ids, Allow, true)
	if err != nil {
		t.Fatalf("FetchAndFilterRecords failed: %v", err)
	}
	if denied != 0 {
		t.Errorf("Expected no denials, got %d", denied)
	}
	if len(docs) != n {
		t.Fatalf("Expected %d records, got %d", n, len(docs))
	}
	for i, doc := range docs {
		if doc["i"] != float64(i) {
			t.Fatalf("Order broken at %d: got %v", i, doc["i"])
		}
	}
}

func TestFetchCancellationReportsCancelled(t *testing.T) {
	_, ec := testEnv(t)
	defineTable(t, ec, selectPerms(catalog.Full()))
	ns, _ := ec.Namespace()
	db, _ := ec.Database()

	putRecords(t, ec, kv.Document{"a": float64(1)}, kv.Document{"a": float64(2)})

	pool, err := ants.NewPool(2)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Release()

	pooled := NewRootContext(ec.Txn(), nil, ec.Compiler(), pool, ec.Opts())
	nsDef, _ := ec.Namespace()
	dbDef, _ := ec.Database()
	pec, err := pooled.WithNamespace(nsDef).WithDatabase(dbDef)
	if err != nil {
		t.Fatalf("WithDatabase failed: %v", err)
	}

	// Cancellation hit while fetches are in flight must surface as the
	// stream-level cancellation kind, not a bare context error.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := FetchAndFilterRecords(ctx, pec, ns.NamespaceID, db.DatabaseID, "t", []string{"a", "b"}, Allow, true); !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected ErrCancelled from the pooled path, got %v", err)
	}

	// The sequential path reports the same kind.
	if _, _, err := FetchAndFilterRecords(ctx, ec, ns.NamespaceID, db.DatabaseID, "t", []string{"a", "b"}, Allow, true); !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected ErrCancelled from the sequential path, got %v", err)
	}
}

func TestFetchOmitsVanishedRecords(t *testing.T) {
	_, ec := testEnv(t)
	defineTable(t, ec, selectPerms(catalog.Full()))
	ns, _ := ec.Namespace()
	db, _ := ec.Database()
	ctx := context.Background()

	putRecords(t, ec, kv.Document{"a": float64(1)}, kv.Document{"a": float64(2)})

	// "ghost" never existed; a divergent index could still hand it out.
	docs, _, err := FetchAndFilterRecords(ctx, ec, ns.NamespaceID, db.DatabaseID, "t", []string{"a", "ghost", "b"}, Allow, true)
	if err != nil {
		t.Fatalf("FetchAndFilterRecords failed: %v", err)
	}
	got := fieldA(docs)
	if len(got) != 2 || got[0] != float64(1) || got[1] != float64(2) {
		t.Errorf("Expected [1 2] with ghost omitted, got %v", got)
	}
}

func TestFetchDenyAvoidsFetching(t *testing.T) {
	_, ec := testEnv(t)
	defineTable(t, ec, selectPerms(catalog.Full()))
	ns, _ := ec.Namespace()
	db, _ := ec.Database()

	docs, denied, err := FetchAndFilterRecords(context.Background(), ec, ns.NamespaceID, db.DatabaseID, "t", []string{"a", "b"}, Deny, true)
	if err != nil {
		t.Fatalf("FetchAndFilterRecords failed: %v", err)
	}
	if len(docs) != 0 || denied != 2 {
		t.Errorf("Deny should drop everything without fetching: docs=%d denied=%d", len(docs), denied)
	}
}

func TestFetchConditionalPerRecord(t *testing.T) {
	_, ec := testEnv(t)
	defineTable(t, ec, selectPerms(catalog.Full()))
	ns, _ := ec.Namespace()
	db, _ := ec.Database()
	ctx := context.Background()

	putRecords(t, ec,
		kv.Document{"a": float64(1)},
		kv.Document{"a": float64(2)},
		kv.Document{"a": float64(3)},
	)

	cond, err := ConvertPermission(ec.Compiler(), catalog.Specific(`value.a > 1`))
	if err != nil {
		t.Fatalf("ConvertPermission failed: %v", err)
	}
	docs, denied, err := FetchAndFilterRecords(ctx, ec, ns.NamespaceID, db.DatabaseID, "t", []string{"a", "b", "c"}, cond, true)
	if err != nil {
		t.Fatalf("FetchAndFilterRecords failed: %v", err)
	}
	if denied != 1 {
		t.Errorf("Expected 1 denial, got %d", denied)
	}
	got := fieldA(docs)
	if len(got) != 2 || got[0] != float64(2) || got[1] != float64(3) {
		t.Errorf("Expected [2 3], got %v", got)
	}
}
