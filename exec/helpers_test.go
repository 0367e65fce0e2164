package exec

import (
	"context"
	"testing"

	"github.com/kartikbazzad/stratum/catalog"
	"github.com/kartikbazzad/stratum/expr"
	"github.com/kartikbazzad/stratum/internal/fts"
	"github.com/kartikbazzad/stratum/kv"
)

// testEnv wires a store, compiler and analyzer the way the engine does and
// returns a database-level context for table "t". The actor is anonymous
// with auth enforcement on, so every permission path is exercised.
func testEnv(t *testing.T) (*kv.Store, *ExecutionContext) {
	t.Helper()
	return testEnvWithAuth(t, nil)
}

func testEnvWithAuth(t *testing.T, auth *Auth) (*kv.Store, *ExecutionContext) {
	t.Helper()
	compiler, err := expr.NewCompiler(64)
	if err != nil {
		t.Fatalf("NewCompiler failed: %v", err)
	}
	analyzer := fts.NewAnalyzer()

	store := kv.NewStore()
	store.SetConditionFunc(func(ctx context.Context, condition string, doc kv.Document) (bool, error) {
		e, err := compiler.Compile(condition)
		if err != nil {
			return false, err
		}
		out, err := e.Evaluate(ctx, expr.EvalContext{Doc: doc})
		if err != nil {
			return false, err
		}
		return expr.Truthy(out), nil
	})
	store.SetAnalyzeFunc(analyzer.Analyze)

	txn, err := store.Begin()
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	ctx := context.Background()
	ns, err := txn.DefineNamespace(ctx, "test")
	if err != nil {
		t.Fatalf("DefineNamespace failed: %v", err)
	}
	db, err := txn.DefineDatabase(ctx, ns, "main")
	if err != nil {
		t.Fatalf("DefineDatabase failed: %v", err)
	}

	root := NewRootContext(txn, auth, compiler, nil, Options{
		AuthEnabled:       true,
		BatchSize:         2,
		FullTextBatchSize: 1,
	})
	ec, err := root.WithNamespace(ns).WithDatabase(db)
	if err != nil {
		t.Fatalf("WithDatabase failed: %v", err)
	}
	return store, ec
}

// defineTable defines table "t" with the given permissions in the context's
// transaction.
func defineTable(t *testing.T, ec *ExecutionContext, perms catalog.PermissionSet) {
	t.Helper()
	ns, _ := ec.Namespace()
	db, _ := ec.Database()
	def := &catalog.TableDefinition{Name: "t", Permissions: perms}
	if err := ec.Txn().DefineTable(context.Background(), ns.NamespaceID, db.DatabaseID, def); err != nil {
		t.Fatalf("DefineTable failed: %v", err)
	}
}

// putRecords inserts documents keyed r0, r1, ... in order.
func putRecords(t *testing.T, ec *ExecutionContext, docs ...kv.Document) {
	t.Helper()
	ns, _ := ec.Namespace()
	db, _ := ec.Database()
	for i, doc := range docs {
		key := string(rune('a' + i))
		if err := ec.Txn().PutRecord(context.Background(), ns.NamespaceID, db.DatabaseID, "t", key, doc); err != nil {
			t.Fatalf("PutRecord %d failed: %v", i, err)
		}
	}
}

func selectPerms(p catalog.Permission) catalog.PermissionSet {
	return catalog.PermissionSet{
		Select: p,
		Create: catalog.Full(),
		Update: catalog.Full(),
		Delete: catalog.Full(),
	}
}

// fieldA extracts the "a" values of a result set for compact assertions.
func fieldA(docs []kv.Document) []interface{} {
	out := make([]interface{}, 0, len(docs))
	for _, d := range docs {
		out = append(out, d["a"])
	}
	return out
}
