// Package stratum implements an embedded streaming query-execution engine
// for a multi-tenant document database.
//
// Architecture:
// The engine is composed of several layers:
//  1. Engine: The main entry point wiring store, compiler and pools together.
//  2. Catalog: Namespace/database/table/field/index definitions with
//     tri-state permissions, read through the statement's transaction.
//  3. KV: An MVCC store with snapshot-isolated transactions, ordered ranged
//     scans, and index maintenance inside the transaction write set.
//  4. Expr: CEL-compiled predicates and permission clauses with a bounded
//     program cache.
//  5. Exec: Layered execution contexts, the permission resolver, and a tree
//     of pull-based streaming operators (scans, projection, deletion,
//     count and full-text index paths).
//
// Nothing executes eagerly: building an operator tree performs no I/O, and
// all catalog lookups, permission resolution and record access happen as the
// root stream is polled.
package stratum

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/stratum/catalog"
	"github.com/kartikbazzad/stratum/exec"
	"github.com/kartikbazzad/stratum/expr"
	"github.com/kartikbazzad/stratum/internal/config"
	"github.com/kartikbazzad/stratum/internal/fts"
	"github.com/kartikbazzad/stratum/internal/logger"
	"github.com/kartikbazzad/stratum/kv"
)

// Engine is an embedded query-execution engine instance. It owns the store,
// the expression compiler, the analyzer and the fetch worker pool, and hands
// out per-statement execution contexts.
type Engine struct {
	store    *kv.Store
	compiler *expr.Compiler
	analyzer *fts.Analyzer
	pool     *ants.Pool
	opts     Options
	mu       sync.Mutex
	closed   bool
}

// Open builds an engine from options. Invalid option combinations are
// rejected here, before any resource is allocated.
func Open(opts Options) (*Engine, error) {
	opts.applyDefaults()

	logger.Init(logger.Config{Level: opts.LogLevel, Format: opts.LogFormat})

	compiler, err := expr.NewCompiler(opts.ExprCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to build expression compiler: %w", err)
	}

	var pool *ants.Pool
	if opts.FetchWorkers > 0 {
		pool, err = ants.NewPool(opts.FetchWorkers)
		if err != nil {
			return nil, fmt.Errorf("failed to build fetch pool: %w", err)
		}
	}

	analyzer := fts.NewAnalyzer()
	store := kv.NewStore()

	// Index maintenance needs the same expression and analysis semantics
	// as query execution, injected to keep the store layer free of them.
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

	eng := &Engine{
		store:    store,
		compiler: compiler,
		analyzer: analyzer,
		pool:     pool,
		opts:     opts,
	}
	logger.Info("engine opened",
		"batch_size", opts.BatchSize,
		"fulltext_batch_size", opts.FullTextBatchSize,
		"auth_enabled", opts.AuthEnabled,
		"fetch_workers", opts.FetchWorkers,
	)
	return eng, nil
}

// OpenFromEnv builds an engine configured from STRATUM_-prefixed environment
// variables.
func OpenFromEnv() (*Engine, error) {
	cfg, err := config.LoadEngine("STRATUM_")
	if err != nil {
		return nil, err
	}
	return Open(OptionsFromConfig(cfg))
}

// Store exposes the underlying transactional store.
func (e *Engine) Store() *kv.Store { return e.store }

// Compiler exposes the shared expression compiler.
func (e *Engine) Compiler() *expr.Compiler { return e.compiler }

// Analyzer exposes the full-text analyzer used for index maintenance and
// query term extraction.
func (e *Engine) Analyzer() *fts.Analyzer { return e.analyzer }

// Begin starts a snapshot-isolated transaction.
func (e *Engine) Begin() (*kv.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, kv.ErrStoreClosed
	}
	return e.store.Begin()
}

// NewContext builds the root execution context for one statement running in
// txn as the given actor. A nil auth runs the statement anonymously.
func (e *Engine) NewContext(txn *kv.Transaction, auth *exec.Auth) *exec.ExecutionContext {
	return exec.NewRootContext(txn, auth, e.compiler, e.pool, exec.Options{
		AuthEnabled:       e.opts.AuthEnabled,
		BatchSize:         e.opts.BatchSize,
		FullTextBatchSize: e.opts.FullTextBatchSize,
	})
}

// DatabaseContext resolves a root context down to a database level in one
// step, defining the namespace and database if absent.
func (e *Engine) DatabaseContext(ctx context.Context, root *exec.ExecutionContext, nsName, dbName string) (*exec.ExecutionContext, error) {
	ns, err := root.Txn().DefineNamespace(ctx, nsName)
	if err != nil {
		return nil, err
	}
	db, err := root.Txn().DefineDatabase(ctx, ns, dbName)
	if err != nil {
		return nil, err
	}
	return root.WithNamespace(ns).WithDatabase(db)
}

// FullTextScan builds a full-text scan node bound to the engine's analyzer.
func (e *Engine) FullTextScan(table, index, query string) *exec.FullTextScan {
	return exec.NewFullTextScan(table, index, query, e.analyzer)
}

// Close releases the engine's resources. Transactions begun before Close
// may still commit; new ones are refused.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.pool != nil {
		e.pool.Release()
	}
	logger.Info("engine closed")
	return e.store.Close()
}

// Resolve is a convenience for looking up a table definition through a
// context's transaction.
func Resolve(ctx context.Context, ec *exec.ExecutionContext, table string) (*catalog.TableDefinition, error) {
	ns, err := ec.Namespace()
	if err != nil {
		return nil, err
	}
	db, err := ec.Database()
	if err != nil {
		return nil, err
	}
	return ec.Txn().GetTableByName(ctx, ns.NamespaceID, db.DatabaseID, table)
}
