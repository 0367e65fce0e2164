// Package exec implements the streaming query-execution engine: layered
// execution contexts, the permission resolver, and a tree of pull-based
// physical operators evaluated against a transactional catalog and store.
//
// Execution is lazy throughout. Building an operator tree performs no I/O;
// Execute on the root returns a stream, and all catalog lookups, permission
// resolution and record access happen as that stream is polled.
package exec

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/stratum/catalog"
	"github.com/kartikbazzad/stratum/expr"
	"github.com/kartikbazzad/stratum/kv"
)

// ContextLevel is how far an execution context has been resolved. Operators
// declare the level they need; running one under a shallower context is a
// planner error and fails before any I/O.
type ContextLevel int

const (
	LevelRoot ContextLevel = iota
	LevelNamespace
	LevelDatabase
)

func (l ContextLevel) String() string {
	switch l {
	case LevelRoot:
		return "root"
	case LevelNamespace:
		return "namespace"
	case LevelDatabase:
		return "database"
	default:
		return "unknown"
	}
}

// MaxLevel returns the deeper of two levels.
func MaxLevel(a, b ContextLevel) ContextLevel {
	if a > b {
		return a
	}
	return b
}

// Options are the engine tunables an ExecutionContext carries.
type Options struct {
	// AuthEnabled controls whether permissions are enforced at all for
	// anonymous actors.
	AuthEnabled bool
	// BatchSize is the record count per batch for generic scans.
	BatchSize int
	// FullTextBatchSize is the smaller batch size used by full-text scans.
	FullTextBatchSize int
}

// DefaultOptions mirror the engine configuration defaults.
func DefaultOptions() Options {
	return Options{AuthEnabled: true, BatchSize: 64, FullTextBatchSize: 16}
}

// ExecutionContext is the layered Root/Namespace/Database bundle of
// transaction, auth and parameter state for one statement. It is immutable
// after construction; With* methods return derived copies.
type ExecutionContext struct {
	level       ContextLevel
	txn         *kv.Transaction
	auth        *Auth
	opts        Options
	params      map[string]interface{}
	compiler    *expr.Compiler
	pool        *ants.Pool
	statementID uuid.UUID

	ns *catalog.NamespaceDefinition
	db *catalog.DatabaseDefinition
}

// NewRootContext builds the root-level context for one statement.
func NewRootContext(txn *kv.Transaction, auth *Auth, compiler *expr.Compiler, pool *ants.Pool, opts Options) *ExecutionContext {
	if auth == nil {
		auth = AnonymousAuth()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.FullTextBatchSize <= 0 {
		opts.FullTextBatchSize = DefaultOptions().FullTextBatchSize
	}
	return &ExecutionContext{
		level:       LevelRoot,
		txn:         txn,
		auth:        auth,
		opts:        opts,
		params:      map[string]interface{}{},
		compiler:    compiler,
		pool:        pool,
		statementID: uuid.New(),
	}
}

// Level reports how far this context has been resolved.
func (ec *ExecutionContext) Level() ContextLevel { return ec.level }

// Txn returns the statement's transaction, shared read-mostly by every
// operator of the plan.
func (ec *ExecutionContext) Txn() *kv.Transaction { return ec.txn }

// Auth returns the statement's actor.
func (ec *ExecutionContext) Auth() *Auth { return ec.auth }

// AuthEnabled reports whether permission enforcement is on.
func (ec *ExecutionContext) AuthEnabled() bool { return ec.opts.AuthEnabled }

// Opts returns the engine tunables.
func (ec *ExecutionContext) Opts() Options { return ec.opts }

// Compiler returns the shared expression compiler.
func (ec *ExecutionContext) Compiler() *expr.Compiler { return ec.compiler }

// Pool returns the shared fetch worker pool. May be nil, in which case
// fetches run sequentially.
func (ec *ExecutionContext) Pool() *ants.Pool { return ec.pool }

// StatementID identifies this statement in logs and metrics.
func (ec *ExecutionContext) StatementID() uuid.UUID { return ec.statementID }

// Param returns a bound statement parameter.
func (ec *ExecutionContext) Param(name string) (interface{}, bool) {
	v, ok := ec.params[name]
	return v, ok
}

// Params returns the full parameter map for expression binding. Callers must
// not mutate it.
func (ec *ExecutionContext) Params() map[string]interface{} { return ec.params }

// Namespace returns the resolved namespace, or ErrContextLevel when the
// context is still at root level.
func (ec *ExecutionContext) Namespace() (*catalog.NamespaceDefinition, error) {
	if ec.level < LevelNamespace {
		return nil, fmt.Errorf("%w: need %s, have %s", ErrContextLevel, LevelNamespace, ec.level)
	}
	return ec.ns, nil
}

// Database returns the resolved database, or ErrContextLevel when the
// context has not been resolved that far.
func (ec *ExecutionContext) Database() (*catalog.DatabaseDefinition, error) {
	if ec.level < LevelDatabase {
		return nil, fmt.Errorf("%w: need %s, have %s", ErrContextLevel, LevelDatabase, ec.level)
	}
	return ec.db, nil
}

// WithNamespace derives a namespace-level context.
func (ec *ExecutionContext) WithNamespace(ns *catalog.NamespaceDefinition) *ExecutionContext {
	child := *ec
	child.level = LevelNamespace
	child.ns = ns
	child.db = nil
	return &child
}

// WithDatabase derives a database-level context from a namespace-level one.
func (ec *ExecutionContext) WithDatabase(db *catalog.DatabaseDefinition) (*ExecutionContext, error) {
	if ec.level < LevelNamespace {
		return nil, fmt.Errorf("%w: need %s, have %s", ErrContextLevel, LevelNamespace, ec.level)
	}
	child := *ec
	child.level = LevelDatabase
	child.db = db
	return &child, nil
}

// WithParam derives a context with one extra bound parameter.
func (ec *ExecutionContext) WithParam(name string, value interface{}) *ExecutionContext {
	child := *ec
	params := make(map[string]interface{}, len(ec.params)+1)
	for k, v := range ec.params {
		params[k] = v
	}
	params[name] = value
	child.params = params
	return &child
}

// WithTransaction derives a context bound to a different transaction. The
// statement id is regenerated; permission caches keyed to the old statement
// must not survive a transaction switch.
func (ec *ExecutionContext) WithTransaction(txn *kv.Transaction) *ExecutionContext {
	child := *ec
	child.txn = txn
	child.statementID = uuid.New()
	return &child
}
