package exec

import (
	"context"

	"github.com/kartikbazzad/stratum/kv"
)

// ValueBatch is one ordered streaming unit of records. Streams never yield
// an empty batch; producers suppress them instead.
type ValueBatch struct {
	Values []kv.Document
}

// Len returns the record count.
func (b *ValueBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Values)
}

// AccessMode classifies an operator's effect on the store.
type AccessMode int

const (
	AccessReadOnly AccessMode = iota
	AccessReadWrite
)

func (m AccessMode) String() string {
	if m == AccessReadWrite {
		return "read-write"
	}
	return "read-only"
}

// Cardinality is a planner-facing output size hint.
type Cardinality int

const (
	// CardinalityUnknown makes no claim.
	CardinalityUnknown Cardinality = iota
	// CardinalityOne promises at most one record, as aggregate roots do.
	CardinalityOne
	// CardinalityMany is the general streaming case.
	CardinalityMany
)

func (c Cardinality) String() string {
	switch c {
	case CardinalityOne:
		return "one"
	case CardinalityMany:
		return "many"
	default:
		return "unknown"
	}
}

// BatchStream is a lazy pull-based stream of batches. Next returns the next
// batch, or false when the stream is exhausted. Cancellation of ctx surfaces
// as an error wrapping ErrCancelled. After false or an error, further calls
// keep returning false.
type BatchStream interface {
	Next(ctx context.Context) (*ValueBatch, bool, error)
}

// ExecOperator is a node of a physical plan tree. Nodes are immutable after
// construction and may be shared by multiple parents. Execute performs no
// record-level work itself; it composes and returns the stream, and all I/O
// happens as the stream is polled.
type ExecOperator interface {
	// Name identifies the operator kind in plans and logs.
	Name() string
	// Attrs returns ordered key/value pairs for plan rendering.
	Attrs() [][2]string
	// RequiredContext is the deepest level this subtree needs, the max of
	// the node's own requirement and all children's.
	RequiredContext() ContextLevel
	// Children returns the node's inputs.
	Children() []ExecOperator
	// AccessMode reports whether the subtree writes.
	AccessMode() AccessMode
	// CardinalityHint estimates output size.
	CardinalityHint() Cardinality
	// Metrics returns the node's counters. Shared across executions.
	Metrics() *OperatorMetrics
	// Execute validates the context level and returns the lazy stream.
	Execute(ctx context.Context, ec *ExecutionContext) (BatchStream, error)
}

// streamState is the lifecycle of one stream instance, driven entirely by
// Next calls.
type streamState int

const (
	stateUninitialized streamState = iota
	statePermissionResolved
	stateDraining
	stateExhausted
)

// subtreeLevel computes a node's required context as the max of its own
// requirement and its children's.
func subtreeLevel(own ContextLevel, children []ExecOperator) ContextLevel {
	level := own
	for _, c := range children {
		level = MaxLevel(level, c.RequiredContext())
	}
	return level
}

// checkLevel is the fail-fast context-mismatch gate run by every Execute
// before any I/O.
func checkLevel(op ExecOperator, ec *ExecutionContext) error {
	if ec.Level() < op.RequiredContext() {
		return &levelError{op: op.Name(), need: op.RequiredContext(), have: ec.Level()}
	}
	return nil
}

type levelError struct {
	op   string
	need ContextLevel
	have ContextLevel
}

func (e *levelError) Error() string {
	return "operator " + e.op + " requires " + e.need.String() + " context, have " + e.have.String()
}

func (e *levelError) Unwrap() error { return ErrContextLevel }

// Collect drains a stream into a flat record slice. Intended for statement
// roots and tests; operators themselves never materialize.
func Collect(ctx context.Context, s BatchStream) ([]kv.Document, error) {
	var out []kv.Document
	for {
		batch, ok, err := s.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, batch.Values...)
	}
}

// funcStream adapts a poll function to BatchStream.
type funcStream func(ctx context.Context) (*ValueBatch, bool, error)

func (f funcStream) Next(ctx context.Context) (*ValueBatch, bool, error) { return f(ctx) }

// emptyStream yields nothing.
func emptyStream() BatchStream {
	return funcStream(func(context.Context) (*ValueBatch, bool, error) {
		return nil, false, nil
	})
}

// singletonStream yields exactly one batch.
func singletonStream(batch *ValueBatch) BatchStream {
	done := false
	return funcStream(func(ctx context.Context) (*ValueBatch, bool, error) {
		if done {
			return nil, false, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, false, cancelErr(err)
		}
		done = true
		return batch, true, nil
	})
}
