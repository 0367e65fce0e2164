package exec

import (
	"context"
	"strings"

	"github.com/kartikbazzad/stratum/catalog"
	"github.com/kartikbazzad/stratum/internal/logger"
	"github.com/kartikbazzad/stratum/keys"
	"github.com/kartikbazzad/stratum/kv"
)

// IndexCountScan answers count aggregates from a COUNT index's change log
// instead of touching records. The fast path applies only when an index's
// stored condition exactly equals the query condition; near misses fall back
// to scan, filter and count. A Conditional table permission also falls back,
// since delta sums cannot express per-record visibility. Deny short-circuits
// to a count of zero with no store access. A query without a condition
// counts the raw record keyspace directly, the cheapest path of all.
type IndexCountScan struct {
	Table string
	// Condition is the normalized query condition source, empty for
	// count-all.
	Condition string
	metrics   *OperatorMetrics
}

func NewIndexCountScan(table, condition string) *IndexCountScan {
	return &IndexCountScan{Table: table, Condition: condition, metrics: newOperatorMetrics("IndexCountScan")}
}

func (op *IndexCountScan) Name() string { return "IndexCountScan" }

func (op *IndexCountScan) Attrs() [][2]string {
	attrs := [][2]string{{"table", op.Table}}
	if op.Condition != "" {
		attrs = append(attrs, [2]string{"condition", op.Condition})
	}
	return attrs
}

func (op *IndexCountScan) RequiredContext() ContextLevel { return LevelDatabase }
func (op *IndexCountScan) Children() []ExecOperator      { return nil }
func (op *IndexCountScan) AccessMode() AccessMode        { return AccessReadOnly }
func (op *IndexCountScan) CardinalityHint() Cardinality  { return CardinalityOne }
func (op *IndexCountScan) Metrics() *OperatorMetrics     { return op.metrics }

func (op *IndexCountScan) Execute(ctx context.Context, ec *ExecutionContext) (BatchStream, error) {
	if err := checkLevel(op, ec); err != nil {
		return nil, err
	}
	return meter(op.metrics, &countScanStream{op: op, ec: ec}), nil
}

type countScanStream struct {
	op    *IndexCountScan
	ec    *ExecutionContext
	state streamState
	cell  permCell[PhysicalPermission]
}

func (s *countScanStream) Next(ctx context.Context) (*ValueBatch, bool, error) {
	if s.state == stateExhausted {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		s.state = stateExhausted
		return nil, false, cancelErr(err)
	}
	s.state = stateExhausted

	perm, err := s.cell.get(func() (PhysicalPermission, error) {
		p, _, err := resolveTablePermission(ctx, s.ec, s.op.Table, pickSelect)
		return p, err
	})
	if err != nil {
		return nil, false, err
	}
	checkPerms := ShouldCheckPerms(s.ec, ActionView)

	if checkPerms && perm.Kind == PermDeny {
		return countBatch(0), true, nil
	}
	if checkPerms && perm.Kind == PermConditional {
		// Per-record visibility; the change log cannot answer this.
		logger.Debug("count index fallback", "table", s.op.Table, "reason", "conditional permission")
		n, err := s.fallbackCount(ctx)
		if err != nil {
			return nil, false, err
		}
		return countBatch(n), true, nil
	}

	ns, err := s.ec.Namespace()
	if err != nil {
		return nil, false, err
	}
	db, err := s.ec.Database()
	if err != nil {
		return nil, false, err
	}

	if s.op.Condition == "" {
		n, err := s.ec.Txn().CountRecords(ctx, ns.NamespaceID, db.DatabaseID, s.op.Table)
		if err != nil {
			return nil, false, err
		}
		return countBatch(n), true, nil
	}

	idx, err := s.findExactIndex(ctx, ns.NamespaceID, db.DatabaseID)
	if err != nil {
		return nil, false, err
	}
	if idx == nil {
		logger.Debug("count index fallback", "table", s.op.Table, "reason", "no exact condition match")
		n, err := s.fallbackCount(ctx)
		if err != nil {
			return nil, false, err
		}
		return countBatch(n), true, nil
	}

	n, err := s.sumDeltas(ctx, ns.NamespaceID, db.DatabaseID, idx)
	if err != nil {
		return nil, false, err
	}
	return countBatch(n), true, nil
}

// findExactIndex returns the COUNT index whose stored condition exactly
// matches the query condition, or nil when none does.
func (s *countScanStream) findExactIndex(ctx context.Context, ns, db uint32) (*catalog.IndexDefinition, error) {
	indexes, err := s.ec.Txn().AllTableIndexes(ctx, ns, db, s.op.Table)
	if err != nil {
		return nil, err
	}
	want := normalizeCondition(s.op.Condition)
	for _, idx := range indexes {
		if idx.Kind != catalog.IndexCount {
			continue
		}
		if normalizeCondition(idx.Condition) == want {
			return idx, nil
		}
	}
	return nil, nil
}

// sumDeltas folds the index's signed change log. Cancellation is checked on
// every entry because a long-lived index can have an unbounded log.
func (s *countScanStream) sumDeltas(ctx context.Context, ns, db uint32, idx *catalog.IndexDefinition) (int64, error) {
	prefix := keys.CountDeltaPrefix(ns, db, s.op.Table, idx.IndexID)
	iter, err := s.ec.Txn().ScanBatches(prefix, keys.PrefixEnd(prefix), s.ec.Opts().BatchSize)
	if err != nil {
		return 0, err
	}
	var total int64
	for {
		entries, err := iter.NextBatch(ctx)
		if err != nil {
			return 0, err
		}
		if entries == nil {
			return total, nil
		}
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return 0, cancelErr(err)
			}
			delta, err := keys.DecodeDelta(e.Value)
			if err != nil {
				return 0, err
			}
			total += delta
		}
	}
}

// fallbackCount scans, filters and counts through the regular scan path,
// preserving every permission and predicate guarantee of TableScan.
func (s *countScanStream) fallbackCount(ctx context.Context) (int64, error) {
	scan := NewTableScan(s.op.Table, nil, -1, -1)
	if s.op.Condition != "" {
		e, err := s.ec.Compiler().Compile(s.op.Condition)
		if err != nil {
			return 0, err
		}
		scan = NewTableScan(s.op.Table, e, -1, -1)
	}
	stream, err := scan.Execute(ctx, s.ec)
	if err != nil {
		return 0, err
	}
	var total int64
	for {
		batch, ok, err := stream.Next(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			return total, nil
		}
		total += int64(batch.Len())
	}
}

// normalizeCondition collapses the whitespace differences that do not change
// a condition's meaning. Anything deeper than that is a near miss and falls
// back.
func normalizeCondition(cond string) string {
	return strings.Join(strings.Fields(cond), " ")
}

func countBatch(n int64) *ValueBatch {
	return &ValueBatch{Values: []kv.Document{{"count": n}}}
}
