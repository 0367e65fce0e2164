package exec

import (
	"context"

	"github.com/kartikbazzad/stratum/expr"
	"github.com/kartikbazzad/stratum/keys"
	"github.com/kartikbazzad/stratum/kv"
)

// TableScan streams a table's records in storage order, applying the table's
// SELECT permission, field-level permissions, an optional predicate, and a
// pushed-down START/LIMIT window.
type TableScan struct {
	Table     string
	Predicate expr.PhysicalExpr // nil for no WHERE clause
	Start     int64             // -1 for none
	Limit     int64             // -1 for unlimited
	metrics   *OperatorMetrics
}

// NewTableScan builds a scan node. start and limit use -1 for "absent".
func NewTableScan(table string, predicate expr.PhysicalExpr, start, limit int64) *TableScan {
	return &TableScan{
		Table:     table,
		Predicate: predicate,
		Start:     start,
		Limit:     limit,
		metrics:   newOperatorMetrics("TableScan"),
	}
}

func (op *TableScan) Name() string { return "TableScan" }

func (op *TableScan) Attrs() [][2]string {
	attrs := [][2]string{{"table", op.Table}}
	if op.Predicate != nil {
		attrs = append(attrs, [2]string{"predicate", op.Predicate.String()})
	}
	return attrs
}

func (op *TableScan) RequiredContext() ContextLevel { return LevelDatabase }
func (op *TableScan) Children() []ExecOperator      { return nil }
func (op *TableScan) AccessMode() AccessMode        { return AccessReadOnly }
func (op *TableScan) CardinalityHint() Cardinality  { return CardinalityMany }
func (op *TableScan) Metrics() *OperatorMetrics     { return op.metrics }

func (op *TableScan) Execute(ctx context.Context, ec *ExecutionContext) (BatchStream, error) {
	if err := checkLevel(op, ec); err != nil {
		return nil, err
	}
	return meter(op.metrics, &tableScanStream{op: op, ec: ec}), nil
}

// tableScanStream drives one execution of a TableScan. Permission and field
// state are resolved on the first poll, against the statement transaction's
// current catalog view.
type tableScanStream struct {
	op    *TableScan
	ec    *ExecutionContext
	state streamState

	cell       permCell[PhysicalPermission]
	perm       PhysicalPermission
	checkPerms bool
	fields     *fieldState
	pipeline   *scanPipeline
	iter       *kv.ScanIterator
}

func (s *tableScanStream) resolve(ctx context.Context) error {
	perm, err := s.cell.get(func() (PhysicalPermission, error) {
		p, _, err := resolveTablePermission(ctx, s.ec, s.op.Table, pickSelect)
		return p, err
	})
	if err != nil {
		return err
	}
	s.perm = perm
	s.checkPerms = ShouldCheckPerms(s.ec, ActionView)
	s.fields, err = buildFieldState(ctx, s.ec, s.op.Table)
	if err != nil {
		return err
	}
	s.pipeline = newScanPipeline(s.op.Predicate, s.op.Start, s.op.Limit)

	ns, err := s.ec.Namespace()
	if err != nil {
		return err
	}
	db, err := s.ec.Database()
	if err != nil {
		return err
	}
	prefix := keys.RecordPrefix(ns.NamespaceID, db.DatabaseID, s.op.Table)
	s.iter, err = s.ec.Txn().ScanBatches(prefix, keys.PrefixEnd(prefix), s.ec.Opts().BatchSize)
	if err != nil {
		return err
	}
	s.state = statePermissionResolved
	return nil
}

func (s *tableScanStream) Next(ctx context.Context) (*ValueBatch, bool, error) {
	if s.state == stateExhausted {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		s.state = stateExhausted
		return nil, false, cancelErr(err)
	}
	if s.state == stateUninitialized {
		if err := s.resolve(ctx); err != nil {
			s.state = stateExhausted
			return nil, false, err
		}
		// Deny yields nothing, indistinguishable from an absent table.
		if s.checkPerms && s.perm.Kind == PermDeny {
			s.state = stateExhausted
			return nil, false, nil
		}
	}
	s.state = stateDraining

	ns, _ := s.ec.Namespace()
	db, _ := s.ec.Database()
	for {
		if err := ctx.Err(); err != nil {
			s.state = stateExhausted
			return nil, false, cancelErr(err)
		}
		if s.pipeline.done() {
			s.state = stateExhausted
			return nil, false, nil
		}
		entries, err := s.iter.NextBatch(ctx)
		if err != nil {
			s.state = stateExhausted
			return nil, false, err
		}
		if entries == nil {
			s.state = stateExhausted
			return nil, false, nil
		}

		docs := make([]kv.Document, 0, len(entries))
		denied := 0
		for _, e := range entries {
			id, err := keys.DecodeRecordID(ns.NamespaceID, db.DatabaseID, s.op.Table, e.Key)
			if err != nil {
				s.state = stateExhausted
				return nil, false, err
			}
			doc, err := kv.DeserializeDocument(e.Value)
			if err != nil {
				s.state = stateExhausted
				return nil, false, err
			}
			doc.SetID(kv.RecordID{Table: s.op.Table, Key: id})

			doc, err = s.fields.computeFields(ctx, s.ec, doc)
			if err != nil {
				s.state = stateExhausted
				return nil, false, err
			}
			if s.checkPerms {
				allowed, err := CheckPermissionForValue(ctx, s.ec, s.perm, doc)
				if err != nil {
					s.state = stateExhausted
					return nil, false, err
				}
				if !allowed {
					denied++
					continue
				}
			}
			doc, err = s.fields.filterFields(ctx, s.ec, doc, s.checkPerms)
			if err != nil {
				s.state = stateExhausted
				return nil, false, err
			}
			docs = append(docs, doc)
		}
		s.op.metrics.observeDenied(denied)

		docs, err = s.pipeline.processBatch(ctx, s.ec, docs)
		if err != nil {
			s.state = stateExhausted
			return nil, false, err
		}
		if len(docs) == 0 {
			continue
		}
		return &ValueBatch{Values: docs}, true, nil
	}
}
