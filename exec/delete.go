package exec

import (
	"context"

	"github.com/kartikbazzad/stratum/kv"
)

// Delete removes the records produced by its input, within the statement's
// transaction. The table's DELETE permission is resolved once per stream:
// Deny yields no batches at all, making a protected table indistinguishable
// from an absent one; Conditional checks each record and silently drops
// denied ones. Permitted records are deleted through the transaction, which
// also maintains the table's indexes, and are yielded downstream. Durability
// follows the transaction's commit.
type Delete struct {
	Table   string
	Input   ExecOperator
	metrics *OperatorMetrics
}

func NewDelete(table string, input ExecOperator) *Delete {
	return &Delete{Table: table, Input: input, metrics: newOperatorMetrics("Delete")}
}

func (op *Delete) Name() string { return "Delete" }

func (op *Delete) Attrs() [][2]string {
	return [][2]string{{"table", op.Table}}
}

func (op *Delete) RequiredContext() ContextLevel {
	return subtreeLevel(LevelDatabase, op.Children())
}
func (op *Delete) Children() []ExecOperator     { return []ExecOperator{op.Input} }
func (op *Delete) AccessMode() AccessMode       { return AccessReadWrite }
func (op *Delete) CardinalityHint() Cardinality { return op.Input.CardinalityHint() }
func (op *Delete) Metrics() *OperatorMetrics    { return op.metrics }

func (op *Delete) Execute(ctx context.Context, ec *ExecutionContext) (BatchStream, error) {
	if err := checkLevel(op, ec); err != nil {
		return nil, err
	}
	input, err := op.Input.Execute(ctx, ec)
	if err != nil {
		return nil, err
	}
	return meter(op.metrics, &deleteStream{op: op, ec: ec, input: input}), nil
}

type deleteStream struct {
	op    *Delete
	ec    *ExecutionContext
	input BatchStream
	state streamState

	cell       permCell[PhysicalPermission]
	perm       PhysicalPermission
	checkPerms bool
}

func (s *deleteStream) Next(ctx context.Context) (*ValueBatch, bool, error) {
	if s.state == stateExhausted {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		s.state = stateExhausted
		return nil, false, cancelErr(err)
	}
	if s.state == stateUninitialized {
		perm, err := s.cell.get(func() (PhysicalPermission, error) {
			p, _, err := resolveTablePermission(ctx, s.ec, s.op.Table, pickDelete)
			return p, err
		})
		if err != nil {
			s.state = stateExhausted
			return nil, false, err
		}
		s.perm = perm
		s.checkPerms = ShouldCheckPerms(s.ec, ActionEdit)
		s.state = statePermissionResolved
		if s.checkPerms && s.perm.Kind == PermDeny {
			s.state = stateExhausted
			return nil, false, nil
		}
	}
	s.state = stateDraining

	ns, err := s.ec.Namespace()
	if err != nil {
		s.state = stateExhausted
		return nil, false, err
	}
	db, err := s.ec.Database()
	if err != nil {
		s.state = stateExhausted
		return nil, false, err
	}

	for {
		batch, ok, err := s.input.Next(ctx)
		if err != nil {
			s.state = stateExhausted
			return nil, false, err
		}
		if !ok {
			s.state = stateExhausted
			return nil, false, nil
		}

		out := make([]kv.Document, 0, len(batch.Values))
		denied := 0
		for _, doc := range batch.Values {
			if err := ctx.Err(); err != nil {
				s.state = stateExhausted
				return nil, false, cancelErr(err)
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
			rid, ok := doc.ID()
			if !ok {
				continue
			}
			deleted, err := s.ec.Txn().DelRecord(ctx, ns.NamespaceID, db.DatabaseID, s.op.Table, rid.Key)
			if err == kv.ErrRecordNotFound {
				// Vanished between scan and delete; not a failure.
				continue
			}
			if err != nil {
				s.state = stateExhausted
				return nil, false, err
			}
			out = append(out, deleted)
		}
		s.op.metrics.observeDenied(denied)
		if len(out) == 0 {
			continue
		}
		return &ValueBatch{Values: out}, true, nil
	}
}
