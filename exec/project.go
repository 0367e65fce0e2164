package exec

import (
	"context"

	"github.com/kartikbazzad/stratum/expr"
	"github.com/kartikbazzad/stratum/kv"
)

// Projection is one output column: a name and the expression producing it.
// A nil expression copies the source field of the same name.
type Projection struct {
	Name string
	Expr expr.PhysicalExpr
}

// Project evaluates a fixed set of output fields per record. The table's
// per-field SELECT permission map is resolved once per stream; fields whose
// permission check fails for a record are omitted from that record, never an
// error. Projections with no backing field definition are synthetic and
// always pass. Records where the table-level check fails are dropped, and an
// all-denied input batch produces no output batch.
type Project struct {
	Table   string
	Fields  []Projection
	Input   ExecOperator
	metrics *OperatorMetrics
}

func NewProject(table string, fields []Projection, input ExecOperator) *Project {
	return &Project{Table: table, Fields: fields, Input: input, metrics: newOperatorMetrics("Project")}
}

func (op *Project) Name() string { return "Project" }

func (op *Project) Attrs() [][2]string {
	attrs := [][2]string{{"table", op.Table}}
	for _, f := range op.Fields {
		if f.Expr != nil {
			attrs = append(attrs, [2]string{"field", f.Name + " = " + f.Expr.String()})
		} else {
			attrs = append(attrs, [2]string{"field", f.Name})
		}
	}
	return attrs
}

func (op *Project) RequiredContext() ContextLevel {
	return subtreeLevel(LevelDatabase, op.Children())
}
func (op *Project) Children() []ExecOperator     { return []ExecOperator{op.Input} }
func (op *Project) AccessMode() AccessMode       { return op.Input.AccessMode() }
func (op *Project) CardinalityHint() Cardinality { return op.Input.CardinalityHint() }
func (op *Project) Metrics() *OperatorMetrics    { return op.metrics }

func (op *Project) Execute(ctx context.Context, ec *ExecutionContext) (BatchStream, error) {
	if err := checkLevel(op, ec); err != nil {
		return nil, err
	}
	input, err := op.Input.Execute(ctx, ec)
	if err != nil {
		return nil, err
	}
	return meter(op.metrics, &projectStream{op: op, ec: ec, input: input}), nil
}

type projectStream struct {
	op    *Project
	ec    *ExecutionContext
	input BatchStream
	state streamState

	cell       permCell[PhysicalPermission]
	perm       PhysicalPermission
	checkPerms bool
	fields     *fieldState
}

func (s *projectStream) resolve(ctx context.Context) error {
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
	s.state = statePermissionResolved
	return nil
}

func (s *projectStream) Next(ctx context.Context) (*ValueBatch, bool, error) {
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
		if s.checkPerms && s.perm.Kind == PermDeny {
			s.state = stateExhausted
			return nil, false, nil
		}
	}
	s.state = stateDraining

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
			projected, err := s.projectRecord(ctx, doc)
			if err != nil {
				s.state = stateExhausted
				return nil, false, err
			}
			out = append(out, projected)
		}
		s.op.metrics.observeDenied(denied)
		if len(out) == 0 {
			continue
		}
		return &ValueBatch{Values: out}, true, nil
	}
}

// projectRecord builds one output record. Each output field is gated by the
// source table's field permission when a field definition of that name
// exists; fields denied for this record are left out silently.
func (s *projectStream) projectRecord(ctx context.Context, doc kv.Document) (kv.Document, error) {
	out := make(kv.Document, len(s.op.Fields))
	for _, f := range s.op.Fields {
		if s.checkPerms {
			if perm, defined := s.fields.perms[f.Name]; defined {
				allowed, err := CheckPermissionForValue(ctx, s.ec, perm, doc)
				if err != nil {
					return nil, err
				}
				if !allowed {
					continue
				}
			}
		}
		if f.Expr == nil {
			if v, ok := doc[f.Name]; ok {
				out[f.Name] = v
			}
			continue
		}
		v, err := f.Expr.Evaluate(ctx, expr.EvalContext{
			Doc:    doc,
			Auth:   s.ec.Auth().ClaimsMap(),
			Params: s.ec.Params(),
		})
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}
