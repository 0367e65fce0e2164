package exec

import (
	"context"

	"github.com/kartikbazzad/stratum/kv"
)

// Values yields a fixed set of records, split into batches of the context's
// batch size. It is the leaf used for inline record literals and as the
// input of write operators fed by precomputed ids.
type Values struct {
	Docs    []kv.Document
	metrics *OperatorMetrics
}

func NewValues(docs []kv.Document) *Values {
	return &Values{Docs: docs, metrics: newOperatorMetrics("Values")}
}

func (op *Values) Name() string { return "Values" }

func (op *Values) Attrs() [][2]string {
	return [][2]string{{"count", itoa(len(op.Docs))}}
}

func (op *Values) RequiredContext() ContextLevel { return LevelRoot }
func (op *Values) Children() []ExecOperator      { return nil }
func (op *Values) AccessMode() AccessMode        { return AccessReadOnly }
func (op *Values) CardinalityHint() Cardinality  { return CardinalityMany }
func (op *Values) Metrics() *OperatorMetrics     { return op.metrics }

func (op *Values) Execute(ctx context.Context, ec *ExecutionContext) (BatchStream, error) {
	if err := checkLevel(op, ec); err != nil {
		return nil, err
	}
	pos := 0
	size := ec.Opts().BatchSize
	return meter(op.metrics, funcStream(func(ctx context.Context) (*ValueBatch, bool, error) {
		if err := ctx.Err(); err != nil {
			return nil, false, cancelErr(err)
		}
		if pos >= len(op.Docs) {
			return nil, false, nil
		}
		end := pos + size
		if end > len(op.Docs) {
			end = len(op.Docs)
		}
		batch := &ValueBatch{Values: op.Docs[pos:end]}
		pos = end
		return batch, true, nil
	})), nil
}
