package exec

import (
	"context"

	"github.com/kartikbazzad/stratum/catalog"
	"github.com/kartikbazzad/stratum/expr"
	"github.com/kartikbazzad/stratum/kv"
)

// fieldState is a table's per-field SELECT permission map plus its computed
// field expressions, resolved once per stream on first batch.
type fieldState struct {
	// perms maps field name to its resolved select permission. Fields
	// absent from the map are synthetic and always pass.
	perms map[string]PhysicalPermission
	// computed holds fields whose value is derived per record.
	computed []computedField
}

type computedField struct {
	name string
	expr expr.PhysicalExpr
}

// buildFieldState reads the table's field definitions through the
// statement's transaction and compiles their permissions and computed
// expressions.
func buildFieldState(ctx context.Context, ec *ExecutionContext, table string) (*fieldState, error) {
	ns, err := ec.Namespace()
	if err != nil {
		return nil, err
	}
	db, err := ec.Database()
	if err != nil {
		return nil, err
	}
	fields, err := ec.Txn().AllTableFields(ctx, ns.NamespaceID, db.DatabaseID, table)
	if err != nil {
		return nil, err
	}
	st := &fieldState{perms: make(map[string]PhysicalPermission, len(fields))}
	for _, f := range fields {
		perm, err := ConvertPermission(ec.Compiler(), f.Select)
		if err != nil {
			return nil, err
		}
		st.perms[f.Name] = perm
		if f.Computed != "" {
			e, err := ec.Compiler().Compile(f.Computed)
			if err != nil {
				return nil, err
			}
			st.computed = append(st.computed, computedField{name: f.Name, expr: e})
		}
	}
	return st, nil
}

// computeFields evaluates the table's computed fields against a record,
// writing results into a copy when any computed field exists. Runs before
// field permission filtering so a computed field is itself subject to its
// own select permission.
func (st *fieldState) computeFields(ctx context.Context, ec *ExecutionContext, doc kv.Document) (kv.Document, error) {
	if len(st.computed) == 0 {
		return doc, nil
	}
	out := doc.Clone()
	for _, cf := range st.computed {
		v, err := cf.expr.Evaluate(ctx, expr.EvalContext{
			Doc:    out,
			Auth:   ec.Auth().ClaimsMap(),
			Params: ec.Params(),
		})
		if err != nil {
			return nil, err
		}
		out[cf.name] = v
	}
	return out, nil
}

// filterFields removes fields whose select permission denies the record,
// omitting silently rather than erroring. Fields without a definition are
// synthetic and always kept. When checkPerms is false the input is returned
// untouched.
func (st *fieldState) filterFields(ctx context.Context, ec *ExecutionContext, doc kv.Document, checkPerms bool) (kv.Document, error) {
	if !checkPerms {
		return doc, nil
	}
	needsCopy := false
	for name := range doc {
		if perm, ok := st.perms[name]; ok && perm.Kind != PermAllow {
			needsCopy = true
			break
		}
	}
	if !needsCopy {
		return doc, nil
	}
	out := make(kv.Document, len(doc))
	for name, value := range doc {
		perm, defined := st.perms[name]
		if !defined {
			out[name] = value
			continue
		}
		allowed, err := CheckPermissionForValue(ctx, ec, perm, doc)
		if err != nil {
			return nil, err
		}
		if allowed {
			out[name] = value
		}
	}
	return out, nil
}

// scanPipeline applies the per-record phases shared by scan-class streams:
// predicate filtering, then pushed-down START/LIMIT accounting across
// batches.
type scanPipeline struct {
	predicate expr.PhysicalExpr // nil means no WHERE clause
	start     int64             // records to skip, -1 for none
	limit     int64             // records to emit, -1 for unlimited
	skipped   int64
	emitted   int64
}

func newScanPipeline(predicate expr.PhysicalExpr, start, limit int64) *scanPipeline {
	if start < 0 {
		start = 0
	}
	return &scanPipeline{predicate: predicate, start: start, limit: limit}
}

// done reports whether the limit has been reached and upstream polling can
// stop early.
func (p *scanPipeline) done() bool {
	return p.limit >= 0 && p.emitted >= p.limit
}

// processBatch filters a batch of records through the predicate and the
// START/LIMIT window, preserving order. The returned slice may be empty;
// callers suppress empty batches.
func (p *scanPipeline) processBatch(ctx context.Context, ec *ExecutionContext, docs []kv.Document) ([]kv.Document, error) {
	out := make([]kv.Document, 0, len(docs))
	for _, doc := range docs {
		if p.done() {
			break
		}
		if p.predicate != nil {
			v, err := p.predicate.Evaluate(ctx, expr.EvalContext{
				Doc:    doc,
				Auth:   ec.Auth().ClaimsMap(),
				Params: ec.Params(),
			})
			if err != nil {
				return nil, err
			}
			if !expr.Truthy(v) {
				continue
			}
		}
		if p.skipped < p.start {
			p.skipped++
			continue
		}
		out = append(out, doc)
		p.emitted++
	}
	return out, nil
}

// pickSelect and friends choose one permission out of a table's set.
func pickSelect(ps catalog.PermissionSet) catalog.Permission { return ps.Select }
func pickDelete(ps catalog.PermissionSet) catalog.Permission { return ps.Delete }
