package exec

import (
	"context"
	"fmt"
	"sync"

	"github.com/kartikbazzad/stratum/catalog"
	"github.com/kartikbazzad/stratum/expr"
	"github.com/kartikbazzad/stratum/kv"
)

// PermissionKind is the runtime decision derived from a catalog Permission.
type PermissionKind int

const (
	PermDeny PermissionKind = iota
	PermAllow
	PermConditional
)

func (k PermissionKind) String() string {
	switch k {
	case PermDeny:
		return "deny"
	case PermAllow:
		return "allow"
	case PermConditional:
		return "conditional"
	default:
		return "unknown"
	}
}

// PhysicalPermission is an executable permission decision. Conditional
// permissions carry the compiled row predicate.
type PhysicalPermission struct {
	Kind PermissionKind
	Expr expr.PhysicalExpr
}

// Allow and Deny are the unconditional decisions.
var (
	Allow = PhysicalPermission{Kind: PermAllow}
	Deny  = PhysicalPermission{Kind: PermDeny}
)

// ShouldCheckPerms decides whether row- and field-level checks are needed for
// an action under a context. It is a pure function of the context's auth
// state and the action.
//
// Checks are skipped only when auth is disabled server-wide and the actor is
// anonymous, or when the actor's role suffices for the action AND the actor's
// authorization level subsumes the targeted namespace and database. Role
// sufficiency alone never skips; an editor scoped to another database still
// gets checked.
func ShouldCheckPerms(ec *ExecutionContext, action Action) bool {
	if !ec.AuthEnabled() && ec.Auth().Anonymous {
		return false
	}
	if ec.Auth().Anonymous {
		return true
	}
	if ec.Auth().Role < action.requiredRole() {
		return true
	}
	var nsName, dbName string
	if ns, err := ec.Namespace(); err == nil {
		nsName = ns.Name
	}
	if db, err := ec.Database(); err == nil {
		dbName = db.Name
	}
	return !ec.Auth().Subsumes(nsName, dbName)
}

// ConvertPermission maps a catalog declaration to its runtime form. The
// mapping is pure: no I/O and no session dependence. Compiling the clause of
// a Specific permission is the only work performed.
func ConvertPermission(compiler *expr.Compiler, p catalog.Permission) (PhysicalPermission, error) {
	switch p.Kind {
	case catalog.PermissionNone:
		return Deny, nil
	case catalog.PermissionFull:
		return Allow, nil
	case catalog.PermissionSpecific:
		e, err := compiler.Compile(p.Expr)
		if err != nil {
			return Deny, fmt.Errorf("invalid permission clause: %w", err)
		}
		return PhysicalPermission{Kind: PermConditional, Expr: e}, nil
	default:
		return Deny, fmt.Errorf("unknown permission kind %d", p.Kind)
	}
}

// CheckPermissionForValue evaluates a resolved permission against one record.
// Deny is false, Allow is true, Conditional evaluates its clause with the
// record bound as the implicit value. Evaluation errors propagate; the
// decision never defaults on error.
func CheckPermissionForValue(ctx context.Context, ec *ExecutionContext, perm PhysicalPermission, doc kv.Document) (bool, error) {
	switch perm.Kind {
	case PermDeny:
		return false, nil
	case PermAllow:
		return true, nil
	case PermConditional:
		out, err := perm.Expr.Evaluate(ctx, expr.EvalContext{
			Doc:    doc,
			Auth:   ec.Auth().ClaimsMap(),
			Params: ec.Params(),
		})
		if err != nil {
			return false, err
		}
		v, ok := out.(bool)
		if !ok {
			return false, fmt.Errorf("permission clause %q did not evaluate to a boolean", perm.Expr.String())
		}
		return v, nil
	default:
		return false, fmt.Errorf("unknown permission kind %d", perm.Kind)
	}
}

// permCell is a compute-once cell for a stream's resolved permission state.
// The first poll computes and stores; later and re-entrant polls reuse the
// stored value. Valid only for the one Execute invocation that owns it; a
// new statement resolves from scratch against its own catalog view.
type permCell[T any] struct {
	once sync.Once
	val  T
	err  error
}

func (c *permCell[T]) get(compute func() (T, error)) (T, error) {
	c.once.Do(func() {
		c.val, c.err = compute()
	})
	return c.val, c.err
}

// resolveTablePermission reads the table's current definition through the
// statement's transaction and converts the permission for the given action
// class. Reading through the transaction makes DDL earlier in the same
// transaction visible.
func resolveTablePermission(ctx context.Context, ec *ExecutionContext, table string, pick func(catalog.PermissionSet) catalog.Permission) (PhysicalPermission, *catalog.TableDefinition, error) {
	ns, err := ec.Namespace()
	if err != nil {
		return Deny, nil, err
	}
	db, err := ec.Database()
	if err != nil {
		return Deny, nil, err
	}
	tb, err := ec.Txn().GetTableByName(ctx, ns.NamespaceID, db.DatabaseID, table)
	if err != nil {
		return Deny, nil, err
	}
	perm, err := ConvertPermission(ec.Compiler(), pick(tb.Permissions))
	if err != nil {
		return Deny, nil, err
	}
	return perm, tb, nil
}
