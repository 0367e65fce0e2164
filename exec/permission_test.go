package exec

import (
	"context"
	"testing"

	"github.com/kartikbazzad/stratum/catalog"
	"github.com/kartikbazzad/stratum/expr"
	"github.com/kartikbazzad/stratum/kv"
)

func TestConvertPermissionMapping(t *testing.T) {
	compiler, _ := expr.NewCompiler(16)

	p, err := ConvertPermission(compiler, catalog.Full())
	if err != nil || p.Kind != PermAllow {
		t.Errorf("Full should convert to Allow, got %v err %v", p.Kind, err)
	}
	p, err = ConvertPermission(compiler, catalog.None())
	if err != nil || p.Kind != PermDeny {
		t.Errorf("None should convert to Deny, got %v err %v", p.Kind, err)
	}
	p, err = ConvertPermission(compiler, catalog.Specific(`value.a > 1`))
	if err != nil || p.Kind != PermConditional || p.Expr == nil {
		t.Errorf("Specific should convert to Conditional with expression, got %v err %v", p.Kind, err)
	}
	if _, err := ConvertPermission(compiler, catalog.Specific(`value.a >`)); err == nil {
		t.Error("Malformed clause should fail conversion")
	}
}

func TestCheckPermissionForValue(t *testing.T) {
	_, ec := testEnv(t)
	ctx := context.Background()
	doc := kv.Document{"a": float64(2)}

	if ok, err := CheckPermissionForValue(ctx, ec, Deny, doc); err != nil || ok {
		t.Errorf("Deny: expected false, got %v err %v", ok, err)
	}
	if ok, err := CheckPermissionForValue(ctx, ec, Allow, doc); err != nil || !ok {
		t.Errorf("Allow: expected true, got %v err %v", ok, err)
	}

	cond, _ := ConvertPermission(ec.Compiler(), catalog.Specific(`value.a > 1`))
	if ok, err := CheckPermissionForValue(ctx, ec, cond, doc); err != nil || !ok {
		t.Errorf("Conditional a>1 on a=2: expected true, got %v err %v", ok, err)
	}
	if ok, err := CheckPermissionForValue(ctx, ec, cond, kv.Document{"a": float64(0)}); err != nil || ok {
		t.Errorf("Conditional a>1 on a=0: expected false, got %v err %v", ok, err)
	}

	// Evaluation errors propagate, never default to a decision.
	broken, _ := ConvertPermission(ec.Compiler(), catalog.Specific(`value.missing.deeper == 1`))
	if _, err := CheckPermissionForValue(ctx, ec, broken, doc); err == nil {
		t.Error("Expected evaluation error to propagate")
	}
}

func TestShouldCheckPermsIsPure(t *testing.T) {
	_, ec := testEnvWithAuth(t, &Auth{ID: "u", Role: RoleEditor, Namespace: "test", Database: "main"})
	for i := 0; i < 3; i++ {
		if got := ShouldCheckPerms(ec, ActionView); got != ShouldCheckPerms(ec, ActionView) {
			t.Fatal("ShouldCheckPerms must be deterministic for fixed inputs")
		}
		_ = i
	}
}

func TestShouldCheckPermsDecisions(t *testing.T) {
	// Anonymous with auth enforcement on: always check.
	_, anon := testEnv(t)
	if !ShouldCheckPerms(anon, ActionView) {
		t.Error("Anonymous actor under enforcement must be checked")
	}

	// Root owner: role suffices and root scope subsumes everything.
	_, owner := testEnvWithAuth(t, &Auth{ID: "root", Role: RoleOwner})
	if ShouldCheckPerms(owner, ActionEdit) {
		t.Error("Root owner should skip checks")
	}

	// Viewer editing: role does not suffice even at root scope.
	_, viewer := testEnvWithAuth(t, &Auth{ID: "v", Role: RoleViewer})
	if !ShouldCheckPerms(viewer, ActionEdit) {
		t.Error("Viewer must be checked for edit actions")
	}

	// Editor scoped to a different database: role suffices but the scope
	// does not subsume the target, so checks still apply.
	_, foreign := testEnvWithAuth(t, &Auth{ID: "e", Role: RoleEditor, Namespace: "test", Database: "other"})
	if !ShouldCheckPerms(foreign, ActionEdit) {
		t.Error("Actor scoped to another database must be checked")
	}

	// Editor scoped to the target database: both conditions hold.
	_, local := testEnvWithAuth(t, &Auth{ID: "e", Role: RoleEditor, Namespace: "test", Database: "main"})
	if ShouldCheckPerms(local, ActionEdit) {
		t.Error("Editor scoped to the target database should skip checks")
	}
}

func TestAuthSubsumes(t *testing.T) {
	root := &Auth{ID: "r", Role: RoleOwner}
	if !root.Subsumes("any", "thing") {
		t.Error("Root actor subsumes every target")
	}
	nsActor := &Auth{ID: "n", Role: RoleEditor, Namespace: "test"}
	if !nsActor.Subsumes("test", "main") || nsActor.Subsumes("other", "main") {
		t.Error("Namespace actor subsumes only its namespace")
	}
	dbActor := &Auth{ID: "d", Role: RoleEditor, Namespace: "test", Database: "main"}
	if !dbActor.Subsumes("test", "main") || dbActor.Subsumes("test", "other") {
		t.Error("Database actor subsumes only its database")
	}
}

func TestPermCellComputesOnce(t *testing.T) {
	var cell permCell[int]
	calls := 0
	for i := 0; i < 3; i++ {
		v, err := cell.get(func() (int, error) {
			calls++
			return 42, nil
		})
		if err != nil || v != 42 {
			t.Fatalf("get returned %v, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("Expected exactly one computation, got %d", calls)
	}
}
