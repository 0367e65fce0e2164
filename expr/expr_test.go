package expr

import (
	"context"
	"testing"
)

func TestCompileAndEvaluate(t *testing.T) {
	c, err := NewCompiler(16)
	if err != nil {
		t.Fatalf("NewCompiler failed: %v", err)
	}
	e, err := c.Compile(`value.a > 1`)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	out, err := e.Evaluate(context.Background(), EvalContext{Doc: map[string]interface{}{"a": 2}})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if out != true {
		t.Errorf("Expected true for a=2, got %v", out)
	}

	out, err = e.Evaluate(context.Background(), EvalContext{Doc: map[string]interface{}{"a": 1}})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if out != false {
		t.Errorf("Expected false for a=1, got %v", out)
	}
}

func TestAuthAndParamsBindings(t *testing.T) {
	c, _ := NewCompiler(16)
	e, err := c.Compile(`auth.id == value.owner && value.n >= params.min`)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	out, err := e.Evaluate(context.Background(), EvalContext{
		Doc:    map[string]interface{}{"owner": "u1", "n": 5},
		Auth:   map[string]interface{}{"id": "u1"},
		Params: map[string]interface{}{"min": 3},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if out != true {
		t.Errorf("Expected true, got %v", out)
	}
}

func TestEvaluationErrorPropagates(t *testing.T) {
	c, _ := NewCompiler(16)
	e, err := c.Compile(`value.missing.deeper == 1`)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if _, err := e.Evaluate(context.Background(), EvalContext{Doc: map[string]interface{}{}}); err == nil {
		t.Error("Expected evaluation error for missing field access")
	}
}

func TestCompileErrorSurfaces(t *testing.T) {
	c, _ := NewCompiler(16)
	if _, err := c.Compile(`value.a >`); err == nil {
		t.Error("Expected compile error for malformed expression")
	}
}

func TestCompileCaching(t *testing.T) {
	c, _ := NewCompiler(16)
	if _, err := c.Compile(`value.a > 1`); err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if _, ok := c.cache.Get(`value.a > 1`); !ok {
		t.Error("Compiled program was not cached")
	}
	// Second compile must hit the cache and still work.
	e, err := c.Compile(`value.a > 1`)
	if err != nil {
		t.Fatalf("Cached compile failed: %v", err)
	}
	out, err := e.Evaluate(context.Background(), EvalContext{Doc: map[string]interface{}{"a": 5}})
	if err != nil || out != true {
		t.Errorf("Cached program evaluation: got %v, err %v", out, err)
	}
}

func TestTruthy(t *testing.T) {
	if !Truthy(true) {
		t.Error("true should be truthy")
	}
	if Truthy(false) || Truthy(nil) || Truthy(1) || Truthy("yes") {
		t.Error("Only boolean true is truthy")
	}
}

func TestCancelledContext(t *testing.T) {
	c, _ := NewCompiler(16)
	e, _ := c.Compile(`value.a > 1`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.Evaluate(ctx, EvalContext{Doc: map[string]interface{}{"a": 2}}); err == nil {
		t.Error("Expected error from cancelled context")
	}
}
