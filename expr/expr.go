// Package expr compiles and evaluates CEL expressions used for filter
// predicates, stored index conditions and row-level permission clauses.
//
// Compiled programs are kept in a bounded LRU cache keyed by source text, so
// repeated evaluation of the same permission clause across batches does not
// recompile it.
package expr

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
	lru "github.com/hashicorp/golang-lru/v2"
)

// EvalContext carries the bindings visible to an expression.
type EvalContext struct {
	// Doc is the current document, bound as "value".
	Doc map[string]interface{}
	// Auth is the authenticated actor's claims, bound as "auth".
	Auth map[string]interface{}
	// Params are statement parameters, bound as "params".
	Params map[string]interface{}
}

// PhysicalExpr is an executable expression.
type PhysicalExpr interface {
	// Evaluate runs the expression against the given bindings.
	Evaluate(ctx context.Context, ec EvalContext) (interface{}, error)
	// String returns the source text, used in plan rendering.
	String() string
}

// Compiler turns expression source into PhysicalExpr values.
type Compiler struct {
	env   *cel.Env
	cache *lru.Cache[string, cel.Program]
}

// NewCompiler builds a compiler with the standard environment.
func NewCompiler(cacheSize int) (*Compiler, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("value", decls.NewMapType(decls.String, decls.Dyn)),
			decls.NewVar("auth", decls.NewMapType(decls.String, decls.Dyn)),
			decls.NewVar("params", decls.NewMapType(decls.String, decls.Dyn)),
		),
		// Documents come out of JSON with float64 numbers while clauses
		// usually compare against integer literals.
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[string, cel.Program](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Compiler{env: env, cache: cache}, nil
}

// Compile parses and type-checks source, reusing a cached program when one
// exists.
func (c *Compiler) Compile(source string) (PhysicalExpr, error) {
	if prg, ok := c.cache.Get(source); ok {
		return &celExpr{source: source, prg: prg}, nil
	}
	ast, issues := c.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error in %q: %w", source, issues.Err())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program construction error in %q: %w", source, err)
	}
	c.cache.Add(source, prg)
	return &celExpr{source: source, prg: prg}, nil
}

type celExpr struct {
	source string
	prg    cel.Program
}

func (e *celExpr) Evaluate(ctx context.Context, ec EvalContext) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bindings := map[string]interface{}{
		"value":  nonNil(ec.Doc),
		"auth":   nonNil(ec.Auth),
		"params": nonNil(ec.Params),
	}
	out, _, err := e.prg.Eval(bindings)
	if err != nil {
		return nil, fmt.Errorf("eval error in %q: %w", e.source, err)
	}
	return out.Value(), nil
}

func (e *celExpr) String() string { return e.source }

func nonNil(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// Truthy reports whether an evaluation result counts as true. Booleans are
// taken as-is; any other non-nil value is false.
func Truthy(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}
