package transaction

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"

	"github.com/kartikbazzad/syncbase/searcher"
)

// QueryCompiler compiles a query expression into a searcher.CompiledQuery,
// the step the search(index, query) operation performs before
// handing off to a searcher.Provider. Grounded directly on
// bundoc/rules/engine.go's RulesEngine: same cel.Env/program-cache shape,
// repurposed from evaluating an authorization predicate against a
// request/resource context to evaluating a search predicate against a
// document's fields to decide which terms contribute to the query.
type QueryCompiler struct {
	env      *cel.Env
	prgCache sync.Map // map[string]cel.Program
}

// NewQueryCompiler returns a compiler whose CEL environment exposes
// "document" (the candidate document's fields) and "args" (the caller's
// query arguments) as dynamic maps, mirroring bundoc's request/resource
// declarations.
func NewQueryCompiler() (*QueryCompiler, error) {
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("document", decls.NewMapType(decls.String, decls.Dyn)),
			decls.NewVar("args", decls.NewMapType(decls.String, decls.Dyn)),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("transaction: build cel env: %w", err)
	}
	return &QueryCompiler{env: env}, nil
}

func (c *QueryCompiler) program(expression string) (cel.Program, error) {
	if val, ok := c.prgCache.Load(expression); ok {
		return val.(cel.Program), nil
	}
	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("transaction: compile query expression: %w", issues.Err())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("transaction: build query program: %w", err)
	}
	c.prgCache.Store(expression, prg)
	return prg, nil
}

// CompileTextQuery evaluates filterExpr (a boolean CEL predicate over
// "args") to decide whether to include each of terms in the compiled
// query, giving callers a single mechanism for both static term lists and
// conditional/faceted search predicates.
func (c *QueryCompiler) CompileTextQuery(filterExpr string, args map[string]interface{}, terms []string, limit int) (searcher.CompiledQuery, error) {
	if filterExpr == "" {
		return searcher.CompiledQuery{Terms: terms, Limit: limit}, nil
	}
	prg, err := c.program(filterExpr)
	if err != nil {
		return searcher.CompiledQuery{}, err
	}
	out, _, err := prg.Eval(map[string]interface{}{"args": args, "document": map[string]interface{}{}})
	if err != nil {
		return searcher.CompiledQuery{}, fmt.Errorf("transaction: eval query predicate: %w", err)
	}
	include, ok := out.Value().(bool)
	if !ok {
		return searcher.CompiledQuery{}, fmt.Errorf("transaction: query predicate must return bool")
	}
	if !include {
		return searcher.CompiledQuery{Terms: nil, Limit: limit}, nil
	}
	return searcher.CompiledQuery{Terms: terms, Limit: limit}, nil
}

// CompileVectorQuery packages a raw vector and limit into a
// searcher.CompiledVectorSearch; kept alongside CompileTextQuery so both
// search forms go through one compiler type.
func (c *QueryCompiler) CompileVectorQuery(vector []float32, limit int) searcher.CompiledVectorSearch {
	return searcher.CompiledVectorSearch{Vector: vector, Limit: limit}
}
