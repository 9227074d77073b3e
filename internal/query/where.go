package query

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kartikbazzad/bunbase/bunstore/internal/util"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

// DefaultProgramCacheSize bounds the number of compiled $where programs
// kept per engine.
const DefaultProgramCacheSize = 256

// WhereEngine handles compilation and evaluation of $where expressions.
//
// Expressions are CEL programs with a single variable, `doc`, bound to the
// candidate document, e.g. `doc.age > 18 && doc.name.startsWith("a")`.
// Compiled programs are cached by expression text.
type WhereEngine struct {
	env      *cel.Env
	programs *lru.Cache[string, cel.Program]
}

var (
	defaultWhereOnce   sync.Once
	defaultWhereEngine *WhereEngine
)

// DefaultWhereEngine returns a process-wide engine.
func DefaultWhereEngine() *WhereEngine {
	defaultWhereOnce.Do(func() {
		engine, err := NewWhereEngine(DefaultProgramCacheSize)
		if err != nil {
			panic(fmt.Sprintf("query: default $where engine: %v", err))
		}
		defaultWhereEngine = engine
	})
	return defaultWhereEngine
}

// NewWhereEngine creates an engine caching up to cacheSize programs.
func NewWhereEngine(cacheSize int) (*WhereEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("doc", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, err
	}

	if cacheSize <= 0 {
		cacheSize = DefaultProgramCacheSize
	}
	programs, err := lru.New[string, cel.Program](cacheSize)
	if err != nil {
		return nil, err
	}

	return &WhereEngine{env: env, programs: programs}, nil
}

// Check compiles the expression, so that malformed filters fail when the
// cursor is built rather than on the first candidate.
func (we *WhereEngine) Check(expression string) error {
	if _, err := we.program(expression); err != nil {
		return fmt.Errorf("%w: %v", util.ErrInvalidQuery, err)
	}
	return nil
}

func (we *WhereEngine) program(expression string) (cel.Program, error) {
	if prg, ok := we.programs.Get(expression); ok {
		return prg, nil
	}

	ast, issues := we.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %s", issues.Err())
	}

	prg, err := we.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program construction error: %s", err)
	}
	we.programs.Add(expression, prg)
	return prg, nil
}

// Evaluate runs expression against doc. The expression must yield a
// boolean.
func (we *WhereEngine) Evaluate(expression string, doc storage.Document) (bool, error) {
	prg, err := we.program(expression)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]interface{}{"doc": map[string]interface{}(doc)})
	if err != nil {
		return false, fmt.Errorf("eval error: %s", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("$where expression must return boolean, got %T", out.Value())
	}
	return result, nil
}
