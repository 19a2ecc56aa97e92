package celengine

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// RowVariable is the name under which a spreadsheet row is exposed to expressions,
// e.g. `row["Produto"].startsWith("LensX") && double(row["Qtd"]) >= 2.0`.
const RowVariable = "row"

var (
	rowEnvOnce sync.Once
	rowEnv     *cel.Env
	rowEnvErr  error

	programCache = sync.Map{}
)

func RowEnv() (*cel.Env, error) {
	rowEnvOnce.Do(func() {
		rowEnv, rowEnvErr = cel.NewEnv(
			cel.Variable(RowVariable, cel.MapType(cel.StringType, cel.StringType)),
		)
	})
	return rowEnv, rowEnvErr
}

func ValidateExpression(env *cel.Env, expr string) error {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}
	return nil
}

func program(expr string) (cel.Program, error) {
	if p, ok := programCache.Load(expr); ok {
		return p.(cel.Program), nil
	}

	env, err := RowEnv()
	if err != nil {
		return nil, err
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, err
	}

	programCache.Store(expr, prg)
	return prg, nil
}

// EvaluateRow runs a boolean expression against one row. Missing keys surface as evaluation errors.
func EvaluateRow(expr string, row map[string]string) (bool, error) {
	prg, err := program(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{RowVariable: row})
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}

	return b, nil
}
