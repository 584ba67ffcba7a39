package services

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/harpervoss/caseplan/modules/compliance/domain/types"
	"github.com/harpervoss/caseplan/pkg/httperr"
)

var newRuleCELEnv = func() (*cel.Env, error) {
	return cel.NewEnv(cel.Variable("ctx", cel.MapType(cel.StringType, cel.StringType)))
}

var newRuleCELProgram = func(env *cel.Env, ast *cel.Ast) (cel.Program, error) {
	return env.Program(ast)
}

var conditionalProgramCache sync.Map

// ValidateConfig runs the structural checks plus, for conditional rules, a
// CEL compile of the expression against the string-map context.
func ValidateConfig(c types.RuleConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Kind == types.ConfigKindConditional {
		if _, err := loadOrCompileConditional(c.Expr); err != nil {
			return httperr.NewBadRequest("conditional config: expr does not compile to bool")
		}
	}
	return nil
}

// EvaluateConditional reports whether a conditional rule applies to ctxMap.
// Compiled programs are cached per expression.
func EvaluateConditional(expr string, ctxMap map[string]string) (bool, error) {
	program, err := loadOrCompileConditional(expr)
	if err != nil {
		return false, err
	}
	out, _, err := program.Eval(map[string]any{"ctx": ctxMap})
	if err != nil {
		return false, err
	}
	v, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("conditional expression did not yield bool")
	}
	return v, nil
}

func loadOrCompileConditional(expr string) (cel.Program, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errors.New("expression required")
	}
	if cached, ok := conditionalProgramCache.Load(expr); ok {
		return cached.(cel.Program), nil
	}
	env, err := newRuleCELEnv()
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if ast.OutputType() != cel.BoolType {
		return nil, errors.New("expression output type mismatch")
	}
	program, err := newRuleCELProgram(env, ast)
	if err != nil {
		return nil, err
	}
	conditionalProgramCache.Store(expr, program)
	return program, nil
}
