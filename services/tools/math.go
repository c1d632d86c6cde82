package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

const (
	maxExpressionLength = 1000
	mathDescription     = "Evaluate an arithmetic expression. Supports + - * / % ** and sqrt, pow, sin, cos, tan, log, log10, exp, abs, floor, ceil, round, min, max, pi, e. Args: {\"expression\": string}"
)

// expr builtins left enabled, the rest are switched off
var mathBuiltins = []string{"abs", "ceil", "floor", "round", "min", "max"}

// Math evaluates arithmetic expressions in a sandbox that only knows numbers and math functions
type Math struct {
	options []expr.Option
}

// NewMath creates the math tool
func NewMath() *Math {
	opts := []expr.Option{
		expr.Env(map[string]interface{}{
			"pi": math.Pi,
			"e":  math.E,
		}),
		unary("sqrt", math.Sqrt),
		unary("sin", math.Sin),
		unary("cos", math.Cos),
		unary("tan", math.Tan),
		unary("log", math.Log),
		unary("log10", math.Log10),
		unary("exp", math.Exp),
		binary("pow", math.Pow),
		expr.DisableAllBuiltins(),
	}
	for _, name := range mathBuiltins {
		opts = append(opts, expr.EnableBuiltin(name))
	}
	return &Math{options: opts}
}

func buildMath(BuildContext) (Tool, error) {
	return NewMath(), nil
}

func (m *Math) Name() string        { return "llm_math" }
func (m *Math) Description() string { return mathDescription }

type mathArgs struct {
	Expression string `json:"expression"`
}

// MathOutput is the tool result
type MathOutput struct {
	Expression string  `json:"expression"`
	Result     float64 `json:"result"`
}

// Execute compiles and runs one expression
func (m *Math) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args mathArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, NewError(m.Name(), CodeInvalidArgs, "arguments must be a JSON object", 0, err)
	}
	args.Expression = strings.TrimSpace(args.Expression)
	if args.Expression == "" {
		return nil, NewError(m.Name(), CodeInvalidArgs, "expression is required", 0, nil)
	}
	if len(args.Expression) > maxExpressionLength {
		return nil, NewError(m.Name(), CodeInvalidArgs, fmt.Sprintf("expression longer than %d characters", maxExpressionLength), 0, nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	program, err := expr.Compile(args.Expression, m.options...)
	if err != nil {
		return nil, NewError(m.Name(), CodeInvalidArgs, "invalid expression", 0, err)
	}

	value, err := m.run(program)
	if err != nil {
		return nil, err
	}

	return json.Marshal(MathOutput{Expression: args.Expression, Result: value})
}

func (m *Math) run(program *vm.Program) (float64, error) {
	out, err := expr.Run(program, map[string]interface{}{"pi": math.Pi, "e": math.E})
	if err != nil {
		return 0, NewError(m.Name(), CodeEvaluation, "evaluation failed", 0, err)
	}

	value, ok := toFloat(out)
	if !ok {
		return 0, NewError(m.Name(), CodeEvaluation, fmt.Sprintf("expression produced %T, not a number", out), 0, nil)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, NewError(m.Name(), CodeEvaluation, "result is not a finite number", 0, nil)
	}
	return value, nil
}

func unary(name string, fn func(float64) float64) expr.Option {
	return expr.Function(name, func(params ...interface{}) (interface{}, error) {
		if len(params) != 1 {
			return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(params))
		}
		x, ok := toFloat(params[0])
		if !ok {
			return nil, fmt.Errorf("%s expects a number", name)
		}
		return fn(x), nil
	})
}

func binary(name string, fn func(float64, float64) float64) expr.Option {
	return expr.Function(name, func(params ...interface{}) (interface{}, error) {
		if len(params) != 2 {
			return nil, fmt.Errorf("%s expects 2 arguments, got %d", name, len(params))
		}
		x, okX := toFloat(params[0])
		y, okY := toFloat(params[1])
		if !okX || !okY {
			return nil, fmt.Errorf("%s expects numbers", name)
		}
		return fn(x, y), nil
	})
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
