package toolserver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Knetic/govaluate"
)

// Calculation is the calculator's result payload.
type Calculation struct {
	Expression string  `json:"expression"`
	Value      float64 `json:"value"`
	Type       string  `json:"type"`
}

// Calculator evaluates arithmetic expressions. Supported: + - * / %,
// exponentiation as ** or ^, parentheses, unary minus, the constants pi,
// e, phi and tau, and the functions listed in calcFunctions.
type Calculator struct{}

// Name implements [Tool].
func (Calculator) Name() string { return "calculator" }

// Route implements [Tool].
func (Calculator) Route() string { return "/mcp/calculate" }

var calcConstants = map[string]any{
	"pi":  math.Pi,
	"e":   math.E,
	"phi": math.Phi,
	"tau": 2 * math.Pi,
}

func unary(name string, fn func(float64) float64) govaluate.ExpressionFunction {
	return func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s takes one argument", name)
		}
		x, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("%s: argument is not a number", name)
		}
		return fn(x), nil
	}
}

func variadic(name string, fn func(a, b float64) float64) govaluate.ExpressionFunction {
	return func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("%s needs at least one argument", name)
		}
		var acc float64
		for i, a := range args {
			x, ok := a.(float64)
			if !ok {
				return nil, fmt.Errorf("%s: argument %d is not a number", name, i+1)
			}
			if i == 0 {
				acc = x
				continue
			}
			acc = fn(acc, x)
		}
		return acc, nil
	}
}

var calcFunctions = map[string]govaluate.ExpressionFunction{
	"sqrt":  unary("sqrt", math.Sqrt),
	"abs":   unary("abs", math.Abs),
	"ln":    unary("ln", math.Log),
	"log":   unary("log", math.Log10),
	"exp":   unary("exp", math.Exp),
	"floor": unary("floor", math.Floor),
	"ceil":  unary("ceil", math.Ceil),
	"round": unary("round", math.Round),
	"sin":   unary("sin", math.Sin),
	"cos":   unary("cos", math.Cos),
	"tan":   unary("tan", math.Tan),
	"min":   variadic("min", math.Min),
	"max":   variadic("max", math.Max),
}

var errNoExpression = errors.New("No expression provided")

// Invoke implements [Tool].
func (c Calculator) Invoke(_ context.Context, params map[string]any) (any, error) {
	expr, err := stringParam(params, "expression")
	if err != nil {
		return nil, err
	}
	if expr == "" {
		return nil, errNoExpression
	}
	value, err := Evaluate(expr)
	if err != nil {
		return nil, err
	}
	return Calculation{Expression: expr, Value: value, Type: "numeric"}, nil
}

// Evaluate computes a numeric expression. Results that are not finite
// numbers, such as booleans, strings or a division by zero, are errors.
func Evaluate(expr string) (float64, error) {
	// govaluate reads ^ as XOR.
	normalized := strings.ReplaceAll(expr, "^", "**")

	e, err := govaluate.NewEvaluableExpressionWithFunctions(normalized, calcFunctions)
	if err != nil {
		return 0, fmt.Errorf("invalid expression: %w", err)
	}
	out, err := e.Evaluate(calcConstants)
	if err != nil {
		return 0, fmt.Errorf("calculation error: %w", err)
	}
	v, ok := out.(float64)
	if !ok {
		return 0, fmt.Errorf("unsupported expression: result is %T, not a number", out)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, errors.New("calculation error: division by zero or undefined result")
	}
	return v, nil
}
