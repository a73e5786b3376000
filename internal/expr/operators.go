package expr

import (
	"math"

	"github.com/gyaneshwarpardhi/affix/internal/vars"
)

// epsilon is the tolerance for numeric equality and for reading a result
// as a boolean.
const epsilon = 1e-10

type function struct {
	argc int
	fn   func(args []float64) float64
}

var functions = map[string]function{
	"min":  {2, func(a []float64) float64 { return math.Min(a[0], a[1]) }},
	"max":  {2, func(a []float64) float64 { return math.Max(a[0], a[1]) }},
	"abs":  {1, func(a []float64) float64 { return math.Abs(a[0]) }},
	"sqrt": {1, func(a []float64) float64 { return math.Sqrt(a[0]) }},
	"log":  {1, func(a []float64) float64 { return math.Log(a[0]) }},
}

func boolNum(b bool) vars.Value {
	if b {
		return vars.Number(1)
	}
	return vars.Number(0)
}

func bothStrings(l, r vars.Value) bool {
	return l.Kind() == vars.KindString && r.Kind() == vars.KindString
}

// applyBinary applies a binary operator to two stack values.
func applyBinary(op string, l, r vars.Value) (vars.Value, error) {
	switch op {
	case "+":
		return vars.Number(l.Num() + r.Num()), nil
	case "-":
		return vars.Number(l.Num() - r.Num()), nil
	case "*":
		return vars.Number(l.Num() * r.Num()), nil
	case "/":
		d := r.Num()
		if d == 0 {
			return vars.Value{}, evalErr("/", ErrDivisionByZero)
		}
		return vars.Number(l.Num() / d), nil
	case "^":
		return vars.Number(math.Pow(l.Num(), r.Num())), nil
	case "==":
		return boolNum(equal(l, r)), nil
	case "!=":
		return boolNum(!equal(l, r)), nil
	case "<", "<=", ">", ">=":
		// Ordering between strings is not defined and reads as false.
		if bothStrings(l, r) {
			return vars.Number(0), nil
		}
		return boolNum(order(op, l.Num(), r.Num())), nil
	case "&&":
		return boolNum(l.Truthy() && r.Truthy()), nil
	case "||":
		return boolNum(l.Truthy() || r.Truthy()), nil
	}
	return vars.Value{}, evalErr(op, ErrUnknownFunction)
}

func applyUnary(op string, v vars.Value) vars.Value {
	if op == "!" {
		return boolNum(!v.Truthy())
	}
	return vars.Number(-v.Num())
}

// equal compares strings by content and everything else numerically.
func equal(l, r vars.Value) bool {
	if bothStrings(l, r) {
		return l.Str() == r.Str()
	}
	return math.Abs(l.Num()-r.Num()) < epsilon
}

func order(op string, l, r float64) bool {
	switch op {
	case "<":
		return l < r
	case "<=":
		return l <= r
	case ">":
		return l > r
	case ">=":
		return l >= r
	}
	return false
}
