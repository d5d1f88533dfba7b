package verify

import (
	"errors"
	"fmt"
	"math"

	"github.com/roach88/kiln/internal/ir"
)

var errOverflow = errors.New("integer overflow")

func addChecked(a, b int64) (int64, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, errOverflow
	}
	return s, nil
}

func subChecked(a, b int64) (int64, error) {
	if b == math.MinInt64 {
		if a >= 0 {
			return 0, errOverflow
		}
		return a - b, nil
	}
	return addChecked(a, -b)
}

func mulChecked(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	r := a * b
	if r/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, errOverflow
	}
	return r, nil
}

// evalInt evaluates a term over the integers. Unlike ir.Expr.EvalInt it
// refuses to wrap, so a candidate counterexample never rests on overflow.
func evalInt(e ir.Expr, env map[string]int64) (int64, error) {
	switch e.Op {
	case ir.OpConst:
		return e.Val, nil
	case ir.OpVar:
		v, ok := env[e.Name]
		if !ok {
			return 0, fmt.Errorf("unbound variable %q", e.Name)
		}
		return v, nil
	case ir.OpNeg:
		a, err := evalInt(e.Args[0], env)
		if err != nil {
			return 0, err
		}
		return subChecked(0, a)
	case ir.OpAdd, ir.OpSub, ir.OpMul:
		a, err := evalInt(e.Args[0], env)
		if err != nil {
			return 0, err
		}
		b, err := evalInt(e.Args[1], env)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case ir.OpAdd:
			return addChecked(a, b)
		case ir.OpSub:
			return subChecked(a, b)
		}
		return mulChecked(a, b)
	}
	return 0, fmt.Errorf("%s is not an integer term", e.Op)
}

func evalBool(e ir.Expr, env map[string]int64) (bool, error) {
	switch e.Op {
	case ir.OpTrue:
		return true, nil
	case ir.OpFalse:
		return false, nil
	case ir.OpNot:
		v, err := evalBool(e.Args[0], env)
		return !v, err
	case ir.OpAnd:
		for _, a := range e.Args {
			v, err := evalBool(a, env)
			if err != nil || !v {
				return false, err
			}
		}
		return true, nil
	case ir.OpOr:
		for _, a := range e.Args {
			v, err := evalBool(a, env)
			if err != nil {
				return false, err
			}
			if v {
				return true, nil
			}
		}
		return false, nil
	case ir.OpImplies:
		p, err := evalBool(e.Args[0], env)
		if err != nil || !p {
			return true, err
		}
		return evalBool(e.Args[1], env)
	case ir.OpLt, ir.OpLe, ir.OpEq, ir.OpNe, ir.OpGe, ir.OpGt:
		a, err := evalInt(e.Args[0], env)
		if err != nil {
			return false, err
		}
		b, err := evalInt(e.Args[1], env)
		if err != nil {
			return false, err
		}
		switch e.Op {
		case ir.OpLt:
			return a < b, nil
		case ir.OpLe:
			return a <= b, nil
		case ir.OpEq:
			return a == b, nil
		case ir.OpNe:
			return a != b, nil
		case ir.OpGe:
			return a >= b, nil
		}
		return a > b, nil
	}
	return false, fmt.Errorf("%s is not a formula", e.Op)
}

// refutes reports whether env satisfies every assumption and falsifies the
// goal.
func refutes(o *ir.Obligation, env map[string]int64) bool {
	for _, a := range o.Assumptions {
		ok, err := evalBool(a, env)
		if err != nil || !ok {
			return false
		}
	}
	ok, err := evalBool(o.Goal, env)
	return err == nil && !ok
}

// Holds evaluates a formula over the integers without wrapping. It errors
// on unbound variables and on overflow.
func Holds(e ir.Expr, env map[string]int64) (bool, error) { return evalBool(e, env) }

// Checked applies an arithmetic operator without wrapping.
func Checked(op ir.Op, a, b int64) (int64, error) {
	switch op {
	case ir.OpAdd:
		return addChecked(a, b)
	case ir.OpSub:
		return subChecked(a, b)
	case ir.OpMul:
		return mulChecked(a, b)
	}
	return 0, fmt.Errorf("%s is not an arithmetic operator", op)
}
