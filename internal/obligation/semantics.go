package obligation

import (
	"strconv"

	"github.com/roach88/kiln/internal/ir"
)

// Variable names in a node's local view.
const (
	varOut  = "out"
	varIter = "i"
)

func inVar(port int) string { return "in" + strconv.Itoa(port) }

// define returns the facts that follow from a node's kind: its output in
// terms of its inputs. Arithmetic is over unbounded integers; only graph
// inputs are constrained to the range of their type.
func define(n ir.Node) []ir.Expr {
	out := ir.Var(varOut)
	in := func(i int) ir.Expr { return ir.Var(inVar(i)) }
	arity := len(n.Sig.Inputs)

	switch n.Kind {
	case ir.KindInput:
		if lo, hi, ok := n.Sig.Output.Range(); ok {
			return []ir.Expr{ir.Ge(out, ir.Const(lo)), ir.Le(out, ir.Const(hi))}
		}
	case ir.KindLiteral:
		if n.Const != nil {
			return []ir.Expr{ir.Eq(out, ir.Const(*n.Const))}
		}
	case ir.KindAdd:
		if arity == 2 {
			return []ir.Expr{ir.Eq(out, ir.Add(in(0), in(1)))}
		}
	case ir.KindSub:
		if arity == 2 {
			return []ir.Expr{ir.Eq(out, ir.Sub(in(0), in(1)))}
		}
	case ir.KindMul:
		if arity == 2 {
			return []ir.Expr{ir.Eq(out, ir.Mul(in(0), in(1)))}
		}
	case ir.KindNeg:
		if arity == 1 {
			return []ir.Expr{ir.Eq(out, ir.Neg(in(0)))}
		}
	case ir.KindMin:
		if arity == 2 {
			return []ir.Expr{
				ir.Le(out, in(0)), ir.Le(out, in(1)),
				ir.Or(ir.Eq(out, in(0)), ir.Eq(out, in(1))),
			}
		}
	case ir.KindMax:
		if arity == 2 {
			return []ir.Expr{
				ir.Ge(out, in(0)), ir.Ge(out, in(1)),
				ir.Or(ir.Eq(out, in(0)), ir.Eq(out, in(1))),
			}
		}
	case ir.KindClamp:
		if arity == 3 {
			return []ir.Expr{
				ir.Implies(ir.Lt(in(0), in(1)), ir.Eq(out, in(1))),
				ir.Implies(ir.Gt(in(0), in(2)), ir.Eq(out, in(2))),
				ir.Implies(ir.And(ir.Ge(in(0), in(1)), ir.Le(in(0), in(2))), ir.Eq(out, in(0))),
			}
		}
	case ir.KindDiv:
		if arity == 2 {
			return []ir.Expr{ir.Implies(
				ir.And(ir.Ge(in(0), ir.Const(0)), ir.Gt(in(1), ir.Const(0))),
				ir.And(ir.Ge(out, ir.Const(0)), ir.Le(out, in(0))),
			)}
		}
	case ir.KindSelect:
		if arity == 3 {
			return []ir.Expr{ir.Or(
				ir.And(ir.Ne(in(0), ir.Const(0)), ir.Eq(out, in(1))),
				ir.And(ir.Eq(in(0), ir.Const(0)), ir.Eq(out, in(2))),
			)}
		}
	case ir.KindVerify, ir.KindAssume, ir.KindAnnotate:
		if arity >= 1 {
			return []ir.Expr{ir.Eq(out, in(0))}
		}
	}
	return nil
}

// implicitPre returns the safety conditions a kind imposes on its inputs.
func implicitPre(n ir.Node) []ir.Expr {
	switch n.Kind {
	case ir.KindDiv:
		if len(n.Sig.Inputs) == 2 {
			return []ir.Expr{ir.Ne(ir.Var(inVar(1)), ir.Const(0))}
		}
	case ir.KindIndex:
		if len(n.Sig.Inputs) == 2 && n.Sig.Inputs[0].Len > 0 {
			return []ir.Expr{ir.And(
				ir.Ge(ir.Var(inVar(1)), ir.Const(0)),
				ir.Lt(ir.Var(inVar(1)), ir.Const(n.Sig.Inputs[0].Len)),
			)}
		}
	}
	return nil
}

// refinement returns t's refinement over name, if any.
func refinement(t ir.Type, name string) (ir.Expr, bool) {
	if t.Refinement == nil {
		return ir.Expr{}, false
	}
	return t.Refinement.Rename(map[string]string{"value": name}), true
}
