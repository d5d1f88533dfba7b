package postverify

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/kiln/internal/emit"
	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/verify"
)

// Harness executes an emitted artifact on one vector and reports the
// values it observed, keyed by node ID.
type Harness interface {
	Name() string
	Execute(ctx context.Context, art *emit.Artifact, g *ir.Graph, v Vector) (map[string]int64, error)
}

// Simulator is the reference harness. It evaluates the graph's scalar
// semantics the way the target does: arithmetic wraps at each value's
// width.
type Simulator struct{}

var _ Harness = Simulator{}

func (Simulator) Name() string { return "simulator" }

func (Simulator) Execute(ctx context.Context, _ *emit.Artifact, g *ir.Graph, v Vector) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return run(g, v.Inputs, wrapping)
}

var errDivByZero = errors.New("division by zero")

// arith is one integer semantics: unbounded-checked or wrapping.
type arith func(op ir.Op, a, b int64, t ir.Type) (int64, error)

func checked(op ir.Op, a, b int64, _ ir.Type) (int64, error) {
	return verify.Checked(op, a, b)
}

func wrapping(op ir.Op, a, b int64, t ir.Type) (int64, error) {
	var r int64
	switch op {
	case ir.OpAdd:
		r = a + b
	case ir.OpSub:
		r = a - b
	case ir.OpMul:
		r = a * b
	default:
		return 0, fmt.Errorf("%s is not an arithmetic operator", op)
	}
	return wrap(r, t), nil
}

// wrap truncates v to the width of t.
func wrap(v int64, t ir.Type) int64 {
	switch t.Base {
	case ir.BaseBool:
		if v != 0 {
			return 1
		}
		return 0
	case ir.BaseInt:
	default:
		return v
	}
	w := t.BitWidth()
	if w >= 64 {
		return v
	}
	if t.Signed {
		shift := 64 - w
		return v << shift >> shift
	}
	return int64(uint64(v) & (uint64(1)<<w - 1))
}

// scalar reports whether values of t are evaluated.
func scalar(t ir.Type) bool {
	_, _, ok := t.Range()
	return ok
}

// run evaluates every node with scalar semantics in topological order.
// Nodes without them, and their consumers, are left out.
func run(g *ir.Graph, inputs map[string]int64, op arith) (map[string]int64, error) {
	order, err := g.TopoOrder()
	if err != nil {
		return nil, err
	}
	vals := map[string]int64{}
	for _, id := range order {
		n, _ := g.Node(id)
		if n.Kind == ir.KindInput {
			if v, ok := inputs[id]; ok {
				vals[id] = v
			}
			continue
		}
		in, ok := operands(g, n, vals)
		if !ok {
			continue
		}
		v, ok, err := evaluate(n, in, op)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", ir.Short(id), err)
		}
		if ok {
			vals[id] = v
		}
	}
	return vals, nil
}

func operands(g *ir.Graph, n ir.Node, vals map[string]int64) ([]int64, bool) {
	in := make([]int64, len(n.Sig.Inputs))
	set := make([]bool, len(in))
	for _, e := range g.Inputs(n.ID) {
		v, ok := vals[e.From.Node]
		if !ok || e.To.Port >= len(in) {
			return nil, false
		}
		in[e.To.Port] = v
		set[e.To.Port] = true
	}
	for _, s := range set {
		if !s {
			return nil, false
		}
	}
	return in, true
}

// evaluate computes a node's output from its inputs. ok is false for kinds
// without scalar semantics.
func evaluate(n ir.Node, in []int64, op arith) (int64, bool, error) {
	out := n.Sig.Output
	if !scalar(out) {
		return 0, false, nil
	}
	switch n.Kind {
	case ir.KindLiteral:
		if n.Const == nil {
			return 0, false, nil
		}
		return *n.Const, true, nil
	case ir.KindAdd, ir.KindSub, ir.KindMul:
		if len(in) != 2 {
			return 0, false, nil
		}
		v, err := op(ir.Op(n.Kind), in[0], in[1], out)
		return v, err == nil, err
	case ir.KindNeg:
		if len(in) != 1 {
			return 0, false, nil
		}
		v, err := op(ir.OpSub, 0, in[0], out)
		return v, err == nil, err
	case ir.KindMin:
		if len(in) != 2 {
			return 0, false, nil
		}
		return min(in[0], in[1]), true, nil
	case ir.KindMax:
		if len(in) != 2 {
			return 0, false, nil
		}
		return max(in[0], in[1]), true, nil
	case ir.KindClamp:
		if len(in) != 3 {
			return 0, false, nil
		}
		switch {
		case in[0] < in[1]:
			return in[1], true, nil
		case in[0] > in[2]:
			return in[2], true, nil
		}
		return in[0], true, nil
	case ir.KindDiv:
		if len(in) != 2 {
			return 0, false, nil
		}
		if in[1] == 0 {
			return 0, false, errDivByZero
		}
		if in[1] == -1 {
			v, err := op(ir.OpSub, 0, in[0], out)
			return v, err == nil, err
		}
		return in[0] / in[1], true, nil
	case ir.KindSelect:
		if len(in) != 3 {
			return 0, false, nil
		}
		if in[0] != 0 {
			return in[1], true, nil
		}
		return in[2], true, nil
	case ir.KindRead, ir.KindVerify, ir.KindAssume, ir.KindAnnotate:
		if len(in) < 1 {
			return 0, false, nil
		}
		return in[0], true, nil
	}
	return 0, false, nil
}
