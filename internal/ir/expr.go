package ir

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Op is an expression operator.
type Op string

const (
	OpConst   Op = "const"
	OpVar     Op = "var"
	OpAdd     Op = "add"
	OpSub     Op = "sub"
	OpMul     Op = "mul"
	OpNeg     Op = "neg"
	OpLt      Op = "lt"
	OpLe      Op = "le"
	OpEq      Op = "eq"
	OpNe      Op = "ne"
	OpGe      Op = "ge"
	OpGt      Op = "gt"
	OpAnd     Op = "and"
	OpOr      Op = "or"
	OpNot     Op = "not"
	OpImplies Op = "implies"
	OpTrue    Op = "true"
	OpFalse   Op = "false"
)

// Expr is a node of the predicate language used by refinements, contracts
// and obligations. Integer terms (const, var, add, sub, mul, neg) and
// boolean formulas share one tree type.
//
// Variables follow a fixed naming scheme: "out" is a node's output, "inN"
// its N-th input, "value" the refined value inside a refinement.
type Expr struct {
	Op   Op
	Val  int64
	Name string
	Args []Expr
}

func Const(v int64) Expr   { return Expr{Op: OpConst, Val: v} }
func Var(name string) Expr { return Expr{Op: OpVar, Name: name} }
func True() Expr           { return Expr{Op: OpTrue} }
func False() Expr          { return Expr{Op: OpFalse} }

func Add(a, b Expr) Expr { return Expr{Op: OpAdd, Args: []Expr{a, b}} }
func Sub(a, b Expr) Expr { return Expr{Op: OpSub, Args: []Expr{a, b}} }
func Mul(a, b Expr) Expr { return Expr{Op: OpMul, Args: []Expr{a, b}} }

func Neg(a Expr) Expr {
	if a.Op == OpConst {
		return Const(-a.Val)
	}
	return Expr{Op: OpNeg, Args: []Expr{a}}
}

func Lt(a, b Expr) Expr      { return Expr{Op: OpLt, Args: []Expr{a, b}} }
func Le(a, b Expr) Expr      { return Expr{Op: OpLe, Args: []Expr{a, b}} }
func Eq(a, b Expr) Expr      { return Expr{Op: OpEq, Args: []Expr{a, b}} }
func Ne(a, b Expr) Expr      { return Expr{Op: OpNe, Args: []Expr{a, b}} }
func Ge(a, b Expr) Expr      { return Expr{Op: OpGe, Args: []Expr{a, b}} }
func Gt(a, b Expr) Expr      { return Expr{Op: OpGt, Args: []Expr{a, b}} }
func Not(a Expr) Expr        { return Expr{Op: OpNot, Args: []Expr{a}} }
func Implies(a, b Expr) Expr { return Expr{Op: OpImplies, Args: []Expr{a, b}} }

// And conjoins its arguments, dropping literal trues. And() is true.
func And(args ...Expr) Expr {
	var kept []Expr
	for _, a := range args {
		if a.Op == OpTrue {
			continue
		}
		kept = append(kept, a)
	}
	switch len(kept) {
	case 0:
		return True()
	case 1:
		return kept[0]
	}
	return Expr{Op: OpAnd, Args: kept}
}

// Or disjoins its arguments. Or() is false.
func Or(args ...Expr) Expr {
	switch len(args) {
	case 0:
		return False()
	case 1:
		return args[0]
	}
	return Expr{Op: OpOr, Args: args}
}

// IsZero reports whether e is the zero Expr (no operator).
func (e Expr) IsZero() bool { return e.Op == "" }

// IsBool reports whether e is a formula rather than an integer term.
func (e Expr) IsBool() bool {
	switch e.Op {
	case OpLt, OpLe, OpEq, OpNe, OpGe, OpGt, OpAnd, OpOr, OpNot, OpImplies, OpTrue, OpFalse:
		return true
	}
	return false
}

// IsComparison reports whether e is a binary integer comparison.
func (e Expr) IsComparison() bool {
	switch e.Op {
	case OpLt, OpLe, OpEq, OpNe, OpGe, OpGt:
		return true
	}
	return false
}

// Conjuncts flattens nested conjunctions.
func (e Expr) Conjuncts() []Expr {
	if e.Op == OpAnd {
		var out []Expr
		for _, a := range e.Args {
			out = append(out, a.Conjuncts()...)
		}
		return out
	}
	if e.Op == OpTrue {
		return nil
	}
	return []Expr{e}
}

// Vars returns the sorted set of variable names in e.
func (e Expr) Vars() []string {
	seen := map[string]bool{}
	e.walk(func(x Expr) {
		if x.Op == OpVar {
			seen[x.Name] = true
		}
	})
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func (e Expr) walk(fn func(Expr)) {
	fn(e)
	for _, a := range e.Args {
		a.walk(fn)
	}
}

// Subst replaces variables by expressions. Unmapped variables are kept.
func (e Expr) Subst(m map[string]Expr) Expr {
	if e.Op == OpVar {
		if r, ok := m[e.Name]; ok {
			return r
		}
		return e
	}
	if len(e.Args) == 0 {
		return e
	}
	out := Expr{Op: e.Op, Val: e.Val, Name: e.Name, Args: make([]Expr, len(e.Args))}
	for i, a := range e.Args {
		out.Args[i] = a.Subst(m)
	}
	return out
}

// Rename renames variables.
func (e Expr) Rename(m map[string]string) Expr {
	sub := make(map[string]Expr, len(m))
	for from, to := range m {
		sub[from] = Var(to)
	}
	return e.Subst(sub)
}

// Equal reports structural equality.
func (e Expr) Equal(o Expr) bool {
	if e.Op != o.Op || e.Val != o.Val || e.Name != o.Name || len(e.Args) != len(o.Args) {
		return false
	}
	for i := range e.Args {
		if !e.Args[i].Equal(o.Args[i]) {
			return false
		}
	}
	return true
}

// EvalInt evaluates an integer term under env.
func (e Expr) EvalInt(env map[string]int64) (int64, error) {
	switch e.Op {
	case OpConst:
		return e.Val, nil
	case OpVar:
		v, ok := env[e.Name]
		if !ok {
			return 0, fmt.Errorf("unbound variable %q", e.Name)
		}
		return v, nil
	case OpNeg:
		a, err := e.Args[0].EvalInt(env)
		return -a, err
	case OpAdd, OpSub, OpMul:
		a, err := e.Args[0].EvalInt(env)
		if err != nil {
			return 0, err
		}
		b, err := e.Args[1].EvalInt(env)
		if err != nil {
			return 0, err
		}
		switch e.Op {
		case OpAdd:
			return a + b, nil
		case OpSub:
			return a - b, nil
		}
		return a * b, nil
	}
	return 0, fmt.Errorf("%s is not an integer term", e.Op)
}

// EvalBool evaluates a formula under env.
func (e Expr) EvalBool(env map[string]int64) (bool, error) {
	switch e.Op {
	case OpTrue:
		return true, nil
	case OpFalse:
		return false, nil
	case OpNot:
		v, err := e.Args[0].EvalBool(env)
		return !v, err
	case OpAnd:
		for _, a := range e.Args {
			v, err := a.EvalBool(env)
			if err != nil || !v {
				return false, err
			}
		}
		return true, nil
	case OpOr:
		for _, a := range e.Args {
			v, err := a.EvalBool(env)
			if err != nil {
				return false, err
			}
			if v {
				return true, nil
			}
		}
		return false, nil
	case OpImplies:
		p, err := e.Args[0].EvalBool(env)
		if err != nil || !p {
			return true, err
		}
		return e.Args[1].EvalBool(env)
	case OpLt, OpLe, OpEq, OpNe, OpGe, OpGt:
		a, err := e.Args[0].EvalInt(env)
		if err != nil {
			return false, err
		}
		b, err := e.Args[1].EvalInt(env)
		if err != nil {
			return false, err
		}
		return compare(e.Op, a, b), nil
	}
	return false, fmt.Errorf("%s is not a formula", e.Op)
}

func compare(op Op, a, b int64) bool {
	switch op {
	case OpLt:
		return a < b
	case OpLe:
		return a <= b
	case OpEq:
		return a == b
	case OpNe:
		return a != b
	case OpGe:
		return a >= b
	case OpGt:
		return a > b
	}
	return false
}

// Canonical returns the hashed form of e.
func (e Expr) Canonical() IRValue {
	obj := IRObject{"op": IRString(e.Op)}
	switch e.Op {
	case OpConst:
		obj["val"] = IRInt(e.Val)
	case OpVar:
		obj["name"] = IRString(e.Name)
	}
	if len(e.Args) > 0 {
		obj["args"] = Canonicals(e.Args)
	}
	return obj
}

// Exprs is a list of predicates with a canonical form.
type Exprs []Expr

// Canonical returns the hashed form of the list.
func (es Exprs) Canonical() IRValue { return Canonicals([]Expr(es)) }

var precedence = map[Op]int{
	OpImplies: 0,
	OpOr:      1,
	OpAnd:     2,
	OpLt:      3, OpLe: 3, OpEq: 3, OpNe: 3, OpGe: 3, OpGt: 3,
	OpAdd: 4, OpSub: 4,
	OpMul: 5,
	OpNot: 6, OpNeg: 6,
}

var infix = map[Op]string{
	OpOr: "||", OpAnd: "&&",
	OpLt: "<", OpLe: "<=", OpEq: "==", OpNe: "!=", OpGe: ">=", OpGt: ">",
	OpAdd: "+", OpSub: "-", OpMul: "*",
}

// String renders e in the textual form accepted by ParseExpr.
func (e Expr) String() string {
	var b strings.Builder
	e.format(&b)
	return b.String()
}

func (e Expr) format(b *strings.Builder) {
	switch e.Op {
	case "":
		return
	case OpConst:
		b.WriteString(strconv.FormatInt(e.Val, 10))
	case OpVar:
		b.WriteString(e.Name)
	case OpTrue, OpFalse:
		b.WriteString(string(e.Op))
	case OpImplies:
		b.WriteString("implies(")
		e.Args[0].format(b)
		b.WriteString(", ")
		e.Args[1].format(b)
		b.WriteString(")")
	case OpNot, OpNeg:
		if e.Op == OpNot {
			b.WriteString("!")
		} else {
			b.WriteString("-")
		}
		e.child(b, e.Args[0], precedence[e.Op]+1)
	default:
		sym, ok := infix[e.Op]
		if !ok {
			fmt.Fprintf(b, "<%s>", e.Op)
			return
		}
		p := precedence[e.Op]
		for i, a := range e.Args {
			if i > 0 {
				b.WriteString(" " + sym + " ")
			}
			floor := p
			if i > 0 {
				floor = p + 1
			}
			e.child(b, a, floor)
		}
	}
}

func (e Expr) child(b *strings.Builder, c Expr, floor int) {
	p, ok := precedence[c.Op]
	if ok && c.Op != OpImplies && p < floor || c.Op == OpConst && c.Val < 0 && floor > precedence[OpAdd] {
		b.WriteString("(")
		c.format(b)
		b.WriteString(")")
		return
	}
	c.format(b)
}

// MarshalText renders the textual form.
func (e Expr) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText parses the textual form.
func (e *Expr) UnmarshalText(text []byte) error {
	parsed, err := ParseExpr(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
