package ir

import (
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/parser"
	"cuelang.org/go/cue/token"
)

// ParseExpr parses the textual predicate form, for example
// "in0 >= 0 && out == in0 + 1" or "implies(in0 > 0, out > 0)".
//
// The surface syntax is a subset of CUE expressions, so the CUE parser does
// the lexing and precedence work; this function only maps the AST.
func ParseExpr(src string) (Expr, error) {
	if strings.TrimSpace(src) == "" {
		return Expr{}, fmt.Errorf("empty expression")
	}
	node, err := parser.ParseExpr("predicate", src)
	if err != nil {
		return Expr{}, fmt.Errorf("parse %q: %w", src, err)
	}
	e, err := fromCUE(node)
	if err != nil {
		return Expr{}, fmt.Errorf("parse %q: %w", src, err)
	}
	return e, nil
}

// MustParseExpr is like ParseExpr but panics on error. For literals in
// tests and presets.
func MustParseExpr(src string) Expr {
	e, err := ParseExpr(src)
	if err != nil {
		panic(err)
	}
	return e
}

var binaryOps = map[token.Token]Op{
	token.ADD:  OpAdd,
	token.SUB:  OpSub,
	token.MUL:  OpMul,
	token.LSS:  OpLt,
	token.LEQ:  OpLe,
	token.EQL:  OpEq,
	token.NEQ:  OpNe,
	token.GEQ:  OpGe,
	token.GTR:  OpGt,
	token.LAND: OpAnd,
	token.LOR:  OpOr,
}

func fromCUE(n ast.Expr) (Expr, error) {
	switch x := n.(type) {
	case *ast.ParenExpr:
		return fromCUE(x.X)
	case *ast.Ident:
		switch x.Name {
		case "true":
			return True(), nil
		case "false":
			return False(), nil
		}
		return Var(x.Name), nil
	case *ast.BasicLit:
		switch x.Kind {
		case token.INT:
			v, err := strconv.ParseInt(strings.ReplaceAll(x.Value, "_", ""), 0, 64)
			if err != nil {
				return Expr{}, fmt.Errorf("integer literal %s: %w", x.Value, err)
			}
			return Const(v), nil
		case token.TRUE:
			return True(), nil
		case token.FALSE:
			return False(), nil
		}
		return Expr{}, fmt.Errorf("unsupported literal %s", x.Value)
	case *ast.UnaryExpr:
		arg, err := fromCUE(x.X)
		if err != nil {
			return Expr{}, err
		}
		switch x.Op {
		case token.SUB:
			return Neg(arg), nil
		case token.ADD:
			return arg, nil
		case token.NOT:
			return Not(arg), nil
		}
		return Expr{}, fmt.Errorf("unsupported unary operator %s", x.Op)
	case *ast.BinaryExpr:
		op, ok := binaryOps[x.Op]
		if !ok {
			return Expr{}, fmt.Errorf("unsupported operator %s", x.Op)
		}
		l, err := fromCUE(x.X)
		if err != nil {
			return Expr{}, err
		}
		r, err := fromCUE(x.Y)
		if err != nil {
			return Expr{}, err
		}
		switch op {
		case OpAnd:
			return And(append(l.Conjuncts(), r.Conjuncts()...)...), nil
		case OpOr:
			return Or(l, r), nil
		}
		return Expr{Op: op, Args: []Expr{l, r}}, nil
	case *ast.CallExpr:
		fn, ok := x.Fun.(*ast.Ident)
		if !ok || fn.Name != "implies" || len(x.Args) != 2 {
			return Expr{}, fmt.Errorf("only implies(a, b) calls are supported")
		}
		a, err := fromCUE(x.Args[0])
		if err != nil {
			return Expr{}, err
		}
		b, err := fromCUE(x.Args[1])
		if err != nil {
			return Expr{}, err
		}
		return Implies(a, b), nil
	}
	return Expr{}, fmt.Errorf("unsupported expression %T", n)
}
