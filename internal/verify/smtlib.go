package verify

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/kiln/internal/ir"
)

// smtSymbol quotes a variable name for SMT-LIB. Dotted names such as
// "in0.in1" are legal only inside bars.
func smtSymbol(name string) string {
	return "|" + name + "|"
}

var smtOps = map[ir.Op]string{
	ir.OpAdd: "+", ir.OpSub: "-", ir.OpMul: "*", ir.OpNeg: "-",
	ir.OpLt: "<", ir.OpLe: "<=", ir.OpEq: "=", ir.OpGe: ">=", ir.OpGt: ">",
	ir.OpAnd: "and", ir.OpOr: "or", ir.OpNot: "not", ir.OpImplies: "=>",
}

func writeSMT(b *strings.Builder, e ir.Expr) {
	switch e.Op {
	case ir.OpConst:
		if e.Val < 0 {
			// SMT-LIB has no negative literals.
			fmt.Fprintf(b, "(- %s)", strconv.FormatUint(uint64(-(e.Val+1))+1, 10))
			return
		}
		b.WriteString(strconv.FormatInt(e.Val, 10))
	case ir.OpVar:
		b.WriteString(smtSymbol(e.Name))
	case ir.OpTrue:
		b.WriteString("true")
	case ir.OpFalse:
		b.WriteString("false")
	case ir.OpNe:
		b.WriteString("(not (= ")
		writeSMT(b, e.Args[0])
		b.WriteByte(' ')
		writeSMT(b, e.Args[1])
		b.WriteString("))")
	default:
		b.WriteByte('(')
		b.WriteString(smtOps[e.Op])
		for _, a := range e.Args {
			b.WriteByte(' ')
			writeSMT(b, a)
		}
		b.WriteByte(')')
	}
}

// smtScript asks whether the assumptions and the negated goal are
// satisfiable together. unsat proves the obligation.
func smtScript(o *ir.Obligation) string {
	vars := map[string]bool{}
	for _, v := range o.Goal.Vars() {
		vars[v] = true
	}
	for _, a := range o.Assumptions {
		for _, v := range a.Vars() {
			vars[v] = true
		}
	}
	names := make([]string, 0, len(vars))
	for v := range vars {
		names = append(names, v)
	}
	slices.Sort(names)

	var b strings.Builder
	b.WriteString("(set-logic QF_NIA)\n(set-option :produce-models true)\n")
	for _, v := range names {
		fmt.Fprintf(&b, "(declare-fun %s () Int)\n", smtSymbol(v))
	}
	for _, a := range o.Assumptions {
		b.WriteString("(assert ")
		writeSMT(&b, a)
		b.WriteString(")\n")
	}
	b.WriteString("(assert (not ")
	writeSMT(&b, o.Goal)
	b.WriteString("))\n(check-sat)\n(get-model)\n(exit)\n")
	return b.String()
}

// parseModel reads define-fun entries from a get-model response. Values are
// plain integers or (- n).
func parseModel(out string) (map[string]int64, error) {
	toks := tokenize(out)
	model := map[string]int64{}
	for i := 0; i < len(toks); i++ {
		if toks[i] != "define-fun" {
			continue
		}
		// define-fun NAME ( ) Int VALUE
		if i+5 >= len(toks) || toks[i+2] != "(" || toks[i+3] != ")" || toks[i+4] != "Int" {
			continue
		}
		name := strings.Trim(toks[i+1], "|")
		j := i + 5
		neg := false
		if toks[j] == "(" && j+2 < len(toks) && toks[j+1] == "-" {
			neg = true
			j += 2
		}
		v, err := strconv.ParseInt(toks[j], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("model value for %s: %w", name, err)
		}
		if neg {
			v = -v
		}
		model[name] = v
	}
	return model, nil
}

func tokenize(s string) []string {
	var toks []string
	for i := 0; i < len(s); {
		switch c := s[i]; {
		case c == '(' || c == ')':
			toks = append(toks, string(c))
			i++
		case c == ' ' || c == '\n' || c == '\t' || c == '\r':
			i++
		case c == '|':
			j := strings.IndexByte(s[i+1:], '|')
			if j < 0 {
				toks = append(toks, s[i:])
				return toks
			}
			toks = append(toks, s[i:i+j+2])
			i += j + 2
		default:
			j := i
			for j < len(s) && !strings.ContainsRune("() \n\t\r|", rune(s[j])) {
				j++
			}
			toks = append(toks, s[i:j])
			i = j
		}
	}
	return toks
}
