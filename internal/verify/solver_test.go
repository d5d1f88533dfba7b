package verify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/ir"
)

// fakeRunner answers every script with a fixed response and records calls.
type fakeRunner struct {
	out   string
	err   error
	delay time.Duration

	calls   atomic.Int32
	mu      sync.Mutex
	scripts []string
}

func (f *fakeRunner) Run(ctx context.Context, script string) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.scripts = append(f.scripts, script)
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.out, f.err
}

func TestSMTScript(t *testing.T) {
	o := ir.Obligation{
		Kind: ir.ObPostcondition,
		Goal: ir.Ne(ir.Var("out"), ir.Const(-2)),
		Assumptions: []ir.Expr{
			ir.Eq(ir.Var("out"), ir.Mul(ir.Var("in0.x"), ir.Const(3))),
			ir.Implies(ir.Ge(ir.Var("in0.x"), ir.Const(0)), ir.True()),
		},
	}

	want := `(set-logic QF_NIA)
(set-option :produce-models true)
(declare-fun |in0.x| () Int)
(declare-fun |out| () Int)
(assert (= |out| (* |in0.x| 3)))
(assert (=> (>= |in0.x| 0) true))
(assert (not (not (= |out| (- 2)))))
(check-sat)
(get-model)
(exit)
`
	assert.Equal(t, want, smtScript(&o))
}

func TestParseModel(t *testing.T) {
	out := `(
  (define-fun |in0.x| () Int
    (- 7))
  (define-fun out () Int
    12)
)`
	model, err := parseModel(out)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"in0.x": -7, "out": 12}, model)
}

func TestSolverVerdicts(t *testing.T) {
	o := ob(t, ir.ObPostcondition, "out > 0", "out == a * b", "a >= 1")

	tests := []struct {
		name   string
		runner *fakeRunner
		want   OutcomeKind
	}{
		{"unsat proves", &fakeRunner{out: "unsat\n(error \"model is not available\")\n"}, OutcomeProven},
		{"checked model disproves", &fakeRunner{out: "sat\n((define-fun a () Int 1)\n (define-fun b () Int 0)\n (define-fun out () Int 0))\n"}, OutcomeDisproven},
		{"model that does not replay", &fakeRunner{out: "sat\n((define-fun a () Int 1)\n (define-fun b () Int 2)\n (define-fun out () Int 0))\n"}, OutcomeInconclusive},
		{"unknown", &fakeRunner{out: "unknown\n"}, OutcomeInconclusive},
		{"process failure", &fakeRunner{err: errors.New("exec: \"z3\": executable file not found")}, OutcomeInconclusive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := NewSolver(tt.runner, "4.13", 1).Attempt(context.Background(), &o)
			assert.Equal(t, tt.want, out.Kind, out.Reason)
			assert.Equal(t, int32(1), tt.runner.calls.Load())
		})
	}
}

func TestSolverTimeout(t *testing.T) {
	o := ob(t, ir.ObPostcondition, "out > 0", "out == a * b")
	runner := &fakeRunner{out: "unsat\n", delay: time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	out := NewSolver(runner, "4.13", 1).Attempt(ctx, &o)

	assert.Equal(t, OutcomeInconclusive, out.Kind)
	assert.True(t, out.TimedOut)
}

func TestSolverAcceptsNothingWithoutRunner(t *testing.T) {
	o := ob(t, ir.ObPostcondition, "out > 0")
	assert.False(t, NewSolver(nil, "", 1).Accepts(&o))
}
