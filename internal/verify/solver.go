package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/kiln/internal/ir"
)

// Runner executes one SMT-LIB script and returns the solver's stdout.
type Runner interface {
	Run(ctx context.Context, script string) (string, error)
}

// ExecRunner runs an external solver process, reading the script on stdin.
type ExecRunner struct {
	Path string
	Args []string
}

// DefaultSolverCommand is z3 in SMT-LIB2 stdin mode.
var DefaultSolverCommand = []string{"z3", "-in", "-smt2"}

// Run implements Runner. The process is killed when ctx ends.
func (r ExecRunner) Run(ctx context.Context, script string) (string, error) {
	cmd := exec.CommandContext(ctx, r.Path, r.Args...)
	cmd.Stdin = strings.NewReader(script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// z3 exits non-zero after "unsat" when get-model has no model.
		if stdout.Len() > 0 {
			return stdout.String(), nil
		}
		return "", fmt.Errorf("%s: %w: %s", r.Path, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Solver hands obligations to an SMT solver. Concurrent invocations are
// bounded by a semaphore shared by every dispatcher using this engine.
type Solver struct {
	runner  Runner
	version string
	sem     *semaphore.Weighted
}

// NewSolver returns a solver engine. version identifies the solver build
// for witness invalidation; maxConcurrent <= 0 means 1.
func NewSolver(runner Runner, version string, maxConcurrent int) *Solver {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Solver{runner: runner, version: version, sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

func (s *Solver) Name() string    { return "solver" }
func (s *Solver) Version() string { return s.version }

func (s *Solver) Accepts(o *ir.Obligation) bool {
	switch o.Kind {
	case ir.ObRefinement, ir.ObPrecondition, ir.ObPostcondition, ir.ObTermination:
		return s.runner != nil
	}
	return false
}

func (s *Solver) Attempt(ctx context.Context, o *ir.Obligation) Outcome {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return Outcome{Kind: OutcomeInconclusive, Reason: "solver queue: " + err.Error(), TimedOut: true}
	}
	defer s.sem.Release(1)

	out, err := s.runner.Run(ctx, smtScript(o))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Outcome{Kind: OutcomeInconclusive, Reason: "solver timed out", TimedOut: true}
		}
		return Inconclusive("solver failed: %v", err)
	}

	status, rest, _ := strings.Cut(strings.TrimSpace(out), "\n")
	switch strings.TrimSpace(status) {
	case "unsat":
		return Proven(ir.IRObject{
			"method": ir.IRString("smt"),
			"result": ir.IRString("unsat"),
		})
	case "sat":
		model, err := parseModel(rest)
		if err != nil {
			return Inconclusive("solver model: %v", err)
		}
		// A model is only trusted after replaying it.
		env := completeModel(o, model)
		if !refutes(o, env) {
			return Inconclusive("solver model does not replay")
		}
		return Disproven(ir.Counterexample{Assignment: env})
	case "unknown":
		return Inconclusive("solver returned unknown")
	}
	return Inconclusive("unexpected solver output %q", status)
}

// completeModel assigns zero to variables the solver left unconstrained.
func completeModel(o *ir.Obligation, model map[string]int64) map[string]int64 {
	env := make(map[string]int64, len(model))
	for k, v := range model {
		env[k] = v
	}
	add := func(e ir.Expr) {
		for _, v := range e.Vars() {
			if _, ok := env[v]; !ok {
				env[v] = 0
			}
		}
	}
	add(o.Goal)
	for _, a := range o.Assumptions {
		add(a)
	}
	return env
}
