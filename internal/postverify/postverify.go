// Package postverify checks an emitted artifact against what the model
// predicted. A mismatch is a model-fidelity defect, reported apart from
// verification failures; the rigor profile decides whether it fails the
// run.
package postverify

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/roach88/kiln/internal/diag"
	"github.com/roach88/kiln/internal/emit"
	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/transform"
	"github.com/roach88/kiln/internal/verify"
)

const (
	// DefaultSizeTolerancePct applies when the rigor profile sets none.
	DefaultSizeTolerancePct = 10
	// MaxSizeRatio is the hard bound on measured vs estimated size, in
	// either direction.
	MaxSizeRatio = 5
)

// Finding kinds.
const (
	KindSize      = "size"
	KindSizeRatio = "size_ratio"
	KindHarness   = "harness"
	KindOutput    = "output"
	KindContract  = "contract"
)

// FidelityError reports error-severity findings.
type FidelityError struct {
	Findings []ir.Finding
}

func (e *FidelityError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "model fidelity: %d finding(s)", len(e.Findings))
	for _, f := range e.Findings {
		fmt.Fprintf(&b, "\n  %s: %s", f.Kind, f.Message)
	}
	return b.String()
}

// DiagCode implements diag.Coded.
func (e *FidelityError) DiagCode() diag.Code { return diag.ModelFidelity }

// IsFidelityError reports whether err is or wraps a FidelityError.
func IsFidelityError(err error) bool {
	var fe *FidelityError
	return errors.As(err, &fe)
}

// Result is the outcome of post-materialization verification.
type Result struct {
	Findings []ir.Finding
	Vectors  int
}

// Err returns a *FidelityError when any finding has error severity.
func (r *Result) Err() error {
	var errs []ir.Finding
	for _, f := range r.Findings {
		if f.Severity == ir.SeverityError {
			errs = append(errs, f)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &FidelityError{Findings: errs}
}

// Verifier runs the size and harness checks.
type Verifier struct {
	rigor      ir.Rigor
	harness    Harness
	maxVectors int
	logger     *zap.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithHarness enables smoke-test execution.
func WithHarness(h Harness) Option {
	return func(v *Verifier) { v.harness = h }
}

// WithMaxVectors caps the derived vectors.
func WithMaxVectors(n int) Option {
	return func(v *Verifier) { v.maxVectors = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// New creates a verifier for a rigor profile.
func New(rigor ir.Rigor, opts ...Option) *Verifier {
	v := &Verifier{rigor: rigor, maxVectors: DefaultMaxVectors, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) severity() ir.Severity {
	return cmp.Or(v.rigor.FidelitySeverity, ir.SeverityWarning)
}

// Verify checks art against tir's accepted estimates and, with a harness,
// against contract-derived vectors. Only harness infrastructure failures
// and cancellation are returned as errors; discrepancies are findings.
func (v *Verifier) Verify(ctx context.Context, tir *transform.TargetIR, art *emit.Artifact) (*Result, error) {
	res := &Result{}
	res.Findings = append(res.Findings, v.checkSize(tir.Estimates.FlashBytes(), art.Size)...)

	if v.harness != nil {
		vectors, err := Vectors(tir.Graph, v.maxVectors)
		if err != nil {
			return nil, err
		}
		res.Vectors = len(vectors)
		for _, vec := range vectors {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			got, err := v.harness.Execute(ctx, art, tir.Graph, vec)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				res.Findings = append(res.Findings, ir.Finding{
					Kind:     KindHarness,
					Severity: v.severity(),
					Message:  fmt.Sprintf("%s: vector %s: %v", v.harness.Name(), vec.Name, err),
				})
				continue
			}
			res.Findings = append(res.Findings, v.compare(tir.Graph, vec, got)...)
		}
	}

	for _, f := range res.Findings {
		v.logger.Warn("model fidelity finding",
			zap.String("kind", f.Kind),
			zap.String("severity", string(f.Severity)),
			zap.String("message", f.Message),
		)
	}
	return res, nil
}

func (v *Verifier) checkSize(expected, measured int64) []ir.Finding {
	if expected == measured {
		return nil
	}
	if expected == 0 || measured > expected*MaxSizeRatio || measured*MaxSizeRatio < expected {
		return []ir.Finding{{
			Kind:     KindSizeRatio,
			Severity: ir.SeverityError,
			Message:  fmt.Sprintf("artifact is %d bytes, estimate was %d: outside %dx", measured, expected, MaxSizeRatio),
			Expected: expected,
			Measured: measured,
		}}
	}
	tol := int64(cmp.Or(v.rigor.SizeTolerancePct, DefaultSizeTolerancePct))
	diff := measured - expected
	if diff < 0 {
		diff = -diff
	}
	if diff*100 <= tol*expected {
		return nil
	}
	return []ir.Finding{{
		Kind:     KindSize,
		Severity: v.severity(),
		Message:  fmt.Sprintf("artifact is %d bytes, estimate was %d: off by more than %d%%", measured, expected, tol),
		Expected: expected,
		Measured: measured,
	}}
}

// compare reports the first mismatch per node, then contract violations
// on the observed values.
func (v *Verifier) compare(g *ir.Graph, vec Vector, got map[string]int64) []ir.Finding {
	var out []ir.Finding
	for _, id := range sortedKeys(vec.Expected) {
		want := vec.Expected[id]
		m, ok := got[id]
		if !ok || m == want {
			continue
		}
		out = append(out, ir.Finding{
			Kind:     KindOutput,
			Severity: v.severity(),
			Message:  fmt.Sprintf("vector %s: node %s computed %d, model predicts %d", vec.Name, ir.Short(id), m, want),
			Expected: want,
			Measured: m,
		})
	}

	observed := make(map[string]int64, len(got)+len(vec.Inputs))
	for k, x := range vec.Inputs {
		observed[k] = x
	}
	for k, x := range got {
		observed[k] = x
	}
	for _, n := range g.Nodes {
		if _, ok := got[n.ID]; !ok || n.Kind == ir.KindInput {
			continue
		}
		env, ok := localEnv(g, n, observed)
		if !ok {
			continue
		}
		conds := slices.Clone(n.Contract.Post)
		if n.Sig.Output.Refinement != nil {
			conds = append(conds, n.Sig.Output.Refinement.Rename(map[string]string{"value": "out"}))
		}
		for _, c := range conds {
			holds, err := verify.Holds(c, env)
			if err != nil || holds {
				continue
			}
			out = append(out, ir.Finding{
				Kind:     KindContract,
				Severity: v.severity(),
				Message:  fmt.Sprintf("vector %s: node %s violates %s with out = %d", vec.Name, ir.Short(n.ID), c, env["out"]),
			})
		}
	}
	return out
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
