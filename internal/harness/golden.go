package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/kiln/internal/ir"
)

// Snapshot is the stable part of a report: everything except hashes,
// digests and model estimates, which change whenever the cost model does.
type Snapshot struct {
	Scenario     string
	Outcome      string
	ErrorCode    string
	Fit          ir.FitSummary
	Verification ir.VerificationSummary
	Fidelity     []ir.Finding
}

// NewSnapshot extracts the snapshot of a result.
func NewSnapshot(name string, r *Result) Snapshot {
	return Snapshot{
		Scenario:     name,
		Outcome:      r.Report.Outcome,
		ErrorCode:    r.ErrorCode,
		Fit:          r.Report.Fit,
		Verification: r.Report.Verification,
		Fidelity:     r.Report.Fidelity,
	}
}

// toCanonicalMap converts the snapshot for ir.MarshalCanonical, which only
// handles IR values and primitives.
func (s Snapshot) toCanonicalMap() map[string]any {
	fidelity := map[string]any{"warnings": 0, "errors": 0}
	for _, f := range s.Fidelity {
		switch f.Severity {
		case ir.SeverityError:
			fidelity["errors"] = fidelity["errors"].(int) + 1
		default:
			fidelity["warnings"] = fidelity["warnings"].(int) + 1
		}
	}
	v := s.Verification
	m := map[string]any{
		"scenario": s.Scenario,
		"outcome":  s.Outcome,
		"fit": map[string]any{
			"attempts": s.Fit.Attempts,
			"selected": s.Fit.Selected,
			"applied":  append([]string{}, s.Fit.Applied...),
		},
		"verification": map[string]any{
			"total":        v.Total,
			"verified":     v.Verified,
			"waived":       v.Waived,
			"failed":       v.Failed,
			"inconclusive": v.Inconclusive,
		},
		"fidelity": fidelity,
	}
	if s.ErrorCode != "" {
		m["error_code"] = s.ErrorCode
	}
	return m
}

// MarshalCanonical renders the snapshot as canonical JSON.
func (s Snapshot) MarshalCanonical() ([]byte, error) {
	return ir.MarshalCanonical(s.toCanonicalMap())
}

// RunWithGolden runs a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(name, result).MarshalCanonical()
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
