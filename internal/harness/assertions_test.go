package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/ir"
)

func sampleReport() *ir.Report {
	rep := &ir.Report{
		Outcome: ir.OutcomeMaterialized,
		Fit:     ir.FitSummary{Attempts: 2, Applied: []string{"reduce-inlining"}, Selected: "reduce-inlining"},
		Timing: []ir.SectionTiming{
			{Section: "control", WCETNS: 24483, BudgetNS: 50000, MarginNS: 25517},
		},
		Resources: []ir.ResourceUsage{
			ir.NewResourceUsage("flash", 4096, 1048576),
			ir.NewResourceUsage("stack", 9000, 8192),
		},
		Fidelity: []ir.Finding{
			{Kind: "overflow", Severity: ir.SeverityWarning},
			{Kind: "size", Severity: ir.SeverityWarning},
			{Kind: "timing", Severity: ir.SeverityError},
		},
		Artifact: &ir.ArtifactSummary{Digest: "abc"},
	}
	rep.Verification.Add(ir.ObligationReport{Status: ir.ResultVerified})
	rep.Verification.Add(ir.ObligationReport{Status: ir.ResultVerified})
	rep.Verification.Add(ir.ObligationReport{Status: ir.ResultWaived})
	return rep
}

func TestEvaluateAssertionsPass(t *testing.T) {
	assertions := []Assertion{
		{Type: AssertVerificationCount, Status: "total", Count: 3},
		{Type: AssertVerificationCount, Status: "verified", Count: 2},
		{Type: AssertVerificationCount, Status: "waived", Count: 1},
		{Type: AssertVerificationCount, Status: "failed", Count: 0},
		{Type: AssertTimingMargin, Section: "control", MinMarginNS: 25000},
		{Type: AssertResourceWithin, Resource: "flash"},
		{Type: AssertFidelityCount, Status: "warning", Count: 2},
		{Type: AssertFidelityCount, Status: "error", Count: 1},
		{Type: AssertStrategyApplied, Strategy: "reduce-inlining"},
		{Type: AssertArtifact},
	}
	assert.Empty(t, EvaluateAssertions(sampleReport(), assertions))
}

func TestEvaluateAssertionsFailures(t *testing.T) {
	tests := []struct {
		name      string
		assertion Assertion
		want      string
	}{
		{"count", Assertion{Type: AssertVerificationCount, Status: "verified", Count: 3}, "3 verified obligations"},
		{"margin too small", Assertion{Type: AssertTimingMargin, Section: "control", MinMarginNS: 30000}, "margin 25517ns"},
		{"missing section", Assertion{Type: AssertTimingMargin, Section: "isr"}, "not in report"},
		{"over budget", Assertion{Type: AssertResourceWithin, Resource: "stack"}, "9000 used (109.86%)"},
		{"missing resource", Assertion{Type: AssertResourceWithin, Resource: "io"}, "not in report"},
		{"findings", Assertion{Type: AssertFidelityCount, Status: "error", Count: 0}, "0 error findings"},
		{"strategy", Assertion{Type: AssertStrategyApplied, Strategy: "split-time-windows"}, "[reduce-inlining]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(sampleReport(), []Assertion{tt.assertion})
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], "Assertion failed: "+tt.assertion.Type)
			assert.Contains(t, errs[0], tt.want)
		})
	}
}

func TestArtifactAssertionWithoutArtifact(t *testing.T) {
	rep := sampleReport()
	rep.Artifact = nil
	errs := EvaluateAssertions(rep, []Assertion{{Type: AssertArtifact}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Actual: none")
}
