package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/config"
	"github.com/roach88/kiln/internal/ir"
)

func load(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
	require.NoError(t, err)
	return s
}

func TestRunScenarios(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)

	for _, s := range scenarios {
		t.Run(s.Name, func(t *testing.T) {
			result, err := Run(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Equal(t, "scenario-"+s.Name, result.Report.RunID)
		})
	}
}

func TestRunReportsFailedExpectation(t *testing.T) {
	s := load(t, "non-neg-increment")
	s.Expect.Selected = "reduce-inlining"
	s.Expect.Attempts = 3
	s.Assertions = append(s.Assertions, Assertion{Type: AssertVerificationCount, Status: "failed", Count: 1})

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "selected: expected reduce-inlining")
	assert.Contains(t, result.Errors[1], "attempts: expected 3, got 1")
	assert.Contains(t, result.Errors[2], "1 failed obligations")
}

func TestRunUnexpectedFailureIncludesError(t *testing.T) {
	s := load(t, "certification-fidelity")
	s.Expect = Expect{Outcome: ir.OutcomeMaterialized}

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, "MODEL_FIDELITY", result.ErrorCode)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "outcome: expected materialized, got failed: ")
}

func TestRunUnknownTarget(t *testing.T) {
	s := load(t, "non-neg-increment")
	s.Target = "vax-780"
	_, err := Run(context.Background(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown target "vax-780"`)
}

func TestRunWithConfigTargets(t *testing.T) {
	preset, ok := ir.TargetPreset("linux-x86_64")
	require.True(t, ok)
	custom := preset
	custom.Name = "bench-host"

	cfg := config.Default()
	cfg.Targets = []ir.Target{custom}

	s := load(t, "non-neg-increment")
	s.Target = "bench-host"
	result, err := Run(context.Background(), s, WithConfig(cfg))
	require.NoError(t, err)
	assert.Equal(t, "bench-host", result.Report.Target)
	assert.Equal(t, ir.OutcomeMaterialized, result.Report.Outcome)
}

func TestRunCancelledContext(t *testing.T) {
	s := load(t, "control-loop-deadline")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Run(ctx, s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Equal(t, ir.OutcomeCancelled, result.Report.Outcome)
	assert.Equal(t, "CANCELLED", result.ErrorCode)
}
