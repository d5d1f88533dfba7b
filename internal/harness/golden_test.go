package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/ir"
)

func TestGoldenNonNegIncrement(t *testing.T) {
	result, err := RunWithGolden(t, load(t, "non-neg-increment"))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestSnapshotCanonical(t *testing.T) {
	r := &Result{
		ErrorCode: "RESOURCE_FIT_FAILURE",
		Report: &ir.Report{
			Outcome: ir.OutcomeFailed,
			Fit:     ir.FitSummary{Attempts: 5, Applied: []string{"smaller-variants"}, Selected: "initial"},
			Fidelity: []ir.Finding{
				{Severity: ir.SeverityError},
				{Severity: ir.SeverityWarning},
				{Severity: ir.SeverityError},
			},
		},
	}
	data, err := NewSnapshot("tight", r).MarshalCanonical()
	require.NoError(t, err)
	assert.Equal(t,
		`{"error_code":"RESOURCE_FIT_FAILURE","fidelity":{"errors":2,"warnings":1},`+
			`"fit":{"applied":["smaller-variants"],"attempts":5,"selected":"initial"},`+
			`"outcome":"failed","scenario":"tight",`+
			`"verification":{"failed":0,"inconclusive":0,"total":0,"verified":0,"waived":0}}`,
		string(data))
}
