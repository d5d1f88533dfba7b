package verify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/diag"
	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/testutil"
)

func TestGatePasses(t *testing.T) {
	res := &Result{Reports: []ir.ObligationReport{
		{ID: "a", Status: ir.ResultVerified},
		{ID: "b", Status: ir.ResultWaived},
	}, Waivers: []ir.WaiverUse{{Obligation: "b"}}}

	g := NewGate(1)
	require.NoError(t, g.Check(ir.RoundA, res))
	assert.Equal(t, 1, g.Used())
}

func TestGateWaiverBudgetSpansRounds(t *testing.T) {
	g := NewGate(1)
	roundA := &Result{Waivers: []ir.WaiverUse{{Obligation: "a"}}}
	roundB := &Result{Waivers: []ir.WaiverUse{{Obligation: "b"}}}

	require.NoError(t, g.Check(ir.RoundA, roundA))
	err := g.Check(ir.RoundB, roundB)

	var policy *WaiverPolicyError
	require.ErrorAs(t, err, &policy)
	assert.Contains(t, err.Error(), "2 waivers used, the rigor profile allows 1")
}

func TestGateErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		failures []ir.ObligationReport
		want     diag.Code
	}{
		{"counterexample", []ir.ObligationReport{{ID: "a", Status: ir.ResultFailed}}, diag.ObligationFailure},
		{"critical timeout", []ir.ObligationReport{{ID: "a", Status: ir.ResultInconclusiveTimeout, Critical: true}}, diag.Timeout},
		{"non-critical timeout", []ir.ObligationReport{{ID: "a", Status: ir.ResultInconclusiveTimeout}}, diag.ObligationFailure},
		{"counterexample wins", []ir.ObligationReport{
			{ID: "a", Status: ir.ResultInconclusiveTimeout, Critical: true},
			{ID: "b", Status: ir.ResultFailed},
		}, diag.ObligationFailure},
		{"inconclusive", []ir.ObligationReport{{ID: "a", Status: ir.ResultInconclusive}}, diag.ObligationFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewGate(0).Check(ir.RoundB, &Result{Reports: tt.failures})
			var gate *GateError
			require.ErrorAs(t, err, &gate)
			assert.Equal(t, ir.RoundB, gate.Round)
			assert.Equal(t, tt.want, gate.DiagCode())
		})
	}
}

func TestGateErrorMessage(t *testing.T) {
	err := &GateError{Round: ir.RoundA, Failures: []ir.ObligationReport{{
		ID:             "0123456789abcdef",
		Kind:           "postcondition",
		Status:         ir.ResultFailed,
		Predicate:      "out > 0",
		Context:        "node y",
		Counterexample: "in0=-1",
	}}}
	want := "round A gate: 1 obligation(s) not verified\n" +
		"  0123456789ab postcondition [failed-with-counterexample] out > 0 at node y\n" +
		"    counterexample: in0=-1"
	assert.Equal(t, want, err.Error())
}

func TestValidateWaivers(t *testing.T) {
	expires := testutil.Epoch.Add(time.Hour)
	good := waiverFor("ob-1", expires)

	require.NoError(t, ValidateWaivers([]ir.Waiver{good, waiverFor("ob-2", expires)}))

	missing := good
	missing.Approver = ""
	backwards := waiverFor("ob-3", testutil.Epoch.Add(-48*time.Hour))

	err := ValidateWaivers([]ir.Waiver{good, good, missing, backwards})
	var policy *WaiverPolicyError
	require.ErrorAs(t, err, &policy)
	assert.Len(t, policy.Problems, 4)
	assert.Contains(t, err.Error(), "duplicate waiver for ob-1")
	assert.Contains(t, err.Error(), "missing approver")
	assert.Contains(t, err.Error(), "expires before issue date")
}
