package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObligationSealIdentity(t *testing.T) {
	ob := Obligation{
		Kind:        ObRefinement,
		Round:       RoundA,
		Context:     ObligationContext{Node: "abc"},
		Goal:        MustParseExpr("out >= 0"),
		Assumptions: []Expr{MustParseExpr("in0 >= 0")},
		Description: "first",
	}
	require.NoError(t, ob.Seal())
	first := ob.ID

	ob.Description = "second"
	ob.Critical = true
	require.NoError(t, ob.Seal())
	assert.Equal(t, first, ob.ID, "labels are not identity")

	ob.Goal = MustParseExpr("out > 0")
	require.NoError(t, ob.Seal())
	assert.NotEqual(t, first, ob.ID)

	assert.Equal(t, "in0 >= 0 ⊢ out > 0", ob.Predicate())
}

func TestObligationBind(t *testing.T) {
	tmpl := Obligation{
		Kind:    ObResource,
		Round:   RoundB,
		Context: ObligationContext{Node: "n", Section: "isr"},
		Goal:    Le(Var(string(MeasureWCET)), Const(500)),
		Measure: MeasureWCET,
		Bound:   500,
	}
	require.NoError(t, tmpl.Seal())

	a, err := tmpl.Bind(map[string]int64{"wcet_ns": 420})
	require.NoError(t, err)
	b, err := tmpl.Bind(map[string]int64{"wcet_ns": 620})
	require.NoError(t, err)

	assert.Empty(t, tmpl.Assumptions)
	assert.Empty(t, tmpl.Facts)
	assert.NotEqual(t, tmpl.ID, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "wcet_ns == 420 ⊢ wcet_ns <= 500", a.Predicate())
}

func TestWitnessContentAddressed(t *testing.T) {
	cx := Counterexample{Assignment: map[string]int64{"b": 2, "a": -1}, Note: "overflow"}

	w1, err := NewWitness("ob", "interval", "1", VerdictDisproven, cx.Evidence())
	require.NoError(t, err)
	w2, err := NewWitness("ob", "interval", "1", VerdictDisproven, cx.Evidence())
	require.NoError(t, err)
	w3, err := NewWitness("ob", "interval", "2", VerdictDisproven, cx.Evidence())
	require.NoError(t, err)

	assert.Equal(t, w1.ID, w2.ID)
	assert.NotEqual(t, w1.ID, w3.ID)

	back := CounterexampleFrom(w1.Evidence)
	assert.Equal(t, cx, back)
	assert.Equal(t, "a=-1, b=2, overflow", back.String())

	trace := Counterexample{Trace: []string{"idle", "busy", "error"}}
	assert.Equal(t, "trace idle -> busy -> error", CounterexampleFrom(trace.Evidence()).String())
}

func TestWaiverProblems(t *testing.T) {
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := Waiver{
		Obligation:    "ob",
		Justification: "hardware watchdog covers it",
		Author:        "dev",
		Approver:      "lead",
		Issued:        issued,
		Expires:       issued.Add(30 * 24 * time.Hour),
	}
	assert.Empty(t, w.Problems())
	assert.False(t, w.Expired(issued.Add(time.Hour)))
	assert.True(t, w.Expired(w.Expires))

	bad := Waiver{Obligation: "ob", Issued: issued, Expires: issued.Add(-time.Hour)}
	assert.Equal(t, []string{
		"missing justification",
		"missing author",
		"missing approver",
		"expires before issue date",
	}, bad.Problems())
}

func TestResultStatusPassing(t *testing.T) {
	assert.True(t, ResultVerified.Passing())
	assert.True(t, ResultWaived.Passing())
	assert.False(t, ResultFailed.Passing())
	assert.False(t, ResultInconclusiveTimeout.Passing())
}
