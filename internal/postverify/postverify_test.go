package postverify

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/diag"
	"github.com/roach88/kiln/internal/emit"
	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/testutil"
	"github.com/roach88/kiln/internal/transform"
)

func rigor(t *testing.T, name string) ir.Rigor {
	t.Helper()
	r, ok := ir.RigorPreset(name)
	require.True(t, ok)
	return r
}

func emitted(t *testing.T, g *ir.Graph) (*transform.TargetIR, *emit.Artifact) {
	t.Helper()
	tg, _ := ir.TargetPreset("stm32f407")
	p, _ := ir.ProfilePreset("balanced")
	tir, err := transform.New().Transform(context.Background(), g, tg, p, transform.Hints{})
	require.NoError(t, err)
	art, err := emit.NewEmitter(emit.ImageBackend{}).Emit(context.Background(), tir, nil)
	require.NoError(t, err)
	return tir, art
}

func TestCheckSize(t *testing.T) {
	tests := []struct {
		name     string
		rigor    string
		expected int64
		measured int64
		kind     string
		severity ir.Severity
	}{
		{"exact", "integration", 1000, 1000, "", ""},
		{"within tolerance", "integration", 1000, 1050, "", ""},
		{"over tolerance", "integration", 1000, 1200, KindSize, ir.SeverityWarning},
		{"under tolerance", "development", 1000, 700, KindSize, ir.SeverityWarning},
		{"certification is strict", "certification", 1000, 1080, KindSize, ir.SeverityError},
		{"far over", "development", 1000, 6000, KindSizeRatio, ir.SeverityError},
		{"far under", "development", 1000, 100, KindSizeRatio, ir.SeverityError},
		{"nothing estimated", "development", 0, 10, KindSizeRatio, ir.SeverityError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(rigor(t, tt.rigor)).checkSize(tt.expected, tt.measured)
			if tt.kind == "" {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.kind, got[0].Kind)
			assert.Equal(t, tt.severity, got[0].Severity)
			assert.Equal(t, tt.measured, got[0].Measured)
		})
	}
}

func TestImageArtifactMatchesEstimate(t *testing.T) {
	tir, art := emitted(t, testutil.Pipeline())

	res, err := New(rigor(t, "certification"), WithHarness(Simulator{})).Verify(context.Background(), tir, art)
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
	assert.Positive(t, res.Vectors)
	assert.NoError(t, res.Err())
}

func TestFidelityErrorBySeverity(t *testing.T) {
	tir, art := emitted(t, testutil.Pipeline())
	inflated := *art
	inflated.Size = art.Size * 2

	res, err := New(rigor(t, "integration")).Verify(context.Background(), tir, &inflated)
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.NoError(t, res.Err(), "warnings do not fail the run")

	res, err = New(rigor(t, "certification")).Verify(context.Background(), tir, &inflated)
	require.NoError(t, err)
	err = res.Err()
	require.Error(t, err)
	assert.True(t, IsFidelityError(err))
	assert.Equal(t, diag.ModelFidelity, diag.CodeOf(err))
}

func TestVectorsFromRefinements(t *testing.T) {
	vs, err := Vectors(testutil.NonNegIncrement(), 0)
	require.NoError(t, err)

	var names []string
	for _, v := range vs {
		names = append(names, v.Name)
		assert.GreaterOrEqual(t, v.Inputs["x"], int64(0))
	}
	assert.Equal(t, []string{"nominal", "max", "x=1", "x=2147483646"}, names)
	assert.Equal(t, map[string]int64{"one": 1, "y": 1}, vs[0].Expected)
	assert.Equal(t, int64(math.MaxInt32)+1, vs[1].Expected["y"])
}

func TestVectorsRespectPreconditions(t *testing.T) {
	g := testutil.NewGraph("ratio").
		Input("a", testutil.I32()).
		Input("b", testutil.I32()).
		Op("q", ir.KindDiv, testutil.I32(), "a", "b").
		Op("r", ir.KindSub, testutil.I32(), "a", "b").
		Pre("r", "in0 >= in1").
		Build()

	vs, err := Vectors(g, 0)
	require.NoError(t, err)
	require.NotEmpty(t, vs)
	for _, v := range vs {
		assert.NotZero(t, v.Inputs["b"], v.Name)
		assert.GreaterOrEqual(t, v.Inputs["a"], v.Inputs["b"], v.Name)
	}

	limited, err := Vectors(g, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestSimulatorFindsWraparound(t *testing.T) {
	tir, art := emitted(t, testutil.NonNegIncrement())

	res, err := New(rigor(t, "integration"), WithHarness(Simulator{})).Verify(context.Background(), tir, art)
	require.NoError(t, err)
	require.Len(t, res.Findings, 2)
	assert.Equal(t, KindOutput, res.Findings[0].Kind)
	assert.Equal(t, int64(math.MinInt32), res.Findings[0].Measured)
	assert.Equal(t, KindContract, res.Findings[1].Kind)
	assert.Contains(t, res.Findings[1].Message, "out > 0")
	assert.NoError(t, res.Err())
}

type brokenHarness struct{}

func (brokenHarness) Name() string { return "board" }

func (brokenHarness) Execute(context.Context, *emit.Artifact, *ir.Graph, Vector) (map[string]int64, error) {
	return nil, errors.New("debugger not connected")
}

func TestHarnessFailureIsFinding(t *testing.T) {
	tir, art := emitted(t, testutil.NonNegIncrement())

	res, err := New(rigor(t, "certification"), WithHarness(brokenHarness{}), WithMaxVectors(1)).Verify(context.Background(), tir, art)
	require.NoError(t, err)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, KindHarness, res.Findings[0].Kind)
	assert.Contains(t, res.Findings[0].Message, "debugger not connected")
	assert.True(t, IsFidelityError(res.Err()))
}

func TestWrap(t *testing.T) {
	assert.Equal(t, int64(math.MinInt32), wrap(int64(math.MaxInt32)+1, testutil.I32()))
	assert.Equal(t, int64(0), wrap(256, testutil.U8()))
	assert.Equal(t, int64(255), wrap(-1, testutil.U8()))
	assert.Equal(t, int64(1), wrap(7, ir.Type{Base: ir.BaseBool}))
}
