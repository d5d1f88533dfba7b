package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/fit"
	"github.com/roach88/kiln/internal/ir"
	"github.com/roach88/kiln/internal/testutil"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	c := Default()
	assert.Equal(t, "linux-x86_64", c.Target)
	assert.Equal(t, "balanced", c.Profile)
	assert.Equal(t, "integration", c.Rigor)
	assert.Equal(t, 8, c.Workers)
	assert.Equal(t, fit.DefaultMaxAttempts, c.MaxAttempts)
	assert.Nil(t, c.PriorityClasses())
	require.NoError(t, c.Validate())
}

func TestLoadYAML(t *testing.T) {
	c, err := Load("testdata/kiln.yaml")
	require.NoError(t, err)

	assert.Equal(t, "bench-m4", c.Target)
	assert.Equal(t, 4, c.Workers)
	assert.Equal(t, fit.DefaultMaxAttempts, c.MaxAttempts)
	assert.True(t, c.Simulate)
	assert.Equal(t, []fit.Class{fit.ClassTiming, fit.ClassCode}, c.PriorityClasses())

	require.NotNil(t, c.Solver)
	assert.Equal(t, "/usr/bin/z3", c.Solver.Path)
	assert.Equal(t, []string{"-in", "-smt2"}, c.Solver.Args)
	assert.Equal(t, "unknown", c.Solver.Version)
	assert.Equal(t, 1, c.Solver.MaxConcurrent)

	tg, err := c.ResolveTarget(c.Target)
	require.NoError(t, err)
	assert.Equal(t, int64(120_000_000), tg.Micro.ClockHz)
	assert.Equal(t, int64(4), tg.WordBytes())

	r, err := c.ResolveRigor(c.Rigor)
	require.NoError(t, err)
	assert.Zero(t, r.MaxWaivers)
}

func TestLoadYAMLRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "kiln.yaml", "target: stm32f407\nworkerz: 3\n")
	_, err := Load(path)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "workerz")
}

func TestLoadCUE(t *testing.T) {
	c, err := Load("testdata/kiln.cue")
	require.NoError(t, err)

	assert.Equal(t, "stm32f407", c.Target)
	assert.Equal(t, "development", c.Rigor)
	assert.Equal(t, 8, c.Workers)
	assert.Equal(t, 5, c.MaxAttempts)
	assert.False(t, c.Simulate)

	p, err := c.ResolveProfile("fast-loops")
	require.NoError(t, err)
	assert.Equal(t, ir.StrategySpeed, p.Strategy)
	assert.Equal(t, ir.UnrollFull, p.Unrolling)

	// Presets stay reachable next to custom profiles.
	_, err = c.ResolveProfile("debug")
	require.NoError(t, err)
}

func TestLoadCUESchemaViolation(t *testing.T) {
	path := writeFile(t, "kiln.cue", `rigor: "paranoid"
workers: 0
`)
	_, err := Load(path)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Problems)
}

func TestLoadCUEClosedSchema(t *testing.T) {
	path := writeFile(t, "kiln.cue", `colour: "blue"
`)
	_, err := Load(path)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	c := Default()
	c.Target = "pdp-11"
	c.Profile = "warp"
	c.Rigor = "paranoid"
	c.Workers = 0
	c.Priority = []string{"timing", "luck"}
	c.Profiles = []ir.Profile{{Name: "odd", Strategy: "chaos"}}
	c.Solver = &Solver{MaxConcurrent: 1}

	err := c.Validate()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Problems, 7)
	assert.Contains(t, err.Error(), "7 problems")
	assert.Contains(t, err.Error(), `unknown target "pdp-11"`)
	assert.Contains(t, err.Error(), `unknown constraint class "luck"`)
}

func TestCustomTargetShadowsPreset(t *testing.T) {
	preset, ok := ir.TargetPreset("stm32f407")
	require.True(t, ok)
	custom := preset
	custom.Micro.ClockHz = 84_000_000

	c := Default()
	c.Targets = []ir.Target{custom}
	got, err := c.ResolveTarget("stm32f407")
	require.NoError(t, err)
	assert.Equal(t, int64(84_000_000), got.Micro.ClockHz)
}

func TestLoadGraphMatchesBuilder(t *testing.T) {
	g, err := LoadGraph("testdata/non-neg-increment.yaml")
	require.NoError(t, err)
	if diff := cmp.Diff(testutil.NonNegIncrement(), g); diff != "" {
		t.Errorf("graph mismatch (-want +got):\n%s", diff)
	}
}

func TestParseGraphEmptyRegionsAreNil(t *testing.T) {
	g, err := ParseGraph([]byte("name: bare\nnodes: []\nedges: []\nregions: []\n"))
	require.NoError(t, err)
	assert.Nil(t, g.Regions)
	assert.Nil(t, g.Bodies)
}

func TestParseGraphRequiresName(t *testing.T) {
	_, err := ParseGraph([]byte("nodes: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestLoadWaivers(t *testing.T) {
	ws, err := LoadWaivers("testdata/waivers.yaml")
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.Equal(t, "alice", ws[0].Author)
	assert.Empty(t, ws[0].Problems())
	assert.Equal(t, 2027, ws[0].Expires.Year())

	none, err := LoadWaivers("")
	require.NoError(t, err)
	assert.Nil(t, none)
}
