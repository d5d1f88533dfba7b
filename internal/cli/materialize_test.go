package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kiln/internal/config"
	"github.com/roach88/kiln/internal/ir"
)

type materializeResponse struct {
	Status string          `json:"status"`
	RunID  string          `json:"run_id"`
	Data   []TargetOutcome `json:"data"`
	Error  *CLIError       `json:"error"`
}

func storeConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store = filepath.Join(t.TempDir(), "kiln.db")
	return cfg
}

func TestMaterializeWritesArtifact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.bin")

	out, err := execute(t, &RootOptions{}, "materialize", "testdata/non-neg-increment.yaml", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ linux-x86_64: materialized")
	assert.Contains(t, out, "fit: initial after 1 attempt(s)")
	assert.Contains(t, out, "written to "+path)

	bin, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, bin)
}

func TestMaterializeJSON(t *testing.T) {
	out, err := execute(t, &RootOptions{Config: storeConfig(t)},
		"materialize", "testdata/non-neg-increment.yaml", "--format", "json")
	require.NoError(t, err)

	var resp materializeResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 1)

	rep := resp.Data[0].Report
	require.NotNil(t, rep)
	assert.Equal(t, ir.OutcomeMaterialized, rep.Outcome)
	assert.Equal(t, "linux-x86_64", rep.Target)
	assert.Equal(t, rep.RunID, resp.RunID)
	assert.Equal(t, 1, rep.Verification.Verified)
	require.NotNil(t, rep.Artifact)
	assert.Len(t, rep.Artifact.Digest, 64)
}

func TestMaterializeSeveralTargets(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	out, err := execute(t, &RootOptions{}, "materialize", "testdata/non-neg-increment.yaml",
		"--target", "linux-x86_64", "--target", "linux-aarch64", "-o", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ linux-x86_64")
	assert.Contains(t, out, "✓ linux-aarch64")

	for _, name := range []string{"linux-x86_64.bin", "linux-aarch64.bin"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
}

func TestMaterializeFailureExitCode(t *testing.T) {
	cfg := config.Default()
	cfg.Simulate = true

	out, err := execute(t, &RootOptions{Config: cfg},
		"materialize", "testdata/non-neg-increment.yaml", "--rigor", "certification", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp materializeResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "MODEL_FIDELITY", resp.Error.Code)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, ir.OutcomeFailed, resp.Data[0].Report.Outcome)
}

func TestMaterializeUnknownTarget(t *testing.T) {
	_, err := execute(t, &RootOptions{}, "materialize", "testdata/non-neg-increment.yaml", "--target", "pdp-11")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "pdp-11")
}

func TestMaterializeMissingWaivers(t *testing.T) {
	_, err := execute(t, &RootOptions{}, "materialize", "testdata/non-neg-increment.yaml", "--waivers", "testdata/none.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
