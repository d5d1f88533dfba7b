package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCommandFilter(t *testing.T) {
	out, err := execute(t, &RootOptions{}, "test", "testdata/scenarios", "--filter", "non-neg*")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ non-neg-increment")
	assert.NotContains(t, out, "wrong-outcome")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandReportsFailures(t *testing.T) {
	out, err := execute(t, &RootOptions{}, "test", "testdata/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong-outcome")
	assert.Contains(t, out, "outcome: expected failed, got materialized")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommandJSON(t *testing.T) {
	out, err := execute(t, &RootOptions{}, "test", "testdata/scenarios", "--format", "json")
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "SCENARIO_FAILED", resp.Error.Code)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Failed)
}

func TestTestCommandNoScenarios(t *testing.T) {
	out, err := execute(t, &RootOptions{}, "test", "testdata/scenarios", "--filter", "nothing-*")
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandMissingDir(t *testing.T) {
	_, err := execute(t, &RootOptions{}, "test", "testdata/absent")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandGoldenUpdate(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	copyFile(t, "testdata/non-neg-increment.yaml", filepath.Join(root, "non-neg-increment.yaml"))
	copyFile(t, "testdata/scenarios/non-neg-increment.yaml", filepath.Join(dir, "non-neg-increment.yaml"))

	out, err := execute(t, &RootOptions{}, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ non-neg-increment (golden updated)")

	golden := filepath.Join(dir, "golden", "non-neg-increment.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario":"non-neg-increment"`)

	_, err = execute(t, &RootOptions{}, "test", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(golden, []byte(`{"scenario":"stale"}`), 0o644))
	out, err = execute(t, &RootOptions{}, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "report does not match golden file")
}

func copyFile(t *testing.T, src, dst string) {
	t.Helper()
	data, err := os.ReadFile(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dst, data, 0o644))
}
