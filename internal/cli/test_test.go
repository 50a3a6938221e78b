package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const failingScenario = `name: failing
description: Asserts a value the steps never write.
stores:
  - key: counter
    initial: 1
steps:
  - action: set
    store: counter
    value: 2
assertions:
  - type: final_value
    store: counter
    value: 3
`

// copyScenario copies a harness scenario (and its golden file, if any)
// into dir.
func copyScenario(t *testing.T, dir, name string, withGolden bool) {
	t.Helper()
	src := filepath.Join("..", "harness", "testdata")
	data, err := os.ReadFile(filepath.Join(src, "scenarios", name+".yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), data, 0644))
	if !withGolden {
		return
	}
	golden, err := os.ReadFile(filepath.Join(src, "golden", name+".golden"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", name+".golden"), golden, 0644))
}

func executeTest(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := executeTest(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentDir(t *testing.T) {
	_, err := executeTest(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := executeTest(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommandGoldenMatch(t *testing.T) {
	dir := t.TempDir()
	copyScenario(t, dir, "clamp_counter", true)
	copyScenario(t, dir, "branch_merge", true)

	out, err := executeTest(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ clamp_counter")
	assert.Contains(t, out, "✓ branch_merge")
	assert.Contains(t, out, "Test Summary: 2 passed, 0 failed, 2 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	copyScenario(t, dir, "clamp_counter", false)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "clamp_counter.golden"), []byte("{}"), 0644))

	out, err := executeTest(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ clamp_counter")
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandUpdate(t *testing.T) {
	dir := t.TempDir()
	copyScenario(t, dir, "clamp_counter", false)

	out, err := executeTest(t, "text", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ clamp_counter (golden updated)")

	written, err := os.ReadFile(filepath.Join(dir, "golden", "clamp_counter.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join("..", "harness", "testdata", "golden", "clamp_counter.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	// the regenerated file now matches
	_, err = executeTest(t, "text", dir)
	require.NoError(t, err)
}

func TestTestCommandFailureJSON(t *testing.T) {
	dir := t.TempDir()
	copyScenario(t, dir, "clamp_counter", false)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "failing.yaml"), []byte(failingScenario), 0644))

	out, err := executeTest(t, "json", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	assert.Equal(t, 1, resp.Data.Failed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeTestFailed, resp.Error.Code)

	var failing ScenarioResult
	for _, s := range resp.Data.Scenarios {
		if s.Name == "failing" {
			failing = s
		}
	}
	assert.False(t, failing.Pass)
	require.Len(t, failing.Errors, 1)
	assert.Contains(t, failing.Errors[0], "final_value")
}

func TestTestCommandFilter(t *testing.T) {
	dir := t.TempDir()
	copyScenario(t, dir, "clamp_counter", false)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "failing.yaml"), []byte(failingScenario), 0644))

	out, err := executeTest(t, "text", dir, "--filter", "clamp*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
	assert.NotContains(t, out, "failing")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yml"), []byte("name: [unterminated"), 0644))

	out, err := executeTest(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestFindScenarioFiles_SkipsGolden(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "x.yaml"), []byte("name: x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("name: a"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("n"), 0644))

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml")}, files)

	_, err = findScenarioFiles(dir, "[")
	require.Error(t, err)
}
