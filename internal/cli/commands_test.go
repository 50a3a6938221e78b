package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/causalverse/internal/causal"
	"github.com/roach88/causalverse/internal/config"
	"github.com/roach88/causalverse/internal/emergence"
	"github.com/roach88/causalverse/internal/ir"
	"github.com/roach88/causalverse/internal/journal"
	"github.com/roach88/causalverse/internal/universe"
)

// newDemoUniverse builds a universe with a branched counter and a label.
func newDemoUniverse(t *testing.T, opts ...universe.Option) *universe.Manager {
	t.Helper()
	opts = append([]universe.Option{
		universe.WithClock(causal.NewClock()),
		universe.WithIDGenerator(causal.NewSequenceGenerator("e")),
		universe.WithLogger(discardLogger()),
	}, opts...)
	m := universe.New("demo", opts...)
	counter, err := m.CreateStore("counter", ir.IRInt(1))
	require.NoError(t, err)
	_, err = m.CreateStore("label", ir.IRString("start"))
	require.NoError(t, err)
	require.NoError(t, counter.Set(ir.IRInt(2)))
	require.NoError(t, counter.Branch("experiment"))
	require.NoError(t, counter.SwitchBranch("experiment"))
	require.NoError(t, counter.Set(ir.IRInt(10)))
	return m
}

func writeDemoDocument(t *testing.T, dir string) (string, string) {
	t.Helper()
	doc, err := newDemoUniverse(t).Export()
	require.NoError(t, err)
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	path := filepath.Join(dir, "demo.json")
	require.NoError(t, os.WriteFile(path, raw, 0644))
	digest, err := doc.Digest()
	require.NoError(t, err)
	return path, digest
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "causalverse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decodeData(t *testing.T, out string, data any) {
	t.Helper()
	resp := struct {
		Status string `json:"status"`
		Data   any    `json:"data"`
	}{Data: data}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

// ============================================================================
// inspect
// ============================================================================

func TestInspect_JSON(t *testing.T) {
	path, digest := writeDemoDocument(t, t.TempDir())

	out, err := execute(t, "--format", "json", "inspect", path)
	require.NoError(t, err)

	var result InspectResult
	decodeData(t, out, &result)
	assert.Equal(t, "demo", result.Universe)
	assert.Equal(t, digest, result.Digest)
	assert.Equal(t, []StoreSummary{
		{Key: "counter", Events: 3, Active: "experiment", Branches: []string{"experiment", "main"}, Value: "10"},
		{Key: "label", Events: 1, Active: "main", Branches: []string{"main"}, Value: `"start"`},
	}, result.Stores)
}

func TestInspect_Text(t *testing.T) {
	path, digest := writeDemoDocument(t, t.TempDir())

	out, err := execute(t, "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Universe: demo")
	assert.Contains(t, out, "Digest:   "+digest)
	assert.Contains(t, out, "counter: 3 events, branch experiment of [experiment main] = 10")
}

func TestInspect_Archive(t *testing.T) {
	dir := t.TempDir()
	doc, err := newDemoUniverse(t).Export()
	require.NoError(t, err)
	path := filepath.Join(dir, "demo.json.zst")
	require.NoError(t, journal.WriteArchiveFile(path, doc))

	out, err := execute(t, "--format", "json", "inspect", path)
	require.NoError(t, err)
	var result InspectResult
	decodeData(t, out, &result)
	assert.Len(t, result.Stores, 2)
}

func TestInspect_InvalidDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":1,"universe_id":"u","stores":{}}`), 0644))

	_, err := execute(t, "inspect", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, universe.IsInvalidDocument(err))

	_, err = execute(t, "inspect", filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read document")
}

// ============================================================================
// replay
// ============================================================================

func TestReplay_Document(t *testing.T) {
	path, digest := writeDemoDocument(t, t.TempDir())

	out, err := execute(t, "--format", "json", "replay", path)
	require.NoError(t, err)

	var result ReplayResult
	decodeData(t, out, &result)
	assert.True(t, result.AllDeterministic)
	require.Len(t, result.Universes, 1)
	u := result.Universes[0]
	assert.Equal(t, "demo", u.Universe)
	assert.Equal(t, 2, u.Stores)
	assert.Equal(t, 4, u.Events)
	assert.Equal(t, digest, u.Digest)
	assert.Equal(t, digest, u.ReplayDigest)
}

func TestReplay_Journal(t *testing.T) {
	for _, backend := range []string{"sqlite", "badger"} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			db := filepath.Join(dir, "journal")
			j, err := (journalFlags{Database: db, Backend: backend}).apply(config.Default().Journal).OpenJournal()
			require.NoError(t, err)
			m := newDemoUniverse(t)
			require.NoError(t, journal.Checkpoint(context.Background(), j, m))
			require.NoError(t, j.Close())

			out, err := execute(t, "replay", "--db", db, "--backend", backend)
			require.NoError(t, err)
			assert.Contains(t, out, "✓ demo: 2 stores, 4 events")

			_, err = execute(t, "replay", "--db", db, "--backend", backend, "--universe", "nope")
			require.Error(t, err)
			assert.ErrorIs(t, err, journal.ErrUnknownUniverse)
		})
	}
}

func TestReplay_EmptyJournal(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	out, err := execute(t, "replay", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No universes found.")
}

// ============================================================================
// export
// ============================================================================

func TestExport_JournalToArchive(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "causalverse.db")
	cfg := writeConfig(t, dir, "journal:\n  backend: sqlite\n  path: "+db+"\n")

	j, err := journal.OpenSQLite(db)
	require.NoError(t, err)
	m := newDemoUniverse(t)
	require.NoError(t, journal.Checkpoint(context.Background(), j, m))
	require.NoError(t, j.Close())

	archive := filepath.Join(dir, "demo.json.zst")
	out, err := execute(t, "--config", cfg, "--format", "json", "export", "--universe", "demo", "--out", archive)
	require.NoError(t, err)

	var result ExportResult
	decodeData(t, out, &result)
	assert.Equal(t, "demo", result.Universe)
	assert.Equal(t, 2, result.Stores)
	assert.Equal(t, 4, result.Events)

	doc, err := journal.ReadArchiveFile(archive)
	require.NoError(t, err)
	digest, err := doc.Digest()
	require.NoError(t, err)
	assert.Equal(t, result.Digest, digest)

	want, err := m.Export()
	require.NoError(t, err)
	wantDigest, err := want.Digest()
	require.NoError(t, err)
	assert.Equal(t, wantDigest, digest)
}

func TestExport_RequiresFlags(t *testing.T) {
	_, err := execute(t, "export", "--universe", "demo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "out" not set`)
}

// ============================================================================
// run
// ============================================================================

func TestRun_CheckpointsOnShutdown(t *testing.T) {
	dir := t.TempDir()
	path, digest := writeDemoDocument(t, dir)
	db := filepath.Join(dir, "run.db")
	cfg := writeConfig(t, dir, "journal:\n  backend: sqlite\n  path: "+db+"\nemergence:\n  sampling_interval: 5ms\n")
	archive := filepath.Join(dir, "final.json.zst")

	out, err := execute(t, "--config", cfg, "--format", "json", "run", path, "--duration", "50ms", "--out", archive)
	require.NoError(t, err)

	var summary RunSummary
	decodeData(t, out, &summary)
	assert.Equal(t, "demo", summary.Universe)
	assert.Equal(t, 2, summary.Stores)
	assert.Equal(t, digest, summary.Digest)
	assert.Equal(t, archive, summary.Archive)

	j, err := journal.OpenSQLite(db)
	require.NoError(t, err)
	defer j.Close()
	back, err := journal.Replay(context.Background(), j, "demo", universe.WithLogger(discardLogger()))
	require.NoError(t, err)
	got, err := back.Export()
	require.NoError(t, err)
	gotDigest, err := got.Digest()
	require.NoError(t, err)
	assert.Equal(t, digest, gotDigest)

	doc, err := journal.ReadArchiveFile(archive)
	require.NoError(t, err)
	archived, err := doc.Digest()
	require.NoError(t, err)
	assert.Equal(t, digest, archived)
}

func TestRun_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path, _ := writeDemoDocument(t, dir)
	cfg := writeConfig(t, dir, "journal:\n  backend: tape\n")

	_, err := execute(t, "--config", cfg, "run", path, "--duration", "10ms")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMetricsServer(t *testing.T) {
	det := emergence.New(newDemoUniverse(t), emergence.WithLogger(discardLogger()))
	det.Tick()

	srv := metricsServer(config.MetricsConfig{Addr: "127.0.0.1:9464", Path: "/metrics"}, det.Metrics())
	assert.Equal(t, "127.0.0.1:9464", srv.Addr)

	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "causalverse_emergence_ticks_total")
	assert.Contains(t, string(body), "causalverse_emergence_tracked_stores")

	resp2, err := http.Get(ts.URL + "/other")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}
