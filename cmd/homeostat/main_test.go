package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/homeostat/internal/control"
	"github.com/danielpatrickdp/homeostat/internal/logging"
	"github.com/danielpatrickdp/homeostat/internal/rpc"
)

const fixtureYAML = `
name: thermostat
initial_state: {temperature: 10}
setpoint: {temperature: 5}
rules:
  - If the temperature is above the setpoint, then decrease the temperature by 2.
  - If the temperature is below the setpoint, then increase the temperature by 1.
perturbation: {chance: 0, min: 0, max: 0}
seed: 11
expected:
  termination: stabilized
  iterations: 4
  final_state: {temperature: 5}
`

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "thermostat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func decodeRun(t *testing.T, out string) runOutput {
	t.Helper()
	var got runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	return got
}

// #region run-tests
func TestRun_ScenarioFileJSON(t *testing.T) {
	out, err := execute(t, "run", "--scenario", writeFixture(t, fixtureYAML), "--json")
	require.NoError(t, err)

	got := decodeRun(t, out)
	assert.Equal(t, control.Stabilized, got.Reason)
	assert.Equal(t, 4, got.Iterations)
	assert.Len(t, got.History, 5)
	assert.Equal(t, 5.0, got.FinalState["temperature"])
	assert.Equal(t, uint64(11), got.Seed)
	assert.Empty(t, got.RunID, "nothing stored without --db")
}

func TestRun_TextOutput(t *testing.T) {
	out, err := execute(t, "run", "--scenario", writeFixture(t, fixtureYAML))
	require.NoError(t, err)

	assert.Contains(t, out, "Stabilized after 4 iterations.")
	assert.Contains(t, out, "Final state:")
	assert.Contains(t, out, "temperature=10.0000")
}

func TestRun_BuiltinWithSeedIsReproducible(t *testing.T) {
	first, err := execute(t, "run", "--builtin", "bar-fight", "--seed", "99", "--json")
	require.NoError(t, err)
	second, err := execute(t, "run", "--builtin", "bar-fight", "--seed", "99", "--json")
	require.NoError(t, err)

	a, b := decodeRun(t, first), decodeRun(t, second)
	assert.Equal(t, a.History, b.History)
	assert.Equal(t, a.Events, b.Events)
	for _, snap := range a.History {
		assert.GreaterOrEqual(t, snap["aggression level"], 0.0)
	}
}

func TestRun_MaxIterationsOverride(t *testing.T) {
	out, err := execute(t, "run", "--scenario", writeFixture(t, fixtureYAML), "--max-iterations", "2", "--json")
	require.NoError(t, err)

	got := decodeRun(t, out)
	assert.Equal(t, control.MaxIterationsReached, got.Reason)
	assert.Equal(t, 2, got.Iterations)
	assert.Equal(t, 6.0, got.FinalState["temperature"])
}

func TestRun_ZeroMaxIterationsIsConfigurationError(t *testing.T) {
	_, err := execute(t, "run", "--scenario", writeFixture(t, fixtureYAML), "--max-iterations", "0")
	require.Error(t, err)
	assert.True(t, errors.Is(err, control.ErrConfiguration), "got %v", err)

	var stderr bytes.Buffer
	assert.Equal(t, 2, report(&stderr, err))
	assert.Contains(t, stderr.String(), "max_iterations")

	body := strings.Replace(fixtureYAML, "seed: 11", "seed: 11\nmax_iterations: 0", 1)
	_, err = execute(t, "run", "--scenario", writeFixture(t, body))
	assert.True(t, errors.Is(err, control.ErrConfiguration), "got %v", err)
}

func TestReport_ExitCodes(t *testing.T) {
	var w bytes.Buffer
	assert.Equal(t, 1, report(&w, &exitError{code: 1, msg: "diverged"}))
	assert.Equal(t, "diverged\n", w.String())

	w.Reset()
	assert.Equal(t, 2, report(&w, errors.New("boom")))
	assert.Equal(t, "error: boom\n", w.String())
}

func TestRun_FlagErrors(t *testing.T) {
	_, err := execute(t, "run", "--scenario", "a.yaml", "--builtin", "temperature")
	assert.Error(t, err)

	_, err = execute(t, "run", "--builtin", "nope")
	assert.ErrorContains(t, err, "unknown builtin")

	_, err = execute(t, "run", "--resume", "latest")
	assert.ErrorContains(t, err, "--resume needs --db")

	_, err = execute(t, "--log-level", "loud", "run")
	assert.ErrorContains(t, err, "unknown log level")
}

func TestRun_StoreInspectAndResume(t *testing.T) {
	db := filepath.Join(t.TempDir(), "homeostat.db")
	fixture := writeFixture(t, fixtureYAML)

	out, err := execute(t, "run", "--scenario", fixture, "--max-iterations", "2", "--db", db, "--json")
	require.NoError(t, err)
	first := decodeRun(t, out)
	require.NotEmpty(t, first.RunID)

	out, err = execute(t, "run", "--scenario", fixture, "--db", db, "--resume", "latest", "--json")
	require.NoError(t, err)
	second := decodeRun(t, out)
	assert.Equal(t, first.RunID, second.ParentID)
	assert.Equal(t, 6.0, second.History[0]["temperature"])
	assert.Equal(t, control.Stabilized, second.Reason)
	assert.Equal(t, 2, second.Iterations)

	out, err = execute(t, "inspect", "--db", db, "--json")
	require.NoError(t, err)
	var rows []listRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	ids := []string{rows[0].RunID, rows[1].RunID}
	assert.ElementsMatch(t, []string{first.RunID, second.RunID}, ids)

	out, err = execute(t, "inspect", "--db", db, "--run", second.RunID, "--json")
	require.NoError(t, err)
	var detail struct {
		RunID      string               `json:"run_id"`
		ParentID   string               `json:"parent_id"`
		FinalState map[string]float64   `json:"final_state"`
		History    []map[string]float64 `json:"history"`
		Events     []json.RawMessage    `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	var keys map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &keys))
	for _, k := range []string{"run_id", "parent_id", "initial_state", "final_state", "created_at"} {
		assert.Contains(t, keys, k)
	}
	assert.NotContains(t, keys, "RunID")
	assert.Equal(t, 5.0, detail.FinalState["temperature"])
	assert.Equal(t, second.RunID, detail.RunID)
	assert.Equal(t, first.RunID, detail.ParentID)
	assert.Len(t, detail.History, 3)
	assert.Len(t, detail.Events, len(second.Events))

	out, err = execute(t, "inspect", "--db", db, "--run", "latest")
	require.NoError(t, err)
	assert.Contains(t, out, "Termination: stabilized after 2 iterations")
	assert.Contains(t, out, "Events:")

	out, err = execute(t, "inspect", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, shortID(first.RunID))
}

func TestInspect_EmptyAndMissingDB(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	out, err := execute(t, "inspect", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "no runs found")

	t.Setenv("HOMEOSTAT_DB", "")
	_, err = execute(t, "inspect")
	assert.ErrorContains(t, err, "usage")
}

func TestRun_Remote(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gs := grpc.NewServer()
	rpc.Register(gs, rpc.NewServer(nil))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	out, err := execute(t, "run", "--scenario", writeFixture(t, fixtureYAML), "--remote", lis.Addr().String(), "--json")
	require.NoError(t, err)

	got := decodeRun(t, out)
	assert.Equal(t, control.Stabilized, got.Reason)
	assert.Equal(t, 4, got.Iterations)
	assert.Len(t, got.History, 5)
}

// #endregion run-tests

// #region replay-tests
func TestReplay_Match(t *testing.T) {
	out, err := execute(t, "replay", "--fixture", writeFixture(t, fixtureYAML))
	require.NoError(t, err)
	assert.Contains(t, out, "Summary: 3 total, 3 match, 0 diverge")
}

func TestReplay_Diverge(t *testing.T) {
	body := strings.Replace(fixtureYAML, "iterations: 4", "iterations: 7", 1)
	out, err := execute(t, "replay", "--fixture", writeFixture(t, body))

	var ee *exitError
	require.True(t, errors.As(err, &ee), "want exitError, got %v", err)
	assert.Equal(t, 1, ee.code)
	assert.Contains(t, out, "DIFF")
	assert.Contains(t, out, "Summary: 3 total, 2 match, 1 diverge")
}

func TestReplay_NoExpectations(t *testing.T) {
	body := fixtureYAML[:strings.Index(fixtureYAML, "expected:")]
	_, err := execute(t, "replay", "--fixture", writeFixture(t, body))
	assert.ErrorContains(t, err, "no expected block")
}

func TestExportThenReplay(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "homeostat.db")
	fixture := filepath.Join(dir, "bar.yaml")

	_, err := execute(t, "run", "--builtin", "bar-fight", "--seed", "2024", "--db", db)
	require.NoError(t, err)

	out, err := execute(t, "export", "--db", db, "--out", fixture)
	require.NoError(t, err)
	assert.Contains(t, out, "Exported run")

	out, err = execute(t, "replay", "--fixture", fixture)
	require.NoError(t, err, out)
	assert.Contains(t, out, "0 diverge")
}

func TestExport_Errors(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "homeostat.db")

	_, err := execute(t, "export", "--db", db, "--out", filepath.Join(dir, "x.txt"))
	assert.ErrorContains(t, err, "unknown scenario extension")

	_, err = execute(t, "export", "--db", db, "--out", filepath.Join(dir, "x.yaml"))
	assert.Error(t, err, "empty store has no latest run")

	t.Setenv("HOMEOSTAT_DB", "")
	_, err = execute(t, "export", "--out", filepath.Join(dir, "x.yaml"))
	assert.ErrorContains(t, err, "usage")
}

// #endregion replay-tests

// #region helper-tests
func TestEnvOr(t *testing.T) {
	t.Setenv("HOMEOSTAT_TEST_KEY", "")
	assert.Equal(t, "fallback", envOr("HOMEOSTAT_TEST_KEY", "fallback"))
	t.Setenv("HOMEOSTAT_TEST_KEY", "set")
	assert.Equal(t, "set", envOr("HOMEOSTAT_TEST_KEY", "fallback"))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abcdefgh", shortID("abcdefgh-1234"))
	assert.Equal(t, "abc", shortID("abc"))
}

// #endregion helper-tests

// #region serve-tests
func TestServe_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a := &app{logger: logging.Discard()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, a, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServe_BadAddress(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	a := &app{logger: logging.Discard()}
	err := serve(context.Background(), a, "not-an-address")
	assert.ErrorContains(t, err, "listen")
}

// #endregion serve-tests
