package main

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var demoStory = filepath.Join("..", "..", "stories", "demo.yaml")

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := newRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func assertGolden(t *testing.T, name, got string) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, []byte(got))
}

func TestValidate_Demo(t *testing.T) {
	out, err := execute(t, "validate", demoStory)
	require.NoError(t, err)
	assertGolden(t, "validate_demo", out)
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	out, err := execute(t, "validate", filepath.Join("testdata", "broken.yaml"))
	require.ErrorIs(t, err, errInvalidStory)
	assertGolden(t, "validate_broken", out)
}

func TestValidate_JSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", demoStory)
	require.NoError(t, err)

	var sum storySummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.True(t, sum.Valid)
	assert.Equal(t, 2, sum.Behaviours["manipulatevariable"])
	assert.Empty(t, sum.Unreachable)
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "validate", filepath.Join("testdata", "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read story")
}

func TestRoot_RejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "validate", demoStory)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestSimulate_FollowsFirstValidLinks(t *testing.T) {
	out, err := execute(t, "simulate", demoStory)
	require.NoError(t, err)
	assertGolden(t, "simulate_default", out)
}

func TestSimulate_ScriptedChoice(t *testing.T) {
	out, err := execute(t, "simulate", "--choose", "shore=climb", demoStory)
	require.NoError(t, err)
	assertGolden(t, "simulate_choice", out)
}

func TestSimulate_StopsAtLimit(t *testing.T) {
	out, err := execute(t, "--format", "json", "simulate", "--limit", "5s", demoStory)
	require.NoError(t, err)

	var rep simReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.False(t, rep.Ended)
	assert.Equal(t, "shore", string(rep.StoppedAt))
	assert.Empty(t, rep.Trace)
}

func TestSimulate_JSONTrace(t *testing.T) {
	out, err := execute(t, "--format", "json", "simulate", "--choose", "shore=climb", demoStory)
	require.NoError(t, err)

	var rep simReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.True(t, rep.Ended)
	require.Len(t, rep.Trace, 2)
	assert.Greater(t, rep.Trace[0].At, 20.0, "shore plays to its end before the chosen link")
	assert.Greater(t, rep.Trace[1].At, rep.Trace[0].At)
}
