package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/asset360/internal/blame"
	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/report"
	"github.com/rpattn/asset360/internal/testutil"
)

func writeStages(t *testing.T, dir string, withDeltas bool) string {
	t.Helper()
	sv := testutil.SchemaView(t)
	base := testutil.MustLoad(t, sv, "Signal", `{"id": "S1", "status": "active"}`)
	next := testutil.MustLoad(t, sv, "Signal", `{"id": "S1", "status": "inactive"}`)
	var deltas []delta.Delta
	if withDeltas {
		deltas = []delta.Delta{
			delta.Set(delta.Path{"status"}, "active", "inactive"),
			delta.Set(delta.Path{"height"}, 1.0, 2.0),
		}
	}
	stages := []blame.ChangeStage{
		blame.NewStage(blame.ChangeMeta{Author: "ann", Timestamp: "2024-01-01T00:00:00Z", Source: "ics", ChangeID: 1, ICSID: 11}, base, nil, nil),
		blame.NewStage(blame.ChangeMeta{Author: "bob", Timestamp: "2024-01-02T00:00:00Z", Source: "ics", ChangeID: 2, ICSID: 12}, next, deltas, nil),
	}
	data, err := blame.EncodeStages(stages)
	require.NoError(t, err)
	path := filepath.Join(dir, "stages.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", t.TempDir()}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBlameCommand(t *testing.T) {
	dir := t.TempDir()
	schemaPath := testutil.WriteSchemaFile(t, dir)
	stages := writeStages(t, dir, true)

	out, err := run(t, "blame", "--schema", schemaPath, stages)
	require.NoError(t, err)
	assert.Contains(t, out, "<root> (Signal)")
	assert.Contains(t, out, "author=bob")
	assert.Contains(t, out, "rejected: change_id=2 path=height")

	out, err = run(t, "blame", "-s", schemaPath, "--format", "entries", stages)
	require.NoError(t, err)
	assert.Equal(t, "status => change_id=2 author=bob timestamp=2024-01-02T00:00:00Z source=ics ics_id=12", strings.Split(out, "\n")[0])

	out, err = run(t, "blame", "-s", schemaPath, "--format", "json", stages)
	require.NoError(t, err)
	assert.Contains(t, out, `"change_id": 2`)

	_, err = run(t, "blame", "-s", schemaPath, "--format", "xml", stages)
	assert.Error(t, err)
}

func TestHistoryCommand(t *testing.T) {
	dir := t.TempDir()
	schemaPath := testutil.WriteSchemaFile(t, dir)
	stages := writeStages(t, dir, false)
	output := filepath.Join(dir, "history.json")

	_, err := run(t, "history", "-s", schemaPath, "-o", output, stages)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"op":"set"`)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	schemaPath := testutil.WriteSchemaFile(t, dir)

	out, err := run(t, "validate", "-s", schemaPath)
	require.NoError(t, err)
	assert.Contains(t, out, "schema ok")

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("id: S1\nstatus: planned\n"), 0o600))
	out, err = run(t, "validate", "-s", schemaPath, "--class", "Signal", good)
	require.NoError(t, err)
	assert.Contains(t, out, "valid Signal")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"id": "S1", "status": "broken"}`), 0o600))
	out, err = run(t, "validate", "-s", schemaPath, "--class", "Signal", bad)
	assert.ErrorIs(t, err, errIssues)
	assert.Contains(t, out, "'broken' is not a permissible value of SignalStatus")

	_, err = run(t, "validate")
	assert.Error(t, err)
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	schemaPath := testutil.WriteSchemaFile(t, dir)
	stages := writeStages(t, dir, true)
	output := filepath.Join(dir, "blame.xlsx")

	_, err := run(t, "export", "-s", schemaPath, "-o", output, stages)
	require.NoError(t, err)

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()
	rows, rejections, err := report.ReadXLSX(f)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	require.Len(t, rejections, 1)
	assert.Equal(t, "height", rejections[0].Path)
}

func TestDiffCommand(t *testing.T) {
	dir := t.TempDir()
	stages := writeStages(t, dir, false)
	schemaPath := testutil.WriteSchemaFile(t, dir)

	out, err := run(t, "diff", "-s", schemaPath, stages)
	require.NoError(t, err)
	assert.Contains(t, out, "--- stage 0 (change 1 by ann)")
	assert.Contains(t, out, "-status: \"active\"")
	assert.Contains(t, out, "+status: \"inactive\"")

	_, err = run(t, "diff", "-s", schemaPath, "--from", "5", stages)
	assert.Error(t, err)
}
