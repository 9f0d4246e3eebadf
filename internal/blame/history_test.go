package blame

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/testutil"
)

func TestComputeHistoryDiffsSnapshots(t *testing.T) {
	sv := testutil.SchemaView(t)
	stages := []ChangeStage{
		snapshot(meta(1), load(t, sv, "Signal", `{"id": "S1", "status": "active", "aspects": [1, 2, 3]}`)),
		{
			Meta:          meta(2),
			Value:         load(t, sv, "Signal", `{"id": "S1", "status": "inactive", "aspects": [1, 5]}`),
			Deltas:        []delta.Delta{delta.Set(delta.Path{"id"}, "bogus", "S9")},
			RejectedPaths: []delta.Path{{"status"}},
			Rejected:      PresenceList,
		},
		snapshot(meta(3), load(t, sv, "Signal", `{"id": "S1", "status": "inactive", "height": 2.5, "aspects": [1, 5, 6, 7]}`)),
	}

	final, history, err := ComputeHistory(stages)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Same(t, stages[2].Value, final)

	assert.Equal(t, stages[0], history[0])
	assert.Equal(t, []delta.Delta{
		delta.Set(delta.Path{"status"}, "active", "inactive"),
		delta.Set(delta.Path{"aspects", "1"}, json.Number("2"), json.Number("5")),
		delta.Remove(delta.Path{"aspects", "2"}, json.Number("3")),
	}, history[1].Deltas)
	assert.Empty(t, history[1].RejectedPaths)
	assert.Equal(t, PresenceAbsent, history[1].Rejected)
	assert.Equal(t, meta(2), history[1].Meta)

	assert.Equal(t, []delta.Delta{
		delta.Add(delta.Path{"height"}, json.Number("2.5")),
		delta.Add(delta.Path{"aspects", "2"}, json.Number("6")),
		delta.Add(delta.Path{"aspects", "3"}, json.Number("7")),
	}, history[2].Deltas)
}

func TestComputeHistoryRequiresStages(t *testing.T) {
	_, _, err := ComputeHistory(nil)
	assert.ErrorIs(t, err, ErrNoStages)
}

func TestHistoryReplaysToEverySnapshot(t *testing.T) {
	sv := testutil.SchemaView(t)
	cases := []struct {
		name  string
		class string
		docs  []string
	}{
		{
			name:  "nested project",
			class: "Project",
			docs: []string{
				`{"id": "P1", "name": "Alpha", "owner": {"name": "Ann"}, "tags": ["rail"],
				  "tasks": [{"id": "T1", "title": "survey", "notes": [{"text": "a"}, {"text": "b"}]}, {"id": "T2", "title": "install"}]}`,
				`{"id": "P1", "name": "Alpha", "owner": {"name": "Ann", "email": "ann@example.org"}, "tags": ["rail", "north"],
				  "tasks": [{"id": "T1", "title": "survey", "done": true, "notes": [{"text": "b"}]}, {"id": "T2", "title": "install"}], "budget": 10}`,
				`{"id": "P1", "name": "Beta", "tags": [], "lead": "U7",
				  "tasks": [{"id": "T2", "title": "install"}, {"id": "T1", "title": "survey"}, {"id": "T3"}], "extra": {"k": [1, 2]}}`,
				`{"id": "P2", "name": "Beta", "active": false, "tasks": [{"id": "T3", "title": "commission"}], "extra": 4}`,
			},
		},
		{
			name:  "root switches between sibling subclasses",
			class: "Asset",
			docs: []string{
				`{"id": "A1", "kind": "Switch", "blades": 2}`,
				`{"id": "A1", "kind": "Crossing", "barriers": true}`,
				`{"id": "A1", "kind": "Crossing", "barriers": false, "label": "LC 12"}`,
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stages := make([]ChangeStage, len(tc.docs))
			for i, doc := range tc.docs {
				stages[i] = snapshot(meta(uint64(i+1)), load(t, sv, tc.class, doc))
			}
			assertReplays(t, stages)
		})
	}
}

func assertReplays(t *testing.T, stages []ChangeStage) {
	t.Helper()
	final, history, err := ComputeHistory(stages)
	require.NoError(t, err)

	replayed, err := Replay(history)
	require.NoError(t, err)
	if !replayed.Value.Equals(final) {
		t.Fatalf("final value does not replay:\n%s", cmp.Diff(final.ToJSON(), replayed.Value.ToJSON()))
	}
	for i, rejected := range replayed.Rejected {
		assert.Empty(t, rejected, "stage %d", i+1)
	}

	for i := 1; i < len(history); i++ {
		partial, err := ApplyDeltas(history[0].Value, history[1:i+1])
		require.NoError(t, err)
		if !partial.Value.Equals(history[i].Value) {
			t.Fatalf("stage %d does not replay:\n%s", i, cmp.Diff(history[i].Value.ToJSON(), partial.Value.ToJSON()))
		}
	}

	for _, id := range replayed.Blame.ChangeIDs() {
		assert.Greater(t, id, uint64(1), "the base stage is never blamed")
	}
	assert.Contains(t, replayed.Blame.ChangeIDs(), uint64(len(stages)))
}

func TestDiffOfEqualValuesIsEmpty(t *testing.T) {
	sv := testutil.SchemaView(t)
	a := load(t, sv, "Signal", `{"id": "S1", "aspects": [1]}`)
	b := load(t, sv, "Signal", `{"aspects": ["1"], "id": "S1"}`)

	assert.Empty(t, Diff(a, b))
}
