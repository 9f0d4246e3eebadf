package blame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/instance"
	"github.com/rpattn/asset360/internal/testutil"
)

func TestApplyDeltasSetAttributesStage(t *testing.T) {
	sv := testutil.SchemaView(t)
	base := load(t, sv, "Signal", `{"id": "S1", "status": "active"}`)
	stage := snapshot(meta(2), nil, delta.Set(delta.Path{"status"}, "active", "inactive"))

	result, err := ApplyDeltas(base, []ChangeStage{stage})
	require.NoError(t, err)

	assert.JSONEq(t, `{"id": "S1", "status": "inactive"}`, mustJSON(t, result.Value))
	assert.Equal(t, [][]delta.Path{{}}, result.Rejected)

	status, ok := GetBlameInfo(resolve(t, result.Value, "status"), result.Blame)
	require.True(t, ok)
	assert.Equal(t, meta(2), status)

	_, ok = GetBlameInfo(resolve(t, result.Value, "id"), result.Blame)
	assert.False(t, ok, "untouched field carries no blame")
	assert.Equal(t, []PathMeta{{Path: delta.Path{"status"}, Meta: meta(2)}}, BlameMapToPathStageMap(result.Value, result.Blame))
}

func TestApplyDeltasRejectsStaleOldValue(t *testing.T) {
	sv := testutil.SchemaView(t)
	base := load(t, sv, "Signal", `{"id": "S1", "status": "active"}`)
	stage := snapshot(meta(2), nil, delta.Set(delta.Path{"status"}, "inactive", "planned"))

	result, err := ApplyDeltas(base, []ChangeStage{stage})
	require.NoError(t, err)

	assert.True(t, result.Value.Equals(base))
	assert.Empty(t, result.Blame)
	assert.Equal(t, [][]delta.Path{{{"status"}}}, result.Rejected)

	require.Len(t, result.Stages, 1)
	assert.Equal(t, []delta.Path{{"status"}}, result.Stages[0].RejectedPaths)
	assert.Equal(t, PresenceList, result.Stages[0].Rejected)
	assert.Empty(t, stage.RejectedPaths, "input stages are not modified")
}

func TestApplyDeltasClearsStaleRejectionSet(t *testing.T) {
	sv := testutil.SchemaView(t)
	base := load(t, sv, "Signal", `{"id": "S1", "status": "active"}`)
	stage := snapshot(meta(2), nil, delta.Set(delta.Path{"status"}, "active", "inactive"))
	stage.RejectedPaths = []delta.Path{{"height"}}
	stage.Rejected = PresenceList

	result, err := ApplyDeltas(base, []ChangeStage{stage})
	require.NoError(t, err)
	assert.Empty(t, result.Stages[0].RejectedPaths)
	assert.Equal(t, PresenceList, result.Stages[0].Rejected)
}

func TestApplyDeltasConflicts(t *testing.T) {
	sv := testutil.SchemaView(t)
	base := load(t, sv, "Project", `{"id": "P1", "name": "x", "tags": ["a"], "owner": {"name": "Ann"}}`)

	tests := []struct {
		name  string
		delta delta.Delta
	}{
		{"remove missing", delta.Remove(delta.Path{"budget"}, 5)},
		{"set missing", delta.Set(delta.Path{"budget"}, nil, 5)},
		{"set without new", delta.Delta{Path: delta.Path{"name"}, Op: delta.OpSet}},
		{"add onto present slot", delta.Add(delta.Path{"name"}, "y")},
		{"add past end of list", delta.Add(delta.Path{"tags", "3"}, "z")},
		{"add under missing parent", delta.Add(delta.Path{"lead", "name"}, "z")},
		{"add unknown slot", delta.Add(delta.Path{"colour"}, "red")},
		{"remove root", delta.Delta{Path: delta.RootPath, Op: delta.OpRemove}},
		{"remove with stale old", delta.Remove(delta.Path{"tags", "0"}, "b")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ApplyDeltas(base, []ChangeStage{snapshot(meta(2), nil, tt.delta)})
			require.NoError(t, err)
			assert.True(t, result.Value.Equals(base))
			assert.Empty(t, result.Blame)
			require.Len(t, result.Rejected, 1)
			assert.Equal(t, []delta.Path{tt.delta.Path}, result.Rejected[0])
		})
	}
}

func TestApplyDeltasWithinStageRunInOrder(t *testing.T) {
	sv := testutil.SchemaView(t)
	base := load(t, sv, "Project", `{"id": "P1", "name": "x", "tasks": [{"id": "T1", "title": "a"}]}`)
	stage := snapshot(meta(2), nil,
		delta.Remove(delta.Path{"tasks", "0"}, map[string]any{"id": "T1", "title": "a"}),
		delta.Set(delta.Path{"tasks", "0", "title"}, "a", "b"),
	)

	result, err := ApplyDeltas(base, []ChangeStage{stage})
	require.NoError(t, err)
	assert.Equal(t, [][]delta.Path{{{"tasks", "0", "title"}}}, result.Rejected)
	assert.Equal(t, 0, resolve(t, result.Value, "tasks").Len())
}

func TestApplyDeltasCarriesBlameAcrossInsert(t *testing.T) {
	sv := testutil.SchemaView(t)
	base := load(t, sv, "Project", `{"id": "P1", "name": "x", "tasks": [{"id": "T1", "notes": [{"text": "a"}, {"text": "b"}]}]}`)
	notes := delta.Path{"tasks", "0", "notes"}
	stages := []ChangeStage{
		snapshot(meta(1), nil, delta.Set(notes.Child("1").Child("text"), "b", "b2")),
		snapshot(meta(2), nil, delta.Add(notes.ChildIndex(0), map[string]any{"text": "z"})),
	}

	result, err := ApplyDeltas(base, stages)
	require.NoError(t, err)

	assert.Equal(t, []PathMeta{
		{Path: notes, Meta: meta(2)},
		{Path: notes.ChildIndex(0), Meta: meta(2)},
		{Path: notes.ChildIndex(0).Child("text"), Meta: meta(2)},
		{Path: notes.ChildIndex(2).Child("text"), Meta: meta(1)},
	}, BlameMapToPathStageMap(result.Value, result.Blame))
}

func TestApplyDeltasCarriesBlameAcrossRemove(t *testing.T) {
	sv := testutil.SchemaView(t)
	base := load(t, sv, "Project", `{"id": "P1", "name": "x", "tasks": [{"id": "T1", "notes": [{"text": "a"}, {"text": "b"}]}]}`)
	notes := delta.Path{"tasks", "0", "notes"}
	stages := []ChangeStage{
		snapshot(meta(1), nil, delta.Set(notes.Child("1").Child("text"), "b", "b2")),
		snapshot(meta(2), nil, delta.Remove(notes.ChildIndex(0), map[string]any{"text": "a"})),
	}

	result, err := ApplyDeltas(base, stages)
	require.NoError(t, err)

	assert.Equal(t, []PathMeta{
		{Path: notes, Meta: meta(2)},
		{Path: notes.ChildIndex(0).Child("text"), Meta: meta(1)},
	}, BlameMapToPathStageMap(result.Value, result.Blame))
}

func TestApplyDeltasCarriesBlameAcrossIdentifierChange(t *testing.T) {
	sv := testutil.SchemaView(t)
	base := load(t, sv, "Project", `{"id": "P1", "name": "x", "tasks": [{"id": "T1", "title": "a"}]}`)
	task := delta.Path{"tasks", "0"}
	stages := []ChangeStage{
		snapshot(meta(1), nil, delta.Set(task.Child("title"), "a", "b")),
		snapshot(meta(2), nil, delta.Set(task.Child("id"), "T1", "T9")),
	}

	result, err := ApplyDeltas(base, stages)
	require.NoError(t, err)

	assert.Equal(t, []PathMeta{
		{Path: task.Child("id"), Meta: meta(2)},
		{Path: task.Child("title"), Meta: meta(1)},
	}, BlameMapToPathStageMap(result.Value, result.Blame))
}

func TestApplyDeltasAddCreatesList(t *testing.T) {
	sv := testutil.SchemaView(t)
	base := load(t, sv, "Signal", `{"id": "S1"}`)

	result, err := ApplyDeltas(base, []ChangeStage{snapshot(meta(3), nil, delta.Add(delta.Path{"aspects", "0"}, 4))})
	require.NoError(t, err)

	assert.JSONEq(t, `{"id": "S1", "aspects": [4]}`, mustJSON(t, result.Value))
	assert.Equal(t, []PathMeta{
		{Path: delta.Path{"aspects"}, Meta: meta(3)},
		{Path: delta.Path{"aspects", "0"}, Meta: meta(3)},
	}, BlameMapToPathStageMap(result.Value, result.Blame))
}

func TestApplyDeltasAddSlotStampsOwner(t *testing.T) {
	sv := testutil.SchemaView(t)
	base := load(t, sv, "Project", `{"id": "P1", "name": "x"}`)

	result, err := ApplyDeltas(base, []ChangeStage{snapshot(meta(4), nil, delta.Add(delta.Path{"tags"}, []any{"a", "b"}))})
	require.NoError(t, err)

	assert.Equal(t, []PathMeta{
		{Path: delta.RootPath, Meta: meta(4)},
		{Path: delta.Path{"tags"}, Meta: meta(4)},
		{Path: delta.Path{"tags", "0"}, Meta: meta(4)},
		{Path: delta.Path{"tags", "1"}, Meta: meta(4)},
	}, BlameMapToPathStageMap(result.Value, result.Blame))
}

func TestApplyDeltasLastWriterWins(t *testing.T) {
	sv := testutil.SchemaView(t)
	base := load(t, sv, "Project", `{"id": "P1", "name": "x", "budget": 1}`)
	stages := []ChangeStage{
		snapshot(meta(1), nil, delta.Set(delta.Path{"name"}, "x", "y")),
		snapshot(meta(2), nil, delta.Set(delta.Path{"budget"}, 1, 2)),
		snapshot(meta(3), nil, delta.Set(delta.Path{"name"}, "y", "z")),
	}

	result, err := ApplyDeltas(base, stages)
	require.NoError(t, err)

	assert.Equal(t, []uint64{2, 3}, result.Blame.ChangeIDs())
	name, _ := GetBlameInfo(resolve(t, result.Value, "name"), result.Blame)
	assert.Equal(t, uint64(3), name.ChangeID)
}

func TestApplyDeltasIsRepeatable(t *testing.T) {
	sv := testutil.SchemaView(t)
	base := load(t, sv, "Project", `{"id": "P1", "name": "x", "tasks": [{"id": "T1", "title": "a"}]}`)
	stages := []ChangeStage{
		snapshot(meta(1), nil, delta.Add(delta.Path{"tasks", "1"}, map[string]any{"id": "T2", "title": "b"})),
		snapshot(meta(2), nil, delta.Set(delta.Path{"tasks", "0", "title"}, "stale", "c")),
		snapshot(meta(3), nil, delta.Delta{Path: delta.Path{"tasks", "0"}, Op: delta.OpRemove}),
	}

	first, err := ApplyDeltas(base, stages)
	require.NoError(t, err)
	second, err := ApplyDeltas(base, stages)
	require.NoError(t, err)

	assert.True(t, first.Value.Equals(second.Value))
	assert.Equal(t, first.Blame, second.Blame)
	assert.Equal(t, first.Rejected, second.Rejected)
	assert.Equal(t, []delta.Path{{"tasks", "0", "title"}}, first.Rejected[1])
}

func TestApplyDeltasRequiresBase(t *testing.T) {
	_, err := ApplyDeltas(nil, nil)
	assert.ErrorIs(t, err, ErrNoBase)
}

func TestApplyDeltasKeepsDuplicateIdentifiersApart(t *testing.T) {
	sv := testutil.SchemaView(t)
	base, issues, err := instance.Load(
		[]byte(`{"id": "P1", "name": "x", "tasks": [{"id": "T1", "title": "a"}, {"id": "T1", "title": "b"}]}`),
		sv, testutil.ClassView(t, sv, "Project"))
	require.NoError(t, err)
	require.Len(t, issues, 1)

	result, err := ApplyDeltas(base, []ChangeStage{
		snapshot(meta(2), nil, delta.Set(delta.Path{"tasks", "1", "title"}, "b", "c")),
	})
	require.NoError(t, err)
	assert.Equal(t, []PathMeta{{Path: delta.Path{"tasks", "1", "title"}, Meta: meta(2)}},
		BlameMapToPathStageMap(result.Value, result.Blame))

	result, err = ApplyDeltas(result.Value, []ChangeStage{
		snapshot(meta(3), nil, delta.Add(delta.Path{"tasks", "0"}, map[string]any{"id": "T0"})),
	})
	require.NoError(t, err)
	_, blamed := GetBlameInfo(resolve(t, result.Value, "tasks", "1", "title"), result.Blame)
	assert.False(t, blamed, "the first duplicate was never written")
}
