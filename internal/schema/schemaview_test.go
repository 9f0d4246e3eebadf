package schema_test

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/asset360/internal/domain"
	"github.com/rpattn/asset360/internal/schema"
	"github.com/rpattn/asset360/internal/testutil"
)

func TestGetClassViewResolvesNameCURIEAndURI(t *testing.T) {
	sv := testutil.SchemaView(t)

	byName, ok := sv.GetClassView("Signal")
	require.True(t, ok)
	assert.Equal(t, "https://example.org/asset360-test/Signal", byName.ID())
	assert.Equal(t, "ex:Signal", byName.CURIE())

	for _, id := range []string{"ex:Signal", byName.ID()} {
		view, ok := sv.GetClassView(id)
		require.True(t, ok, id)
		assert.Equal(t, "Signal", view.Name())
	}

	_, ok = sv.GetClassView("Nope")
	assert.False(t, ok)
}

func TestClassViewInducesSlots(t *testing.T) {
	sv := testutil.SchemaView(t)
	cv := testutil.ClassView(t, sv, "Switch")

	assert.Equal(t, []string{"id", "kind", "label", "blades"}, cv.SlotNames())

	id, ok := cv.IdentifierSlot()
	require.True(t, ok)
	assert.Equal(t, "id", id.Name())
	assert.True(t, id.Required())

	designator, ok := cv.TypeDesignatorSlot()
	require.True(t, ok)
	assert.Equal(t, "kind", designator.Name())

	blades, ok := cv.Slot("blades")
	require.True(t, ok)
	assert.Equal(t, schema.RangeScalar, blades.RangeKind())
	assert.Equal(t, schema.PrimitiveInteger, blades.Primitive())
	assert.Equal(t, 3, cv.SlotIndex("blades"))
	assert.Equal(t, -1, cv.SlotIndex("nope"))
	assert.True(t, cv.Managed())
}

func TestSlotRangeKinds(t *testing.T) {
	sv := testutil.SchemaView(t)
	project := testutil.ClassView(t, sv, "Project")
	signal := testutil.ClassView(t, sv, "Signal")

	tasks, _ := project.Slot("tasks")
	assert.Equal(t, schema.RangeClass, tasks.RangeKind())
	assert.True(t, tasks.Multivalued())
	taskView, ok := tasks.RangeClass()
	require.True(t, ok)
	assert.Equal(t, "Task", taskView.Name())

	extra, _ := project.Slot("extra")
	assert.Equal(t, schema.RangeAny, extra.RangeKind())

	status, _ := signal.Slot("status")
	assert.Equal(t, schema.RangeEnum, status.RangeKind())
	enum, ok := status.RangeEnum()
	require.True(t, ok)
	assert.Equal(t, []string{"active", "inactive", "planned"}, enum.Values())
	assert.True(t, enum.Permits("planned"))
	assert.False(t, enum.Permits("broken"))

	height, _ := signal.Slot("height")
	assert.Equal(t, schema.PrimitiveFloat, height.Primitive())
	assert.Equal(t, "float", height.BaseType())
	assert.Equal(t, "Meters", height.Range())
}

func TestSlotUsageOverridesInheritedSlot(t *testing.T) {
	sv := testutil.SchemaView(t)
	require.NoError(t, sv.AddSchema(mustParse(t, `
id: https://example.org/overrides
name: overrides
default_prefix: https://example.org/overrides/
classes:
  StrictSignal:
    is_a: Signal
    slot_usage:
      status:
        required: true
`)))

	cv := testutil.ClassView(t, sv, "StrictSignal")
	status, ok := cv.Slot("status")
	require.True(t, ok)
	assert.True(t, status.Required())
	assert.Equal(t, schema.RangeEnum, status.RangeKind())
	assert.Equal(t, "https://example.org/overrides/StrictSignal", cv.ID())
	assert.True(t, sv.IsDescendant("StrictSignal", "Signal"))
}

func TestAddSchemaRejectsDuplicateID(t *testing.T) {
	sv := testutil.SchemaView(t)
	err := sv.AddSchema(mustParse(t, testutil.AssetSchemaYAML))
	assert.ErrorIs(t, err, schema.ErrDuplicateSchema)
}

func TestAddSchemaFromPath(t *testing.T) {
	sv := schema.NewSchemaView()
	require.NoError(t, sv.AddSchemaFromPath(testutil.WriteSchemaFile(t, t.TempDir())))
	_, ok := sv.GetClassView("Project")
	assert.True(t, ok)

	assert.Error(t, sv.AddSchemaFromPath(t.TempDir()+"/missing.yaml"))
}

func TestClassesByTypeDesignator(t *testing.T) {
	sv := testutil.SchemaView(t)

	defaults := sv.ClassesByTypeDesignator(false, true)
	assert.Equal(t, []string{"Asset", "Crossing", "Switch"}, keys(defaults))

	registered := sv.ClassesByTypeDesignator(true, true)
	assert.Equal(t, []string{"Switch"}, keys(registered))

	all := sv.ClassesByTypeDesignator(false, false)
	assert.Contains(t, all, "ex:Switch")
	assert.Contains(t, all, "https://example.org/asset360-test/Switch")

	resolved, ok := sv.ResolveTypeDesignator(testutil.ClassView(t, sv, "Asset"), "ex:Crossing")
	require.True(t, ok)
	assert.Equal(t, "Crossing", resolved.Name())
	_, ok = sv.ResolveTypeDesignator(testutil.ClassView(t, sv, "Switch"), "Crossing")
	assert.False(t, ok)
}

func TestDesignatorBase(t *testing.T) {
	sv := testutil.SchemaView(t)

	assert.Equal(t, "Asset", sv.DesignatorBase(testutil.ClassView(t, sv, "Switch")).Name())
	assert.Equal(t, "Asset", sv.DesignatorBase(testutil.ClassView(t, sv, "Asset")).Name())
	assert.Equal(t, "Signal", sv.DesignatorBase(testutil.ClassView(t, sv, "Signal")).Name())

	base := sv.DesignatorBase(testutil.ClassView(t, sv, "Switch"))
	resolved, ok := sv.ResolveTypeDesignator(base, "Crossing")
	require.True(t, ok)
	assert.Equal(t, "Crossing", resolved.Name())
}

func TestSchemaViewConcurrentReaders(t *testing.T) {
	sv := testutil.SchemaView(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, name := range sv.ClassNames() {
				_, ok := sv.GetClassView(name)
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()
}

func mustParse(t *testing.T, text string) domain.SchemaDefinition {
	t.Helper()
	def, err := domain.ParseSchemaDefinition([]byte(text))
	require.NoError(t, err)
	return def
}

func keys(m map[string]*schema.ClassView) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
