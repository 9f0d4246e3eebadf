// Package testutil holds schema fixtures and helpers shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpattn/asset360/internal/domain"
	"github.com/rpattn/asset360/internal/instance"
	"github.com/rpattn/asset360/internal/schema"
)

// AssetSchemaYAML covers every range kind the instance model knows about:
// identified and anonymous nested classes, lists, enums, untyped slots and
// a type-designated hierarchy.
const AssetSchemaYAML = `
id: https://example.org/asset360-test
name: asset360_test
default_prefix: ex
default_range: string
prefixes:
  ex: https://example.org/asset360-test/
  linkml: https://w3id.org/linkml/
types:
  Meters:
    typeof: float
enums:
  SignalStatus:
    permissible_values:
      active:
      inactive:
      planned:
classes:
  Signal:
    attributes:
      id:
        identifier: true
      status:
        range: SignalStatus
      height:
        range: Meters
      aspects:
        range: integer
        multivalued: true
  Project:
    attributes:
      id:
        identifier: true
      name:
        required: true
      owner:
        range: Owner
        inlined: true
      tasks:
        range: Task
        multivalued: true
        inlined_as_list: true
      tags:
        multivalued: true
      budget:
        range: integer
      active:
        range: boolean
      lead:
        range: Person
      extra:
        range: Any
  Owner:
    attributes:
      name:
      email:
  Person:
    attributes:
      id:
        identifier: true
      name:
  Task:
    attributes:
      id:
        identifier: true
      title:
      done:
        range: boolean
      notes:
        range: Note
        multivalued: true
  Note:
    attributes:
      text:
  Asset:
    attributes:
      id:
        identifier: true
      kind:
        designates_type: true
      label:
  Switch:
    is_a: Asset
    annotations:
      data.infrabel.be/asset360/managed: true
    attributes:
      blades:
        range: integer
  Crossing:
    is_a: Asset
    attributes:
      barriers:
        range: boolean
`

// SchemaView returns a view with AssetSchemaYAML loaded.
func SchemaView(t testing.TB) *schema.SchemaView {
	t.Helper()
	def, err := domain.ParseSchemaDefinition([]byte(AssetSchemaYAML))
	require.NoError(t, err)
	sv := schema.NewSchemaView()
	require.NoError(t, sv.AddSchema(def))
	return sv
}

// WriteSchemaFile writes AssetSchemaYAML into dir and returns its path.
func WriteSchemaFile(t testing.TB, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "asset360_test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(AssetSchemaYAML), 0o600))
	return path
}

// ClassView resolves a class of the fixture schema.
func ClassView(t testing.TB, sv *schema.SchemaView, name string) *schema.ClassView {
	t.Helper()
	cv, ok := sv.GetClassView(name)
	require.True(t, ok, "class %s should resolve", name)
	return cv
}

// MustLoad loads a JSON document and fails the test on errors or issues.
func MustLoad(t testing.TB, sv *schema.SchemaView, class, doc string) *instance.Instance {
	t.Helper()
	value, issues, err := instance.Load([]byte(doc), sv, ClassView(t, sv, class))
	require.NoError(t, err)
	require.Empty(t, issues)
	return value
}
