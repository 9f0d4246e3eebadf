package delta

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathString(t *testing.T) {
	tests := []struct {
		path Path
		want string
	}{
		{Path{}, "<root>"},
		{Path{"status"}, "status"},
		{Path{"tasks", "1", "title"}, "tasks[1].title"},
		{Path{"matrix", "0", "2"}, "matrix[0][2]"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.path.String())
	}
}

func TestParsePath(t *testing.T) {
	for _, text := range []string{"<root>", "status", "tasks[1].title", "matrix[0][2]", "a.b.c"} {
		parsed, err := ParsePath(text)
		require.NoError(t, err, text)
		if text == "<root>" {
			assert.True(t, parsed.IsRoot())
			continue
		}
		assert.Equal(t, text, parsed.String())
	}

	for _, bad := range []string{"tasks[x]", "tasks[1", "a..b", "tasks[-1]"} {
		_, err := ParsePath(bad)
		assert.Error(t, err, bad)
	}
}

func TestPathRelations(t *testing.T) {
	root := RootPath
	tasks := Path{"tasks"}
	first := tasks.ChildIndex(0)
	title := first.Child("title")

	assert.True(t, root.IsAncestorOf(tasks))
	assert.True(t, tasks.IsAncestorOf(title))
	assert.False(t, title.IsAncestorOf(tasks))
	assert.True(t, title.IsDescendantOf(first))
	assert.True(t, first.Child("id").IsSiblingOf(title))
	assert.False(t, title.IsSiblingOf(title))
	assert.Equal(t, first, title.Parent())
	assert.Equal(t, "title", title.Last())

	index, ok := first.Index()
	assert.True(t, ok)
	assert.Equal(t, 0, index)
	_, ok = title.Index()
	assert.False(t, ok)

	parent := title.Parent()
	parent[0] = "changed"
	assert.Equal(t, "tasks", title[0], "Parent returns a copy")
}

func TestComparePaths(t *testing.T) {
	paths := []Path{
		{"tasks", "10"},
		{"name"},
		{"tasks", "2", "title"},
		{},
		{"tasks", "2"},
		{"id"},
	}
	sort.Slice(paths, func(i, j int) bool { return Compare(paths[i], paths[j]) < 0 })

	var rendered []string
	for _, p := range paths {
		rendered = append(rendered, p.String())
	}
	assert.Equal(t, []string{"<root>", "id", "name", "tasks[2]", "tasks[2].title", "tasks[10]"}, rendered)
	assert.True(t, ContainsPath(paths, Path{"tasks", "2"}))
	assert.False(t, ContainsPath(paths, Path{"tasks", "3"}))
}
