package blame

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/instance"
	"github.com/rpattn/asset360/internal/schema"
	"github.com/rpattn/asset360/internal/testutil"
)

func meta(id uint64) ChangeMeta {
	return ChangeMeta{
		Author:    fmt.Sprintf("author%d", id),
		Timestamp: fmt.Sprintf("2024-01-%02dT00:00:00Z", id),
		Source:    "ics",
		ChangeID:  id,
		ICSID:     100 + id,
	}
}

func load(t *testing.T, sv *schema.SchemaView, class, doc string) *instance.Instance {
	t.Helper()
	return testutil.MustLoad(t, sv, class, doc)
}

func resolve(t *testing.T, value *instance.Instance, path ...string) *instance.Instance {
	t.Helper()
	node, ok := value.Resolve(delta.Path(path))
	require.True(t, ok, "path %v should resolve", path)
	return node
}

func snapshot(meta ChangeMeta, value *instance.Instance, deltas ...delta.Delta) ChangeStage {
	return NewStage(meta, value, deltas, nil)
}

func mustJSON(t *testing.T, value *instance.Instance) string {
	t.Helper()
	data, err := json.Marshal(value)
	require.NoError(t, err)
	return string(data)
}
