package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/asset360/internal/blame"
	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/history"
	"github.com/rpattn/asset360/internal/report"
	"github.com/rpattn/asset360/internal/repository"
	"github.com/rpattn/asset360/internal/testutil"
)

func meta(id uint64) blame.ChangeMeta {
	return blame.ChangeMeta{
		Author:    fmt.Sprintf("author%d", id),
		Timestamp: fmt.Sprintf("2024-03-%02dT00:00:00Z", id),
		Source:    "ics",
		ChangeID:  id,
		ICSID:     300 + id,
	}
}

func newTestHandler(t *testing.T) (http.Handler, []blame.ChangeStage) {
	t.Helper()
	sv := testutil.SchemaView(t)
	base := testutil.MustLoad(t, sv, "Signal", `{"id": "S1", "status": "active"}`)
	next := testutil.MustLoad(t, sv, "Signal", `{"id": "S1", "status": "inactive"}`)
	stages := []blame.ChangeStage{
		blame.NewStage(meta(1), base, nil, nil),
		blame.NewStage(meta(2), next, []delta.Delta{delta.Set(delta.Path{"status"}, "active", "inactive")}, nil),
	}
	svc := history.NewService(sv, repository.NewMemoryChangeStageRepository())
	return NewHTTPHandler(svc), stages
}

func do(t *testing.T, h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPostBlame(t *testing.T) {
	h, stages := newTestHandler(t)
	body, err := blame.EncodeStages(stages)
	require.NoError(t, err)

	rec := do(t, h, http.MethodPost, "/blame", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Value    map[string]any `json:"value"`
		Blame    []blameEntry   `json:"blame"`
		Rejected []rejection    `json:"rejected"`
		Text     string         `json:"text"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "inactive", resp.Value["status"])
	require.Len(t, resp.Blame, 1)
	assert.Equal(t, "status", resp.Blame[0].Text)
	assert.Equal(t, "author2", resp.Blame[0].Meta["author"])
	assert.Empty(t, resp.Rejected)
	assert.Contains(t, resp.Text, "<root> (Signal)")
}

func TestPostBlameRejectsBadInput(t *testing.T) {
	h, _ := newTestHandler(t)

	for _, body := range []string{`nope`, `[]`, `[{"class_id": "Unknown"}]`} {
		rec := do(t, h, http.MethodPost, "/blame", []byte(body))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestPostHistory(t *testing.T) {
	h, stages := newTestHandler(t)
	stages[1].Deltas = nil
	body, err := blame.EncodeStages(stages)
	require.NoError(t, err)

	rec := do(t, h, http.MethodPost, "/history", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var payloads []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payloads))
	require.Len(t, payloads, 2)
	deltas, ok := payloads[1]["deltas"].([]any)
	require.True(t, ok)
	assert.Len(t, deltas, 1)
	assert.NotContains(t, payloads[1], "rejected_paths")
}

func TestChainEndpoints(t *testing.T) {
	h, stages := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/chains", []byte(`{"class_id": "ex:Signal", "label": "S1"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var chain chainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chain))
	assert.Equal(t, "https://example.org/asset360-test/Signal", chain.ClassID)

	base := "/chains/" + chain.ID.String()
	for i, stage := range stages {
		data, err := stage.MarshalPayload()
		require.NoError(t, err)
		rec = do(t, h, http.MethodPost, base+"/stages", data)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var appended appendStageResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &appended))
		assert.Equal(t, i, appended.Ordinal)
	}

	rec = do(t, h, http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chain))
	assert.Equal(t, 2, chain.StageCount)

	rec = do(t, h, http.MethodGet, "/chains?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var chains []chainResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chains))
	assert.Len(t, chains, 1)

	rec = do(t, h, http.MethodGet, base+"/stages", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, base+"/blame", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"change_id": 2`)

	rec = do(t, h, http.MethodGet, base+"/diff", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Body.String(), "--- stage 0"))
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, base+"/diff?to=9", nil).Code)

	rec = do(t, h, http.MethodPost, base+"/rebuild", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, base+"/blame.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "application/vnd.openxmlformats"))
	rows, _, err := report.ReadXLSX(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestChainEndpointErrors(t *testing.T) {
	h, _ := newTestHandler(t)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/chains/not-a-uuid", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/chains/6f1c2a4e-3b0d-4c55-9a52-6c0f7d9b1e11", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/chains", []byte(`{}`)).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/chains", []byte(`{"class_id": "Nope"}`)).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/chains?limit=-1", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodDelete, "/blame", nil).Code)
}
