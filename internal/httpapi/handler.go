// Package httpapi exposes blame and history over JSON HTTP endpoints.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/asset360/internal/blame"
	"github.com/rpattn/asset360/internal/ctxlog"
	"github.com/rpattn/asset360/internal/delta"
	"github.com/rpattn/asset360/internal/domain"
	"github.com/rpattn/asset360/internal/history"
	"github.com/rpattn/asset360/internal/instance"
	"github.com/rpattn/asset360/internal/repository"
)

const maxBodyBytes = 32 << 20

// Handler serves the blame API.
type Handler struct {
	service *history.Service
	mux     *http.ServeMux
}

// NewHTTPHandler wires the routes onto service.
func NewHTTPHandler(service *history.Service) http.Handler {
	h := &Handler{service: service, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /blame", h.handleBlame)
	h.mux.HandleFunc("POST /history", h.handleHistory)
	h.mux.HandleFunc("POST /chains", h.handleCreateChain)
	h.mux.HandleFunc("GET /chains", h.handleListChains)
	h.mux.HandleFunc("GET /chains/{id}", h.handleGetChain)
	h.mux.HandleFunc("POST /chains/{id}/stages", h.handleAppendStage)
	h.mux.HandleFunc("GET /chains/{id}/stages", h.handleListStages)
	h.mux.HandleFunc("GET /chains/{id}/blame", h.handleChainBlame)
	h.mux.HandleFunc("GET /chains/{id}/blame.xlsx", h.handleChainBlameXLSX)
	h.mux.HandleFunc("GET /chains/{id}/diff", h.handleDiff)
	h.mux.HandleFunc("POST /chains/{id}/rebuild", h.handleRebuild)
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type blameEntry struct {
	Path []any          `json:"path"`
	Text string         `json:"path_text"`
	Meta map[string]any `json:"meta"`
}

type rejection struct {
	ChangeID uint64  `json:"change_id"`
	Paths    [][]any `json:"paths"`
}

type blameResponse struct {
	Value    any          `json:"value"`
	Blame    []blameEntry `json:"blame"`
	Rejected []rejection  `json:"rejected"`
	Text     string       `json:"text"`
	Warnings []string     `json:"warnings,omitempty"`
}

type chainResponse struct {
	ID         uuid.UUID `json:"id"`
	ClassID    string    `json:"class_id"`
	Label      string    `json:"label"`
	CreatedAt  string    `json:"created_at"`
	StageCount int       `json:"stage_count"`
}

type createChainRequest struct {
	ClassID string `json:"class_id"`
	Label   string `json:"label"`
}

type appendStageResponse struct {
	ChainID  uuid.UUID `json:"chain_id"`
	Ordinal  int       `json:"ordinal"`
	ChangeID uint64    `json:"change_id"`
	Issues   []string  `json:"issues"`
}

func (h *Handler) handleBlame(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	out, err := h.service.BlamePayloads(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBlameResponse(out))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	stages, err := h.service.HistoryPayloads(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeStages(w, r, stages)
}

func (h *Handler) handleCreateChain(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req createChainRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ClassID) == "" {
		http.Error(w, "class_id is required", http.StatusBadRequest)
		return
	}
	chain, err := h.service.CreateChain(r.Context(), strings.TrimSpace(req.ClassID), req.Label)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newChainResponse(chain))
}

func (h *Handler) handleListChains(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	chains, err := h.service.ListChains(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]chainResponse, len(chains))
	for i, chain := range chains {
		out[i] = newChainResponse(chain)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetChain(w http.ResponseWriter, r *http.Request) {
	id, ok := chainID(w, r)
	if !ok {
		return
	}
	chain, err := h.service.GetChain(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newChainResponse(chain))
}

func (h *Handler) handleAppendStage(w http.ResponseWriter, r *http.Request) {
	id, ok := chainID(w, r)
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	stored, issues, err := h.service.AppendStage(r.Context(), id, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if issues == nil {
		issues = []string{}
	}
	writeJSON(w, http.StatusCreated, appendStageResponse{
		ChainID:  stored.ChainID,
		Ordinal:  stored.Ordinal,
		ChangeID: stored.ChangeID,
		Issues:   issues,
	})
}

func (h *Handler) handleListStages(w http.ResponseWriter, r *http.Request) {
	id, ok := chainID(w, r)
	if !ok {
		return
	}
	stages, err := h.service.ChainStages(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeStages(w, r, stages)
}

func (h *Handler) handleChainBlame(w http.ResponseWriter, r *http.Request) {
	id, ok := chainID(w, r)
	if !ok {
		return
	}
	out, err := h.service.ChainBlame(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBlameResponse(out))
}

func (h *Handler) handleChainBlameXLSX(w http.ResponseWriter, r *http.Request) {
	id, ok := chainID(w, r)
	if !ok {
		return
	}
	out, err := h.service.ChainBlame(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := history.ExportXLSX(&buf, out); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="blame-%s.xlsx"`, id))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) handleDiff(w http.ResponseWriter, r *http.Request) {
	id, ok := chainID(w, r)
	if !ok {
		return
	}
	stages, err := h.service.ChainStages(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	from, err := queryInt(r, "from", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := queryInt(r, "to", len(stages)-1)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	diff, err := history.StageDiff(stages, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/x-diff; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, diff)
}

func (h *Handler) handleRebuild(w http.ResponseWriter, r *http.Request) {
	id, ok := chainID(w, r)
	if !ok {
		return
	}
	stages, err := h.service.RebuildChain(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeStages(w, r, stages)
}

func newBlameResponse(out history.BlameReport) blameResponse {
	resp := blameResponse{
		Blame:    make([]blameEntry, len(out.Entries)),
		Rejected: []rejection{},
		Text:     out.Text,
		Warnings: out.Warnings,
	}
	if out.Result.Value != nil {
		resp.Value = out.Result.Value.ToJSON()
	}
	for i, entry := range out.Entries {
		resp.Blame[i] = blameEntry{
			Path: delta.PathToGeneric(entry.Path),
			Text: entry.Path.String(),
			Meta: entry.Meta.ToDict(),
		}
	}
	for i, paths := range out.Result.Rejected {
		if len(paths) == 0 || i+1 >= len(out.Stages) {
			continue
		}
		rej := rejection{ChangeID: out.Stages[i+1].Meta.ChangeID, Paths: make([][]any, len(paths))}
		for j, p := range paths {
			rej.Paths[j] = delta.PathToGeneric(p)
		}
		resp.Rejected = append(resp.Rejected, rej)
	}
	return resp
}

func newChainResponse(chain domain.ChangeChain) chainResponse {
	return chainResponse{
		ID:         chain.ID,
		ClassID:    chain.ClassID,
		Label:      chain.Label,
		CreatedAt:  chain.CreatedAt.UTC().Format(time.RFC3339),
		StageCount: chain.StageCount,
	}
}

func writeStages(w http.ResponseWriter, r *http.Request, stages []blame.ChangeStage) {
	data, err := blame.EncodeStages(stages)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read body: %v", err), http.StatusBadRequest)
		return nil, false
	}
	return data, true
}

func chainID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid chain id: %v", err), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return value, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, history.ErrClassMismatch):
		return http.StatusConflict
	case errors.Is(err, history.ErrInvalidStage),
		errors.Is(err, instance.ErrUnresolvedClass),
		errors.Is(err, instance.ErrInvalidDocument),
		errors.Is(err, blame.ErrNoStages),
		errors.Is(err, blame.ErrNoBase):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		ctxlog.FromContext(r.Context()).Error("request failed", "error", err)
		http.Error(w, "internal error", status)
		return
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
