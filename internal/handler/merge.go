package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"crowdloc/internal/config"
	"crowdloc/internal/domain/models"
	"crowdloc/internal/httputil"
	"crowdloc/internal/service"
	"crowdloc/internal/service/merge"
)

// MergeHandler handles N-way merge HTTP requests
type MergeHandler struct {
	merges *service.MergeService
	logger *slog.Logger
}

// NewMergeHandler creates a new merge handler
func NewMergeHandler(merges *service.MergeService, logger *slog.Logger) *MergeHandler {
	return &MergeHandler{merges: merges, logger: logger}
}

// Rows renders the N-way comparison between a Main and its branches
// GET /api/translations/{id}/merge?branches=id1,id2&filters=new,tag:A
// Omitting branches compares against every branch of the lineage.
// Filters compose as OR; an empty filter list passes every row.
func (h *MergeHandler) Rows(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	mainID := r.PathValue("id")

	branches, err := h.merges.Branches(r.Context(), userID, mainID)
	if err != nil {
		handleError(w, err)
		return
	}

	branchIDs := splitParam(r.URL.Query().Get("branches"))
	if len(branchIDs) == 0 {
		for _, b := range branches {
			branchIDs = append(branchIDs, b.ID)
		}
	}
	if len(branchIDs) > config.MaxBranchesPerMerge {
		httputil.RespondError(w, http.StatusBadRequest, "too many branches selected")
		return
	}

	var filters []merge.Filter
	for _, raw := range splitParam(r.URL.Query().Get("filters")) {
		f, ok := merge.ParseFilter(raw)
		if !ok {
			httputil.RespondError(w, http.StatusBadRequest, "unknown filter "+raw)
			return
		}
		filters = append(filters, f)
	}

	rows, err := h.merges.MergeRows(r.Context(), userID, mainID, branchIDs, filters)
	if err != nil {
		handleError(w, err)
		return
	}
	if rows == nil {
		rows = []merge.Row{}
	}
	if branches == nil {
		branches = []models.Translation{}
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"branches": branches,
		"rows":     rows,
	})
}

// Apply commits a merge selection set into the Main
// POST /api/translations/{id}/merge
func (h *MergeHandler) Apply(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req service.ApplyRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.merges.ApplyMerge(r.Context(), userID, r.PathValue("id"), &req)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, result)
}

// splitParam splits a comma-separated query parameter, dropping empties.
func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
