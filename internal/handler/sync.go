package handler

import (
	"log/slog"
	"net/http"

	"crowdloc/internal/httputil"
	"crowdloc/internal/service"
)

// SyncHandler handles lineage sync-state HTTP requests
type SyncHandler struct {
	sync   *service.SyncService
	logger *slog.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(sync *service.SyncService, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{sync: sync, logger: logger}
}

// State answers "what is my relationship to this lineage"
// GET /api/lineages/{uuid}/sync?hash=…
// The optional hash query is the digest of the caller's local copy.
func (h *SyncHandler) State(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	state, err := h.sync.BuildState(r.Context(), userID, r.PathValue("uuid"), r.URL.Query().Get("hash"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, state)
}
