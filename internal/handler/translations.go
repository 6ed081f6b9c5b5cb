package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"crowdloc/internal/domain/models"
	"crowdloc/internal/httputil"
	"crowdloc/internal/service"
)

// TranslationHandler handles translation document HTTP requests
type TranslationHandler struct {
	translations *service.TranslationService
	votes        *service.VoteService
	logger       *slog.Logger
}

// NewTranslationHandler creates a new translation handler
func NewTranslationHandler(
	translations *service.TranslationService,
	votes *service.VoteService,
	logger *slog.Logger,
) *TranslationHandler {
	return &TranslationHandler{
		translations: translations,
		votes:        votes,
		logger:       logger,
	}
}

// Upload accepts a translation file and resolves its lineage role
// POST /api/translations
// Returns 201 when a new document was created, 200 when an existing one
// was updated. Per-key shape violations come back as a 400 with a report.
func (h *TranslationHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req service.UploadRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.RespondError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, report, err := h.translations.Upload(r.Context(), userID, &req)
	if err != nil {
		if report != nil && report.Total > 0 {
			httputil.RespondErrorWithExtras(w, http.StatusBadRequest, err.Error(), map[string]interface{}{
				"violations":       report.Violations,
				"violations_total": report.Total,
			})
			return
		}
		handleError(w, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	httputil.RespondJSON(w, status, result)
}

// List retrieves the caller's own documents
// GET /api/translations
func (h *TranslationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	list, err := h.translations.ListByUser(r.Context(), userID)
	if err != nil {
		handleError(w, err)
		return
	}
	if list == nil {
		list = []models.Translation{}
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"translations": list,
		"total":        len(list),
	})
}

// Get retrieves document metadata
// GET /api/translations/{id}
func (h *TranslationHandler) Get(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}

	t, err := h.translations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, t)
}

// Content serves the canonical content blob with conditional retrieval
// GET /api/translations/{id}/content
// The digest doubles as a strong ETag; If-None-Match short-circuits to
// 304 without touching the blob store. ?download=true counts a download.
func (h *TranslationHandler) Content(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	id := r.PathValue("id")
	countDownload := r.URL.Query().Get("download") == "true"

	// Hash check needs metadata only; the blob read happens after.
	t, err := h.translations.Get(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	etag := `"` + t.FileHash + `"`
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	data, hash, err := h.translations.Content(r.Context(), id, countDownload)
	if err != nil {
		handleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", `"`+hash+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// SetStatus updates a lineage's translation status
// PATCH /api/translations/{id}
func (h *TranslationHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Status models.Status `json:"status"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	t, err := h.translations.SetStatus(r.Context(), userID, r.PathValue("id"), req.Status)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, t)
}

// Delete removes a document, cascading votes and detaching forks
// DELETE /api/translations/{id}
func (h *TranslationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.translations.Delete(r.Context(), userID, r.PathValue("id")); err != nil {
		handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Fork detaches a branch into the Main of a brand-new lineage
// POST /api/translations/{id}/fork
func (h *TranslationHandler) Fork(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	t, err := h.translations.Fork(r.Context(), userID, r.PathValue("id"))
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, t)
}

// Vote casts a toggle-style vote on someone else's document
// POST /api/translations/{id}/vote
func (h *TranslationHandler) Vote(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Value int `json:"value"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.votes.Cast(r.Context(), userID, r.PathValue("id"), req.Value)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, result)
}
