package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"crowdloc/internal/httputil"
	"crowdloc/internal/service"
)

// PreviewHandler handles two-way preview and preview-token HTTP requests
type PreviewHandler struct {
	merges *service.MergeService
	logger *slog.Logger
}

// NewPreviewHandler creates a new preview handler
func NewPreviewHandler(merges *service.MergeService, logger *slog.Logger) *PreviewHandler {
	return &PreviewHandler{merges: merges, logger: logger}
}

// Preview compares a caller-supplied local snapshot against the caller's
// persisted document and returns the auto-resolved default selections
// POST /api/translations/{id}/preview
func (h *PreviewHandler) Preview(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Local json.RawMessage `json:"local"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.merges.Preview(r.Context(), userID, r.PathValue("id"), req.Local)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, result)
}

// Apply commits preview selections into the caller's document
// POST /api/translations/{id}/preview/apply
func (h *PreviewHandler) Apply(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req service.PreviewApplyRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.merges.PreviewApply(r.Context(), userID, r.PathValue("id"), &req)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, result)
}

// MintToken mints a single-use preview token binding a local snapshot to
// the caller's document so a browser can render the comparison
// POST /api/preview-tokens
func (h *PreviewHandler) MintToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		TranslationID string          `json:"translation_id"`
		Local         json.RawMessage `json:"local"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TranslationID == "" {
		httputil.RespondError(w, http.StatusBadRequest, "translation_id is required")
		return
	}

	token, err := h.merges.MintPreviewToken(r.Context(), userID, req.TranslationID, req.Local)
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, token)
}

// RedeemToken resolves a preview token for the browser session. The token
// is deleted on redemption; the snapshot it carried comes back once.
// POST /api/preview-tokens/{token}/redeem
func (h *PreviewHandler) RedeemToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.merges.RedeemPreviewToken(r.Context(), r.PathValue("token"))
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"token":          token.Token,
		"translation_id": token.TranslationID,
		"local":          json.RawMessage(token.LocalContent),
		"expires_at":     token.ExpiresAt,
	})
}
