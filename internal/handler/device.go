package handler

import (
	"log/slog"
	"net/http"

	"crowdloc/internal/httputil"
	"crowdloc/internal/service"
)

// DeviceHandler handles device-link pairing HTTP requests
type DeviceHandler struct {
	devices *service.DeviceLinkService
	logger  *slog.Logger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(devices *service.DeviceLinkService, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{devices: devices, logger: logger}
}

// CreateCode mints a new pairing: the opaque device code plus the
// human-enterable user code. Deliberately unauthenticated; the record is
// worthless until a signed-in user claims it.
// POST /api/device/code
func (h *DeviceHandler) CreateCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.devices.Generate(r.Context())
	if err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusCreated, code)
}

// Authorize attaches the signed-in user to a pending code
// POST /api/device/authorize
func (h *DeviceHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		UserCode string `json:"user_code"`
	}
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.devices.Authorize(r.Context(), userID, req.UserCode); err != nil {
		handleError(w, err)
		return
	}
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
}
