package handler

import (
	"errors"
	"net/http"

	"crowdloc/internal/domain"
	"crowdloc/internal/httputil"
)

// handleError converts domain errors to HTTP responses
func handleError(w http.ResponseWriter, err error) {
	var conflictErr *domain.ConflictError
	var formatErr *domain.FormatError

	switch {
	case errors.Is(err, domain.ErrValidation):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		httputil.RespondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		httputil.RespondError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &formatErr):
		httputil.RespondError(w, http.StatusUnprocessableEntity, formatErr.Error())
	case errors.As(err, &conflictErr):
		// Digest conflicts carry both hashes so the client can refetch,
		// re-diff, and retry without a second round trip.
		if conflictErr.ExpectedHash != "" || conflictErr.CurrentHash != "" {
			httputil.RespondErrorWithExtras(w, http.StatusConflict, conflictErr.Error(), map[string]interface{}{
				"expected_hash": conflictErr.ExpectedHash,
				"current_hash":  conflictErr.CurrentHash,
			})
			return
		}
		httputil.RespondError(w, http.StatusConflict, conflictErr.Error())
	case errors.Is(err, domain.ErrConflict):
		httputil.RespondError(w, http.StatusConflict, err.Error())
	default:
		httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// requireUser extracts the authenticated user id, writing a 401 when the
// request carried no valid credential.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := httputil.GetUserID(r)
	if userID == "" {
		httputil.RespondError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return userID, true
}
