package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"

	"crowdloc/internal/config"
)

// ParseJSON decodes JSON from the request body into the given destination.
// It limits the request body size to prevent abuse and provides clear error messages.
func ParseJSON(w http.ResponseWriter, r *http.Request, dest interface{}) error {
	// Limit request body size (requires w for proper 413 response)
	r.Body = http.MaxBytesReader(w, r.Body, config.MaxUploadBytes)

	decoder := json.NewDecoder(r.Body)
	// Note: DisallowUnknownFields() is intentionally NOT used: translation
	// files carry arbitrary keys, including metadata keys the server does
	// not know about. Validation is performed downstream.

	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	return nil
}
