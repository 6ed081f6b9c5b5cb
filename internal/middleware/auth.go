package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"crowdloc/internal/auth"
	"crowdloc/internal/httputil"
)

// Auth verifies a Bearer token when one is present and puts the user id
// in the request context. It does not reject requests without a token:
// some endpoints (device-code creation, the device and preview streams)
// are deliberately unauthenticated, so handlers that need an identity
// check the context instead.
func Auth(verifier auth.TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				httputil.RespondError(w, http.StatusUnauthorized, "malformed authorization header")
				return
			}

			claims, err := verifier.VerifyToken(token)
			if err != nil {
				logger.Debug("token verification failed", "path", r.URL.Path, "error", err)
				httputil.RespondError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, httputil.WithUserID(r, claims.GetUserID()))
		})
	}
}
