package auth

import (
	"time"

	"crowdloc/internal/domain/models"
)

// TokenVerifier validates bearer tokens presented to the API.
type TokenVerifier interface {
	// VerifyToken validates a JWT and returns its claims. Returns an
	// error if the token is invalid, expired, or mis-signed.
	VerifyToken(tokenString string) (*models.AccessClaims, error)

	// Close releases resources held by the verifier (e.g. the JWKS
	// refresh goroutine).
	Close() error
}

// TokenIssuer mints access credentials. Used by the device-link flow, which
// must hand a newly authorized device a token without a browser session.
type TokenIssuer interface {
	// IssueAccessToken mints a token for the user, valid for ttl.
	IssueAccessToken(userID string, ttl time.Duration) (string, error)
}

// ChainVerifier tries each verifier in order and returns the first
// success. Lets provider-issued (RS256/ES256 via JWKS) and device-linked
// (HS256) tokens share one middleware.
type ChainVerifier []TokenVerifier

// VerifyToken tries each verifier in order.
func (c ChainVerifier) VerifyToken(tokenString string) (*models.AccessClaims, error) {
	var lastErr error
	for _, v := range c {
		claims, err := v.VerifyToken(tokenString)
		if err == nil {
			return claims, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Close closes every verifier in the chain.
func (c ChainVerifier) Close() error {
	var firstErr error
	for _, v := range c {
		if err := v.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
