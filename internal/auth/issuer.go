package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"crowdloc/internal/domain"
	"crowdloc/internal/domain/models"
)

// HSIssuer mints HS256 access tokens for the device-link flow. Tokens
// carry the same claims shape the verifier expects.
type HSIssuer struct {
	secret []byte
	issuer string
}

// NewHSIssuer creates a token issuer with the shared signing secret.
func NewHSIssuer(secret, issuer string) (*HSIssuer, error) {
	if secret == "" {
		return nil, errors.New("signing secret cannot be empty")
	}
	return &HSIssuer{secret: []byte(secret), issuer: issuer}, nil
}

// IssueAccessToken mints a token for the user, valid for ttl.
func (i *HSIssuer) IssueAccessToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &models.AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:         "authenticated",
		DeviceLinked: true,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a token the issuer itself minted, so device-linked
// clients can authenticate against the same middleware as browser sessions.
func (i *HSIssuer) VerifyToken(tokenString string) (*models.AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.AccessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, domain.ErrUnauthorized
	}
	claims, ok := token.Claims.(*models.AccessClaims)
	if !ok || claims.Subject == "" {
		return nil, domain.ErrUnauthorized
	}
	return claims, nil
}

// Close implements TokenVerifier; the issuer holds no resources.
func (i *HSIssuer) Close() error { return nil }
