package models

import "github.com/golang-jwt/jwt/v5"

// AccessClaims is the JWT claims structure accepted by the API, whether
// the token came from the identity provider's social login or was minted
// by the device-link flow.
type AccessClaims struct {
	jwt.RegisteredClaims        // sub, iss, aud, exp, iat, ...
	Email                string `json:"email,omitempty"`
	Name                 string `json:"name,omitempty"`
	Role                 string `json:"role"` // "authenticated" or "anon"
	DeviceLinked         bool   `json:"device_linked,omitempty"`
}

// GetUserID returns the user ID from the JWT subject claim.
func (c *AccessClaims) GetUserID() string {
	return c.Subject
}

// User is the narrow view of an account the core needs: a display name
// for sync previews and a ban flag checked before accepting uploads.
type User struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	Banned bool   `json:"-" db:"banned"`
}
