package models

import "time"

// DeviceCodeTTL bounds the pairing window. Expiry is enforced at every
// lookup, not only by the opportunistic garbage collection.
const DeviceCodeTTL = 15 * time.Minute

// DeviceCode is a short-lived pairing record between an unauthenticated
// client (holding the opaque DeviceCode) and an authenticated browser
// session (typing the UserCode). Strictly single-use: the record is
// deleted when the access credential is issued.
type DeviceCode struct {
	DeviceCode string    `json:"device_code" db:"device_code"`
	UserCode   string    `json:"user_code" db:"user_code"` // 4 letters + 4 digits, dash-separated
	UserID     *string   `json:"-" db:"user_id"`           // set on authorization
	ExpiresAt  time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt  time.Time `json:"-" db:"created_at"`
}

// IsAuthorized reports whether an authenticated user has claimed the code.
func (d *DeviceCode) IsAuthorized() bool {
	return d.UserID != nil
}

// Expired reports whether the pairing window has closed.
func (d *DeviceCode) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}
