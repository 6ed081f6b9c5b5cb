package models

import "time"

// MergeTokenTTL bounds how long a minted preview token stays usable.
const MergeTokenTTL = 15 * time.Minute

// MergePreviewToken is a single-use capability binding a caller-supplied
// local snapshot to a translation and user, so an external client can open
// a web-rendered comparison without a full login session. Deleted on first
// successful use or expiry.
type MergePreviewToken struct {
	Token         string    `json:"token" db:"token"`
	TranslationID string    `json:"translation_id" db:"translation_id"`
	UserID        string    `json:"-" db:"user_id"`
	LocalContent  []byte    `json:"-" db:"local_content"` // raw uploaded snapshot
	ExpiresAt     time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt     time.Time `json:"-" db:"created_at"`
}

// Expired reports whether the token is past its lifetime.
func (t *MergePreviewToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
