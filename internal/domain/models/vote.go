package models

import "time"

// Vote is one user's +1/-1 on a translation. At most one row exists per
// (translation, user); toggling the same value removes it, switching
// value applies a signed delta of 2 to the translation's vote count.
type Vote struct {
	TranslationID string    `json:"translation_id" db:"translation_id"`
	UserID        string    `json:"user_id" db:"user_id"`
	Value         int       `json:"value" db:"value"` // +1 or -1
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
