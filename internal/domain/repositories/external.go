package repositories

import (
	"context"
	"io"

	"crowdloc/internal/domain/models"
)

// External collaborators. The core calls these narrow interfaces but does
// not implement the systems behind them (identity, moderation, storage).

// BlobStore is an opaque content store keyed by path.
type BlobStore interface {
	Store(ctx context.Context, path string, data []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// UserDirectory looks up account facts owned by the identity system.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// AuditEntry records one moderation-relevant action.
type AuditEntry struct {
	UserID  string
	Action  string
	Subject string
	Detail  string
}

// AuditLog records audit entries. Failures are the implementation's
// problem; callers treat recording as best-effort.
type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry)
}
