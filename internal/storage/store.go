package storage

import (
	"context"
	"errors"

	"job-tracker-go/internal/models"
)

// ErrSessionNotFound is returned by Load when no session was persisted under the id.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists whole sessions. Save replaces any previous value for
// the session id; partial updates are not supported.
type SessionStore interface {
	Load(ctx context.Context, id string) (models.Session, error)
	Save(ctx context.Context, session models.Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}
