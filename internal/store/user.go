package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/dotlist-notify/internal/domain"
)

// UserStore defines read access to task owners.
type UserStore interface {
	// GetUser retrieves a user by their unique ID.
	// Returns ErrUserNotFound if the user does not exist.
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
}
