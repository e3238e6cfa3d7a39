package auth

import (
	"context"

	"github.com/hearth-social/backend/internal/models"
)

// Authenticator resolves a bearer token to the user it was issued for.
// HTTP middleware and the socket handshake both depend on this rather than on Service.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, *Claims, error)
}

// Ensure Service implements Authenticator
var _ Authenticator = (*Service)(nil)
