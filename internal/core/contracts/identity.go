package contracts

import (
	"context"

	"weconnect/internal/core/domain"
)

// Credential is what a user presents to the identity provider.
type Credential struct {
	Email    string
	Password string
}

// IdentityProvider is the external authentication service.
type IdentityProvider interface {
	SignIn(ctx context.Context, cred Credential) (*domain.Account, error)
	SignUp(ctx context.Context, cred Credential) (*domain.Account, error)
	SignOut(ctx context.Context, token string) error
	// Resume validates a persisted session token.
	Resume(ctx context.Context, token string) (*domain.Account, error)
}
