package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridian-bank/meridian/internal/shared"
)

// Resolver decides the caller's role from profile lookups. Pure lookup, no
// side effects; it runs on every protected-route entry because role is never
// cached beyond the session lifetime.
type Resolver struct {
	repo Repository
}

// NewResolver constructs a Resolver.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the identity for the user. Exactly one matching profile
// determines the role; none yields ErrNoProfile and both yields
// ErrAmbiguousProfile rather than guessing.
func (r *Resolver) Resolve(ctx context.Context, userID int64) (Identity, error) {
	customer, err := r.repo.FindCustomerProfile(ctx, userID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return Identity{}, fmt.Errorf("find customer profile: %w", err)
	}
	admin, err := r.repo.FindAdministratorProfile(ctx, userID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return Identity{}, fmt.Errorf("find administrator profile: %w", err)
	}

	switch {
	case customer != nil && admin != nil:
		return Identity{}, ErrAmbiguousProfile
	case customer != nil:
		return Identity{UserID: userID, Role: RoleCustomer, Profile: *customer}, nil
	case admin != nil:
		return Identity{UserID: userID, Role: RoleAdministrator, Profile: *admin}, nil
	default:
		return Identity{}, ErrNoProfile
	}
}
