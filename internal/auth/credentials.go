package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/waypoint/server/internal/model"
	"github.com/waypoint/server/internal/repo"
)

// CredentialStore resolves verified identifiers to users, creating the user
// on first verification. It is owned by the auth flow; nothing else mutates
// identity verification state.
type CredentialStore struct {
	users repo.UserRepo
}

// NewCredentialStore creates a credential store over the user repository.
func NewCredentialStore(users repo.UserRepo) *CredentialStore {
	return &CredentialStore{users: users}
}

// ResolveVerifiedIdentity returns the user owning the (type, value) identity,
// creating user and identity when none exists. An existing unverified
// identity is marked verified; repeating that for an already-verified
// identity is a no-op. A uniqueness conflict during creation means a
// concurrent verification won the race, so the identity is re-resolved
// instead of failing.
func (c *CredentialStore) ResolveVerifiedIdentity(ctx context.Context, identifierType model.IdentifierType, value string) (model.User, error) {
	for attempt := 0; attempt < 2; attempt++ {
		identity, err := c.users.FindIdentity(ctx, string(identifierType), value)
		if err == nil {
			if identity.VerifiedAt == nil {
				if err := c.users.VerifyIdentity(ctx, identity.ID); err != nil {
					return model.User{}, fmt.Errorf("verify identity: %w", err)
				}
			}
			user, err := c.users.GetByID(ctx, identity.UserID)
			if err != nil {
				return model.User{}, fmt.Errorf("load identity owner: %w", err)
			}
			return user, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return model.User{}, fmt.Errorf("find identity: %w", err)
		}

		user, _, err := c.users.CreateUserWithIdentity(ctx, defaultDisplayName(identifierType, value), string(identifierType), value, true)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, repo.ErrConflict) {
			return model.User{}, fmt.Errorf("create user: %w", err)
		}
		// Identity now exists; loop re-resolves it.
	}
	return model.User{}, fmt.Errorf("resolve identity: conflict retry exhausted")
}

// defaultDisplayName derives a display name from the identifier: the local
// part for emails, the number itself for phones.
func defaultDisplayName(identifierType model.IdentifierType, value string) string {
	if identifierType == model.IdentifierEmail {
		if at := strings.Index(value, "@"); at > 0 {
			return value[:at]
		}
	}
	return value
}
