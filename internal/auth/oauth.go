package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/waypoint/server/internal/model"
	"github.com/waypoint/server/internal/repo"
)

// ProviderUserInfo is the already-exchanged profile of an OAuth login. Token
// exchange with the provider happens upstream; this layer only resolves the
// profile to a local user.
type ProviderUserInfo interface {
	Provider() string
	ProviderUserID() string
	Email() string
	DisplayName() string
}

// CompleteOAuthLogin resolves a provider profile to a user and mints a session
// for the device. Resolution is by (provider, provider user id) first. A
// profile email links to an existing account only when that email identity is
// already verified locally; an unverified or unknown email never merges
// accounts, it creates a new one.
func (s *AuthService) CompleteOAuthLogin(ctx context.Context, info ProviderUserInfo, device DeviceInput) (SessionResponse, error) {
	user, err := s.credentials.ResolveOAuthIdentity(ctx, info)
	if err != nil {
		return SessionResponse{}, err
	}
	if user.DeletedAt != nil {
		return SessionResponse{}, ErrUserDeleted
	}

	registered, err := s.devices.Upsert(ctx, model.Device{
		ID:        device.ID,
		UserID:    user.ID,
		Platform:  device.Platform,
		PushToken: device.PushToken,
	})
	if err != nil {
		return SessionResponse{}, fmt.Errorf("register device: %w", err)
	}

	return s.sessions.CreateSession(ctx, user, registered)
}

// oauthIdentityType namespaces oauth identities by provider so (type, value)
// stays unique per provider account.
func oauthIdentityType(provider string) string {
	return "oauth:" + strings.ToLower(provider)
}

// ResolveOAuthIdentity maps a provider profile to a user. Lookup order:
// existing oauth identity, then a verified local email identity matching the
// profile email, then a fresh user. The oauth identity is attached to
// whichever user wins.
func (c *CredentialStore) ResolveOAuthIdentity(ctx context.Context, info ProviderUserInfo) (model.User, error) {
	if info.Provider() == "" || info.ProviderUserID() == "" {
		return model.User{}, ErrInvalidIdentifier
	}
	identityType := oauthIdentityType(info.Provider())

	identity, err := c.users.FindIdentity(ctx, identityType, info.ProviderUserID())
	if err == nil {
		user, err := c.users.GetByID(ctx, identity.UserID)
		if err != nil {
			return model.User{}, fmt.Errorf("load identity owner: %w", err)
		}
		return user, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return model.User{}, fmt.Errorf("find oauth identity: %w", err)
	}

	// First login with this provider account. Link to an existing user only
	// through an already-verified email identity.
	if email := info.Email(); email != "" {
		if _, value, perr := ParseIdentifier(email); perr == nil {
			emailIdentity, ferr := c.users.FindIdentity(ctx, string(model.IdentifierEmail), value)
			if ferr == nil && emailIdentity.VerifiedAt != nil {
				if _, aerr := c.users.AddIdentity(ctx, emailIdentity.UserID, identityType, info.ProviderUserID(), true); aerr != nil && !errors.Is(aerr, repo.ErrConflict) {
					return model.User{}, fmt.Errorf("attach oauth identity: %w", aerr)
				}
				user, gerr := c.users.GetByID(ctx, emailIdentity.UserID)
				if gerr != nil {
					return model.User{}, fmt.Errorf("load identity owner: %w", gerr)
				}
				return user, nil
			}
			if ferr != nil && !errors.Is(ferr, repo.ErrNotFound) {
				return model.User{}, fmt.Errorf("find email identity: %w", ferr)
			}
		}
	}

	displayName := info.DisplayName()
	if displayName == "" {
		displayName = info.Provider() + " user"
	}
	user, _, err := c.users.CreateUserWithIdentity(ctx, displayName, identityType, info.ProviderUserID(), true)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repo.ErrConflict) {
		return model.User{}, fmt.Errorf("create user: %w", err)
	}

	// Concurrent first login with the same provider account won; resolve it.
	identity, err = c.users.FindIdentity(ctx, identityType, info.ProviderUserID())
	if err != nil {
		return model.User{}, fmt.Errorf("find oauth identity after conflict: %w", err)
	}
	user, err = c.users.GetByID(ctx, identity.UserID)
	if err != nil {
		return model.User{}, fmt.Errorf("load identity owner: %w", err)
	}
	return user, nil
}
