package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/waypoint/server/internal/model"
	"github.com/waypoint/server/internal/repo"
)

// DeviceInput is the device descriptor the client sends with a verification.
// The id is client-generated and stable across installs on the same device.
type DeviceInput struct {
	ID        uuid.UUID
	Platform  model.Platform
	PushToken *string
}

// AuthService orchestrates the login flow: OTP issuance and verification,
// credential resolution, device registration, and session creation.
type AuthService struct {
	otp         *OtpService
	credentials *CredentialStore
	sessions    *SessionManager
	devices     repo.DeviceRepo
}

// NewAuthService creates the auth orchestrator.
func NewAuthService(otp *OtpService, credentials *CredentialStore, sessions *SessionManager, devices repo.DeviceRepo) *AuthService {
	return &AuthService{
		otp:         otp,
		credentials: credentials,
		sessions:    sessions,
		devices:     devices,
	}
}

// StartLogin issues an OTP challenge for the identifier.
func (s *AuthService) StartLogin(ctx context.Context, identifier, clientIP string) (StartChallengeResult, error) {
	return s.otp.StartChallenge(ctx, identifier, model.PurposeLogin, clientIP)
}

// VerifyAndCreateSession consumes a correct code, resolves the verified
// identifier to a user (creating one on first login), registers the device,
// and mints a session. OTP errors pass through unwrapped so handlers can map
// them to the client taxonomy.
func (s *AuthService) VerifyAndCreateSession(ctx context.Context, challengeID uuid.UUID, code string, device DeviceInput) (SessionResponse, error) {
	challenge, err := s.otp.VerifyCode(ctx, challengeID, code)
	if err != nil {
		return SessionResponse{}, err
	}

	user, err := s.credentials.ResolveVerifiedIdentity(ctx, challenge.IdentifierType, challenge.IdentifierValue)
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

// Refresh rotates a refresh token and mints a new token pair.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (SessionResponse, error) {
	return s.sessions.Refresh(ctx, refreshToken)
}

// Logout revokes one session.
func (s *AuthService) Logout(ctx context.Context, sessionID uuid.UUID) error {
	return s.sessions.Revoke(ctx, sessionID)
}

// LogoutEverywhere revokes every session the user holds.
func (s *AuthService) LogoutEverywhere(ctx context.Context, userID uuid.UUID) error {
	return s.sessions.RevokeAll(ctx, userID)
}

// CurrentUser resolves an access token to its user, session, and device,
// rejecting revoked sessions and deleted users.
func (s *AuthService) CurrentUser(ctx context.Context, accessToken string) (model.User, model.Session, model.Device, error) {
	return s.sessions.CurrentUser(ctx, accessToken)
}
