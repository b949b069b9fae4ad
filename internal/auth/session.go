package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/waypoint/server/internal/model"
	"github.com/waypoint/server/internal/repo"
)

// SessionResponse carries everything a successful login or refresh returns.
type SessionResponse struct {
	User                  model.User
	Session               model.Session
	Device                model.Device
	AccessToken           string
	RefreshToken          string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt time.Time
}

// SessionManager owns the session lifecycle: creation, refresh rotation,
// reuse detection, and revocation.
type SessionManager struct {
	sessions repo.SessionRepo
	users    repo.UserRepo
	devices  repo.DeviceRepo
	codec    *TokenCodec
	now      func() time.Time
}

// NewSessionManager creates a session manager.
func NewSessionManager(sessions repo.SessionRepo, users repo.UserRepo, devices repo.DeviceRepo, codec *TokenCodec) *SessionManager {
	return &SessionManager{
		sessions: sessions,
		users:    users,
		devices:  devices,
		codec:    codec,
		now:      time.Now,
	}
}

// CreateSession mints a token pair for the user on the device. The session
// row is keyed by device: a repeat login on the same device supersedes the
// prior session instead of accumulating rows.
func (m *SessionManager) CreateSession(ctx context.Context, user model.User, device model.Device) (SessionResponse, error) {
	sessionID := uuid.New()

	refreshToken, refreshExpiresAt, err := m.codec.EncryptRefreshToken(user.ID, sessionID, device.ID)
	if err != nil {
		return SessionResponse{}, fmt.Errorf("mint refresh token: %w", err)
	}

	session, err := m.sessions.UpsertForDevice(ctx, model.Session{
		ID:               sessionID,
		UserID:           user.ID,
		DeviceID:         device.ID,
		RefreshTokenHash: HashRefreshToken(refreshToken),
		ExpiresAt:        refreshExpiresAt,
	})
	if err != nil {
		return SessionResponse{}, fmt.Errorf("store session: %w", err)
	}

	accessToken, accessExpiresAt, err := m.codec.SignAccessToken(user.ID, session.ID, device.ID)
	if err != nil {
		return SessionResponse{}, fmt.Errorf("mint access token: %w", err)
	}

	return SessionResponse{
		User:                  user,
		Session:               session,
		Device:                device,
		AccessToken:           accessToken,
		RefreshToken:          refreshToken,
		AccessTokenExpiresAt:  accessExpiresAt,
		RefreshTokenExpiresAt: refreshExpiresAt,
	}, nil
}

// Refresh validates and rotates a refresh token. A presented token whose hash
// no longer matches the stored one is a replay of an already-rotated token;
// the session is revoked before the error is returned, cutting a
// stolen-token chain at first detected reuse.
func (m *SessionManager) Refresh(ctx context.Context, refreshToken string) (SessionResponse, error) {
	claims, err := m.codec.DecryptRefreshToken(refreshToken)
	if err != nil {
		return SessionResponse{}, ErrUnauthorized
	}

	nextToken, nextExpiresAt, err := m.codec.EncryptRefreshToken(claims.UserID, claims.SessionID, claims.DeviceID)
	if err != nil {
		return SessionResponse{}, fmt.Errorf("mint refresh token: %w", err)
	}

	session, err := m.sessions.Rotate(ctx, claims.SessionID, HashRefreshToken(refreshToken), HashRefreshToken(nextToken))
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return SessionResponse{}, fmt.Errorf("rotate session: %w", err)
		}
		return SessionResponse{}, m.classifyRotateFailure(ctx, claims.SessionID)
	}

	user, err := m.users.GetByID(ctx, session.UserID)
	if err != nil {
		return SessionResponse{}, ErrUnauthorized
	}
	if user.DeletedAt != nil {
		_ = m.sessions.Revoke(ctx, session.ID)
		return SessionResponse{}, ErrUnauthorized
	}

	device, err := m.devices.GetByID(ctx, session.DeviceID)
	if err != nil {
		return SessionResponse{}, ErrUnauthorized
	}

	accessToken, accessExpiresAt, err := m.codec.SignAccessToken(user.ID, session.ID, device.ID)
	if err != nil {
		return SessionResponse{}, fmt.Errorf("mint access token: %w", err)
	}

	return SessionResponse{
		User:                  user,
		Session:               session,
		Device:                device,
		AccessToken:           accessToken,
		RefreshToken:          nextToken,
		AccessTokenExpiresAt:  accessExpiresAt,
		RefreshTokenExpiresAt: nextExpiresAt,
	}, nil
}

// classifyRotateFailure distinguishes a dead session from a replayed token.
// The compare-and-set refused the rotation; inspect the row to learn why.
func (m *SessionManager) classifyRotateFailure(ctx context.Context, sessionID uuid.UUID) error {
	session, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		// Missing session: terminal, client must re-authenticate.
		return ErrUnauthorized
	}
	if session.RevokedAt != nil || m.now().After(session.ExpiresAt) {
		return ErrUnauthorized
	}

	// Live session, wrong hash: an old token was replayed. The revoke must
	// succeed before the error is returned.
	if err := m.sessions.Revoke(ctx, sessionID); err != nil {
		log.Printf("revoke session %s after reuse detection failed: %v", sessionID, err)
		return fmt.Errorf("revoke after reuse: %w", err)
	}
	log.Printf("refresh token reuse detected, session %s revoked", sessionID)
	return ErrRefreshReuseDetected
}

// Revoke terminates one session; idempotent.
func (m *SessionManager) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	return m.sessions.Revoke(ctx, sessionID)
}

// RevokeAll terminates every session for the user (logout everywhere).
func (m *SessionManager) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	return m.sessions.RevokeAllForUser(ctx, userID)
}

// CurrentUser resolves an access token to its user, session, and device.
// Verification alone never touches storage; this is the stricter path that
// also rejects revoked or expired sessions and soft-deleted users.
func (m *SessionManager) CurrentUser(ctx context.Context, accessToken string) (model.User, model.Session, model.Device, error) {
	claims, err := m.codec.VerifyAccessToken(accessToken)
	if err != nil {
		return model.User{}, model.Session{}, model.Device{}, ErrUnauthorized
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return model.User{}, model.Session{}, model.Device{}, ErrUnauthorized
	}

	session, err := m.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return model.User{}, model.Session{}, model.Device{}, ErrUnauthorized
	}
	if session.RevokedAt != nil || m.now().After(session.ExpiresAt) {
		return model.User{}, model.Session{}, model.Device{}, ErrUnauthorized
	}

	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return model.User{}, model.Session{}, model.Device{}, ErrUnauthorized
	}
	if user.DeletedAt != nil {
		return model.User{}, model.Session{}, model.Device{}, ErrUnauthorized
	}

	device, err := m.devices.GetByID(ctx, session.DeviceID)
	if err != nil {
		return model.User{}, model.Session{}, model.Device{}, ErrUnauthorized
	}

	return user, session, device, nil
}
