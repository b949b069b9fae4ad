package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/waypoint/server/internal/model"
)

// SessionRepo persists sessions.
type SessionRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.Session, error)
	UpsertForDevice(ctx context.Context, session model.Session) (model.Session, error)
	Rotate(ctx context.Context, id uuid.UUID, currentHash, nextHash string) (model.Session, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
}

type sessionRepo struct {
	db *sql.DB
}

// NewSessionRepo creates a new SessionRepo instance.
func NewSessionRepo(db *sql.DB) SessionRepo {
	return &sessionRepo{db: db}
}

const sessionColumns = `id, user_id, device_id, refresh_token_hash, expires_at, revoked_at, created_at, updated_at`

// GetByID retrieves a session regardless of state.
func (r *sessionRepo) GetByID(ctx context.Context, id uuid.UUID) (model.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = $1
	`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, fmt.Errorf("query session: %w", err)
	}
	return session, nil
}

// UpsertForDevice enforces one live session per device through the unique
// index on device_id: a new verification for a known device supersedes the
// prior row in place instead of creating a second.
func (r *sessionRepo) UpsertForDevice(ctx context.Context, session model.Session) (model.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, user_id, device_id, refresh_token_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (device_id) DO UPDATE SET
			id = EXCLUDED.id,
			user_id = EXCLUDED.user_id,
			refresh_token_hash = EXCLUDED.refresh_token_hash,
			expires_at = EXCLUDED.expires_at,
			revoked_at = NULL,
			updated_at = now()
		RETURNING `+sessionColumns,
		session.ID, session.UserID, session.DeviceID, session.RefreshTokenHash, session.ExpiresAt)

	created, err := scanSession(row)
	if err != nil {
		return model.Session{}, fmt.Errorf("upsert session: %w", err)
	}
	return created, nil
}

// Rotate swaps the refresh token hash as a single compare-and-set: the update
// only applies while the session is live and still holds currentHash.
// ErrNotFound means the predicate failed; the caller inspects the row to tell
// a dead session from a replayed token.
func (r *sessionRepo) Rotate(ctx context.Context, id uuid.UUID, currentHash, nextHash string) (model.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE sessions
		SET refresh_token_hash = $3, updated_at = now()
		WHERE id = $1
		  AND refresh_token_hash = $2
		  AND revoked_at IS NULL
		  AND expires_at > now()
		RETURNING `+sessionColumns,
		id, currentHash, nextHash)

	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Session{}, ErrNotFound
		}
		return model.Session{}, fmt.Errorf("rotate session: %w", err)
	}
	return session, nil
}

// Revoke sets revoked_at; idempotent.
func (r *sessionRepo) Revoke(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = now(), updated_at = now()
		WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every live session for the user (logout everywhere,
// account-compromise response).
func (r *sessionRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = now(), updated_at = now()
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID)
	if err != nil {
		return fmt.Errorf("revoke all sessions: %w", err)
	}
	return nil
}

func scanSession(row rowScanner) (model.Session, error) {
	var s model.Session
	var idStr, userIDStr, deviceIDStr string
	err := row.Scan(&idStr, &userIDStr, &deviceIDStr, &s.RefreshTokenHash,
		&s.ExpiresAt, &s.RevokedAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return model.Session{}, err
	}
	s.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.Session{}, fmt.Errorf("parse session ID: %w", err)
	}
	s.UserID, err = uuid.Parse(userIDStr)
	if err != nil {
		return model.Session{}, fmt.Errorf("parse session user ID: %w", err)
	}
	s.DeviceID, err = uuid.Parse(deviceIDStr)
	if err != nil {
		return model.Session{}, fmt.Errorf("parse session device ID: %w", err)
	}
	return s, nil
}
