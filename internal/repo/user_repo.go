package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/waypoint/server/internal/model"
)

// UserRepo persists users and their identities.
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	FindIdentity(ctx context.Context, identityType, value string) (model.Identity, error)
	CreateUserWithIdentity(ctx context.Context, displayName, identityType, value string, verified bool) (model.User, model.Identity, error)
	AddIdentity(ctx context.Context, userID uuid.UUID, identityType, value string, verified bool) (model.Identity, error)
	VerifyIdentity(ctx context.Context, id uuid.UUID) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance.
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

// GetByID retrieves a user by ID, including soft-deleted rows; callers decide
// whether deleted_at matters.
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	var user model.User
	var idStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, display_name, avatar_url, created_at, deleted_at
		FROM users
		WHERE id = $1
	`, id).Scan(&idStr, &user.DisplayName, &user.AvatarURL, &user.CreatedAt, &user.DeletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("query user: %w", err)
	}
	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.User{}, fmt.Errorf("parse user ID: %w", err)
	}
	return user, nil
}

// FindIdentity looks up an identity by its unique (type, value) pair.
func (r *userRepo) FindIdentity(ctx context.Context, identityType, value string) (model.Identity, error) {
	var identity model.Identity
	var idStr, userIDStr string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, type, value, verified_at, created_at
		FROM user_identities
		WHERE type = $1 AND value = $2
	`, identityType, value).Scan(&idStr, &userIDStr, &identity.Type, &identity.Value, &identity.VerifiedAt, &identity.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Identity{}, ErrNotFound
		}
		return model.Identity{}, fmt.Errorf("query identity: %w", err)
	}
	identity.ID, _ = uuid.Parse(idStr)
	identity.UserID, _ = uuid.Parse(userIDStr)
	return identity, nil
}

// CreateUserWithIdentity inserts a user and its first identity in one
// transaction. A uniqueness conflict on (type, value) means two verifications
// raced; ErrConflict tells the caller to re-resolve.
func (r *userRepo) CreateUserWithIdentity(ctx context.Context, displayName, identityType, value string, verified bool) (model.User, model.Identity, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.User{}, model.Identity{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	userID := uuid.New()
	var user model.User
	var userIDStr string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)
		RETURNING id, display_name, avatar_url, created_at, deleted_at
	`, userID, displayName).Scan(&userIDStr, &user.DisplayName, &user.AvatarURL, &user.CreatedAt, &user.DeletedAt)
	if err != nil {
		return model.User{}, model.Identity{}, fmt.Errorf("insert user: %w", err)
	}
	user.ID = userID

	identityID := uuid.New()
	var identity model.Identity
	var identityIDStr, identityUserIDStr string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO user_identities (id, user_id, type, value, verified_at)
		VALUES ($1, $2, $3, $4, CASE WHEN $5 THEN now() ELSE NULL END)
		RETURNING id, user_id, type, value, verified_at, created_at
	`, identityID, userID, identityType, value, verified).Scan(
		&identityIDStr, &identityUserIDStr, &identity.Type, &identity.Value,
		&identity.VerifiedAt, &identity.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.User{}, model.Identity{}, ErrConflict
		}
		return model.User{}, model.Identity{}, fmt.Errorf("insert identity: %w", err)
	}
	identity.ID = identityID
	identity.UserID = userID

	if err := tx.Commit(); err != nil {
		return model.User{}, model.Identity{}, fmt.Errorf("commit: %w", err)
	}
	return user, identity, nil
}

// AddIdentity attaches a further identity to an existing user. A uniqueness
// conflict on (type, value) returns ErrConflict.
func (r *userRepo) AddIdentity(ctx context.Context, userID uuid.UUID, identityType, value string, verified bool) (model.Identity, error) {
	identityID := uuid.New()
	var identity model.Identity
	var idStr, userIDStr string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO user_identities (id, user_id, type, value, verified_at)
		VALUES ($1, $2, $3, $4, CASE WHEN $5 THEN now() ELSE NULL END)
		RETURNING id, user_id, type, value, verified_at, created_at
	`, identityID, userID, identityType, value, verified).Scan(
		&idStr, &userIDStr, &identity.Type, &identity.Value,
		&identity.VerifiedAt, &identity.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Identity{}, ErrConflict
		}
		return model.Identity{}, fmt.Errorf("insert identity: %w", err)
	}
	identity.ID = identityID
	identity.UserID = userID
	return identity, nil
}

// VerifyIdentity stamps verified_at if it is not set yet. Re-verifying an
// already-verified identity is a no-op, which makes the verify path
// idempotent.
func (r *userRepo) VerifyIdentity(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE user_identities SET verified_at = now()
		WHERE id = $1 AND verified_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("verify identity: %w", err)
	}
	return nil
}

// SoftDelete marks the user deleted; rows are never hard-deleted.
func (r *userRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET deleted_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("soft delete user: %w", err)
	}
	return nil
}
