package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/waypoint/server/internal/model"
)

// OtpRepo persists OTP challenges.
type OtpRepo interface {
	CreateSuperseding(ctx context.Context, challenge model.OtpChallenge) (model.OtpChallenge, error)
	FindActive(ctx context.Context, identifierType model.IdentifierType, value string, purpose model.ChallengePurpose) (model.OtpChallenge, error)
	GetByID(ctx context.Context, id uuid.UUID) (model.OtpChallenge, error)
	Consume(ctx context.Context, id uuid.UUID) error
	IncrementAttempt(ctx context.Context, id uuid.UUID) (newAttemptCount int, err error)
	Lock(ctx context.Context, id uuid.UUID) error
}

type otpRepo struct {
	db *sql.DB
}

// NewOtpRepo creates a new OtpRepo instance.
func NewOtpRepo(db *sql.DB) OtpRepo {
	return &otpRepo{db: db}
}

const otpColumns = `id, identifier_type, identifier_value, purpose, code_hash,
	attempt_count, resend_available_at, expires_at, consumed_at, locked_at, ip_hash, created_at`

// CreateSuperseding keeps the one-active-challenge invariant: it atomically
// consumes any existing unconsumed challenge for the (type, value, purpose)
// key and inserts the new row. An advisory lock serializes concurrent issuers
// per key so the partial unique index never fires on INSERT.
func (r *otpRepo) CreateSuperseding(ctx context.Context, challenge model.OtpChallenge) (model.OtpChallenge, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.OtpChallenge{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	lockKey := string(challenge.IdentifierType) + ":" + challenge.IdentifierValue + ":" + string(challenge.Purpose)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(1, hashtext($1))`, lockKey); err != nil {
		return model.OtpChallenge{}, fmt.Errorf("advisory lock: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE otp_challenges
		SET consumed_at = now()
		WHERE identifier_type = $1 AND identifier_value = $2 AND purpose = $3 AND consumed_at IS NULL
	`, challenge.IdentifierType, challenge.IdentifierValue, challenge.Purpose)
	if err != nil {
		return model.OtpChallenge{}, fmt.Errorf("consume existing challenges: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO otp_challenges
			(id, identifier_type, identifier_value, purpose, code_hash, attempt_count,
			 resend_available_at, expires_at, ip_hash)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8)
		RETURNING `+otpColumns,
		challenge.ID, challenge.IdentifierType, challenge.IdentifierValue, challenge.Purpose,
		challenge.CodeHash, challenge.ResendAvailableAt, challenge.ExpiresAt, challenge.IPHash)

	created, err := scanChallenge(row)
	if err != nil {
		return model.OtpChallenge{}, fmt.Errorf("insert challenge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.OtpChallenge{}, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// FindActive returns the latest unconsumed, unlocked, unexpired challenge for
// the key, or ErrNotFound.
func (r *otpRepo) FindActive(ctx context.Context, identifierType model.IdentifierType, value string, purpose model.ChallengePurpose) (model.OtpChallenge, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+otpColumns+`
		FROM otp_challenges
		WHERE identifier_type = $1 AND identifier_value = $2 AND purpose = $3
		  AND consumed_at IS NULL
		  AND locked_at IS NULL
		  AND expires_at > now()
		ORDER BY created_at DESC
		LIMIT 1
	`, identifierType, value, purpose)

	challenge, err := scanChallenge(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OtpChallenge{}, ErrNotFound
		}
		return model.OtpChallenge{}, fmt.Errorf("query active challenge: %w", err)
	}
	return challenge, nil
}

// GetByID loads a challenge regardless of state.
func (r *otpRepo) GetByID(ctx context.Context, id uuid.UUID) (model.OtpChallenge, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+otpColumns+` FROM otp_challenges WHERE id = $1
	`, id)

	challenge, err := scanChallenge(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.OtpChallenge{}, ErrNotFound
		}
		return model.OtpChallenge{}, fmt.Errorf("query challenge: %w", err)
	}
	return challenge, nil
}

// Consume marks the challenge used. The update is conditional on "not yet
// consumed" so two concurrent verifies cannot both succeed; the loser gets
// ErrNotFound.
func (r *otpRepo) Consume(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE otp_challenges SET consumed_at = now()
		WHERE id = $1 AND consumed_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("consume challenge: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementAttempt bumps attempt_count as a single conditional update and
// returns the new count.
func (r *otpRepo) IncrementAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var newCount int
	err := r.db.QueryRowContext(ctx, `
		UPDATE otp_challenges
		SET attempt_count = attempt_count + 1
		WHERE id = $1 AND consumed_at IS NULL
		RETURNING attempt_count
	`, id).Scan(&newCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment attempt: %w", err)
	}
	return newCount, nil
}

// Lock sets the terminal lockout marker; idempotent.
func (r *otpRepo) Lock(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE otp_challenges SET locked_at = now()
		WHERE id = $1 AND locked_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("lock challenge: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (model.OtpChallenge, error) {
	var c model.OtpChallenge
	var idStr string
	err := row.Scan(
		&idStr,
		&c.IdentifierType,
		&c.IdentifierValue,
		&c.Purpose,
		&c.CodeHash,
		&c.AttemptCount,
		&c.ResendAvailableAt,
		&c.ExpiresAt,
		&c.ConsumedAt,
		&c.LockedAt,
		&c.IPHash,
		&c.CreatedAt,
	)
	if err != nil {
		return model.OtpChallenge{}, err
	}
	c.ID, err = uuid.Parse(idStr)
	if err != nil {
		return model.OtpChallenge{}, fmt.Errorf("parse challenge ID: %w", err)
	}
	return c, nil
}
