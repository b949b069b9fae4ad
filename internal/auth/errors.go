package auth

import "errors"

var (
	// ErrInvalidIdentifier means the identifier is neither a plausible email
	// nor an E.164 phone number.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrRateLimited means an issuance gate rejected the request.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrInvalidChallenge means no challenge exists for the given id.
	ErrInvalidChallenge = errors.New("invalid challenge")
	// ErrCodeExpired means the challenge outlived its TTL.
	ErrCodeExpired = errors.New("code expired")
	// ErrCodeAlreadyUsed means the challenge was already consumed.
	ErrCodeAlreadyUsed = errors.New("code already used")
	// ErrMaxAttemptsExceeded means the challenge is locked out.
	ErrMaxAttemptsExceeded = errors.New("max attempts exceeded")
	// ErrInvalidCode means the supplied code did not match the stored hash.
	ErrInvalidCode = errors.New("invalid code")
	// ErrUnauthorized covers every bad/expired/revoked token case. Clients
	// never learn which one.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRefreshReuseDetected means an already-rotated refresh token was
	// replayed; the session has been revoked as a side effect.
	ErrRefreshReuseDetected = errors.New("refresh token reuse detected")
	// ErrUserDeleted means the token resolved to a soft-deleted account.
	ErrUserDeleted = errors.New("user deleted")
)
