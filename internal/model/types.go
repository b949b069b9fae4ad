package model

import (
	"time"

	"github.com/google/uuid"
)

// IdentifierType distinguishes the kinds of identity an account can be bound to.
type IdentifierType string

const (
	IdentifierEmail IdentifierType = "email"
	IdentifierPhone IdentifierType = "phone"
)

// ChallengePurpose says why an OTP challenge was issued.
type ChallengePurpose string

const (
	PurposeLogin ChallengePurpose = "login"
	PurposeLink  ChallengePurpose = "link"
)

// Platform is the device platform reported at verification time.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
	PlatformWeb     Platform = "web"
)

// User represents an account. Users are soft-deleted, never hard-deleted.
type User struct {
	ID          uuid.UUID
	DisplayName string
	AvatarURL   *string
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// Identity binds a (type, value) pair to exactly one user. The pair is
// globally unique. VerifiedAt is nil until a successful OTP or OAuth
// verification; unverified identities must not authorize sessions.
type Identity struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Type       string
	Value      string
	VerifiedAt *time.Time
	CreatedAt  time.Time
}

// Device is one row per client device, upserted on every successful verification.
type Device struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Platform   Platform
	PushToken  *string
	IsPrimary  bool
	LastSeenAt time.Time
	CreatedAt  time.Time
}

// OtpChallenge tracks one OTP issuance and its verification attempts.
// At most one unconsumed, unexpired challenge is active per
// (identifier type, value, purpose).
type OtpChallenge struct {
	ID                uuid.UUID
	IdentifierType    IdentifierType
	IdentifierValue   string
	Purpose           ChallengePurpose
	CodeHash          string
	AttemptCount      int
	ResendAvailableAt time.Time
	ExpiresAt         time.Time
	ConsumedAt        *time.Time
	LockedAt          *time.Time
	IPHash            *string
	CreatedAt         time.Time
}

// Session holds the refresh-token state for one device. At most one live
// session exists per device; a new verification supersedes the old row in
// place.
type Session struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	DeviceID         uuid.UUID
	RefreshTokenHash string
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
