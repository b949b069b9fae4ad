package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessClaims is the signed (not encrypted) access token payload.
type AccessClaims struct {
	SessionID uuid.UUID `json:"sid"`
	DeviceID  uuid.UUID `json:"did"`
	jwt.RegisteredClaims
}

// RefreshClaims is the encrypted refresh token payload. TokenID is a fresh
// random id per issuance; it exists so two refresh tokens for the same session
// are never byte-identical.
type RefreshClaims struct {
	UserID    uuid.UUID `json:"sub"`
	SessionID uuid.UUID `json:"sid"`
	DeviceID  uuid.UUID `json:"did"`
	TokenID   uuid.UUID `json:"jti"`
	IssuedAt  int64     `json:"iat"`
	ExpiresAt int64     `json:"exp"`
}

// TokenCodec signs/verifies access tokens and encrypts/decrypts refresh
// tokens. It is stateless: a pure function of the configured secrets.
type TokenCodec struct {
	signingSecret []byte
	refreshKey    []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenCodec builds a codec from the configured secrets. The refresh
// encryption key is used raw when it base64url-decodes to exactly 32 bytes;
// any other secret is stretched to 32 bytes via SHA-256. The fallback exists
// for operational convenience and is weaker than a provisioned high-entropy
// key.
func NewTokenCodec(signingSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenCodec {
	return &TokenCodec{
		signingSecret: []byte(signingSecret),
		refreshKey:    deriveRefreshKey(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

func deriveRefreshKey(secret string) []byte {
	if raw, err := base64.RawURLEncoding.DecodeString(secret); err == nil && len(raw) == 32 {
		return raw
	}
	sum := sha256.Sum256([]byte(secret))
	return sum[:]
}

// AccessTTL reports the configured access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL reports the configured refresh token lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// SignAccessToken mints a signed access token for the session.
func (c *TokenCodec) SignAccessToken(userID, sessionID, deviceID uuid.UUID) (string, time.Time, error) {
	now := c.now()
	expiresAt := now.Add(c.accessTTL)
	claims := &AccessClaims{
		SessionID: sessionID,
		DeviceID:  deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.signingSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyAccessToken checks signature and expiry. It never consults storage;
// revocation is observed at the refresh boundary, or per request by callers
// that re-check session state.
func (c *TokenCodec) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.signingSecret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

// EncryptRefreshToken mints an encrypted refresh token for the session with a
// fresh random token id.
func (c *TokenCodec) EncryptRefreshToken(userID, sessionID, deviceID uuid.UUID) (string, time.Time, error) {
	now := c.now()
	expiresAt := now.Add(c.refreshTTL)
	claims := RefreshClaims{
		UserID:    userID,
		SessionID: sessionID,
		DeviceID:  deviceID,
		TokenID:   uuid.New(),
		IssuedAt:  now.Unix(),
		ExpiresAt: expiresAt.Unix(),
	}

	plaintext, err := json.Marshal(claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshal refresh claims: %w", err)
	}

	block, err := aes.NewCipher(c.refreshKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("refresh cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("refresh gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", time.Time{}, fmt.Errorf("refresh nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), expiresAt, nil
}

// DecryptRefreshToken decrypts and validates a refresh token. Any failure
// (garbage, wrong key, tampering, expiry) surfaces as ErrUnauthorized.
func (c *TokenCodec) DecryptRefreshToken(tokenString string) (*RefreshClaims, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(tokenString)
	if err != nil {
		return nil, ErrUnauthorized
	}

	block, err := aes.NewCipher(c.refreshKey)
	if err != nil {
		return nil, ErrUnauthorized
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, ErrUnauthorized
	}

	plaintext, err := gcm.Open(nil, sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():], nil)
	if err != nil {
		return nil, ErrUnauthorized
	}

	var claims RefreshClaims
	if err := json.Unmarshal(plaintext, &claims); err != nil {
		return nil, ErrUnauthorized
	}
	if c.now().Unix() >= claims.ExpiresAt {
		return nil, ErrUnauthorized
	}
	return &claims, nil
}

// HashRefreshToken returns the storage hash of a refresh token. SHA-256 is
// enough here: the token carries 32+ bytes of entropy, so a slow hash buys
// nothing.
func HashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
