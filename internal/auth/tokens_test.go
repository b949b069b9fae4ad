package auth

import (
	"crypto/rand"
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T, clock *fakeClock) *TokenCodec {
	t.Helper()
	codec := NewTokenCodec("test-signing-secret-32-characters!!", "test-refresh-secret", 15*time.Minute, 30*24*time.Hour)
	codec.now = clock.Now
	return codec
}

func TestAccessTokenRoundTrip(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)
	userID, sessionID, deviceID := uuid.New(), uuid.New(), uuid.New()

	token, expiresAt, err := codec.SignAccessToken(userID, sessionID, deviceID)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(15*time.Minute), expiresAt)

	claims, err := codec.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.Equal(t, sessionID, claims.SessionID)
	assert.Equal(t, deviceID, claims.DeviceID)
}

func TestAccessTokenExpires(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)

	token, _, err := codec.SignAccessToken(uuid.New(), uuid.New(), uuid.New())
	require.NoError(t, err)

	clock.Advance(14 * time.Minute)
	_, err = codec.VerifyAccessToken(token)
	assert.NoError(t, err)

	clock.Advance(2 * time.Minute)
	_, err = codec.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAccessTokenRejectsWrongSecret(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)
	other := NewTokenCodec("another-secret-entirely-32-chars!!!", "test-refresh-secret", 15*time.Minute, 30*24*time.Hour)
	other.now = clock.Now

	token, _, err := codec.SignAccessToken(uuid.New(), uuid.New(), uuid.New())
	require.NoError(t, err)

	_, err = other.VerifyAccessToken(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAccessTokenRejectsGarbage(t *testing.T) {
	codec := newTestCodec(t, newFakeClock())
	for _, tok := range []string{"", "garbage", "a.b.c"} {
		_, err := codec.VerifyAccessToken(tok)
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)
	userID, sessionID, deviceID := uuid.New(), uuid.New(), uuid.New()

	token, expiresAt, err := codec.EncryptRefreshToken(userID, sessionID, deviceID)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(30*24*time.Hour), expiresAt)

	claims, err := codec.DecryptRefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, sessionID, claims.SessionID)
	assert.Equal(t, deviceID, claims.DeviceID)
	assert.NotEqual(t, uuid.Nil, claims.TokenID)
}

func TestRefreshTokensNeverRepeat(t *testing.T) {
	codec := newTestCodec(t, newFakeClock())
	userID, sessionID, deviceID := uuid.New(), uuid.New(), uuid.New()

	t1, _, err := codec.EncryptRefreshToken(userID, sessionID, deviceID)
	require.NoError(t, err)
	t2, _, err := codec.EncryptRefreshToken(userID, sessionID, deviceID)
	require.NoError(t, err)

	assert.NotEqual(t, t1, t2, "two tokens for the same session must differ")
	assert.NotEqual(t, HashRefreshToken(t1), HashRefreshToken(t2))
}

func TestRefreshTokenExpires(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)

	token, _, err := codec.EncryptRefreshToken(uuid.New(), uuid.New(), uuid.New())
	require.NoError(t, err)

	clock.Advance(29 * 24 * time.Hour)
	_, err = codec.DecryptRefreshToken(token)
	assert.NoError(t, err)

	clock.Advance(2 * 24 * time.Hour)
	_, err = codec.DecryptRefreshToken(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRefreshTokenRejectsTampering(t *testing.T) {
	codec := newTestCodec(t, newFakeClock())

	token, _, err := codec.EncryptRefreshToken(uuid.New(), uuid.New(), uuid.New())
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.RawURLEncoding.EncodeToString(raw)

	_, err = codec.DecryptRefreshToken(tampered)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = codec.DecryptRefreshToken("not base64url!!")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRefreshTokenRejectsWrongKey(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)
	other := NewTokenCodec("test-signing-secret-32-characters!!", "a-different-refresh-secret", 15*time.Minute, 30*24*time.Hour)
	other.now = clock.Now

	token, _, err := codec.EncryptRefreshToken(uuid.New(), uuid.New(), uuid.New())
	require.NoError(t, err)

	_, err = other.DecryptRefreshToken(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDeriveRefreshKeyUsesProvisionedKeyRaw(t *testing.T) {
	raw := make([]byte, 32)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	encoded := base64.RawURLEncoding.EncodeToString(raw)

	assert.Equal(t, raw, deriveRefreshKey(encoded))

	// Anything that is not a base64url 32-byte key gets stretched to 32 bytes.
	stretched := deriveRefreshKey("just-a-passphrase")
	assert.Len(t, stretched, 32)
	assert.Equal(t, stretched, deriveRefreshKey("just-a-passphrase"))
}
