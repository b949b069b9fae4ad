package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	codeLength = 6
	// No 0/O/1/I: codes are read off small screens and typed by hand.
	codeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

	// bcrypt cost 10 lands around 100ms server-side, which is the point:
	// brute-forcing a 32^6 space through the verify endpoint is hopeless.
	codeHashCost = 10
)

// GenerateCode returns a random 6-character OTP code drawn from a
// 32-symbol alphabet that excludes visually ambiguous glyphs.
func GenerateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	code := make([]byte, codeLength)
	for i, b := range buf {
		// 256 % 32 == 0, so modulo introduces no bias here.
		code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(code), nil
}

// HashCode hashes a plaintext code for storage. The plaintext must never be
// persisted or logged outside the immediate delivery call.
func HashCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), codeHashCost)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}
	return string(hash), nil
}

// VerifyCodeHash compares a supplied code against its stored hash. The
// comparison cost is dominated by the hash itself, which makes it
// constant-time relative to the plaintext.
func VerifyCodeHash(code, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// HashKey derives an opaque rate-limit key from an identifier or client IP so
// raw values never reach the counter store.
func HashKey(value string) string {
	sum := sha256.Sum256([]byte(value))
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}
