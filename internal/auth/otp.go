package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/waypoint/server/internal/model"
	"github.com/waypoint/server/internal/ratelimit"
	"github.com/waypoint/server/internal/repo"
)

// Service-level defaults; authoritative over any env default.
const (
	DefaultCodeTTL        = 5 * time.Minute
	DefaultResendCooldown = 60 * time.Second
	DefaultMaxAttempts    = 5

	deliveryTimeout = 15 * time.Second
)

// CodeSender delivers a plaintext code to a destination. Implemented by the
// delivery dispatcher; faked in tests.
type CodeSender interface {
	SendCode(ctx context.Context, identifierType model.IdentifierType, destination, code string) error
}

// RateLimitError carries the window reset hint for a rejected issuance.
// It matches ErrRateLimited under errors.Is.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string { return "rate limit exceeded" }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// StartChallengeResult is the issuance outcome. DevCode is set only in dev
// configurations.
type StartChallengeResult struct {
	ChallengeID       uuid.UUID
	ResendAvailableAt time.Time
	DevCode           string
}

// OtpService issues and verifies OTP challenges.
type OtpService struct {
	otpRepo        repo.OtpRepo
	limiter        *ratelimit.Limiter
	sender         CodeSender
	devMode        bool
	codeTTL        time.Duration
	resendCooldown time.Duration
	maxAttempts    int
	now            func() time.Time
}

// NewOtpService creates the OTP engine. The sender is injected so tests can
// fake delivery and so no package-level client state exists.
func NewOtpService(otpRepo repo.OtpRepo, limiter *ratelimit.Limiter, sender CodeSender, devMode bool) *OtpService {
	return &OtpService{
		otpRepo:        otpRepo,
		limiter:        limiter,
		sender:         sender,
		devMode:        devMode,
		codeTTL:        DefaultCodeTTL,
		resendCooldown: DefaultResendCooldown,
		maxAttempts:    DefaultMaxAttempts,
		now:            time.Now,
	}
}

// StartChallenge issues a code for the identifier, or returns the existing
// challenge while the resend cooldown holds. Every response path is identical
// for known and unknown identifiers; nothing here may leak whether an account
// exists.
func (s *OtpService) StartChallenge(ctx context.Context, rawIdentifier string, purpose model.ChallengePurpose, clientIP string) (StartChallengeResult, error) {
	identifierType, value, err := ParseIdentifier(rawIdentifier)
	if err != nil {
		return StartChallengeResult{}, err
	}

	identifierKey := HashKey(value)
	var ipKey, ipHash string
	if clientIP != "" {
		ipKey = HashKey(clientIP)
		ipHash = ipKey
	}

	// Gate only; budget is consumed on an actual send, never by the check.
	if err := s.gate(ctx, identifierKey, ipKey); err != nil {
		return StartChallengeResult{}, err
	}

	existing, err := s.otpRepo.FindActive(ctx, identifierType, value, purpose)
	if err == nil && s.now().Before(existing.ResendAvailableAt) {
		// Cooldown still running: idempotent resend-blocked response, no new
		// code, no counter spend.
		return StartChallengeResult{
			ChallengeID:       existing.ID,
			ResendAvailableAt: existing.ResendAvailableAt,
		}, nil
	}
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return StartChallengeResult{}, fmt.Errorf("find active challenge: %w", err)
	}

	code, err := GenerateCode()
	if err != nil {
		return StartChallengeResult{}, fmt.Errorf("generate code: %w", err)
	}
	codeHash, err := HashCode(code)
	if err != nil {
		return StartChallengeResult{}, err
	}

	now := s.now()
	challenge := model.OtpChallenge{
		ID:                uuid.New(),
		IdentifierType:    identifierType,
		IdentifierValue:   value,
		Purpose:           purpose,
		CodeHash:          codeHash,
		ResendAvailableAt: now.Add(s.resendCooldown),
		ExpiresAt:         now.Add(s.codeTTL),
	}
	if ipHash != "" {
		challenge.IPHash = &ipHash
	}

	created, err := s.otpRepo.CreateSuperseding(ctx, challenge)
	if err != nil {
		return StartChallengeResult{}, fmt.Errorf("create challenge: %w", err)
	}

	if err := s.limiter.Increment(ctx, ratelimit.KindIdentifier, identifierKey); err != nil {
		log.Printf("rate limit increment failed: %v", err)
	}
	if ipKey != "" {
		if err := s.limiter.Increment(ctx, ratelimit.KindIP, ipKey); err != nil {
			log.Printf("rate limit increment failed: %v", err)
		}
	}

	s.dispatch(identifierType, value, code)

	result := StartChallengeResult{
		ChallengeID:       created.ID,
		ResendAvailableAt: created.ResendAvailableAt,
	}
	if s.devMode {
		result.DevCode = code
	}
	return result, nil
}

// gate fails closed when either window is exhausted.
func (s *OtpService) gate(ctx context.Context, identifierKey, ipKey string) error {
	idResult, err := s.limiter.Check(ctx, ratelimit.KindIdentifier, identifierKey)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !idResult.Allowed {
		return &RateLimitError{ResetAt: idResult.ResetAt}
	}

	if ipKey == "" {
		return nil
	}
	ipResult, err := s.limiter.Check(ctx, ratelimit.KindIP, ipKey)
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if !ipResult.Allowed {
		return &RateLimitError{ResetAt: ipResult.ResetAt}
	}
	return nil
}

// dispatch delivers the code on a detached goroutine with its own timeout.
// Delivery failure is logged and never surfaced to the caller: a delivery
// error that reaches the client would be an identifier-existence oracle.
func (s *OtpService) dispatch(identifierType model.IdentifierType, destination, code string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- s.sender.SendCode(ctx, identifierType, destination, code) }()

		select {
		case err := <-errCh:
			if err != nil {
				log.Printf("code delivery to %s failed: %v", MaskIdentifier(destination), err)
			}
		case <-ctx.Done():
			log.Printf("code delivery to %s timed out", MaskIdentifier(destination))
		}
	}()
}

// VerifyCode runs the challenge state machine for one attempt and returns the
// consumed challenge on success. Callers resolve credentials and mint tokens.
func (s *OtpService) VerifyCode(ctx context.Context, challengeID uuid.UUID, code string) (model.OtpChallenge, error) {
	challenge, err := s.otpRepo.GetByID(ctx, challengeID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.OtpChallenge{}, ErrInvalidChallenge
		}
		return model.OtpChallenge{}, fmt.Errorf("load challenge: %w", err)
	}

	switch {
	case s.now().After(challenge.ExpiresAt):
		return model.OtpChallenge{}, ErrCodeExpired
	case challenge.ConsumedAt != nil:
		return model.OtpChallenge{}, ErrCodeAlreadyUsed
	case challenge.LockedAt != nil || challenge.AttemptCount >= s.maxAttempts:
		return model.OtpChallenge{}, ErrMaxAttemptsExceeded
	}

	if !VerifyCodeHash(code, challenge.CodeHash) {
		newCount, err := s.otpRepo.IncrementAttempt(ctx, challengeID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return model.OtpChallenge{}, fmt.Errorf("record attempt: %w", err)
		}
		if newCount >= s.maxAttempts {
			// Terminal lockout marker: the challenge is permanently unusable
			// even if a later caller only checks locked_at.
			if err := s.otpRepo.Lock(ctx, challengeID); err != nil {
				log.Printf("lock challenge %s failed: %v", challengeID, err)
			}
		}
		return model.OtpChallenge{}, ErrInvalidCode
	}

	// Conditional consume: of two concurrent correct verifies, exactly one
	// wins; the loser sees the challenge already consumed.
	if err := s.otpRepo.Consume(ctx, challengeID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.OtpChallenge{}, ErrCodeAlreadyUsed
		}
		return model.OtpChallenge{}, fmt.Errorf("consume challenge: %w", err)
	}

	return challenge, nil
}
