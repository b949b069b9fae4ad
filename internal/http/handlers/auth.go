package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/waypoint/server/internal/auth"
	"github.com/waypoint/server/internal/middleware"
	"github.com/waypoint/server/internal/model"
)

// AuthHandler serves the authentication endpoints.
type AuthHandler struct {
	authService *auth.AuthService
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService *auth.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// startRequest is the request body for POST /v1/auth/start.
type startRequest struct {
	Identifier string `json:"identifier"`
}

// startResponse is the JSON response for start. DevCode is present only in
// dev configurations.
type startResponse struct {
	ChallengeID       string `json:"challengeId"`
	ResendAvailableAt string `json:"resendAvailableAt"`
	DevCode           string `json:"devCode,omitempty"`
}

// deviceRequest is the device descriptor sent with verify.
type deviceRequest struct {
	ID        string  `json:"id"`
	Platform  string  `json:"platform"`
	PushToken *string `json:"pushToken,omitempty"`
}

// verifyRequest is the request body for POST /v1/auth/verify.
type verifyRequest struct {
	ChallengeID string        `json:"challengeId"`
	Code        string        `json:"code"`
	Device      deviceRequest `json:"device"`
}

// userResponse is the user object in API responses.
type userResponse struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	AvatarURL   *string `json:"avatarUrl"`
}

// sessionSummary is the session object in API responses.
type sessionSummary struct {
	ID        string `json:"id"`
	DeviceID  string `json:"deviceId"`
	ExpiresAt string `json:"expiresAt"`
}

// deviceSummary is the device object in API responses.
type deviceSummary struct {
	ID         string `json:"id"`
	Platform   string `json:"platform"`
	LastSeenAt string `json:"lastSeenAt"`
}

// sessionResponse is the JSON response for verify and refresh.
type sessionResponse struct {
	User                  userResponse   `json:"user"`
	Session               sessionSummary `json:"session"`
	Device                deviceSummary  `json:"device"`
	AccessToken           string         `json:"accessToken"`
	RefreshToken          string         `json:"refreshToken"`
	AccessTokenExpiresAt  string         `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt string         `json:"refreshTokenExpiresAt"`
}

// HandleStart handles POST /v1/auth/start.
func (h *AuthHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req.Identifier = strings.TrimSpace(req.Identifier)
	if req.Identifier == "" {
		respondWithError(w, http.StatusBadRequest, "identifier is required")
		return
	}

	result, err := h.authService.StartLogin(r.Context(), req.Identifier, clientIP(r))
	if err != nil {
		writeStartError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, startResponse{
		ChallengeID:       result.ChallengeID.String(),
		ResendAvailableAt: result.ResendAvailableAt.UTC().Format(time.RFC3339),
		DevCode:           result.DevCode,
	})
}

func writeStartError(w http.ResponseWriter, err error) {
	var rateErr *auth.RateLimitError
	switch {
	case errors.Is(err, auth.ErrInvalidIdentifier):
		respondWithError(w, http.StatusBadRequest, "invalid identifier")
	case errors.As(err, &rateErr):
		respondWithJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":   "rate limit exceeded",
			"resetAt": rateErr.ResetAt.UTC().Format(time.RFC3339),
		})
	default:
		log.Printf("start challenge failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

// HandleVerify handles POST /v1/auth/verify.
func (h *AuthHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	challengeID, err := uuid.Parse(strings.TrimSpace(req.ChallengeID))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "challengeId is required")
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		respondWithError(w, http.StatusBadRequest, "code is required")
		return
	}

	device, err := parseDevice(req.Device)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.authService.VerifyAndCreateSession(r.Context(), challengeID, req.Code, device)
	if err != nil {
		writeVerifyError(w, challengeID, err)
		return
	}

	respondWithJSON(w, http.StatusOK, newSessionResponse(result))
}

// writeVerifyError collapses every challenge-state failure into one generic
// client message. The distinct internal reasons are logged; distinguishing
// them for the caller would leak challenge state.
func writeVerifyError(w http.ResponseWriter, challengeID uuid.UUID, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidChallenge),
		errors.Is(err, auth.ErrCodeExpired),
		errors.Is(err, auth.ErrCodeAlreadyUsed),
		errors.Is(err, auth.ErrMaxAttemptsExceeded),
		errors.Is(err, auth.ErrInvalidCode):
		log.Printf("verify challenge %s rejected: %v", challengeID, err)
		respondWithError(w, http.StatusUnauthorized, "invalid or expired code")
	case errors.Is(err, auth.ErrUserDeleted):
		log.Printf("verify challenge %s rejected: user deleted", challengeID)
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
	default:
		log.Printf("verify challenge %s failed: %v", challengeID, err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseDevice(req deviceRequest) (auth.DeviceInput, error) {
	id, err := uuid.Parse(strings.TrimSpace(req.ID))
	if err != nil {
		return auth.DeviceInput{}, errors.New("device.id is required")
	}
	platform := model.Platform(strings.ToLower(strings.TrimSpace(req.Platform)))
	switch platform {
	case model.PlatformIOS, model.PlatformAndroid, model.PlatformWeb:
	default:
		return auth.DeviceInput{}, errors.New("device.platform must be ios, android or web")
	}
	return auth.DeviceInput{ID: id, Platform: platform, PushToken: req.PushToken}, nil
}

// refreshRequest is the request body for POST /v1/auth/refresh.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// HandleRefresh handles POST /v1/auth/refresh.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		respondWithError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	result, err := h.authService.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		// Reuse detection is logged server-side; the client sees the same
		// generic message as any other dead token.
		if errors.Is(err, auth.ErrUnauthorized) || errors.Is(err, auth.ErrRefreshReuseDetected) {
			respondWithError(w, http.StatusUnauthorized, "invalid or expired refresh token")
			return
		}
		log.Printf("refresh failed: %v", err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondWithJSON(w, http.StatusOK, newSessionResponse(result))
}

// HandleLogout handles POST /v1/auth/logout (protected). Revokes the session
// the presented access token belongs to.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := middleware.GetSessionID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.authService.Logout(r.Context(), sessionID); err != nil {
		log.Printf("logout session %s failed: %v", sessionID, err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleLogoutAll handles POST /v1/auth/logout_all (protected). Revokes every
// session of the authenticated user.
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.authService.LogoutEverywhere(r.Context(), userID); err != nil {
		log.Printf("logout all for user %s failed: %v", userID, err)
		respondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"message": "logged out everywhere"})
}

// HandleMe handles GET /v1/auth/me (protected).
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	session, _ := middleware.GetSession(r.Context())
	device, _ := middleware.GetDevice(r.Context())

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"user":    newUserResponse(user),
		"session": newSessionSummary(session),
		"device":  newDeviceSummary(device),
	})
}

func newUserResponse(user model.User) userResponse {
	return userResponse{
		ID:          user.ID.String(),
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
	}
}

func newSessionSummary(session model.Session) sessionSummary {
	return sessionSummary{
		ID:        session.ID.String(),
		DeviceID:  session.DeviceID.String(),
		ExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func newDeviceSummary(device model.Device) deviceSummary {
	return deviceSummary{
		ID:         device.ID.String(),
		Platform:   string(device.Platform),
		LastSeenAt: device.LastSeenAt.UTC().Format(time.RFC3339),
	}
}

func newSessionResponse(result auth.SessionResponse) sessionResponse {
	return sessionResponse{
		User:                  newUserResponse(result.User),
		Session:               newSessionSummary(result.Session),
		Device:                newDeviceSummary(result.Device),
		AccessToken:           result.AccessToken,
		RefreshToken:          result.RefreshToken,
		AccessTokenExpiresAt:  result.AccessTokenExpiresAt.UTC().Format(time.RFC3339),
		RefreshTokenExpiresAt: result.RefreshTokenExpiresAt.UTC().Format(time.RFC3339),
	}
}

// respondWithJSON writes a JSON body with the given status.
func respondWithJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

// respondWithError sends a JSON error response.
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{"error": message})
}

// clientIP returns the caller address for rate limiting. chi's RealIP
// middleware has already folded X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return host
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
