package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/waypoint/server/internal/auth"
	"github.com/waypoint/server/internal/model"
)

type contextKey string

const (
	userKey    contextKey = "user"
	sessionKey contextKey = "session"
	deviceKey  contextKey = "device"
)

// Auth validates the bearer access token and attaches user, session, and
// device to the request context. This is the strict mode: every request
// re-checks session state in storage, so a revoked session is rejected
// immediately instead of at the next refresh.
func Auth(sessions *auth.SessionManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				respondUnauthorized(w)
				return
			}

			user, session, device, err := sessions.CurrentUser(r.Context(), token)
			if err != nil {
				respondUnauthorized(w)
				return
			}

			ctx := context.WithValue(r.Context(), userKey, user)
			ctx = context.WithValue(ctx, sessionKey, session)
			ctx = context.WithValue(ctx, deviceKey, device)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// GetUser returns the authenticated user attached by Auth.
func GetUser(ctx context.Context) (model.User, bool) {
	u, ok := ctx.Value(userKey).(model.User)
	return u, ok
}

// GetSession returns the authenticated session attached by Auth.
func GetSession(ctx context.Context) (model.Session, bool) {
	s, ok := ctx.Value(sessionKey).(model.Session)
	return s, ok
}

// GetDevice returns the device attached by Auth.
func GetDevice(ctx context.Context) (model.Device, bool) {
	d, ok := ctx.Value(deviceKey).(model.Device)
	return d, ok
}

// GetUserID extracts the authenticated user id from context.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	u, ok := GetUser(ctx)
	return u.ID, ok
}

// GetSessionID extracts the authenticated session id from context.
func GetSessionID(ctx context.Context) (uuid.UUID, bool) {
	s, ok := GetSession(ctx)
	return s.ID, ok
}

func respondUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}
