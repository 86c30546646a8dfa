// Package identity provides anonymous per-browser identity primitives.
// It supplies the per-browser scoping that keeps each visitor's
// conversation separate without any account system.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	AnonCookieName        = "eduflow_anon_id"
	SessionHeaderName     = "X-Eduflow-Session-ID"
	DefaultSessionIDValue = "default"
	anonCookieMaxAge      = 90 * 24 * time.Hour
)

type contextKey int

const (
	userIDKey contextKey = iota
	sessionIDKey
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// SessionIDFromContext extracts the tab session ID from the request context.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return DefaultSessionIDValue
}

// WithIdentity returns a context carrying the given identifiers.
// Exposed for tests.
func WithIdentity(ctx context.Context, userID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, sessionIDKey, sanitizeSessionID(sessionID))
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

// Middleware assigns (or restores) an anonymous cookie identity and a
// per-tab session ID, and stores both on the request context.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := ""
			if cookie, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(cookie.Value) {
				userID = cookie.Value
			}

			if userID == "" {
				generated, err := generateAnonID()
				if err != nil {
					http.Error(w, `{"error": "identity unavailable"}`, http.StatusInternalServerError)
					return
				}
				userID = generated
				http.SetCookie(w, &http.Cookie{
					Name:     AnonCookieName,
					Value:    userID,
					Path:     "/",
					MaxAge:   int(anonCookieMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   !isDev,
					SameSite: http.SameSiteLaxMode,
				})
			}

			sessionID := sanitizeSessionID(r.Header.Get(SessionHeaderName))

			ctx := WithIdentity(r.Context(), userID, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
