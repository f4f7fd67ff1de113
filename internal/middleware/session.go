// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stylist-ai/shopping-assistant/internal/store"
)

// ContextKey is a type for context keys.
type ContextKey string

// SessionIDKey is the context key for the resolved session id.
const SessionIDKey ContextKey = "session_id"

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "shopchat_session"

// SessionIDLength is the length of the opaque session identifier.
const SessionIDLength = 32

const sessionLifetime = 365 * 24 * time.Hour

// sessionClaims is the signed cookie payload.
type sessionClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
}

// Session resolves the stable anonymous session identifier for the
// request, issuing a fresh signed cookie when none is present or the
// existing one fails verification. The session id is opaque to
// everything downstream.
func Session(secret string, secure bool) func(http.Handler) http.Handler {
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := sessionFromCookie(r, key)
			if sessionID == "" {
				sessionID = store.RandomID(SessionIDLength)
				if err := issueCookie(w, key, sessionID, secure); err != nil {
					http.Error(w, `{"error":"failed to establish session"}`, http.StatusInternalServerError)
					return
				}
			}

			ctx := context.WithValue(r.Context(), SessionIDKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionFromCookie(r *http.Request, key []byte) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}

	claims := &sessionClaims{}
	token, err := jwt.ParseWithClaims(cookie.Value, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return key, nil
	})
	if err != nil || !token.Valid || len(claims.SessionID) != SessionIDLength {
		return ""
	}
	return claims.SessionID
}

func issueCookie(w http.ResponseWriter, key []byte, sessionID string, secure bool) error {
	now := time.Now()
	claims := &sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionLifetime)),
		},
		SessionID: sessionID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    signed,
		Path:     "/",
		MaxAge:   int(sessionLifetime.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// GetSessionID gets the session id from context.
func GetSessionID(ctx context.Context) string {
	if v := ctx.Value(SessionIDKey); v != nil {
		return v.(string)
	}
	return ""
}
