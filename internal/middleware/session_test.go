package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionCapture(captured *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = GetSessionID(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestSessionIssuesCookieWhenAbsent(t *testing.T) {
	var sessionID string
	handler := Session("test-secret", false)(sessionCapture(&sessionID))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Len(t, sessionID, SessionIDLength)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	cookie := cookies[0]
	assert.Equal(t, SessionCookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)
	assert.Greater(t, cookie.MaxAge, 364*24*3600)

	// The cookie round-trips to the same session id.
	var roundTripped string
	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.AddCookie(cookie)
	Session("test-secret", false)(sessionCapture(&roundTripped)).ServeHTTP(rec2, req2)

	assert.Equal(t, sessionID, roundTripped)
	assert.Empty(t, rec2.Result().Cookies())
}

func TestSessionRejectsTamperedCookie(t *testing.T) {
	var sessionID string
	handler := Session("test-secret", false)(sessionCapture(&sessionID))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	original := rec.Result().Cookies()[0]
	firstID := sessionID

	// A token signed with a different key is discarded and replaced.
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &sessionClaims{
		SessionID: firstID,
	}).SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.AddCookie(&http.Cookie{Name: SessionCookieName, Value: forged})
	handler.ServeHTTP(rec2, req2)

	assert.NotEqual(t, firstID, sessionID)
	require.Len(t, rec2.Result().Cookies(), 1)
	assert.NotEqual(t, original.Value, rec2.Result().Cookies()[0].Value)
}

func TestSessionRejectsMalformedSessionID(t *testing.T) {
	var sessionID string
	handler := Session("test-secret", false)(sessionCapture(&sessionID))

	// Correctly signed but with a short sid claim.
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &sessionClaims{
		SessionID: "short",
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: signed})
	handler.ServeHTTP(rec, req)

	assert.Len(t, sessionID, SessionIDLength)
	assert.NotEqual(t, "short", sessionID)
}

func TestGetSessionIDEmptyContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, GetSessionID(req.Context()))
}
