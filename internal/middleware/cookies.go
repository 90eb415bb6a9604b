package middleware

import (
	"net/http"
	"time"
)

const refreshCookieMaxAge = 30 * 24 * time.Hour

// SetSessionCookies stores the access and refresh tokens as HttpOnly cookies.
// accessTTL bounds the access cookie lifetime.
func SetSessionCookies(w http.ResponseWriter, accessToken, refreshToken string, accessTTL time.Duration, secure bool) {
	http.SetCookie(w, sessionCookie(AccessTokenCookie, accessToken, accessTTL, secure))
	if refreshToken != "" {
		http.SetCookie(w, sessionCookie(RefreshTokenCookie, refreshToken, refreshCookieMaxAge, secure))
	}
}

// ClearSessionCookies expires both session cookies.
func ClearSessionCookies(w http.ResponseWriter, secure bool) {
	for _, name := range []string{AccessTokenCookie, RefreshTokenCookie} {
		c := sessionCookie(name, "", 0, secure)
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

func sessionCookie(name, value string, ttl time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
