package httpapi

import (
	"net/http"
	"strings"
	"time"

	"accessgate.org/internal/auth"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
)

// CookieSettings shapes the token cookies. Tokens are always HttpOnly.
type CookieSettings struct {
	Secure   bool
	SameSite http.SameSite
	Domain   string
	Path     string
}

// ParseSameSite maps lax, strict and none; anything else is lax.
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (c CookieSettings) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	path := c.Path
	if path == "" {
		path = "/"
	}
	sameSite := c.SameSite
	if sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.Domain,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: sameSite,
	}
	if maxAge > 0 {
		ck.MaxAge = int(maxAge / time.Second)
	} else {
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0)
	}
	return ck
}

func (c CookieSettings) setPair(w http.ResponseWriter, pair auth.TokenPair, accessTTL, refreshTTL time.Duration) {
	http.SetCookie(w, c.cookie(accessCookie, pair.AccessToken, accessTTL))
	http.SetCookie(w, c.cookie(refreshCookie, pair.RefreshToken, refreshTTL))
}

func (c CookieSettings) clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(accessCookie, "", 0))
	http.SetCookie(w, c.cookie(refreshCookie, "", 0))
}

func cookieValue(r *http.Request, name string) string {
	ck, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(ck.Value)
}
