package manager

import (
	"net/http"
	"strings"
	"time"
)

// DefaultAccessTokenCookie is the cookie name used when none is configured.
const DefaultAccessTokenCookie = "access_token"

// CookieManager writes and reads the access token cookie used in cookie transport mode.
type CookieManager struct {
	name     string
	path     string
	domain   string
	secure   bool
	sameSite http.SameSite
	maxAge   time.Duration
}

// NewCookieManager creates the cookie helper. sameSite is one of lax, strict, none.
func NewCookieManager(name, domain string, secure bool, sameSite string, maxAge time.Duration) *CookieManager {
	if name == "" {
		name = DefaultAccessTokenCookie
	}
	return &CookieManager{
		name:     name,
		path:     "/",
		domain:   domain,
		secure:   secure,
		sameSite: ParseSameSite(sameSite),
		maxAge:   maxAge,
	}
}

// ParseSameSite maps a config value to http.SameSite, defaulting to Lax.
func ParseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (m *CookieManager) Name() string {
	return m.name
}

func (m *CookieManager) SetAccessTokenCookie(w http.ResponseWriter, accessToken string) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    accessToken,
		Path:     m.path,
		Domain:   m.domain,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: m.sameSite,
		MaxAge:   int(m.maxAge.Seconds()),
	})
}

// GetAccessTokenFromCookie returns http.ErrNoCookie when the cookie is absent or empty.
func (m *CookieManager) GetAccessTokenFromCookie(r *http.Request) (string, error) {
	cookie, err := r.Cookie(m.name)
	if err != nil {
		return "", err
	}
	if cookie.Value == "" {
		return "", http.ErrNoCookie
	}
	return cookie.Value, nil
}

func (m *CookieManager) ClearAccessTokenCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.name,
		Value:    "",
		Path:     m.path,
		Domain:   m.domain,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: m.sameSite,
		MaxAge:   -1,
	})
}
