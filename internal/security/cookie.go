package security

import (
	"net/http"
	"strings"
	"time"
)

const (
	SessionCookieName = "authgate.session-token"
	CSRFCookieName    = "csrf_token"
)

type CookieWriter struct {
	domain string
	secure bool
}

func NewCookieWriter(domain string, secure bool) *CookieWriter {
	return &CookieWriter{domain: domain, secure: secure}
}

func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (w *CookieWriter) SetSessionCookie(rw http.ResponseWriter, value string, expires time.Time) {
	http.SetCookie(rw, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   w.domain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   w.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SetCSRFCookie issues the double-submit token. It is intentionally
// readable by script so the client can echo it in a header.
func (w *CookieWriter) SetCSRFCookie(rw http.ResponseWriter, value string, expires time.Time) {
	http.SetCookie(rw, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    value,
		Path:     "/",
		Domain:   w.domain,
		Expires:  expires,
		Secure:   w.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the cookie under every domain variant that may
// have scoped it: unset, bare host, and dot-prefixed host. Browsers treat
// these as distinct cookies.
func (w *CookieWriter) ClearSessionCookie(rw http.ResponseWriter) {
	domains := []string{""}
	if w.domain != "" {
		bare := strings.TrimPrefix(w.domain, ".")
		domains = append(domains, bare, "."+bare)
	}
	for _, d := range domains {
		http.SetCookie(rw, &http.Cookie{
			Name:     SessionCookieName,
			Value:    "",
			Path:     "/",
			Domain:   d,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   w.secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}
