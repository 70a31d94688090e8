package middleware

import (
	"net/http"
	"time"

	panelauth "github.com/MrEthical07/panelAuth"
)

// SetSessionCookie writes the session cookie for s. The cookie expires
// with the session's absolute ceiling; the store enforces the idle
// timeout.
func SetSessionCookie(w http.ResponseWriter, cfg panelauth.CookieConfig, s *panelauth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    s.Token,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  s.Ceiling,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: cfg.SameSiteMode(),
	})
}

// ClearSessionCookie expires the session cookie in the browser.
func ClearSessionCookie(w http.ResponseWriter, cfg panelauth.CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: cfg.SameSiteMode(),
	})
}
