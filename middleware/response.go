package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	panelauth "github.com/MrEthical07/panelAuth"
	"github.com/MrEthical07/panelAuth/ratelimit"
)

// ErrorBody is the JSON body of every denial.
type ErrorBody struct {
	Error      string `json:"error"`
	Redirect   string `json:"redirect,omitempty"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind panelauth.Kind) int {
	switch kind {
	case panelauth.KindNone:
		return http.StatusOK
	case panelauth.KindInvalidRequest:
		return http.StatusBadRequest
	case panelauth.KindInvalidCredentials,
		panelauth.KindSessionNotFound,
		panelauth.KindSessionExpired,
		panelauth.KindTokenExpired,
		panelauth.KindTokenMalformed,
		panelauth.KindTokenSignatureInvalid,
		panelauth.KindTokenReused:
		return http.StatusUnauthorized
	case panelauth.KindCsrfViolation, panelauth.KindForbidden, panelauth.KindBlocked:
		return http.StatusForbidden
	case panelauth.KindAccountLocked:
		return http.StatusLocked
	case panelauth.KindTooManyAttempts, panelauth.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

// WriteError renders err as a JSON denial.
func WriteError(w http.ResponseWriter, err error) {
	writeDenial(w, panelauth.KindOf(err), panelauth.RetryAfter(err), "")
}

func writeDenial(w http.ResponseWriter, kind panelauth.Kind, retry time.Duration, redirect string) {
	body := ErrorBody{Error: kind.String(), Redirect: redirect}
	if retry > 0 {
		secs := retrySeconds(retry)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		body.RetryAfter = secs
	}
	writeJSON(w, StatusFor(kind), body)
}

func writeRateLimitHeaders(w http.ResponseWriter, st ratelimit.Status) {
	if st.ResetAt.IsZero() {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Remaining", strconv.Itoa(st.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(st.ResetAt.Unix(), 10))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// retrySeconds rounds up so clients never retry early.
func retrySeconds(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
