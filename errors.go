package panelauth

import (
	"errors"
	"time"
)

// Kind classifies every authentication and authorization failure the
// Engine reports. Callers outside this package only ever see these kinds.
type Kind uint8

const (
	// KindNone marks an allowed decision.
	KindNone Kind = iota
	KindInvalidCredentials
	KindAccountLocked
	KindTooManyAttempts
	KindBlocked
	KindRateLimited
	KindSessionNotFound
	KindSessionExpired
	KindCsrfViolation
	KindTokenExpired
	KindTokenMalformed
	KindTokenSignatureInvalid
	KindTokenReused
	KindForbidden
	KindStoreUnavailable
	// KindInvalidRequest covers payloads rejected before any
	// authentication logic runs, such as a password policy violation.
	KindInvalidRequest
	kindCount
)

var (
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrAccountLocked         = errors.New("account locked")
	ErrTooManyAttempts       = errors.New("too many attempts")
	ErrBlocked               = errors.New("blocked")
	ErrRateLimited           = errors.New("rate limited")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionExpired        = errors.New("session expired")
	ErrCsrfViolation         = errors.New("csrf violation")
	ErrTokenExpired          = errors.New("token expired")
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	ErrTokenReused           = errors.New("token reused")
	ErrForbidden             = errors.New("forbidden")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrInvalidRequest        = errors.New("invalid request")

	// ErrEngineNotReady is returned by methods called on a nil Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

var kindSentinels = [kindCount]error{
	KindNone:                  nil,
	KindInvalidCredentials:    ErrInvalidCredentials,
	KindAccountLocked:         ErrAccountLocked,
	KindTooManyAttempts:       ErrTooManyAttempts,
	KindBlocked:               ErrBlocked,
	KindRateLimited:           ErrRateLimited,
	KindSessionNotFound:       ErrSessionNotFound,
	KindSessionExpired:        ErrSessionExpired,
	KindCsrfViolation:         ErrCsrfViolation,
	KindTokenExpired:          ErrTokenExpired,
	KindTokenMalformed:        ErrTokenMalformed,
	KindTokenSignatureInvalid: ErrTokenSignatureInvalid,
	KindTokenReused:           ErrTokenReused,
	KindForbidden:             ErrForbidden,
	KindStoreUnavailable:      ErrStoreUnavailable,
	KindInvalidRequest:        ErrInvalidRequest,
}

var kindNames = [kindCount]string{
	KindNone:                  "none",
	KindInvalidCredentials:    "invalid_credentials",
	KindAccountLocked:         "account_locked",
	KindTooManyAttempts:       "too_many_attempts",
	KindBlocked:               "blocked",
	KindRateLimited:           "rate_limited",
	KindSessionNotFound:       "session_not_found",
	KindSessionExpired:        "session_expired",
	KindCsrfViolation:         "csrf_violation",
	KindTokenExpired:          "token_expired",
	KindTokenMalformed:        "token_malformed",
	KindTokenSignatureInvalid: "token_signature_invalid",
	KindTokenReused:           "token_reused",
	KindForbidden:             "forbidden",
	KindStoreUnavailable:      "store_unavailable",
	KindInvalidRequest:        "invalid_request",
}

// String returns the snake_case name used in audit events and HTTP
// error bodies.
func (k Kind) String() string {
	if k >= kindCount {
		return "unknown"
	}
	return kindNames[k]
}

// Err returns the sentinel error for k, or nil for KindNone.
func (k Kind) Err() error {
	if k >= kindCount {
		return ErrStoreUnavailable
	}
	return kindSentinels[k]
}

// AuthError is the concrete error type returned by Engine methods. It
// matches its kind's sentinel under errors.Is and carries a retry hint
// for throttling kinds.
//
// The underlying cause, if any, is kept for logging and is not reachable
// through errors.Unwrap.
type AuthError struct {
	Kind       Kind
	RetryAfter time.Duration
	cause      error
}

func (e *AuthError) Error() string {
	if err := e.Kind.Err(); err != nil {
		return err.Error()
	}
	return "ok"
}

// Is reports whether target is the sentinel for e.Kind.
func (e *AuthError) Is(target error) bool {
	return target != nil && target == e.Kind.Err()
}

func newAuthError(kind Kind, retryAfter time.Duration, cause error) *AuthError {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return &AuthError{Kind: kind, RetryAfter: retryAfter, cause: cause}
}

// DenialKinds lists every kind except KindNone, in declaration order.
func DenialKinds() []Kind {
	out := make([]Kind, 0, int(kindCount)-1)
	for k := KindInvalidCredentials; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// KindOf maps err to its Kind. Errors that did not originate from the
// Engine map to KindStoreUnavailable so that callers deny by default.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	for k := KindInvalidCredentials; k < kindCount; k++ {
		if errors.Is(err, kindSentinels[k]) {
			return k
		}
	}
	return KindStoreUnavailable
}

// RetryAfter returns the retry hint carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}
