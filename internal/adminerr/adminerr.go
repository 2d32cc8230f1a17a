// Package adminerr is the error taxonomy shared by the session guard, the
// content lifecycle engine and the admin HTTP surface.
//
// Callers build errors with the constructors below and the HTTP layer turns
// them into status codes with [Status]. Provider specific errors never cross
// an operation boundary unwrapped: they are carried as the cause of a
// [BackendUnavailable] error so they can be logged but not echoed.
package adminerr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindRateLimited
	KindInvalidCredentials
	KindUnauthenticated
	KindSessionExpired
	KindMissingKey
	KindBackendUnavailable
	KindLogoutFailed
)

var kindNames = map[Kind]string{
	KindInternal:           "internal",
	KindValidation:         "validation",
	KindRateLimited:        "rate_limited",
	KindInvalidCredentials: "invalid_credentials",
	KindUnauthenticated:    "unauthenticated",
	KindSessionExpired:     "session_expired",
	KindMissingKey:         "missing_key",
	KindBackendUnavailable: "backend_unavailable",
	KindLogoutFailed:       "logout_failed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is an error with a Kind. Msg is safe to show to the operator, Err is
// the underlying cause and is only ever logged.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind so errors.Is(err, adminerr.MissingKey()) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Err == nil && (t.Msg == "" || t.Msg == e.Msg)
	}
	return false
}

func Validation(msg string) error { return &Error{Kind: KindValidation, Msg: msg} }

func RateLimited() error {
	return &Error{Kind: KindRateLimited, Msg: "too many login attempts, try again later"}
}

// InvalidCredentials never says which field was wrong.
func InvalidCredentials() error {
	return &Error{Kind: KindInvalidCredentials, Msg: "invalid credentials"}
}

func Unauthenticated() error {
	return &Error{Kind: KindUnauthenticated, Msg: "authentication required"}
}

func SessionExpired() error {
	return &Error{Kind: KindSessionExpired, Msg: "session expired"}
}

func MissingKey() error {
	return &Error{Kind: KindMissingKey, Msg: "s3Key is required"}
}

func BackendUnavailable(msg string, cause error) error {
	return &Error{Kind: KindBackendUnavailable, Msg: msg, Err: cause}
}

func LogoutFailed(cause error) error {
	return &Error{Kind: KindLogoutFailed, Msg: "logout failed", Err: cause}
}

// KindOf returns the Kind of the first *Error in the chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// PublicMessage is the operator facing message. Backend and internal causes
// are hidden unless detailed is set (development mode).
func PublicMessage(err error, detailed bool) string {
	var e *Error
	if !errors.As(err, &e) {
		if detailed {
			return err.Error()
		}
		return "internal server error"
	}
	switch e.Kind {
	case KindBackendUnavailable, KindLogoutFailed, KindInternal:
		if detailed {
			return e.Error()
		}
		if e.Kind == KindLogoutFailed {
			return e.Msg
		}
		return "backend unavailable"
	}
	return e.Msg
}

// Status maps a Kind to its HTTP status code.
func Status(k Kind) int {
	switch k {
	case KindValidation, KindMissingKey:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindInvalidCredentials, KindUnauthenticated, KindSessionExpired:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// RedirectsToLogin reports whether the client should be sent to the login surface.
func RedirectsToLogin(k Kind) bool {
	return k == KindUnauthenticated || k == KindSessionExpired
}
