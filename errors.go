package passkit

import (
	"errors"
	"net/http"
)

// ErrorKind groups engine errors by how callers should surface them.
type ErrorKind uint8

const (
	// KindInternal is used for errors that fit no other kind.
	KindInternal ErrorKind = iota
	// KindValidation marks malformed input. Never retried.
	KindValidation
	// KindAuthentication marks a missing or invalid session or credential.
	KindAuthentication
	// KindForbidden marks a valid identity that may not perform the operation yet.
	KindForbidden
	// KindConflict marks a duplicate resource.
	KindConflict
	// KindRateLimited marks a spent attempt or resend budget.
	KindRateLimited
	// KindTransient marks a store or network failure. Safe to retry later.
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error is the error type returned by [Engine] operations. Two errors match
// under errors.Is when their codes are equal, so wrapped copies of a sentinel
// still compare equal to it.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// with returns a copy of e carrying cause.
func (e *Error) with(cause error) *Error {
	c := *e
	c.Err = cause
	return &c
}

var (
	// ErrInvalidInput is returned for malformed emails, passwords or codes.
	ErrInvalidInput = &Error{Kind: KindValidation, Code: "invalid_input", Message: "invalid input"}
	// ErrUnauthorized is returned when a session or access token is missing,
	// expired or unknown.
	ErrUnauthorized = &Error{Kind: KindAuthentication, Code: "unauthorized", Message: "unauthorized"}
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = &Error{Kind: KindAuthentication, Code: "invalid_credentials", Message: "invalid email or password"}
	// ErrEmailNotVerified is returned by Login when verification is required.
	ErrEmailNotVerified = &Error{Kind: KindForbidden, Code: "email_not_verified", Message: "email address not verified"}
	// ErrEmailTaken is returned when an email already belongs to an account.
	ErrEmailTaken = &Error{Kind: KindConflict, Code: "email_taken", Message: "email already registered"}
	// ErrInvalidCode is returned for a wrong, expired or missing one-time code.
	ErrInvalidCode = &Error{Kind: KindAuthentication, Code: "invalid_code", Message: "invalid or expired code"}
	// ErrTooManyAttempts is returned once a challenge's attempt budget is spent.
	ErrTooManyAttempts = &Error{Kind: KindRateLimited, Code: "too_many_attempts", Message: "too many attempts"}
	// ErrRateLimited is returned when a login or resend budget is spent.
	ErrRateLimited = &Error{Kind: KindRateLimited, Code: "rate_limited", Message: "too many requests"}
	// ErrUnavailable wraps store and queue failures.
	ErrUnavailable = &Error{Kind: KindTransient, Code: "unavailable", Message: "service temporarily unavailable"}
	// ErrUserNotFound is returned by a [UserStore] for unknown users. The engine
	// never surfaces it from email-keyed operations.
	ErrUserNotFound = errors.New("user not found")
	// ErrEngineNotReady is returned when a required dependency was not configured.
	ErrEngineNotReady = errors.New("engine not ready")
)

// KindOf reports the kind of err. Unrecognised errors are KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrUserNotFound) {
		return KindAuthentication
	}
	return KindInternal
}

// HTTPStatus maps err to a response status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
