package otp

// Scope names the purpose a code was issued for. Codes never verify across scopes.
type Scope string

const (
	ScopeEmailVerify   Scope = "email_verify"
	ScopePasswordReset Scope = "password_reset"
	ScopeEmailChange   Scope = "email_change"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopeEmailVerify, ScopePasswordReset, ScopeEmailChange:
		return true
	}
	return false
}

// Reason explains a verification outcome.
type Reason string

const (
	ReasonOK               Reason = "ok"
	ReasonExpiredOrMissing Reason = "expired_or_missing"
	ReasonTooManyAttempts  Reason = "too_many_attempts"
	ReasonInvalid          Reason = "invalid"
)

// Result is the outcome of [Manager.VerifyCode].
type Result struct {
	OK     bool
	Reason Reason
}
