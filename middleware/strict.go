package middleware

import "net/http"

// RequireSession accepts the session cookie, then a bearer session id or
// access token.
func RequireSession(auth Authenticator, cookie CookieConfig) func(http.Handler) http.Handler {
	return Guard(auth, ModeAny, cookie)
}

// RequireStrict accepts session ids only. Every request checks the session
// store and slides the session.
func RequireStrict(auth Authenticator, cookie CookieConfig) func(http.Handler) http.Handler {
	return Guard(auth, ModeSession, cookie)
}
