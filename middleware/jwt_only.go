package middleware

import "net/http"

// RequireAccessToken accepts bearer access tokens only. The bound session is
// still checked so logout revokes the token.
func RequireAccessToken(auth Authenticator) func(http.Handler) http.Handler {
	return Guard(auth, ModeAccessToken, CookieConfig{})
}
