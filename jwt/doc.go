// Package jwt issues and verifies short-lived access tokens bound to a server
// session. A token only proves which session it was minted for; callers must
// still confirm that session exists before trusting it.
package jwt
