// Package middleware adapts passkit authentication to net/http.
//
// # Guards
//
//   - [RequireSession]: session cookie first, then an Authorization bearer value
//     holding either a session id or an access token.
//   - [RequireStrict]: session ids only, from the cookie or a bearer header.
//   - [RequireAccessToken]: bearer access tokens only.
//
// Guards put the resolved [passkit.Principal] in the request context; read it
// with [PrincipalFromContext]. [ClientInfo] copies the caller IP and user agent
// into the context so Login can record them on the session.
//
// This package translates HTTP into Engine calls. It never reads Redis or
// parses tokens itself.
package middleware
