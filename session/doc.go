// Package session provides opaque, Redis-backed login sessions with sliding
// expiration.
//
// A session id is 32 random bytes encoded as unpadded base64url. The record lives
// under sess:<id> with a TTL equal to the configured lifetime; a session is valid
// exactly while that key exists. [Store.Touch] pushes the TTL back out to the full
// lifetime. Each user also has an index set sess-user:<userID> used to revoke every
// session at once.
//
// # Binary encoding
//
// Records are stored in a compact versioned binary format (see [Encode]). Anything
// that fails to decode is treated as absent, never as an error.
//
// # Architecture boundaries
//
// This package owns the [Store] (Redis operations) and the [Session] model. It does
// NOT verify credentials, issue access tokens or set cookies.
//
// # What this package must NOT do
//
//   - Import passkit, jwt or middleware (no upward imports).
//   - Compare stored timestamps against the wall clock to decide validity.
//   - Return an error from [Store.Touch].
package session
