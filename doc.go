// Package passkit is a session and one-time-code authentication engine with a
// reliable email delivery queue.
//
// The public surface is [Engine], built with [New]. The engine composes:
//
//   - session: opaque session ids in Redis with a sliding TTL and a per-user index
//   - otp: six digit codes per (scope, email) with attempt and resend budgets
//   - queue: a Redis job queue with leases, stall recovery and classified retries
//   - notify and mail: templated emails rendered by queue workers and sent over SMTP
//
// Engine methods are safe for concurrent use. Errors returned from them are
// [*Error] values whose [ErrorKind] says how to surface them; see [KindOf] and
// [HTTPStatus]. Flows keyed by email never reveal whether an account exists:
// unknown addresses and wrong secrets give the same errors, and request flows
// succeed silently.
//
// The Redis client, [UserStore] and delivery queue are owned by the caller.
// [Engine.Close] only flushes buffered events.
package passkit
