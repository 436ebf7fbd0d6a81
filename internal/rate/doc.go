// Package rate provides Redis-backed fixed-window counters and the login throttle
// built on them.
//
// # Window semantics
//
// A window starts on the first hit: INCR and PEXPIRE run in one script so a counter
// can never be left without a TTL. Key prefixes:
//   - rl:login:    login per-email
//   - rl:login-ip: login per-IP
//
// OTP resend counters reuse [Window] with their own otp-resend: prefix.
//
// # What this package must NOT do
//
//   - Decide product policy (limits are passed in by callers).
//   - Be imported outside the passkit module.
package rate
