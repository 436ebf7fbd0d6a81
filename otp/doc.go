// Package otp issues and verifies short numeric one-time codes bound to an email
// address and a purpose (scope).
//
// Only digests are stored. For a scope and email the keys are:
//
//	otp:<scope>:<sha256(email)>        sha256 of the code, TTL = challenge lifetime
//	otp-tries:<scope>:<sha256(email)>  failed attempts, same TTL as the code
//	otp-resend:<scope>:<sha256(email)> issues in the current resend window
//
// Verification is guarded by a script that reads the challenge and reserves an
// attempt in one step, so concurrent guesses cannot exceed the attempt budget. The
// digest comparison itself is constant time and a successful match deletes the
// challenge with a compare-and-delete, so a code is accepted at most once.
//
// A locked challenge is kept until it expires; issuing a new code replaces it.
package otp
