// Package password hashes and verifies credentials with Argon2id.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsRehash] reports hashes made with weaker parameters so callers
// can re-hash after the next successful login. Plaintext passwords are never
// logged or stored by this package.
package password
