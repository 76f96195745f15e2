// Package password hashes account passwords with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2.NeedsUpgrade] reports hashes produced with weaker parameters so the
// caller can re-hash after the next successful login. [Argon2.VerifyDummy]
// burns one verification for logins against unknown emails.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords.
//   - Import any other accountguard package.
//   - Log plaintext passwords.
package password
