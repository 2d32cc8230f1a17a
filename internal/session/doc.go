// Package session is the admin session guard.
//
// A session is a Record kept in a Store under a random id; the browser only
// holds the signed id in a cookie. Every admin request goes through one
// validator which, in a single atomic Store.Touch, rejects sessions idle for
// longer than the idle timeout (destroying them) and otherwise advances
// LastActivity.
//
// Login is limited per client IP by a ratelimit.Window, compares the
// username case-insensitively after trimming and verifies the password with
// bcrypt. Failures never say which of the two was wrong.
package session
