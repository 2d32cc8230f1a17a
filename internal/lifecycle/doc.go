// Package lifecycle moves content objects through pending, approved and
// featured.
//
// Every transition is a copy to a derived key, never a move: the source
// object stays where it is. Featuring writes two copies, one into the media
// bucket and a public mirror into the web bucket. If the mirror fails the
// media copy is deleted again so a failed feature leaves nothing behind.
// Rejection is only a decision record and touches no object.
package lifecycle
