// Package identity derives and represents the 32-byte Identity used to
// authenticate callers and own databases. An Identity is computed from
// validated JWT claims — issuer and subject are hashed, audience is accepted
// but never hashed or otherwise folded into the identity, matching upstream's
// long-standing behavior. Validation of the JWT itself is out of scope: this
// package only consumes already-validated claims.
package identity
