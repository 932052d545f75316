// Package snapshot implements periodic, compacted copies of a database's
// committed state: a two-phase snapshot-then-compress worker (each phase
// timed both including and excluding lock wait), a manifest recording which
// commitlog offset a snapshot covers, and background compression of
// snapshots other than the newest.
package snapshot
