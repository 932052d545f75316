// Package bsatn implements the binary algebraic-type encoding (BSATN) used
// bit-for-bit by both the storage engine (commitlog records, page var-len
// heaps, snapshots) and the binary WebSocket wire protocol.
//
// Primitives are little-endian and fixed width. Strings and arrays are
// length-prefixed by a u32 count; products are the concatenation of their
// fields in declared order; sums are a one-byte tag followed by the tagged
// variant's payload. Encoding a sequence whose length doesn't fit in 32 bits
// is an error, never a panic.
package bsatn
