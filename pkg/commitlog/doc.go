// Package commitlog implements the durable, append-only transaction log
// each database writes to before a commit is acknowledged: a block-aligned
// paged writer, checksummed length-prefixed records, segment rotation, and
// crash recovery that truncates a segment back to its last valid record.
package commitlog
