package commitlog

import (
	"fmt"
	"io"
)

// DefaultBlockSize is the alignment unit PagedWriter flushes whole blocks
// at; a record never spans a partially-flushed block boundary without being
// zero-padded first.
const DefaultBlockSize = 4096

// PagedWriter buffers writes in memory and flushes them to an underlying
// io.WriteSeeker one block at a time. Only fully-buffered blocks are
// written by ordinary writes (flushAligned); a caller that needs everything
// durable before a block is full (Flush/FlushAll) pads the remainder of the
// block with zeros, writes it, then seeks the underlying writer back to
// just past the real data so the next write overwrites the zero padding
// instead of leaving a gap.
type PagedWriter struct {
	w         io.WriteSeeker
	blockSize int
	buf       []byte
}

// NewPagedWriter wraps w with block-aligned buffering at blockSize.
func NewPagedWriter(w io.WriteSeeker, blockSize int) *PagedWriter {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &PagedWriter{w: w, blockSize: blockSize}
}

// Write appends p to the pending buffer, flushing every full block it forms
// along the way. It never returns a short write for a nil error.
func (pw *PagedWriter) Write(p []byte) (int, error) {
	pw.buf = append(pw.buf, p...)
	if err := pw.flushAligned(); err != nil {
		return 0, err
	}
	return len(p), nil
}

// flushAligned writes every complete blockSize-sized block currently
// buffered, leaving any partial remainder in buf untouched.
func (pw *PagedWriter) flushAligned() error {
	for len(pw.buf) >= pw.blockSize {
		block := pw.buf[:pw.blockSize]
		if _, err := pw.w.Write(block); err != nil {
			return fmt.Errorf("commitlog: flush aligned block: %w", err)
		}
		pw.buf = pw.buf[pw.blockSize:]
	}
	return nil
}

// Flush is an alias for FlushAll: it is always safe to call and always
// leaves every previously-written byte durable and readable.
func (pw *PagedWriter) Flush() error { return pw.FlushAll() }

// FlushAll writes the remaining partial block, if any, padded with zeros to
// blockSize, then rewinds the underlying writer's position to immediately
// after the real (unpadded) data so that a subsequent Write resumes by
// overwriting the zero padding rather than appending past it.
func (pw *PagedWriter) FlushAll() error {
	if err := pw.flushAligned(); err != nil {
		return err
	}
	if len(pw.buf) == 0 {
		return nil
	}
	real := len(pw.buf)
	padded := make([]byte, pw.blockSize)
	copy(padded, pw.buf)

	if _, err := pw.w.Write(padded); err != nil {
		return fmt.Errorf("commitlog: flush padded block: %w", err)
	}
	rewindBy := int64(pw.blockSize - real)
	if _, err := pw.w.Seek(-rewindBy, io.SeekCurrent); err != nil {
		return fmt.Errorf("commitlog: rewind after padded flush: %w", err)
	}
	pw.buf = pw.buf[:0]
	return nil
}

// Pending reports how many bytes are buffered but not yet written as a full
// aligned block.
func (pw *PagedWriter) Pending() int { return len(pw.buf) }
