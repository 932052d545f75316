package commitlog

import (
	"fmt"
	"io"
	"os"
)

// Segment is one commitlog file: a sequence of checksummed records, each
// identified by a monotonically increasing transaction offset starting at
// MinOffset.
type Segment struct {
	Path      string
	MinOffset uint64

	file   *os.File
	writer *PagedWriter

	nextOffset uint64
	// index maps a transaction offset to the byte position in file at which
	// its record begins, used for seeking a TransactionsFrom read without
	// scanning every prior record in the segment.
	index map[uint64]int64
}

// CreateSegment creates a new, empty segment file at path starting at
// minOffset.
func CreateSegment(path string, minOffset uint64) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("commitlog: create segment: %w", err)
	}
	return &Segment{
		Path:       path,
		MinOffset:  minOffset,
		file:       f,
		writer:     NewPagedWriter(f, DefaultBlockSize),
		nextOffset: minOffset,
		index:      make(map[uint64]int64),
	}, nil
}

// OpenSegment opens an existing segment file, replaying its records to
// rebuild the offset index and recovering (truncating) at the first
// incomplete or corrupt record it finds.
func OpenSegment(path string, minOffset uint64) (*Segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("commitlog: open segment: %w", err)
	}
	s := &Segment{
		Path:      path,
		MinOffset: minOffset,
		file:      f,
		index:     make(map[uint64]int64),
	}
	validEnd, count, err := s.recover()
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Truncate(validEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("commitlog: truncate to last valid record: %w", err)
	}
	if _, err := f.Seek(validEnd, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	s.nextOffset = minOffset + uint64(count)
	s.writer = NewPagedWriter(f, DefaultBlockSize)
	return s, nil
}

// recover scans the segment from the start, validating each record's
// checksum, and returns the byte position just past the last valid record
// plus how many valid records were found.
func (s *Segment) recover() (int64, int, error) {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return 0, 0, err
	}
	var pos int64
	count := 0
	header := make([]byte, recordHeaderSize)
	for {
		n, err := io.ReadFull(s.file, header)
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			break
		}
		if err == io.ErrUnexpectedEOF {
			break // partial header: truncated mid-write
		}
		if err != nil {
			return 0, 0, fmt.Errorf("commitlog: recover: read header: %w", err)
		}
		length := leUint32(header[0:4])
		if length == 0 && leUint32(header[4:8]) == 0 {
			break // zero padding from a block-aligned flush, not a record
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(s.file, payload); err != nil {
			break // partial payload: truncated mid-write
		}
		full := append(append([]byte(nil), header...), payload...)
		if _, err := decodeRecord(full); err != nil {
			break // corrupt record: stop here, discard the rest
		}
		s.index[s.MinOffset+uint64(count)] = pos
		pos += int64(len(full))
		count++
	}
	return pos, count, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Append writes payload as a new record and returns its transaction offset.
// The record is durable once Flush is subsequently called.
func (s *Segment) Append(payload []byte) (uint64, error) {
	pos, err := s.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	// Account for whatever is still buffered in the paged writer but not
	// yet reflected in the file's seek position.
	pos += int64(s.writer.Pending())
	offset := s.nextOffset
	if _, err := s.writer.Write(encodeRecord(payload)); err != nil {
		return 0, err
	}
	s.index[offset] = pos
	s.nextOffset++
	return offset, nil
}

// Flush durably persists every record appended so far.
func (s *Segment) Flush() error { return s.writer.FlushAll() }

// NextOffset reports the offset the next Append will use.
func (s *Segment) NextOffset() uint64 { return s.nextOffset }

// Close flushes and closes the underlying file.
func (s *Segment) Close() error {
	if err := s.writer.FlushAll(); err != nil {
		return err
	}
	return s.file.Close()
}

// ReadFrom streams every record at or after offset within this segment,
// calling fn with each transaction's offset and payload until fn returns an
// error (which ReadFrom returns) or the segment is exhausted.
func (s *Segment) ReadFrom(offset uint64, fn func(txOffset uint64, payload []byte) error) error {
	if err := s.Flush(); err != nil {
		return err
	}
	cur := offset
	pos, ok := s.index[offset]
	if !ok {
		if offset < s.MinOffset || offset >= s.nextOffset {
			return nil
		}
		pos, cur = 0, s.MinOffset // fall back to a full scan if a precise index entry is missing
	}
	r, err := os.Open(s.Path)
	if err != nil {
		return err
	}
	defer r.Close()
	if _, err := r.Seek(pos, io.SeekStart); err != nil {
		return err
	}
	header := make([]byte, recordHeaderSize)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF {
				return nil
			}
			return nil
		}
		length := leUint32(header[0:4])
		if length == 0 && leUint32(header[4:8]) == 0 {
			return nil // zero padding at the segment's flushed tail
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil
		}
		full := append(append([]byte(nil), header...), payload...)
		decoded, err := decodeRecord(full)
		if err != nil {
			return err
		}
		if cur >= offset {
			if err := fn(cur, decoded); err != nil {
				return err
			}
		}
		cur++
	}
}
