package commitlog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/spacetimed/pkg/metrics"
)

var segmentsBucket = []byte("segments")

// DefaultMaxSegmentBytes bounds how large a single segment file grows
// before a new one is rotated in.
const DefaultMaxSegmentBytes = 64 * 1024 * 1024

// Log is a database's durable transaction log: an ordered sequence of
// segment files, indexed in a small bbolt database so the set of segments
// and their starting offsets survive a restart without listing the
// directory. Opening the log still scans each segment's records to rebuild
// its in-memory offset index.
type Log struct {
	mu sync.Mutex

	dir             string
	maxSegmentBytes int64
	index           *bolt.DB
	segments        []*Segment // ordered by MinOffset ascending
}

// Open opens (or creates) the commitlog rooted at dir.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("commitlog: mkdir: %w", err)
	}
	idx, err := bolt.Open(filepath.Join(dir, "segments.db"), 0o644, nil)
	if err != nil {
		return nil, fmt.Errorf("commitlog: open segment index: %w", err)
	}
	err = idx.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(segmentsBucket)
		return err
	})
	if err != nil {
		idx.Close()
		return nil, err
	}

	l := &Log{dir: dir, maxSegmentBytes: DefaultMaxSegmentBytes, index: idx}
	offsets, err := l.loadSegmentOffsets()
	if err != nil {
		idx.Close()
		return nil, err
	}
	if len(offsets) == 0 {
		seg, err := CreateSegment(l.segmentPath(0), 0)
		if err != nil {
			idx.Close()
			return nil, err
		}
		if err := l.recordSegment(0); err != nil {
			idx.Close()
			return nil, err
		}
		l.segments = []*Segment{seg}
		return l, nil
	}
	for _, off := range offsets {
		seg, err := OpenSegment(l.segmentPath(off), off)
		if err != nil {
			idx.Close()
			return nil, err
		}
		l.segments = append(l.segments, seg)
	}
	return l, nil
}

func (l *Log) segmentPath(minOffset uint64) string {
	return filepath.Join(l.dir, fmt.Sprintf("%020d.log", minOffset))
}

func (l *Log) loadSegmentOffsets() ([]uint64, error) {
	var offsets []uint64
	err := l.index.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(segmentsBucket)
		return b.ForEach(func(k, _ []byte) error {
			offsets = append(offsets, binary.BigEndian.Uint64(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets, nil
}

func (l *Log) recordSegment(minOffset uint64) error {
	return l.index.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(segmentsBucket)
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, minOffset)
		return b.Put(key, []byte{1})
	})
}

// Append writes payload as the next transaction record, rotating to a new
// segment first if the active segment has grown past maxSegmentBytes.
func (l *Log) Append(payload []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CommitlogAppendDuration)

	active := l.segments[len(l.segments)-1]
	if info, err := os.Stat(active.Path); err == nil && info.Size() >= l.maxSegmentBytes {
		if err := active.Close(); err != nil {
			return 0, err
		}
		next, err := CreateSegment(l.segmentPath(active.NextOffset()), active.NextOffset())
		if err != nil {
			return 0, err
		}
		if err := l.recordSegment(next.MinOffset); err != nil {
			return 0, err
		}
		l.segments = append(l.segments, next)
		active = next
		metrics.CommitlogSegmentRotationsTotal.Inc()
	}
	return active.Append(payload)
}

// Flush makes every appended record since the last Flush durable.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.segments[len(l.segments)-1].Flush()
}

// TransactionsFrom streams every record at or after offset, across however
// many segments that spans, in offset order.
func (l *Log) TransactionsFrom(offset uint64, fn func(txOffset uint64, payload []byte) error) error {
	l.mu.Lock()
	segs := append([]*Segment(nil), l.segments...)
	l.mu.Unlock()

	for _, seg := range segs {
		if seg.nextOffset <= offset {
			continue
		}
		start := offset
		if start < seg.MinOffset {
			start = seg.MinOffset
		}
		if err := seg.ReadFrom(start, fn); err != nil {
			return err
		}
	}
	return nil
}

// NextOffset reports the offset the next Append will use.
func (l *Log) NextOffset() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.segments[len(l.segments)-1].NextOffset()
}

// Close flushes and closes every open segment and the segment index.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, seg := range l.segments {
		// Segments rotated out by Append are already closed.
		if err := seg.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			return err
		}
	}
	return l.index.Close()
}
