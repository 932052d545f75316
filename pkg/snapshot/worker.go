package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/cuemby/spacetimed/pkg/log"
	"github.com/cuemby/spacetimed/pkg/metrics"
)

// ErrEmptyDatabase is returned when TakeSnapshot is asked to snapshot a
// database that has never committed a transaction. No file is produced.
var ErrEmptyDatabase = fmt.Errorf("snapshot: refusing to snapshot a database with no committed offset")

// Source is the datastore's side of the snapshot protocol.
type Source interface {
	// BeginSnapshot acquires whatever lock is needed for a consistent view
	// and returns the offset of the last committed transaction. ok is false
	// if nothing has ever been committed.
	BeginSnapshot() (offset uint64, release func(), ok bool)
	// WriteTables serializes every table's live rows to w. Called with the
	// source's lock held, between BeginSnapshot and release().
	WriteTables(w io.Writer) error
}

// PhaseTiming records a phase's outer duration (including any lock wait
// before the phase's work could start) and inner duration (the work itself,
// once any lock was held).
type PhaseTiming struct {
	Outer time.Duration
	Inner time.Duration
}

// Observer receives timing for each phase of a snapshot, keyed by phase
// name ("snapshot" or "compress"). Metrics wiring hangs off this.
type Observer func(phase string, t PhaseTiming)

// Manifest records one snapshot's commitlog offset and where its table data
// lives on disk.
type Manifest struct {
	Offset     uint64 `json:"offset"`
	TablesFile string `json:"tables_file"`
	Compressed bool   `json:"compressed"`
}

// Worker takes and manages snapshots under a root directory, one
// subdirectory per snapshot named by its offset.
type Worker struct {
	Dir     string
	Observe Observer
	logger  zerolog.Logger
}

// NewWorker constructs a Worker rooted at dir.
func NewWorker(dir string) *Worker {
	return &Worker{Dir: dir, logger: log.WithComponent("snapshot")}
}

func (w *Worker) snapshotDir(offset uint64) string {
	return filepath.Join(w.Dir, fmt.Sprintf("%020d", offset))
}

func (w *Worker) observe(phase string, t PhaseTiming) {
	if w.Observe != nil {
		w.Observe(phase, t)
	}
}

// TakeSnapshot runs the two-phase protocol: phase "snapshot" serializes
// every table while src's lock is held, then releases it; phase "compress"
// moves the staged data into the snapshot's directory once unlocked. The
// new snapshot is stored uncompressed; CompressOlderSnapshots compresses it
// once a newer snapshot exists. Refuses to run (and
// produces no file) if src reports no committed offset.
func (w *Worker) TakeSnapshot(src Source) (*Manifest, error) {
	outerStart := time.Now()
	offset, release, ok := src.BeginSnapshot()
	if !ok {
		w.logger.Warn().Msg("refusing to snapshot empty database")
		return nil, ErrEmptyDatabase
	}

	innerStart := time.Now()
	stagingPath := filepath.Join(w.Dir, fmt.Sprintf("%020d.staging", offset))
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		release()
		return nil, fmt.Errorf("snapshot: mkdir: %w", err)
	}
	f, err := os.Create(stagingPath)
	if err != nil {
		release()
		return nil, fmt.Errorf("snapshot: create staging file: %w", err)
	}
	writeErr := src.WriteTables(f)
	closeErr := f.Close()
	release()
	w.observe("snapshot", PhaseTiming{Outer: time.Since(outerStart), Inner: time.Since(innerStart)})

	if writeErr != nil {
		os.Remove(stagingPath)
		return nil, fmt.Errorf("snapshot: write tables: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(stagingPath)
		return nil, fmt.Errorf("snapshot: close staging file: %w", closeErr)
	}

	compressOuterStart := time.Now()
	finalDir := w.snapshotDir(offset)
	if err := os.MkdirAll(finalDir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: mkdir final: %w", err)
	}
	compressInnerStart := time.Now()
	tablesPath := filepath.Join(finalDir, "tables.bin")
	if err := os.Rename(stagingPath, tablesPath); err != nil {
		return nil, fmt.Errorf("snapshot: stage final data: %w", err)
	}
	w.observe("compress", PhaseTiming{Outer: time.Since(compressOuterStart), Inner: time.Since(compressInnerStart)})

	manifest := &Manifest{Offset: offset, TablesFile: "tables.bin", Compressed: false}
	if err := w.writeManifest(finalDir, manifest); err != nil {
		return nil, err
	}
	metrics.SnapshotDuration.Observe(time.Since(outerStart).Seconds())
	if info, err := os.Stat(tablesPath); err == nil {
		metrics.SnapshotBytesTotal.Add(float64(info.Size()))
	}
	return manifest, nil
}

func (w *Worker) writeManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: marshal manifest: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "manifest.json"), data, 0o644)
}

// ListManifests returns every snapshot's manifest under Dir, ordered by
// offset ascending.
func (w *Worker) ListManifests() ([]*Manifest, error) {
	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(w.Dir, e.Name(), "manifest.json"))
		if err != nil {
			continue
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out, nil
}

// Latest returns the most recent snapshot's manifest, or ok=false if none
// exist yet.
func (w *Worker) Latest() (*Manifest, bool, error) {
	ms, err := w.ListManifests()
	if err != nil || len(ms) == 0 {
		return nil, false, err
	}
	return ms[len(ms)-1], true, nil
}

// OpenTables opens m's table data for reading, transparently decompressing
// a snapshot that has already been through CompressOlderSnapshots.
func (w *Worker) OpenTables(m *Manifest) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(w.snapshotDir(m.Offset), m.TablesFile))
	if err != nil {
		return nil, fmt.Errorf("snapshot: open tables for offset %d: %w", m.Offset, err)
	}
	if !m.Compressed {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("snapshot: open zstd reader: %w", err)
	}
	return &compressedTables{f: f, dec: dec}, nil
}

type compressedTables struct {
	f   *os.File
	dec *zstd.Decoder
}

func (c *compressedTables) Read(p []byte) (int, error) { return c.dec.Read(p) }

func (c *compressedTables) Close() error {
	c.dec.Close()
	return c.f.Close()
}

// CompressOlderSnapshots zstd-compresses every snapshot's table file except
// the most recent one, which is left uncompressed for fast incremental
// diffing against the live database.
func (w *Worker) CompressOlderSnapshots() error {
	manifests, err := w.ListManifests()
	if err != nil {
		return err
	}
	if len(manifests) <= 1 {
		return nil
	}
	for _, m := range manifests[:len(manifests)-1] {
		if m.Compressed {
			continue
		}
		if err := w.compressOne(m); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) compressOne(m *Manifest) error {
	dir := w.snapshotDir(m.Offset)
	srcPath := filepath.Join(dir, m.TablesFile)
	dstPath := srcPath + ".zst"

	in, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("snapshot: open %s: %w", srcPath, err)
	}
	defer in.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("snapshot: create %s: %w", dstPath, err)
	}
	enc, err := zstd.NewWriter(out)
	if err != nil {
		out.Close()
		return fmt.Errorf("snapshot: new zstd writer: %w", err)
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		out.Close()
		return fmt.Errorf("snapshot: compress %s: %w", srcPath, err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if err := os.Remove(srcPath); err != nil {
		return err
	}

	m.TablesFile = filepath.Base(dstPath)
	m.Compressed = true
	return w.writeManifest(dir, m)
}
