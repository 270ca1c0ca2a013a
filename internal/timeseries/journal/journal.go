// Package journal is a write-ahead log of ingested points. Points are
// appended before they enter the ingestion pipeline; after the pipeline has
// persisted everything, a checkpoint drops the sealed segments. Segments
// left behind by a crash are replayed on the next start.
//
// Segment format:
//   - Header: 8 bytes magic + 4 bytes version
//   - Records: [4 bytes length][4 bytes crc32][payload]
package journal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/xtxerr/strata/internal/errors"
	"github.com/xtxerr/strata/internal/logging"
)

const (
	magic            = 0x5354524A524E0001 // "STRJRN" + version 1
	version          = 1
	headerSize       = 12
	recordHeaderSize = 8
	maxRecordSize    = 64 * 1024 * 1024
	segmentExt       = ".jrn"
)

// Point is one journaled value.
type Point struct {
	Attributes map[string]string
	Timestamp  int64
	Value      float64
}

// SyncMode controls when appended records reach the disk.
type SyncMode string

const (
	// SyncNone leaves records in the write buffer until Sync, rotation or
	// Close.
	SyncNone SyncMode = "none"
	// SyncFlush flushes the write buffer after every append.
	SyncFlush SyncMode = "flush"
	// SyncFsync flushes and fsyncs after every append.
	SyncFsync SyncMode = "fsync"
)

// Options configures the journal.
type Options struct {
	// MaxSegmentSize triggers rotation. Default: 64MB.
	MaxSegmentSize int64

	// Sync defaults to SyncFlush.
	Sync SyncMode

	// BufferSize is the write buffer size. Default: 64KB.
	BufferSize int
}

// DefaultOptions returns flush-on-append with 64MB segments.
func DefaultOptions() Options {
	return Options{
		MaxSegmentSize: 64 * 1024 * 1024,
		Sync:           SyncFlush,
		BufferSize:     64 * 1024,
	}
}

// Stats holds journal counters.
type Stats struct {
	SegmentsCreated int64
	SegmentsDeleted int64
	RecordsWritten  int64
	PointsWritten   int64
	BytesWritten    int64
}

// Journal appends points to numbered segment files in one directory.
type Journal struct {
	mu sync.Mutex

	dir    string
	opts   Options
	file   *os.File
	writer *bufio.Writer
	path   string
	size   int64
	seq    int64
	closed bool
	stats  Stats
	log    *slog.Logger
}

// Open opens dir for appending, creating it if needed. Existing segments
// are left untouched; replay them with Segments and ReadSegment before
// the first Checkpoint.
func Open(dir string, opts Options) (*Journal, error) {
	def := DefaultOptions()
	if opts.MaxSegmentSize <= 0 {
		opts.MaxSegmentSize = def.MaxSegmentSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	switch opts.Sync {
	case "":
		opts.Sync = def.Sync
	case SyncNone, SyncFlush, SyncFsync:
	default:
		return nil, fmt.Errorf("%w: journal sync mode %q", errors.ErrInvalidConfig, opts.Sync)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	j := &Journal{
		dir:  dir,
		opts: opts,
		log:  logging.Component("journal").With("dir", dir),
	}
	segments, err := Segments(dir)
	if err != nil {
		return nil, err
	}
	if len(segments) > 0 {
		j.seq = segments[len(segments)-1].Seq + 1
	}
	if err := j.rotate(); err != nil {
		return nil, fmt.Errorf("create initial segment: %w", err)
	}
	return j, nil
}

// Append writes points as one record.
func (j *Journal) Append(points ...Point) error {
	if len(points) == 0 {
		return nil
	}
	payload, err := encodePoints(points)
	if err != nil {
		return fmt.Errorf("encode points: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return errors.ErrClosed
	}

	recordSize := int64(recordHeaderSize + len(payload))
	if j.size+recordSize > j.opts.MaxSegmentSize && j.size > headerSize {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("rotate segment: %w", err)
		}
	}

	var header [recordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))
	if _, err := j.writer.Write(header[:]); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if _, err := j.writer.Write(payload); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	j.size += recordSize
	j.stats.RecordsWritten++
	j.stats.PointsWritten += int64(len(points))
	j.stats.BytesWritten += recordSize

	if j.opts.Sync != SyncNone {
		return j.sync()
	}
	return nil
}

// Sync flushes buffered records; with SyncFsync it also fsyncs.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errors.ErrClosed
	}
	return j.sync()
}

func (j *Journal) sync() error {
	if err := j.writer.Flush(); err != nil {
		return err
	}
	if j.opts.Sync == SyncFsync {
		return j.file.Sync()
	}
	return nil
}

func (j *Journal) rotate() error {
	if j.file != nil {
		if err := j.writer.Flush(); err != nil {
			return err
		}
		if err := j.file.Close(); err != nil {
			return err
		}
	}

	path := filepath.Join(j.dir, fmt.Sprintf("%016d%s", j.seq, segmentExt))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", path, err)
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[0:8], magic)
	binary.LittleEndian.PutUint32(header[8:12], version)
	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write header: %w", err)
	}

	j.file = f
	j.path = path
	j.size = headerSize
	j.writer = bufio.NewWriterSize(f, j.opts.BufferSize)
	j.seq++
	j.stats.SegmentsCreated++
	return nil
}

// Checkpoint seals the current segment and deletes every segment before
// the new one. Call it only once everything appended so far is persisted.
func (j *Journal) Checkpoint() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return errors.ErrClosed
	}
	if err := j.rotate(); err != nil {
		return fmt.Errorf("rotate segment: %w", err)
	}

	segments, err := Segments(j.dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range segments {
		if s.Path == j.path {
			continue
		}
		if err := os.Remove(s.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		j.stats.SegmentsDeleted++
	}
	j.log.Debug("checkpoint", "segment", filepath.Base(j.path), "deleted", len(segments)-1-len(errs))
	return errors.Join(errs...)
}

// Close flushes and closes the current segment.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	ferr := j.writer.Flush()
	return errors.Join(ferr, j.file.Close())
}

// Stats returns the journal counters.
func (j *Journal) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

// Segment is one segment file.
type Segment struct {
	Path string
	Seq  int64
	Size int64
}

// Segments lists the segments of dir in sequence order.
func Segments(dir string) ([]Segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var segments []Segment
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || len(name) != 16+len(segmentExt) || filepath.Ext(name) != segmentExt {
			continue
		}
		var seq int64
		if _, err := fmt.Sscanf(name, "%016d"+segmentExt, &seq); err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		segments = append(segments, Segment{Path: filepath.Join(dir, name), Seq: seq, Size: info.Size()})
	}

	sort.Slice(segments, func(a, b int) bool { return segments[a].Seq < segments[b].Seq })
	return segments, nil
}
